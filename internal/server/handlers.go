package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumely/riskcore/internal/detector"
	"github.com/lumely/riskcore/internal/region"
	"github.com/lumely/riskcore/internal/score"
	"github.com/lumely/riskcore/internal/signal"
	"github.com/lumely/riskcore/internal/validation"
)

// -----------------------------------------------------------------------------
// Signal emission
// -----------------------------------------------------------------------------

// emitSignalRequest is the POST /v1/signals body. Unlike pattern detectors,
// manual emission may use severity 1-2 for curated low-confidence signals.
type emitSignalRequest struct {
	UserID     string         `json:"userId" binding:"required"`
	Source     string         `json:"source" binding:"required"`
	SignalType string         `json:"signalType" binding:"required"`
	Severity   int            `json:"severity" binding:"required"`
	ContextRef string         `json:"contextRef"`
	Metadata   map[string]any `json:"metadata"`
}

// emitSignalHandler handles POST /v1/signals. The write is queued and not
// awaited; a 202 only acknowledges the shape of the request.
func (s *Server) emitSignalHandler(c *gin.Context) {
	var req emitSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("userId", req.UserID),
		validation.SeverityInRange("severity", req.Severity, 1, 5),
		validation.MaxLength("contextRef", req.ContextRef, 256),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
		})
		return
	}

	sig := &signal.Signal{
		UserID:     req.UserID,
		Source:     signal.Source(req.Source),
		Type:       signal.Type(req.SignalType),
		Severity:   req.Severity,
		ContextRef: req.ContextRef,
		Metadata:   req.Metadata,
	}
	if err := sig.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	s.emitter.Emit(sig)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// -----------------------------------------------------------------------------
// Fact ingestion
// -----------------------------------------------------------------------------

// ingestEventRequest is the POST /v1/events body: one already-extracted
// domain fact pushed by a product surface. kind selects which fields apply.
type ingestEventRequest struct {
	UserID     string     `json:"userId" binding:"required"`
	Kind       string     `json:"kind" binding:"required"`
	OccurredAt *time.Time `json:"occurredAt"`

	// kind "session"
	SessionID       string  `json:"sessionId"`
	DurationSeconds float64 `json:"durationSeconds"`
	TokenCost       float64 `json:"tokenCost"`

	// kind "chat-message"
	ChatID string `json:"chatId"`
	Text   string `json:"text"`

	// kind "booking"
	Refunded bool `json:"refunded"`

	// kind "identity-report"
	ReporterID string `json:"reporterId"`

	// kind "behavior"
	SuspiciousLogins  int `json:"suspiciousLogins"`
	DeviceChanges     int `json:"deviceChanges"`
	ThirdPartyReports int `json:"thirdPartyReports"`
	Chargebacks       int `json:"chargebacks"`

	// kind "churn-risk"
	ChurnRisk float64 `json:"churnRisk"`
}

// ingestEventHandler handles POST /v1/events. The fact is recorded and the
// matching detector checks run inline; detector outcomes and failures never
// surface here, so the originating product action is never blocked. A 202
// only acknowledges that the fact was recorded.
func (s *Server) ingestEventHandler(c *gin.Context) {
	var req ingestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if errs := validation.Validate(
		validation.ValidID("userId", req.UserID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
		})
		return
	}

	at := time.Now().UTC()
	if req.OccurredAt != nil {
		at = req.OccurredAt.UTC()
	}
	ctx := c.Request.Context()

	switch req.Kind {
	case "session":
		s.recorder.RecordSession(req.UserID, detector.SessionFact{
			ID:        req.SessionID,
			StartedAt: at,
			Duration:  time.Duration(req.DurationSeconds * float64(time.Second)),
			TokenCost: req.TokenCost,
		})
		s.detectors.CheckTokenDrain(ctx, req.UserID)
		s.detectors.CheckMultiSessionSpam(ctx, req.UserID)

	case "chat-message":
		if req.ChatID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "chatId is required for chat-message events",
			})
			return
		}
		s.detectors.CheckCopyPaste(ctx, req.UserID, req.ChatID, req.Text)

	case "booking-cancelled":
		s.recorder.RecordCancellation(req.UserID, at)
		s.detectors.CheckFakeBookings(ctx, req.UserID)

	case "booking":
		s.recorder.RecordBooking(req.UserID, at, req.Refunded)
		s.detectors.CheckSelfRefunds(ctx, req.UserID)

	case "payout-attempt":
		s.recorder.RecordPayoutAttempt(req.UserID, at)
		s.detectors.CheckPayoutAbuse(ctx, req.UserID)

	case "identity-report":
		if req.ReporterID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "reporterId is required for identity-report events",
			})
			return
		}
		s.recorder.RecordIdentityReport(req.UserID, req.ReporterID, at)
		s.detectors.CheckIdentityMismatch(ctx, req.UserID)

	case "panic":
		s.recorder.RecordPanic(req.UserID, at)
		s.detectors.CheckPanicSpike(ctx, req.UserID)

	case "behavior":
		s.recorder.SetBehavior(req.UserID, region.BehaviorCounts{
			SuspiciousLogins:  req.SuspiciousLogins,
			DeviceChanges:     req.DeviceChanges,
			ThirdPartyReports: req.ThirdPartyReports,
			Chargebacks:       req.Chargebacks,
		})

	case "churn-risk":
		if req.ChurnRisk < 0 || req.ChurnRisk > 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "churnRisk must be within [0, 1]",
			})
			return
		}
		s.recorder.SetChurnRisk(req.UserID, req.ChurnRisk)

	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "unknown event kind",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// -----------------------------------------------------------------------------
// Risk posture reads
// -----------------------------------------------------------------------------

// getUserRiskHandler handles GET /v1/users/:id/risk
func (s *Server) getUserRiskHandler(c *gin.Context) {
	userID := c.Param("id")

	userScore, err := s.scores.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, score.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "no risk score computed for this user",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to read risk score",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":         userScore.UserID,
		"riskScore":      userScore.RiskScore,
		"trustScore":     userScore.TrustScore(),
		"level":          userScore.Level,
		"signalCount":    userScore.SignalCount,
		"lastSignalType": userScore.LastSignalType,
		"lastSignalDate": userScore.LastSignalDate,
		"updatedAt":      userScore.UpdatedAt,
	})
}

// getRegionalRiskHandler handles GET /v1/users/:id/risk/regional?region=<id>.
// It computes a fresh assessment (persisting it) rather than returning a
// possibly stale one.
func (s *Server) getRegionalRiskHandler(c *gin.Context) {
	userID := c.Param("id")
	regionID := c.DefaultQuery("region", s.cfg.DefaultRegion)
	if !validation.IsValidID(regionID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "region must be a well-formed identifier",
		})
		return
	}

	assessment, err := s.calculator.Calculate(c.Request.Context(), userID, regionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to calculate regional risk",
		})
		return
	}

	c.JSON(http.StatusOK, assessment)
}

// isActionAllowedHandler handles GET /v1/users/:id/actions/:action
func (s *Server) isActionAllowedHandler(c *gin.Context) {
	userID := c.Param("id")
	action := c.Param("action")

	switch action {
	case region.ActionSwipe, region.ActionChat, region.ActionMonetization:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "unknown action",
		})
		return
	}

	decision, err := s.engine.IsActionAllowed(c.Request.Context(), userID, action)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to evaluate action",
		})
		return
	}

	c.JSON(http.StatusOK, decision)
}

// recalculateHandler handles POST /v1/users/:id/recalculate — the manual
// re-trigger of the full score → regional → enforcement pipeline.
func (s *Server) recalculateHandler(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("id")
	regionID := c.DefaultQuery("region", s.cfg.DefaultRegion)

	userScore, err := s.aggregator.Recompute(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to recompute risk score",
		})
		return
	}

	assessment, err := s.calculator.Calculate(ctx, userID, regionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to calculate regional risk",
		})
		return
	}

	if err := s.engine.Evaluate(ctx, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to apply enforcement",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"score":      userScore,
		"assessment": assessment,
	})
}

// -----------------------------------------------------------------------------
// Admin listings
// -----------------------------------------------------------------------------

// listSignalsHandler handles GET /v1/admin/signals
func (s *Server) listSignalsHandler(c *gin.Context) {
	f := signal.Filter{
		UserID: c.Query("userId"),
		Type:   signal.Type(c.Query("type")),
		Limit:  intQuery(c, "limit", 50),
		Cursor: c.Query("cursor"),
	}
	f.MinSeverity = intQuery(c, "minSeverity", 0)
	if from, ok := timeQuery(c, "from"); ok {
		f.From = from
	}
	if to, ok := timeQuery(c, "to"); ok {
		f.To = to
	}

	signals, next, err := s.signals.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signals":     signals,
		"next_cursor": next,
		"has_more":    next != "",
	})
}

// listScoresHandler handles GET /v1/admin/scores
func (s *Server) listScoresHandler(c *gin.Context) {
	f := score.Filter{
		MinScore: intQuery(c, "minScore", 0),
		Level:    score.Level(c.Query("level")),
		Limit:    intQuery(c, "limit", 50),
		Cursor:   c.Query("cursor"),
	}

	scores, next, err := s.scores.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scores":      scores,
		"next_cursor": next,
		"has_more":    next != "",
	})
}

// statsHandler handles GET /v1/admin/stats
func (s *Server) statsHandler(c *gin.Context) {
	var from, to time.Time
	if t, ok := timeQuery(c, "from"); ok {
		from = t
	}
	if t, ok := timeQuery(c, "to"); ok {
		to = t
	}

	stats, err := s.signals.Stats(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to aggregate statistics",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// -----------------------------------------------------------------------------
// Regional profile administration
// -----------------------------------------------------------------------------

// listProfilesHandler handles GET /v1/admin/regions
func (s *Server) listProfilesHandler(c *gin.Context) {
	profiles, err := s.profiles.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list regional profiles",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"regions": profiles})
}

// getProfileHandler handles GET /v1/admin/regions/:id
func (s *Server) getProfileHandler(c *gin.Context) {
	profile, err := s.profiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, region.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "no profile for this region",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to read regional profile",
		})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// upsertProfileHandler handles PUT /v1/admin/regions/:id. Admin-action
// errors (invalid multiplier, unordered cutoffs) are reported synchronously.
func (s *Server) upsertProfileHandler(c *gin.Context) {
	var profile region.Profile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	profile.RegionID = c.Param("id")
	if err := profile.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if err := s.profiles.Upsert(c.Request.Context(), &profile); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to store regional profile",
		})
		return
	}

	c.JSON(http.StatusOK, profile)
}

// deleteProfileHandler handles DELETE /v1/admin/regions/:id
func (s *Server) deleteProfileHandler(c *gin.Context) {
	if err := s.profiles.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, region.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "no profile for this region",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to delete regional profile",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Query helpers
// -----------------------------------------------------------------------------

func intQuery(c *gin.Context, name string, fallback int) int {
	if v := c.Query(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func timeQuery(c *gin.Context, name string) (time.Time, bool) {
	if v := c.Query(name); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
