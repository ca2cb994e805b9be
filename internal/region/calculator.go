package region

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lumely/riskcore/internal/metrics"
	"github.com/lumely/riskcore/internal/score"
	"github.com/lumely/riskcore/internal/traces"
)

// Behavior-risk weights for recent audit-style events.
const (
	weightSuspiciousLogin  = 5
	weightDeviceChange     = 3
	weightThirdPartyReport = 10
	weightChargeback       = 20
	weightChurn            = 10
)

// BehaviorCounts are recent audit-style event counts for a user.
type BehaviorCounts struct {
	SuspiciousLogins  int
	DeviceChanges     int
	ThirdPartyReports int
	Chargebacks       int
}

// AuditProvider exposes recent audit events for the behavior-risk term.
type AuditProvider interface {
	BehaviorCounts(ctx context.Context, userID string) (BehaviorCounts, error)
}

// ChurnProvider exposes the externally computed churn-risk indicator (0-1).
type ChurnProvider interface {
	ChurnRisk(ctx context.Context, userID string) (float64, error)
}

// Calculator composes a user's regional risk from their base score, the
// region's fraud multiplier, behavior risk, and churn.
type Calculator struct {
	scores      score.Store
	profiles    ProfileStore
	assessments AssessmentStore
	audit       AuditProvider
	churn       ChurnProvider
	logger      *slog.Logger
}

// NewCalculator creates a regional risk calculator. audit and churn may be
// nil; the corresponding terms are then zero.
func NewCalculator(scores score.Store, profiles ProfileStore, assessments AssessmentStore,
	audit AuditProvider, churn ChurnProvider, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		scores:      scores,
		profiles:    profiles,
		assessments: assessments,
		audit:       audit,
		churn:       churn,
		logger:      logger,
	}
}

// Calculate derives and persists the regional assessment for a user:
//
//	finalScore = min(100, base*multiplier + behaviorRisk + churn*10)
//
// A missing regional profile means "no regional modifier available": the
// raw base score is used with default cutoffs rather than failing.
func (c *Calculator) Calculate(ctx context.Context, userID, regionID string) (*Assessment, error) {
	ctx, span := traces.StartSpan(ctx, "region.Calculate",
		attribute.String("user.id", userID),
		attribute.String("region.id", regionID))
	defer span.End()

	base := 0
	if userScore, err := c.scores.Get(ctx, userID); err == nil {
		base = userScore.RiskScore
	} else if !errors.Is(err, score.ErrNotFound) {
		return nil, fmt.Errorf("regional risk %s: read base score: %w", userID, err)
	}

	profile, err := c.profiles.Get(ctx, regionID)
	if err != nil {
		if !errors.Is(err, ErrProfileNotFound) {
			return nil, fmt.Errorf("regional risk %s: read profile %s: %w", userID, regionID, err)
		}
		c.logger.Warn("no regional profile, using defaults", "region_id", regionID)
		profile = DefaultProfile(regionID)
	}

	behavior := 0
	if c.audit != nil {
		counts, err := c.audit.BehaviorCounts(ctx, userID)
		if err != nil {
			// Behavior term degrades to zero rather than failing the calculation.
			c.logger.Warn("behavior counts unavailable", "user_id", userID, "error", err)
		} else {
			behavior = counts.SuspiciousLogins*weightSuspiciousLogin +
				counts.DeviceChanges*weightDeviceChange +
				counts.ThirdPartyReports*weightThirdPartyReport +
				counts.Chargebacks*weightChargeback
		}
	}

	churnTerm := 0
	if c.churn != nil {
		churn, err := c.churn.ChurnRisk(ctx, userID)
		if err != nil {
			c.logger.Warn("churn risk unavailable", "user_id", userID, "error", err)
		} else {
			if churn < 0 {
				churn = 0
			}
			if churn > 1 {
				churn = 1
			}
			churnTerm = int(math.Round(churn * weightChurn))
		}
	}

	final := int(math.Round(float64(base)*profile.FraudMultiplier)) + behavior + churnTerm
	if final > 100 {
		final = 100
	}
	level := profile.LevelFor(final)

	assessment := &Assessment{
		UserID:       userID,
		RegionID:     regionID,
		BaseScore:    base,
		BehaviorRisk: behavior,
		ChurnTerm:    churnTerm,
		FinalScore:   final,
		Level:        level,
		Limits:       profile.RecommendedLimits(level),
		CalculatedAt: time.Now().UTC(),
	}

	if err := c.assessments.Upsert(ctx, assessment); err != nil {
		return nil, fmt.Errorf("regional risk %s: persist assessment: %w", userID, err)
	}

	metrics.RegionalAssessmentsTotal.WithLabelValues(string(level)).Inc()
	return assessment, nil
}
