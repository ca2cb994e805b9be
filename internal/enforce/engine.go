package enforce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lumely/riskcore/internal/idgen"
	"github.com/lumely/riskcore/internal/metrics"
	"github.com/lumely/riskcore/internal/region"
	"github.com/lumely/riskcore/internal/score"
	"github.com/lumely/riskcore/internal/traces"
)

// Engine is the stateless policy evaluator. It re-reads the committed
// regional assessment before acting, so interleaved recomputations can never
// make it enforce a stale score.
type Engine struct {
	assessments region.AssessmentStore
	profiles    region.ProfileStore
	store       Store
	chargebacks ChargebackProvider
	logger      *slog.Logger
}

// NewEngine creates a policy engine. chargebacks may be nil; reserve
// evaluation is then skipped.
func NewEngine(assessments region.AssessmentStore, profiles region.ProfileStore,
	store Store, chargebacks ChargebackProvider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		assessments: assessments,
		profiles:    profiles,
		store:       store,
		chargebacks: chargebacks,
		logger:      logger,
	}
}

// Evaluate applies enforcement for one user based on their most recently
// committed regional assessment. Called inline after each regional
// recalculation and again from the scheduled sweep.
func (e *Engine) Evaluate(ctx context.Context, userID string) error {
	ctx, span := traces.StartSpan(ctx, "enforce.Evaluate",
		attribute.String("user.id", userID))
	defer span.End()

	assessment, err := e.assessments.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, region.ErrAssessmentNotFound) {
			return nil // nothing committed yet, nothing to enforce
		}
		return fmt.Errorf("enforce %s: read assessment: %w", userID, err)
	}

	profile, err := e.profiles.Get(ctx, assessment.RegionID)
	if err != nil {
		if !errors.Is(err, region.ErrProfileNotFound) {
			return fmt.Errorf("enforce %s: read profile: %w", userID, err)
		}
		profile = region.DefaultProfile(assessment.RegionID)
	}

	switch {
	case assessment.FinalScore >= profile.AutoBlockScore:
		if err := e.applyFreeze(ctx, userID); err != nil {
			return err
		}
	case assessment.FinalScore >= profile.SuspiciousActivityScore:
		// Flag for manual review; no automatic freeze at this tier.
		if err := e.assessments.SetNeedsReview(ctx, userID, true); err != nil {
			e.logger.Warn("failed to flag user for review", "user_id", userID, "error", err)
		} else {
			metrics.EnforcementActionsTotal.WithLabelValues("review_flag").Inc()
		}
	}

	// Chargeback-specific risk drives reserve holds independently of the
	// freeze path.
	if e.chargebacks != nil {
		if err := e.evaluateReserve(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyFreeze(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	freeze := &Freeze{
		ID:        idgen.WithPrefix("frz_"),
		UserID:    userID,
		Reason:    ReasonSecurityConcerns,
		AppliedAt: now,
		ExpiresAt: now.Add(DefaultFreezeDuration),
		Status:    StatusActive,
	}
	// Create-or-refresh plus the payout status flip happen in one
	// transaction inside the store.
	if err := e.store.ApplyFreeze(ctx, freeze); err != nil {
		return fmt.Errorf("enforce %s: apply freeze: %w", userID, err)
	}
	metrics.EnforcementActionsTotal.WithLabelValues("freeze").Inc()
	e.logger.Info("payout freeze applied",
		"user_id", userID, "expires_at", freeze.ExpiresAt)
	return nil
}

func (e *Engine) evaluateReserve(ctx context.Context, userID string) error {
	stats, err := e.chargebacks.ChargebackStats(ctx, userID)
	if err != nil {
		// Missing dispute facts degrade to "monitor only".
		e.logger.Warn("chargeback stats unavailable", "user_id", userID, "error", err)
		return nil
	}

	cbScore := ChargebackScore(stats)
	percentage, duration := ReserveForScore(cbScore)
	if percentage == 0 {
		return nil
	}

	now := time.Now().UTC()
	reserve := &Reserve{
		ID:         idgen.WithPrefix("rsv_"),
		UserID:     userID,
		Percentage: percentage,
		Reason:     ReasonSecurityConcerns,
		AppliedAt:  now,
		ExpiresAt:  now.Add(duration),
		Status:     StatusActive,
	}
	if err := e.store.ApplyReserve(ctx, reserve); err != nil {
		return fmt.Errorf("enforce %s: apply reserve: %w", userID, err)
	}
	metrics.EnforcementActionsTotal.WithLabelValues("reserve").Inc()
	e.logger.Info("reserve hold applied",
		"user_id", userID,
		"percentage", percentage,
		"chargeback_score", cbScore,
		"expires_at", reserve.ExpiresAt)
	return nil
}

// ReleaseExpired sweeps expired freezes and reserves, one record at a time
// so a failure only affects the record in progress. Returns the number
// released.
func (e *Engine) ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	released := 0

	freezes, err := e.store.ExpiredFreezes(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("enforce sweep: list expired freezes: %w", err)
	}
	for _, f := range freezes {
		if err := e.store.ReleaseFreeze(ctx, f.ID); err != nil {
			// Left for the next sweep; the transaction keeps the prior state.
			e.logger.Error("failed to release freeze",
				"freeze_id", f.ID, "user_id", f.UserID, "error", err)
			continue
		}
		released++
		metrics.EnforcementActionsTotal.WithLabelValues("freeze_release").Inc()
		e.logger.Info("payout freeze released", "user_id", f.UserID, "freeze_id", f.ID)
	}

	reserves, err := e.store.ExpiredReserves(ctx, now, limit)
	if err != nil {
		return released, fmt.Errorf("enforce sweep: list expired reserves: %w", err)
	}
	for _, r := range reserves {
		if err := e.store.ReleaseReserve(ctx, r.ID); err != nil {
			e.logger.Error("failed to release reserve",
				"reserve_id", r.ID, "user_id", r.UserID, "error", err)
			continue
		}
		released++
		metrics.EnforcementActionsTotal.WithLabelValues("reserve_release").Inc()
		e.logger.Info("reserve hold released", "user_id", r.UserID, "reserve_id", r.ID)
	}

	return released, nil
}

// ActionDecision is the answer to an isActionAllowed check.
type ActionDecision struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	DailyLimit int    `json:"dailyLimit,omitempty"`
}

// IsActionAllowed is consulted by rate-limited product actions before they
// proceed. It reads the committed regional assessment; counting usage
// against the returned daily limit is the caller's concern.
func (e *Engine) IsActionAllowed(ctx context.Context, userID, action string) (*ActionDecision, error) {
	assessment, err := e.assessments.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, region.ErrAssessmentNotFound) {
			// No committed posture: allow.
			return &ActionDecision{Allowed: true}, nil
		}
		return nil, fmt.Errorf("action check %s: %w", userID, err)
	}

	if assessment.Level == score.LevelCritical {
		return &ActionDecision{Allowed: false, Reason: ReasonSecurityConcerns}, nil
	}

	if action == region.ActionMonetization {
		if _, err := e.store.ActiveFreeze(ctx, userID); err == nil {
			return &ActionDecision{Allowed: false, Reason: ReasonVerificationRequired}, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("action check %s: %w", userID, err)
		}

		profile, err := e.profiles.Get(ctx, assessment.RegionID)
		if err != nil {
			if !errors.Is(err, region.ErrProfileNotFound) {
				return nil, fmt.Errorf("action check %s: read profile: %w", userID, err)
			}
			profile = region.DefaultProfile(assessment.RegionID)
		}
		// Trust is 100 minus the enforced regional score.
		if trust := 100 - assessment.FinalScore; trust < profile.MinMonetizationTrust {
			return &ActionDecision{Allowed: false, Reason: ReasonVerificationRequired}, nil
		}
	}

	limit, ok := assessment.Limits[action]
	if !ok {
		return &ActionDecision{Allowed: true}, nil
	}
	if limit == 0 {
		return &ActionDecision{Allowed: false, Reason: ReasonDailyLimitReached}, nil
	}
	return &ActionDecision{Allowed: true, DailyLimit: limit}, nil
}
