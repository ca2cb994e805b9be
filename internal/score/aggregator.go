package score

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lumely/riskcore/internal/metrics"
	"github.com/lumely/riskcore/internal/signal"
	"github.com/lumely/riskcore/internal/traces"
)

// Aggregator recomputes user risk scores from the signal log.
//
// Recompute is safe to call concurrently for different users and safe to
// re-run for the same user: it reads the log, derives the score, and fully
// overwrites the stored value. There is no hidden accumulator state.
type Aggregator struct {
	signals  signal.Store
	scores   Store
	lookback time.Duration
	logger   *slog.Logger
}

// NewAggregator creates an aggregator with the default 90-day lookback.
func NewAggregator(signals signal.Store, scores Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		signals:  signals,
		scores:   scores,
		lookback: DefaultLookback,
		logger:   logger,
	}
}

// WithLookback overrides the signal lookback window.
func (a *Aggregator) WithLookback(d time.Duration) *Aggregator {
	a.lookback = d
	return a
}

// Recompute derives and persists the user's risk score from their signal
// history. A user with zero signals gets score 0 / LOW, which is still
// persisted so readers see a committed value.
func (a *Aggregator) Recompute(ctx context.Context, userID string) (*UserRiskScore, error) {
	ctx, span := traces.StartSpan(ctx, "score.Recompute",
		attribute.String("user.id", userID))
	defer span.End()

	now := time.Now().UTC()
	signals, err := a.signals.ListByUser(ctx, userID, now.Add(-a.lookback), time.Time{})
	if err != nil {
		return nil, fmt.Errorf("recompute %s: list signals: %w", userID, err)
	}

	var total float64
	for _, sig := range signals {
		total += BasePoints(sig.Severity) * DecayWeight(now.Sub(sig.CreatedAt))
	}
	riskScore := int(math.Round(total))
	if riskScore > 100 {
		riskScore = 100
	}

	result := &UserRiskScore{
		UserID:      userID,
		RiskScore:   riskScore,
		Level:       LevelForScore(riskScore),
		SignalCount: len(signals),
		UpdatedAt:   now,
	}
	if len(signals) > 0 {
		// ListByUser returns newest-first.
		result.LastSignalType = signals[0].Type
		result.LastSignalDate = signals[0].CreatedAt
	}

	if err := a.scores.Upsert(ctx, result); err != nil {
		return nil, fmt.Errorf("recompute %s: persist score: %w", userID, err)
	}

	metrics.ScoreRecomputesTotal.Inc()
	a.logger.Debug("risk score recomputed",
		"user_id", userID,
		"score", result.RiskScore,
		"level", result.Level,
		"signals", result.SignalCount,
	)
	return result, nil
}
