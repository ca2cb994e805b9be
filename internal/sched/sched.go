// Package sched runs the periodic maintenance jobs: score recomputation for
// users with fresh signals, enforcement expiry release, and retention
// cleanup. The jobs carry no business logic of their own; each is idempotent
// and safe to run from a cold start, and each operates on one user or record
// at a time so partial failure only affects the item in progress.
package sched

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lumely/riskcore/internal/enforce"
	"github.com/lumely/riskcore/internal/metrics"
	"github.com/lumely/riskcore/internal/region"
	"github.com/lumely/riskcore/internal/score"
	"github.com/lumely/riskcore/internal/signal"
)

// Defaults for job cadence and batching.
const (
	DefaultRecomputeInterval = time.Hour
	DefaultExpiryInterval    = 6 * time.Hour
	DefaultCleanupInterval   = 24 * time.Hour
	DefaultBatchSize         = 100
)

// DedupSweeper is the detector dedup cache as the cleanup job sees it.
type DedupSweeper interface {
	Sweep() int
}

// RegionResolver maps a user to their region for the recompute sweep.
// Deployments without user-region data fall back to a fixed default region.
type RegionResolver interface {
	RegionFor(ctx context.Context, userID string) (string, error)
}

// StaticRegion is a RegionResolver that returns the same region for
// everyone.
type StaticRegion string

func (r StaticRegion) RegionFor(ctx context.Context, userID string) (string, error) {
	return string(r), nil
}

// Sweeper runs the three periodic jobs.
type Sweeper struct {
	signals    signal.Store
	scores     score.Store
	aggregator *score.Aggregator
	calculator *region.Calculator
	engine     *enforce.Engine
	regions    RegionResolver
	dedup      DedupSweeper

	recomputeInterval time.Duration
	expiryInterval    time.Duration
	cleanupInterval   time.Duration
	batchSize         int
	retention         time.Duration

	logger *slog.Logger
	stop   chan struct{}
}

// NewSweeper creates a sweeper with default intervals.
func NewSweeper(signals signal.Store, scores score.Store, aggregator *score.Aggregator,
	calculator *region.Calculator, engine *enforce.Engine, regions RegionResolver,
	dedup DedupSweeper, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		signals:           signals,
		scores:            scores,
		aggregator:        aggregator,
		calculator:        calculator,
		engine:            engine,
		regions:           regions,
		dedup:             dedup,
		recomputeInterval: DefaultRecomputeInterval,
		expiryInterval:    DefaultExpiryInterval,
		cleanupInterval:   DefaultCleanupInterval,
		batchSize:         DefaultBatchSize,
		retention:         signal.DefaultRetention,
		logger:            logger,
		stop:              make(chan struct{}),
	}
}

// WithIntervals overrides the job cadence (for demo mode and tests).
func (s *Sweeper) WithIntervals(recompute, expiry, cleanup time.Duration) *Sweeper {
	s.recomputeInterval = recompute
	s.expiryInterval = expiry
	s.cleanupInterval = cleanup
	return s
}

// WithBatchSize overrides how many users one recompute run touches.
func (s *Sweeper) WithBatchSize(n int) *Sweeper {
	s.batchSize = n
	return s
}

// WithRetention overrides the signal retention window.
func (s *Sweeper) WithRetention(d time.Duration) *Sweeper {
	s.retention = d
	return s
}

// Start begins the job loops. Call in a goroutine; returns when ctx is done
// or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	recompute := time.NewTicker(s.recomputeInterval)
	expiry := time.NewTicker(s.expiryInterval)
	cleanup := time.NewTicker(s.cleanupInterval)
	defer recompute.Stop()
	defer expiry.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-recompute.C:
			s.RunRecompute(ctx)
		case <-expiry.C:
			s.RunExpiry(ctx)
		case <-cleanup.C:
			s.RunCleanup(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

// RunRecompute finds users whose signals are newer than their last score
// update and runs the full pipeline (score → regional → enforcement) for
// each, committing per user. Errors skip the user; the next run retries.
func (s *Sweeper) RunRecompute(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("recompute").Observe(time.Since(start).Seconds())
	}()

	// Look back two intervals so a previously failed run is covered.
	since := time.Now().Add(-2 * s.recomputeInterval)
	users, err := s.signals.DistinctUsers(ctx, since, s.batchSize)
	if err != nil {
		s.logger.Error("recompute sweep: list users failed", "error", err)
		return
	}

	processed := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		if fresh, err := s.scoreIsFresh(ctx, userID); err == nil && fresh {
			continue
		}
		if err := s.runPipeline(ctx, userID); err != nil {
			s.logger.Error("recompute sweep: user skipped", "user_id", userID, "error", err)
			continue
		}
		processed++
	}

	if processed > 0 {
		s.logger.Info("recompute sweep completed",
			"candidates", len(users), "processed", processed)
	}
}

// scoreIsFresh reports whether the user's stored score already covers their
// latest signals: nothing in the signal log is newer than the score's last
// update.
func (s *Sweeper) scoreIsFresh(ctx context.Context, userID string) (bool, error) {
	userScore, err := s.scores.Get(ctx, userID)
	if errors.Is(err, score.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	newer, err := s.signals.ListByUser(ctx, userID, userScore.UpdatedAt, time.Time{})
	if err != nil {
		return false, err
	}
	return len(newer) == 0, nil
}

func (s *Sweeper) runPipeline(ctx context.Context, userID string) error {
	if _, err := s.aggregator.Recompute(ctx, userID); err != nil {
		return err
	}
	regionID, err := s.regions.RegionFor(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.calculator.Calculate(ctx, userID, regionID); err != nil {
		return err
	}
	return s.engine.Evaluate(ctx, userID)
}

// RunExpiry releases freezes and reserves whose expiry has passed. Safe to
// run concurrently with new enforcement: expiry only fires after expiresAt,
// which cannot be in the past when enforcement is re-applied.
func (s *Sweeper) RunExpiry(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("expiry").Observe(time.Since(start).Seconds())
	}()

	released, err := s.engine.ReleaseExpired(ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
		return
	}
	if released > 0 {
		s.logger.Info("expiry sweep completed", "released", released)
	}
}

// RunCleanup removes signals past retention and expired dedup entries.
func (s *Sweeper) RunCleanup(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("cleanup").Observe(time.Since(start).Seconds())
	}()

	removed, err := s.signals.DeleteOlderThan(ctx, time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Error("cleanup sweep: signal retention failed", "error", err)
	}

	swept := 0
	if s.dedup != nil {
		swept = s.dedup.Sweep()
	}

	if removed > 0 || swept > 0 {
		s.logger.Info("cleanup sweep completed",
			"signals_removed", removed, "dedup_entries_removed", swept)
	}
}
