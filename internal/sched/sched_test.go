package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumely/riskcore/internal/enforce"
	"github.com/lumely/riskcore/internal/region"
	"github.com/lumely/riskcore/internal/score"
	"github.com/lumely/riskcore/internal/signal"
)

type fixture struct {
	sweeper     *Sweeper
	signals     *signal.MemoryStore
	scores      *score.MemoryStore
	assessments *region.MemoryAssessmentStore
	enforcement *enforce.MemoryStore
	dedup       *countingSweeper
}

type countingSweeper struct {
	calls int
}

func (c *countingSweeper) Sweep() int {
	c.calls++
	return 0
}

func newFixture() *fixture {
	signals := signal.NewMemoryStore()
	scores := score.NewMemoryStore()
	profiles := region.NewMemoryProfileStore()
	assessments := region.NewMemoryAssessmentStore()
	enforcement := enforce.NewMemoryStore()

	aggregator := score.NewAggregator(signals, scores, nil)
	calculator := region.NewCalculator(scores, profiles, assessments, nil, nil, nil)
	engine := enforce.NewEngine(assessments, profiles, enforcement, nil, nil)
	dedup := &countingSweeper{}

	sweeper := NewSweeper(signals, scores, aggregator, calculator, engine,
		StaticRegion("global"), dedup, nil)

	return &fixture{
		sweeper:     sweeper,
		signals:     signals,
		scores:      scores,
		assessments: assessments,
		enforcement: enforcement,
		dedup:       dedup,
	}
}

func insertSignal(t *testing.T, store signal.Store, id, userID string, severity int, age time.Duration) {
	t.Helper()
	err := store.Insert(context.Background(), &signal.Signal{
		ID:        id,
		UserID:    userID,
		Source:    signal.SourceEvent,
		Type:      signal.TypePayoutAbuse,
		Severity:  severity,
		CreatedAt: time.Now().UTC().Add(-age),
	})
	if err != nil {
		t.Fatalf("insert signal: %v", err)
	}
}

func TestRunRecomputeProcessesFullPipeline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Three fresh severity-5 signals: 120 → capped 100 → CRITICAL → freeze.
	insertSignal(t, f.signals, "s1", "u1", 5, time.Minute)
	insertSignal(t, f.signals, "s2", "u1", 5, 2*time.Minute)
	insertSignal(t, f.signals, "s3", "u1", 5, 3*time.Minute)
	f.enforcement.SeedPayout(&enforce.Payout{ID: "p1", UserID: "u1", Status: enforce.PayoutPending})

	f.sweeper.RunRecompute(ctx)

	userScore, err := f.scores.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("no score after recompute sweep: %v", err)
	}
	if userScore.RiskScore != 100 {
		t.Errorf("score = %d, want 100", userScore.RiskScore)
	}

	assessment, err := f.assessments.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("no regional assessment after sweep: %v", err)
	}
	if assessment.RegionID != "global" {
		t.Errorf("region = %s, want the static default", assessment.RegionID)
	}
	if assessment.Level != score.LevelCritical {
		t.Errorf("level = %s, want CRITICAL", assessment.Level)
	}

	if _, err := f.enforcement.ActiveFreeze(ctx, "u1"); err != nil {
		t.Errorf("no freeze after sweep over an auto-block score: %v", err)
	}
	if status, _ := f.enforcement.PayoutStatus("p1"); status != enforce.PayoutFrozen {
		t.Errorf("payout = %s, want frozen", status)
	}
}

func TestRunRecomputeSkipsFreshScores(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	insertSignal(t, f.signals, "s1", "u1", 3, 10*time.Minute)
	f.sweeper.RunRecompute(ctx)

	first, err := f.scores.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("score missing after first sweep: %v", err)
	}

	// No new signals: the second run leaves the stored score untouched.
	f.sweeper.RunRecompute(ctx)
	second, err := f.scores.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("score missing after second sweep: %v", err)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("fresh score was recomputed without new signals")
	}
}

func TestRunRecomputePicksUpSignalsBetweenSweeps(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	insertSignal(t, f.signals, "s1", "u1", 3, 10*time.Minute)
	f.sweeper.RunRecompute(ctx)

	first, err := f.scores.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("score missing after first sweep: %v", err)
	}
	if first.SignalCount != 1 {
		t.Fatalf("signal count = %d after first sweep, want 1", first.SignalCount)
	}

	// A signal lands right after the recompute: the very next sweep must fold
	// it in, not wait out another interval.
	insertSignal(t, f.signals, "s2", "u1", 5, 0)
	f.sweeper.RunRecompute(ctx)

	second, err := f.scores.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("score missing after second sweep: %v", err)
	}
	if second.SignalCount != 2 {
		t.Errorf("signal count = %d after second sweep, want 2", second.SignalCount)
	}
	if second.RiskScore != 50 {
		t.Errorf("score = %d after second sweep, want 50", second.RiskScore)
	}
}

func TestRunRecomputeHonorsBatchSize(t *testing.T) {
	f := newFixture()
	f.sweeper.WithBatchSize(2)
	ctx := context.Background()

	insertSignal(t, f.signals, "s1", "u1", 3, time.Minute)
	insertSignal(t, f.signals, "s2", "u2", 3, time.Minute)
	insertSignal(t, f.signals, "s3", "u3", 3, time.Minute)

	f.sweeper.RunRecompute(ctx)

	scored := 0
	for _, userID := range []string{"u1", "u2", "u3"} {
		if _, err := f.scores.Get(ctx, userID); err == nil {
			scored++
		}
	}
	if scored != 2 {
		t.Errorf("scored %d users, want batch of 2", scored)
	}
}

func TestRunExpiryReleasesFreezes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	f.enforcement.SeedPayout(&enforce.Payout{ID: "p1", UserID: "u1", Status: enforce.PayoutFrozen})
	err := f.enforcement.ApplyFreeze(ctx, &enforce.Freeze{
		ID:        "frz_1",
		UserID:    "u1",
		Reason:    enforce.ReasonSecurityConcerns,
		AppliedAt: now.Add(-15 * 24 * time.Hour),
		ExpiresAt: now.Add(-24 * time.Hour),
		Status:    enforce.StatusActive,
	})
	if err != nil {
		t.Fatalf("seed freeze: %v", err)
	}

	f.sweeper.RunExpiry(ctx)

	if _, err := f.enforcement.ActiveFreeze(ctx, "u1"); !errors.Is(err, enforce.ErrNotFound) {
		t.Error("expired freeze still active after expiry sweep")
	}
	if status, _ := f.enforcement.PayoutStatus("p1"); status != enforce.PayoutPending {
		t.Errorf("payout = %s after expiry sweep, want pending", status)
	}
}

func TestRunCleanup(t *testing.T) {
	f := newFixture()
	f.sweeper.WithRetention(30 * 24 * time.Hour)
	ctx := context.Background()

	insertSignal(t, f.signals, "old", "u1", 3, 31*24*time.Hour)
	insertSignal(t, f.signals, "new", "u1", 3, time.Hour)

	f.sweeper.RunCleanup(ctx)

	remaining, err := f.signals.ListByUser(ctx, "u1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "new" {
		t.Errorf("cleanup kept %d signals, want only the fresh one", len(remaining))
	}
	if f.dedup.calls != 1 {
		t.Errorf("dedup sweep called %d times, want 1", f.dedup.calls)
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	f := newFixture()
	f.sweeper.WithIntervals(time.Hour, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sweeper.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}

func TestStartStopsOnStop(t *testing.T) {
	f := newFixture()
	f.sweeper.WithIntervals(time.Hour, time.Hour, time.Hour)

	done := make(chan struct{})
	go func() {
		f.sweeper.Start(context.Background())
		close(done)
	}()

	// Give the loop a moment to be blocked in select before stopping.
	time.Sleep(10 * time.Millisecond)
	f.sweeper.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on Stop")
	}
}
