package enforce

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/lumely/riskcore/internal/testutil"
)

func seedPayoutRow(t *testing.T, db *sql.DB, id, userID, status string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO payouts (id, user_id, status) VALUES ($1, $2, $3)`,
		id, userID, status)
	if err != nil {
		t.Fatalf("seed payout: %v", err)
	}
}

func payoutStatusRow(t *testing.T, db *sql.DB, id string) string {
	t.Helper()
	var status string
	err := db.QueryRowContext(context.Background(),
		`SELECT status FROM payouts WHERE id = $1`, id).Scan(&status)
	if err != nil {
		t.Fatalf("read payout status: %v", err)
	}
	return status
}

func TestPostgresFreezeTransactional(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	seedPayoutRow(t, db, "p1", "u1", "pending")
	seedPayoutRow(t, db, "p2", "u1", "pending")
	seedPayoutRow(t, db, "p3", "other", "pending")

	freeze := &Freeze{
		ID:        "frz_pg1",
		UserID:    "u1",
		Reason:    ReasonSecurityConcerns,
		AppliedAt: now,
		ExpiresAt: now.Add(14 * 24 * time.Hour),
		Status:    StatusActive,
	}
	if err := store.ApplyFreeze(ctx, freeze); err != nil {
		t.Fatalf("apply freeze: %v", err)
	}

	// Freeze record and payout flips committed together.
	active, err := store.ActiveFreeze(ctx, "u1")
	if err != nil {
		t.Fatalf("active freeze: %v", err)
	}
	if active.ID != "frz_pg1" {
		t.Errorf("active freeze id = %s", active.ID)
	}
	if got := payoutStatusRow(t, db, "p1"); got != "frozen" {
		t.Errorf("payout p1 = %s, want frozen", got)
	}
	if got := payoutStatusRow(t, db, "p2"); got != "frozen" {
		t.Errorf("payout p2 = %s, want frozen", got)
	}
	if got := payoutStatusRow(t, db, "p3"); got != "pending" {
		t.Errorf("unrelated payout = %s, want pending", got)
	}

	// A second freeze refreshes rather than stacking.
	refresh := &Freeze{
		ID:        "frz_pg2",
		UserID:    "u1",
		Reason:    ReasonSecurityConcerns,
		AppliedAt: now,
		ExpiresAt: now.Add(28 * 24 * time.Hour),
		Status:    StatusActive,
	}
	if err := store.ApplyFreeze(ctx, refresh); err != nil {
		t.Fatalf("refresh freeze: %v", err)
	}
	active, err = store.ActiveFreeze(ctx, "u1")
	if err != nil {
		t.Fatalf("active freeze after refresh: %v", err)
	}
	if active.ID != "frz_pg1" {
		t.Errorf("refresh created a second record: %s", active.ID)
	}

	// Release restores the user's frozen payouts.
	if err := store.ReleaseFreeze(ctx, "frz_pg1"); err != nil {
		t.Fatalf("release freeze: %v", err)
	}
	if _, err := store.ActiveFreeze(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Error("freeze still active after release")
	}
	if got := payoutStatusRow(t, db, "p1"); got != "pending" {
		t.Errorf("payout p1 = %s after release, want pending", got)
	}

	// Releasing twice reports not found.
	if err := store.ReleaseFreeze(ctx, "frz_pg1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double release returned %v, want ErrNotFound", err)
	}
}

func TestPostgresExpiredFreezes(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := &Freeze{
		ID: "frz_old", UserID: "u1", Reason: ReasonSecurityConcerns,
		AppliedAt: now.Add(-15 * 24 * time.Hour),
		ExpiresAt: now.Add(-24 * time.Hour), Status: StatusActive,
	}
	current := &Freeze{
		ID: "frz_new", UserID: "u2", Reason: ReasonSecurityConcerns,
		AppliedAt: now, ExpiresAt: now.Add(24 * time.Hour), Status: StatusActive,
	}
	if err := store.ApplyFreeze(ctx, expired); err != nil {
		t.Fatalf("seed expired: %v", err)
	}
	if err := store.ApplyFreeze(ctx, current); err != nil {
		t.Fatalf("seed current: %v", err)
	}

	got, err := store.ExpiredFreezes(ctx, now, 100)
	if err != nil {
		t.Fatalf("expired freezes: %v", err)
	}
	if len(got) != 1 || got[0].ID != "frz_old" {
		t.Errorf("expired freezes = %d records, want only frz_old", len(got))
	}
}

func TestPostgresReserveRefreshNeverWeakens(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	first := &Reserve{
		ID: "rsv_1", UserID: "u1", Percentage: 30, Reason: ReasonSecurityConcerns,
		AppliedAt: now, ExpiresAt: now.Add(14 * 24 * time.Hour), Status: StatusActive,
	}
	if err := store.ApplyReserve(ctx, first); err != nil {
		t.Fatalf("first reserve: %v", err)
	}

	weaker := &Reserve{
		ID: "rsv_2", UserID: "u1", Percentage: 10, Reason: ReasonSecurityConcerns,
		AppliedAt: now, ExpiresAt: now.Add(3 * 24 * time.Hour), Status: StatusActive,
	}
	if err := store.ApplyReserve(ctx, weaker); err != nil {
		t.Fatalf("weaker reserve: %v", err)
	}

	active, err := store.ActiveReserve(ctx, "u1")
	if err != nil {
		t.Fatalf("active reserve: %v", err)
	}
	if active.ID != "rsv_1" || active.Percentage != 30 {
		t.Errorf("refresh weakened the hold: id=%s percentage=%d", active.ID, active.Percentage)
	}
	if !active.ExpiresAt.After(now.Add(13 * 24 * time.Hour)) {
		t.Errorf("refresh shortened the expiry: %v", active.ExpiresAt)
	}

	if err := store.ApplyReserve(ctx, &Reserve{ID: "rsv_x", UserID: "u2", Percentage: 0}); !errors.Is(err, ErrInvalidPercent) {
		t.Errorf("invalid percentage returned %v, want ErrInvalidPercent", err)
	}
}
