package signal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lumely/riskcore/internal/testutil"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	sig := &Signal{
		ID:         "sig_pg1",
		UserID:     "u1",
		Source:     SourceAIVoice,
		Type:       TypeTokenDrain,
		Severity:   4,
		ContextRef: "session-42",
		Metadata:   map[string]any{"shortSessionCount": float64(7)},
		CreatedAt:  now,
	}
	if err := store.Insert(ctx, sig); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.ListByUser(ctx, "u1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
	if got[0].ID != "sig_pg1" || got[0].Type != TypeTokenDrain || got[0].Severity != 4 {
		t.Errorf("round trip mismatch: %+v", got[0])
	}
	if got[0].ContextRef != "session-42" {
		t.Errorf("context ref = %q", got[0].ContextRef)
	}
	if got[0].Metadata["shortSessionCount"] != float64(7) {
		t.Errorf("metadata = %v", got[0].Metadata)
	}
}

func TestPostgresStoreQueries(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	insert := func(id, userID string, sigType Type, severity int, age time.Duration) {
		t.Helper()
		err := store.Insert(ctx, &Signal{
			ID: id, UserID: userID, Source: SourceEvent, Type: sigType,
			Severity: severity, CreatedAt: now.Add(-age),
		})
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	insert("a", "u1", TypeFakeBookings, 3, time.Hour)
	insert("b", "u1", TypeFakeBookings, 4, 48*time.Hour)
	insert("c", "u1", TypeCopyPaste, 5, 2*time.Hour)
	insert("d", "u2", TypePayoutAbuse, 3, time.Hour)
	insert("e", "u3", TypePayoutAbuse, 3, 400*24*time.Hour)

	count, err := store.CountByUserAndType(ctx, "u1", TypeFakeBookings, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	users, err := store.DistinctUsers(ctx, now.Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("distinct users: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("distinct users = %d, want 2", len(users))
	}

	page, next, err := store.List(ctx, Filter{UserID: "u1", Limit: 2})
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(page) != 2 || next == "" {
		t.Fatalf("page 1 = %d signals, next %q", len(page), next)
	}
	rest, next, err := store.List(ctx, Filter{UserID: "u1", Limit: 2, Cursor: next})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(rest) != 1 || next != "" {
		t.Errorf("page 2 = %d signals, next %q; want 1 and exhausted", len(rest), next)
	}

	stats, err := store.Stats(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 5 {
		t.Errorf("stats total = %d, want 5", stats.Total)
	}
	if stats.ByType[TypeFakeBookings] != 2 {
		t.Errorf("fake-bookings = %d, want 2", stats.ByType[TypeFakeBookings])
	}
	if stats.BySeverity["3"] != 3 {
		t.Errorf("severity-3 = %d, want 3", stats.BySeverity["3"])
	}

	removed, err := store.DeleteOlderThan(ctx, now.Add(-365*24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestPostgresStoreLargeBatch(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 150; i++ {
		err := store.Insert(ctx, &Signal{
			ID:        fmt.Sprintf("sig_batch_%03d", i),
			UserID:    fmt.Sprintf("u%d", i%7),
			Source:    SourceEvent,
			Type:      TypePanicRateSpike,
			Severity:  1 + i%5,
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	// Page through everything and verify no duplicates or gaps.
	seen := make(map[string]bool)
	cursor := ""
	for {
		page, next, err := store.List(ctx, Filter{Limit: 40, Cursor: cursor})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, sig := range page {
			if seen[sig.ID] {
				t.Fatalf("signal %s returned twice", sig.ID)
			}
			seen[sig.ID] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(seen) != 150 {
		t.Errorf("paged through %d signals, want 150", len(seen))
	}
}
