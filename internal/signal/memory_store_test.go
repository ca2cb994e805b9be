package signal

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func insertAt(t *testing.T, s Store, id, userID string, sigType Type, severity int, at time.Time) {
	t.Helper()
	err := s.Insert(context.Background(), &Signal{
		ID:        id,
		UserID:    userID,
		Source:    SourceEvent,
		Type:      sigType,
		Severity:  severity,
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func TestMemoryStoreListByUserOrderAndBounds(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()

	insertAt(t, s, "a", "u1", TypeTokenDrain, 3, now.Add(-3*time.Hour))
	insertAt(t, s, "b", "u1", TypeCopyPaste, 2, now.Add(-1*time.Hour))
	insertAt(t, s, "c", "u1", TypeSelfRefunds, 4, now.Add(-2*time.Hour))
	insertAt(t, s, "d", "u2", TypeTokenDrain, 3, now.Add(-1*time.Hour))

	got, err := s.ListByUser(context.Background(), "u1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d signals, want 3", len(got))
	}
	// Newest first.
	if got[0].ID != "b" || got[1].ID != "c" || got[2].ID != "a" {
		t.Errorf("order = %s,%s,%s, want b,c,a", got[0].ID, got[1].ID, got[2].ID)
	}

	// [from, to) bounds.
	got, err = s.ListByUser(context.Background(), "u1",
		now.Add(-150*time.Minute), now.Add(-90*time.Minute))
	if err != nil {
		t.Fatalf("bounded list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c" {
		t.Errorf("bounded list returned %d signals, want just c", len(got))
	}
}

func TestMemoryStoreInsertRejectsInvalid(t *testing.T) {
	s := NewMemoryStore()
	err := s.Insert(context.Background(), &Signal{
		ID: "x", UserID: "u1", Source: SourceChat, Type: TypeCopyPaste, Severity: 0,
	})
	if err == nil {
		t.Fatal("expected validation error for severity 0")
	}
}

func TestMemoryStoreCountByUserAndType(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()

	insertAt(t, s, "a", "u1", TypeFakeBookings, 3, now.Add(-time.Hour))
	insertAt(t, s, "b", "u1", TypeFakeBookings, 3, now.Add(-48*time.Hour))
	insertAt(t, s, "c", "u1", TypeCopyPaste, 3, now.Add(-time.Hour))

	count, err := s.CountByUserAndType(context.Background(), "u1", TypeFakeBookings, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestMemoryStoreDistinctUsers(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()

	insertAt(t, s, "a", "u1", TypeTokenDrain, 3, now.Add(-time.Hour))
	insertAt(t, s, "b", "u1", TypeCopyPaste, 3, now.Add(-time.Minute))
	insertAt(t, s, "c", "u2", TypeTokenDrain, 3, now.Add(-time.Hour))
	insertAt(t, s, "d", "u3", TypeTokenDrain, 3, now.Add(-72*time.Hour))

	users, err := s.DistinctUsers(context.Background(), now.Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("distinct users: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("got %d users, want 2 (u3 outside window, u1 deduped)", len(users))
	}

	users, err = s.DistinctUsers(context.Background(), now.Add(-24*time.Hour), 1)
	if err != nil {
		t.Fatalf("distinct users with limit: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("limit not applied: got %d users", len(users))
	}
}

func TestMemoryStoreListFilterAndPagination(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		insertAt(t, s, fmt.Sprintf("s%d", i), "u1", TypeTokenDrain, 3+i%3,
			now.Add(-time.Duration(i)*time.Minute))
	}

	// Severity filter.
	page, next, err := s.List(context.Background(), Filter{UserID: "u1", MinSeverity: 5})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if next != "" {
		t.Errorf("unexpected next cursor %q", next)
	}
	for _, sig := range page {
		if sig.Severity < 5 {
			t.Errorf("severity filter leaked severity %d", sig.Severity)
		}
	}

	// Page through with limit 2: expect 2 + 2 + 1.
	var all []*Signal
	cursor := ""
	for i := 0; i < 4; i++ {
		page, cursor, err = s.List(context.Background(), Filter{UserID: "u1", Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		all = append(all, page...)
		if cursor == "" {
			break
		}
	}
	if len(all) != 5 {
		t.Fatalf("paged through %d signals, want 5", len(all))
	}
	seen := make(map[string]bool)
	for _, sig := range all {
		if seen[sig.ID] {
			t.Errorf("signal %s returned twice across pages", sig.ID)
		}
		seen[sig.ID] = true
	}
}

func TestMemoryStoreStats(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()

	insertAt(t, s, "a", "u1", TypeTokenDrain, 3, now.Add(-time.Hour))
	insertAt(t, s, "b", "u2", TypeTokenDrain, 5, now.Add(-time.Hour))
	insertAt(t, s, "c", "u3", TypeCopyPaste, 3, now.Add(-time.Hour))

	stats, err := s.Stats(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByType[TypeTokenDrain] != 2 {
		t.Errorf("token-drain count = %d, want 2", stats.ByType[TypeTokenDrain])
	}
	if stats.BySeverity["3"] != 2 {
		t.Errorf("severity-3 count = %d, want 2", stats.BySeverity["3"])
	}
}

func TestMemoryStoreDeleteOlderThan(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()

	insertAt(t, s, "old", "u1", TypeTokenDrain, 3, now.Add(-400*24*time.Hour))
	insertAt(t, s, "new", "u1", TypeTokenDrain, 3, now.Add(-time.Hour))

	removed, err := s.DeleteOlderThan(context.Background(), now.Add(-365*24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	got, err := s.ListByUser(context.Background(), "u1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("retention removed the wrong signal")
	}
}
