package signal

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lumely/riskcore/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	signals []*Signal // insertion order
}

// NewMemoryStore creates an in-memory signal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, sig *Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sig
	if cp.Metadata != nil {
		md := make(map[string]any, len(cp.Metadata))
		for k, v := range cp.Metadata {
			md[k] = v
		}
		cp.Metadata = md
	}
	s.signals = append(s.signals, &cp)
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Signal
	for _, sig := range s.signals {
		if sig.UserID != userID {
			continue
		}
		if !from.IsZero() && sig.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !sig.CreatedAt.Before(to) {
			continue
		}
		cp := *sig
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) CountByUserAndType(ctx context.Context, userID string, t Type, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sig := range s.signals {
		if sig.UserID == userID && sig.Type == t && !sig.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) DistinctUsers(ctx context.Context, since time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var users []string
	for _, sig := range s.signals {
		if sig.CreatedAt.Before(since) || seen[sig.UserID] {
			continue
		}
		seen[sig.UserID] = true
		users = append(users, sig.UserID)
		if limit > 0 && len(users) >= limit {
			break
		}
	}
	return users, nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*Signal, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	cursor, err := pagination.Decode(f.Cursor)
	if err != nil {
		return nil, "", err
	}

	var matched []*Signal
	for _, sig := range s.signals {
		if f.UserID != "" && sig.UserID != f.UserID {
			continue
		}
		if f.Type != "" && sig.Type != f.Type {
			continue
		}
		if f.MinSeverity > 0 && sig.Severity < f.MinSeverity {
			continue
		}
		if !f.From.IsZero() && sig.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !sig.CreatedAt.Before(f.To) {
			continue
		}
		cp := *sig
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	// Skip everything at or after the cursor position (newest-first order).
	if cursor != nil {
		idx := 0
		for idx < len(matched) {
			sig := matched[idx]
			if sig.CreatedAt.Before(cursor.CreatedAt) ||
				(sig.CreatedAt.Equal(cursor.CreatedAt) && sig.ID < cursor.ID) {
				break
			}
			idx++
		}
		matched = matched[idx:]
	}

	if len(matched) > limit {
		page := matched[:limit]
		last := page[len(page)-1]
		return page, pagination.Encode(last.CreatedAt, last.ID), nil
	}
	return matched, "", nil
}

func (s *MemoryStore) Stats(ctx context.Context, from, to time.Time) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		ByType:     make(map[Type]int64),
		BySeverity: make(map[string]int64),
	}
	for _, sig := range s.signals {
		if !from.IsZero() && sig.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !sig.CreatedAt.Before(to) {
			continue
		}
		stats.Total++
		stats.ByType[sig.Type]++
		stats.BySeverity[strconv.Itoa(sig.Severity)]++
	}
	return stats, nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.signals[:0]
	var removed int64
	for _, sig := range s.signals {
		if sig.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, sig)
	}
	s.signals = kept
	return removed, nil
}
