package enforce

import (
	"context"
	"sync"
	"time"
)

// PayoutStatus mirrors the status field of the externally owned payout
// records. Only pending↔frozen transitions happen in this core.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutFrozen  PayoutStatus = "frozen"
)

// Payout is the slim view of an external payout record the memory store
// keeps for tests and demo mode.
type Payout struct {
	ID     string
	UserID string
	Status PayoutStatus
}

// MemoryStore is an in-memory implementation of Store for demo/test use.
// The payout map stands in for the externally owned payout table; the
// mutex gives the same all-or-nothing behavior the Postgres transaction
// provides.
type MemoryStore struct {
	mu       sync.Mutex
	freezes  map[string]*Freeze  // id → freeze
	reserves map[string]*Reserve // id → reserve
	payouts  map[string]*Payout  // id → payout
}

// NewMemoryStore creates an in-memory enforcement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		freezes:  make(map[string]*Freeze),
		reserves: make(map[string]*Reserve),
		payouts:  make(map[string]*Payout),
	}
}

// SeedPayout registers a payout record (test/demo helper).
func (s *MemoryStore) SeedPayout(p *Payout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payouts[p.ID] = &cp
}

// PayoutStatus returns the status of a seeded payout (test helper).
func (s *MemoryStore) PayoutStatus(id string) (PayoutStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return "", false
	}
	return p.Status, true
}

func (s *MemoryStore) ApplyFreeze(ctx context.Context, f *Freeze) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Refresh an existing active freeze instead of stacking a second one.
	for _, existing := range s.freezes {
		if existing.UserID == f.UserID && existing.Status == StatusActive {
			existing.ExpiresAt = f.ExpiresAt
			existing.Reason = f.Reason
			s.freezeUserPayouts(f.UserID)
			return nil
		}
	}

	cp := *f
	s.freezes[f.ID] = &cp
	s.freezeUserPayouts(f.UserID)
	return nil
}

func (s *MemoryStore) freezeUserPayouts(userID string) {
	for _, p := range s.payouts {
		if p.UserID == userID && p.Status == PayoutPending {
			p.Status = PayoutFrozen
		}
	}
}

func (s *MemoryStore) ReleaseFreeze(ctx context.Context, freezeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.freezes[freezeID]
	if !ok || f.Status != StatusActive {
		return ErrNotFound
	}
	f.Status = StatusExpired
	for _, p := range s.payouts {
		if p.UserID == f.UserID && p.Status == PayoutFrozen {
			p.Status = PayoutPending
		}
	}
	return nil
}

func (s *MemoryStore) ActiveFreeze(ctx context.Context, userID string) (*Freeze, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.freezes {
		if f.UserID == userID && f.Status == StatusActive {
			cp := *f
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ExpiredFreezes(ctx context.Context, now time.Time, limit int) ([]*Freeze, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Freeze
	for _, f := range s.freezes {
		if f.Status == StatusActive && f.ExpiresAt.Before(now) {
			cp := *f
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (s *MemoryStore) ApplyReserve(ctx context.Context, r *Reserve) error {
	if r.Percentage < 1 || r.Percentage > 100 {
		return ErrInvalidPercent
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.reserves {
		if existing.UserID == r.UserID && existing.Status == StatusActive {
			// Never weaken an active reserve on refresh.
			if r.Percentage > existing.Percentage {
				existing.Percentage = r.Percentage
			}
			if r.ExpiresAt.After(existing.ExpiresAt) {
				existing.ExpiresAt = r.ExpiresAt
			}
			return nil
		}
	}

	cp := *r
	s.reserves[r.ID] = &cp
	return nil
}

func (s *MemoryStore) ReleaseReserve(ctx context.Context, reserveID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reserves[reserveID]
	if !ok || r.Status != StatusActive {
		return ErrNotFound
	}
	r.Status = StatusExpired
	return nil
}

func (s *MemoryStore) ActiveReserve(ctx context.Context, userID string) (*Reserve, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reserves {
		if r.UserID == userID && r.Status == StatusActive {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ExpiredReserves(ctx context.Context, now time.Time, limit int) ([]*Reserve, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Reserve
	for _, r := range s.reserves {
		if r.Status == StatusActive && r.ExpiresAt.Before(now) {
			cp := *r
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
