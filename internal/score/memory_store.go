package score

import (
	"context"
	"sort"
	"sync"

	"github.com/lumely/riskcore/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	scores map[string]*UserRiskScore
}

// NewMemoryStore creates an in-memory score store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scores: make(map[string]*UserRiskScore)}
}

func (s *MemoryStore) Upsert(ctx context.Context, score *UserRiskScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *score
	s.scores[score.UserID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*UserRiskScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *score
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*UserRiskScore, string, error) {
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

	var matched []*UserRiskScore
	for _, score := range s.scores {
		if f.MinScore > 0 && score.RiskScore < f.MinScore {
			continue
		}
		if f.Level != "" && score.Level != f.Level {
			continue
		}
		cp := *score
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].UserID > matched[j].UserID
	})

	if cursor != nil {
		idx := 0
		for idx < len(matched) {
			sc := matched[idx]
			if sc.UpdatedAt.Before(cursor.CreatedAt) ||
				(sc.UpdatedAt.Equal(cursor.CreatedAt) && sc.UserID < cursor.ID) {
				break
			}
			idx++
		}
		matched = matched[idx:]
	}

	if len(matched) > limit {
		page := matched[:limit]
		last := page[len(page)-1]
		return page, pagination.Encode(last.UpdatedAt, last.UserID), nil
	}
	return matched, "", nil
}
