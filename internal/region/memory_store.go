package region

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryProfileStore is an in-memory ProfileStore for demo/test use.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryProfileStore creates an in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]*Profile)}
}

func (s *MemoryProfileStore) Get(ctx context.Context, regionID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[regionID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryProfileStore) Upsert(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	if existing, ok := s.profiles[p.RegionID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = time.Now().UTC()
	s.profiles[p.RegionID] = &cp
	return nil
}

func (s *MemoryProfileStore) List(ctx context.Context) ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RegionID < result[j].RegionID
	})
	return result, nil
}

func (s *MemoryProfileStore) Delete(ctx context.Context, regionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[regionID]; !ok {
		return ErrProfileNotFound
	}
	delete(s.profiles, regionID)
	return nil
}

// MemoryAssessmentStore is an in-memory AssessmentStore for demo/test use.
type MemoryAssessmentStore struct {
	mu          sync.RWMutex
	assessments map[string]*Assessment
}

// NewMemoryAssessmentStore creates an in-memory assessment store.
func NewMemoryAssessmentStore() *MemoryAssessmentStore {
	return &MemoryAssessmentStore{assessments: make(map[string]*Assessment)}
}

func (s *MemoryAssessmentStore) Upsert(ctx context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	if a.Limits != nil {
		limits := make(map[string]int, len(a.Limits))
		for k, v := range a.Limits {
			limits[k] = v
		}
		cp.Limits = limits
	}
	// Review flag survives recalculation; it is cleared explicitly.
	if existing, ok := s.assessments[a.UserID]; ok && existing.NeedsReview {
		cp.NeedsReview = true
	}
	s.assessments[a.UserID] = &cp
	return nil
}

func (s *MemoryAssessmentStore) Get(ctx context.Context, userID string) (*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[userID]
	if !ok {
		return nil, ErrAssessmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryAssessmentStore) SetNeedsReview(ctx context.Context, userID string, needsReview bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[userID]
	if !ok {
		return ErrAssessmentNotFound
	}
	a.NeedsReview = needsReview
	return nil
}
