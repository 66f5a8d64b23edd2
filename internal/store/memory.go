package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fundnet/fundtrack/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	funds     map[string]*model.Fund
	positions []*model.Position
	groups    map[string]*model.Group
	history   map[string][]model.EstimatePoint
	settings  *model.Settings
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		funds:   make(map[string]*model.Fund),
		groups:  make(map[string]*model.Group),
		history: make(map[string][]model.EstimatePoint),
	}
}

// --- Funds ---

func (s *MemoryStore) UpsertFund(_ context.Context, f *model.Fund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.funds[f.Code]; ok {
		if f.Name != "" {
			existing.Name = f.Name
		}
		return nil
	}
	// Store a copy to avoid external mutation.
	copy := *f
	s.funds[f.Code] = &copy
	return nil
}

func (s *MemoryStore) GetFund(_ context.Context, code string) (*model.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.funds[code]
	if !ok {
		return nil, fmt.Errorf("%w: fund %s", ErrNotFound, code)
	}
	copy := *f
	return &copy, nil
}

func (s *MemoryStore) ListFunds(_ context.Context) ([]model.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	funds := make([]model.Fund, 0, len(s.funds))
	for _, f := range s.funds {
		funds = append(funds, *f)
	}
	sort.Slice(funds, func(i, j int) bool { return funds[i].Code < funds[j].Code })
	return funds, nil
}

func (s *MemoryStore) DeleteFund(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.funds[code]; !ok {
		return fmt.Errorf("%w: fund %s", ErrNotFound, code)
	}
	for _, p := range s.positions {
		if p.FundCode == code {
			return fmt.Errorf("%w: fund %s is held by position %s", ErrConflict, code, p.ID)
		}
	}
	delete(s.funds, code)
	delete(s.history, code)
	return nil
}

func (s *MemoryStore) UpdateFundQuote(_ context.Context, q model.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.funds[q.Code]
	if !ok {
		return fmt.Errorf("%w: fund %s", ErrNotFound, q.Code)
	}
	applyQuote(f, q)
	return nil
}

// --- Positions ---

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.positions {
		if existing.FundCode == p.FundCode && existing.GroupName == p.GroupName {
			return fmt.Errorf("%w: fund %s already held in group %q", ErrConflict, p.FundCode, p.GroupName)
		}
	}
	copy := *p
	s.positions = append(s.positions, &copy)
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.positions {
		if p.ID == id {
			copy := *p
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listPositions(), nil
}

func (s *MemoryStore) listPositions() []model.Position {
	positions := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, *p)
	}
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].CreatedAt.Before(positions[j].CreatedAt)
	})
	return positions
}

func (s *MemoryStore) UpdatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *model.Position
	for _, existing := range s.positions {
		if existing.ID == p.ID {
			target = existing
			continue
		}
		if existing.FundCode == p.FundCode && existing.GroupName == p.GroupName {
			return fmt.Errorf("%w: fund %s already held in group %q", ErrConflict, p.FundCode, p.GroupName)
		}
	}
	if target == nil {
		return fmt.Errorf("%w: position %s", ErrNotFound, p.ID)
	}
	target.Shares = p.Shares
	target.CostPrice = p.CostPrice
	target.GroupName = p.GroupName
	target.UpdatedAt = p.UpdatedAt
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.positions {
		if p.ID == id {
			s.positions = append(s.positions[:i], s.positions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: position %s", ErrNotFound, id)
}

// --- Groups ---

func (s *MemoryStore) CreateGroup(_ context.Context, g *model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.groups {
		if existing.Name == g.Name {
			return fmt.Errorf("%w: group %q already exists", ErrConflict, g.Name)
		}
	}
	copy := *g
	s.groups[g.ID] = &copy
	return nil
}

func (s *MemoryStore) ListGroups(_ context.Context) ([]model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listGroups(), nil
}

func (s *MemoryStore) listGroups() []model.Group {
	groups := make([]model.Group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].SortOrder != groups[j].SortOrder {
			return groups[i].SortOrder < groups[j].SortOrder
		}
		return groups[i].Name < groups[j].Name
	})
	return groups
}

func (s *MemoryStore) UpdateGroup(_ context.Context, g *model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.groups[g.ID]
	if !ok {
		return fmt.Errorf("%w: group %s", ErrNotFound, g.ID)
	}
	for id, existing := range s.groups {
		if id != g.ID && existing.Name == g.Name {
			return fmt.Errorf("%w: group %q already exists", ErrConflict, g.Name)
		}
	}
	target.Name = g.Name
	target.Color = g.Color
	target.SortOrder = g.SortOrder
	return nil
}

func (s *MemoryStore) DeleteGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return fmt.Errorf("%w: group %s", ErrNotFound, id)
	}
	delete(s.groups, id)
	return nil
}

// --- Estimate history ---

func (s *MemoryStore) InsertEstimate(_ context.Context, p model.EstimatePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[p.FundCode] = append(s.history[p.FundCode], p)
	return nil
}

func (s *MemoryStore) GetEstimateHistory(_ context.Context, code string, limit int) ([]model.EstimatePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.history[code]
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	result := make([]model.EstimatePoint, len(points))
	copy(result, points)
	return result, nil
}

// --- Settings ---

func (s *MemoryStore) GetSettings(_ context.Context) (model.Settings, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return model.Settings{}, false, nil
	}
	return *s.settings, true, nil
}

func (s *MemoryStore) PutSettings(_ context.Context, settings model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = &settings
	return nil
}

// Snapshot reads everything under one read lock.
func (s *MemoryStore) Snapshot(_ context.Context) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	funds := make(map[string]model.Fund, len(s.funds))
	for code, f := range s.funds {
		funds[code] = *f
	}
	return model.Snapshot{
		Funds:     funds,
		Positions: s.listPositions(),
		Groups:    s.listGroups(),
	}, nil
}
