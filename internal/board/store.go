package board

import (
	"sync"

	"github.com/shopspring/decimal"

	"salesboard/internal/domain"
	"salesboard/internal/stages"
)

// Store holds two snapshots: base, the last full server fetch, and working,
// base plus every optimistic edit not yet confirmed. Rollback is a pointer
// swap back to base.
type Store struct {
	catalog *stages.Catalog

	mu      sync.RWMutex
	base    *Snapshot
	working *Snapshot
	epoch   uint64
}

// NewStore starts from an empty board laid out by the catalog.
func NewStore(catalog *stages.Catalog) *Store {
	if catalog == nil {
		catalog = stages.Default()
	}
	cols := make([]domain.PipelineColumn, 0, len(catalog.Intermediate()))
	for _, name := range catalog.Intermediate() {
		cols = append(cols, domain.PipelineColumn{Name: name, Probability: catalog.Probability(name)})
	}
	empty := NewSnapshot(domain.PipelineBoard{Stages: cols})
	return &Store{catalog: catalog, base: empty, working: empty}
}

func (s *Store) CurrentSnapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.working
}

func (s *Store) LastFetched() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

// Epoch increases on every Reset and Rollback.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// ApplyLocalMove edits the working snapshot only. It checks positions, not
// business rules.
func (s *Store) ApplyLocalMove(leadID string, from string, fromIndex int, to string, toIndex int) error {
	_, err := s.applyMove(leadID, from, fromIndex, to, toIndex)
	return err
}

// applyMove also returns the epoch the edit was applied in.
func (s *Store) applyMove(leadID string, from string, fromIndex int, to string, toIndex int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.working.move(leadID, from, fromIndex, to, toIndex)
	if err != nil {
		return 0, err
	}
	s.working = next
	return s.epoch, nil
}

// RemoveLead drops a lead from the working snapshot. It reports whether the
// lead was on the board.
func (s *Store) RemoveLead(leadID string) bool {
	_, ok := s.removeLead(leadID)
	return ok
}

func (s *Store) removeLead(leadID string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := s.working.remove(leadID)
	s.working = next
	return s.epoch, ok
}

// Reset installs a fresh server fetch as both base and working.
func (s *Store) Reset(snapshot *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = snapshot
	s.working = snapshot
	s.epoch++
}

// Rollback discards every optimistic edit since the last fetch.
func (s *Store) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working = s.base
	s.epoch++
}

// rollbackIf rolls back only when no Reset or Rollback happened since epoch.
func (s *Store) rollbackIf(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	s.working = s.base
	s.epoch++
	return true
}

// WeightedTotal is the stage total scaled by the stage's win probability.
func (s *Store) WeightedTotal(stage string) decimal.Decimal {
	total := s.CurrentSnapshot().Total(stage)
	return total.Mul(decimal.NewFromInt(int64(s.catalog.Probability(stage)))).Div(decimal.NewFromInt(100))
}
