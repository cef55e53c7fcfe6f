package ingestion

import (
	"strings"
	"sync"
	"time"

	"github.com/aristath/nse-trader/internal/domain"
)

// SnapshotStore holds the published analysis universe: one snapshot per
// symbol plus the macro context. Readers always see a complete set; a
// refresh builds the next generation aside and swaps it in atomically.
type SnapshotStore struct {
	mu          sync.RWMutex
	snapshots   map[string]*domain.StockSnapshot
	macro       domain.MacroSnapshot
	publishedAt time.Time
	partial     bool
}

// NewSnapshotStore creates an empty snapshot store with a neutral macro
// context so analysis can run before the first refresh completes.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[string]*domain.StockSnapshot),
		macro:     domain.NeutralMacroSnapshot(),
	}
}

// Publish atomically replaces the whole universe. partial marks a set cut
// short by the refresh deadline.
func (s *SnapshotStore) Publish(snapshots map[string]*domain.StockSnapshot, macro domain.MacroSnapshot, partial bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = snapshots
	s.macro = macro
	s.publishedAt = time.Now()
	s.partial = partial
}

// Get returns the snapshot for a symbol, nil when absent
func (s *SnapshotStore) Get(symbol string) *domain.StockSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots[strings.ToUpper(strings.TrimSpace(symbol))]
}

// All returns a copy of the published snapshots keyed by symbol
func (s *SnapshotStore) All() map[string]*domain.StockSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make(map[string]*domain.StockSnapshot, len(s.snapshots))
	for sym, snap := range s.snapshots {
		all[sym] = snap
	}
	return all
}

// Macro returns the published macro context
func (s *SnapshotStore) Macro() domain.MacroSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.macro
}

// Count returns the number of published snapshots
func (s *SnapshotStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// PublishedAt returns when the current universe was published, zero before
// the first refresh.
func (s *SnapshotStore) PublishedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publishedAt
}

// Partial reports whether the current universe was cut short by the
// refresh deadline.
func (s *SnapshotStore) Partial() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partial
}
