// Package aliasmap holds immutable snapshots of the agency and customer
// canonical maps used by the hierarchy parser.
package aliasmap

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

// Snapshot is one consistent version of both canonical maps. It is never
// mutated after construction so it may be shared across goroutines.
type Snapshot struct {
	agency   map[string]string
	customer map[string]string
	LoadedAt time.Time
	// Collisions lists source aliases that trimmed to a key already taken
	// and were dropped.
	Collisions []string

	generation uint64
}

func NewSnapshot(agency, customer map[string]string) *Snapshot {
	snap := &Snapshot{LoadedAt: time.Now().UTC()}
	snap.agency, snap.Collisions = copyTrimmed(agency, snap.Collisions)
	snap.customer, snap.Collisions = copyTrimmed(customer, snap.Collisions)
	return snap
}

// Empty is a snapshot with no mappings; every name passes through trimmed.
func Empty() *Snapshot {
	return NewSnapshot(nil, nil)
}

// copyTrimmed trims keys and values. When several aliases trim to the same
// key the already-trimmed alias wins, then the lexically smallest padded one.
func copyTrimmed(in map[string]string, collisions []string) (map[string]string, []string) {
	out := make(map[string]string, len(in))
	var padded []string
	for alias, canonical := range in {
		if strings.TrimSpace(alias) != alias {
			padded = append(padded, alias)
			continue
		}
		out[alias] = strings.TrimSpace(canonical)
	}
	slices.Sort(padded)
	for _, alias := range padded {
		key := strings.TrimSpace(alias)
		if _, taken := out[key]; taken {
			collisions = append(collisions, alias)
			continue
		}
		out[key] = strings.TrimSpace(in[alias])
	}
	return out, collisions
}

// ResolveAgency returns the canonical agency name for name, or name trimmed.
func (s *Snapshot) ResolveAgency(name string) string {
	return resolve(s.agency, name)
}

// ResolveCustomer returns the canonical customer name for name, or name trimmed.
func (s *Snapshot) ResolveCustomer(name string) string {
	return resolve(s.customer, name)
}

func (s *Snapshot) Len(kind models.EntityType) int {
	if kind == models.EntityTypeAgency {
		return len(s.agency)
	}
	return len(s.customer)
}

func resolve(m map[string]string, name string) string {
	trimmed := strings.TrimSpace(name)
	if canonical, ok := m[trimmed]; ok {
		return canonical
	}
	return trimmed
}

// Loader reads every row of one canonical map.
type Loader interface {
	ListAll(ctx context.Context, kind models.EntityType) ([]models.CanonicalMapping, error)
}

// reloadAttempts bounds how often one reload re-reads because an edit landed
// while it was reading.
const reloadAttempts = 3

// Store hands out the current snapshot and swaps in a new one after edits.
// Every Invalidate bumps generation; a snapshot read under an older
// generation is never served again.
type Store struct {
	loader     Loader
	logger     ectologger.Logger
	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
	mu         sync.Mutex
}

func NewStore(loader Loader, logger ectologger.Logger) *Store {
	return &Store{
		loader: loader,
		logger: logger,
	}
}

// Snapshot returns the current snapshot, loading it on first use or after Invalidate.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := s.fresh(); snap != nil {
		return snap, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if snap := s.fresh(); snap != nil {
		return snap, nil
	}
	return s.reloadLocked(ctx)
}

// Reload replaces the snapshot with a fresh read of both maps.
func (s *Store) Reload(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(ctx)
}

// Invalidate drops the snapshot; the next Snapshot call reloads. It does not
// wait for a reload in flight, which instead notices the new generation.
func (s *Store) Invalidate() {
	s.generation.Add(1)
	s.current.Store(nil)
}

func (s *Store) fresh() *Snapshot {
	snap := s.current.Load()
	if snap == nil || snap.generation != s.generation.Load() {
		return nil
	}
	return snap
}

func (s *Store) reloadLocked(ctx context.Context) (*Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "AliasMapStore.Reload")
	defer span.End()

	var snap *Snapshot
	for attempt := 1; attempt <= reloadAttempts; attempt++ {
		generation := s.generation.Load()

		agency, err := s.load(ctx, models.EntityTypeAgency)
		if err != nil {
			return nil, err
		}
		customer, err := s.load(ctx, models.EntityTypeCustomer)
		if err != nil {
			return nil, err
		}

		snap = NewSnapshot(agency, customer)
		snap.generation = generation
		s.current.Store(snap)

		if s.generation.Load() == generation {
			s.logLoaded(ctx, snap)
			return snap, nil
		}
		s.logger.WithContext(ctx).WithField("attempt", attempt).Debug("Canonical maps changed during reload, reading again")
	}

	// still stale by generation, so the next Snapshot call reloads again
	s.logLoaded(ctx, snap)
	return snap, nil
}

func (s *Store) logLoaded(ctx context.Context, snap *Snapshot) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"agency_aliases":   len(snap.agency),
		"customer_aliases": len(snap.customer),
	})
	if len(snap.Collisions) > 0 {
		log.WithField("dropped", snap.Collisions).Warn("Canonical map aliases collide after trimming")
	}
	log.Info("Loaded canonical alias maps")
}

func (s *Store) load(ctx context.Context, kind models.EntityType) (map[string]string, error) {
	rows, err := s.loader.ListAll(ctx, kind)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("kind", kind).Error("Failed to load canonical map")
		return nil, err
	}
	m := make(map[string]string, len(rows))
	for _, row := range rows {
		m[row.AliasName] = row.CanonicalName
	}
	return m, nil
}
