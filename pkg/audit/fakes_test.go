package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	aliasrepo "github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/alias"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/aliasmap"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeStore is an in-memory stand-in for the entity, alias, ledger, canonical
// map and audit log repositories.
type fakeStore struct {
	mu        sync.Mutex
	entities  map[string]*models.Entity
	aliases   []*models.EntityAlias
	canonical map[models.EntityType]map[string]string
	billCodes []string
	repointed map[string]string
	events    []models.AuditEvent
	nextID    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities: map[string]*models.Entity{},
		canonical: map[models.EntityType]map[string]string{
			models.EntityTypeAgency:   {},
			models.EntityTypeCustomer: {},
		},
		repointed: map[string]string{},
	}
}

func (f *fakeStore) addEntity(id string, t models.EntityType, normalized string, active bool) *models.Entity {
	e := &models.Entity{ID: id, EntityType: t, Name: normalized, NormalizedName: normalized, IsActive: active}
	f.entities[id] = e
	return e
}

func (f *fakeStore) addAlias(name string, t models.EntityType, target string) *models.EntityAlias {
	f.nextID++
	a := &models.EntityAlias{ID: fmt.Sprintf("alias-%d", f.nextID), AliasName: name, EntityType: t, TargetEntityID: target, IsActive: true}
	f.aliases = append(f.aliases, a)
	return a
}

func (f *fakeStore) lock(_ context.Context, id string) (*models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	if !ok {
		return nil, canonerr.NewEntityError(canonerr.ErrEntityNotFound, id, "")
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) LockForShare(ctx context.Context, id string) (*models.Entity, error) {
	return f.lock(ctx, id)
}

func (f *fakeStore) LockForUpdate(ctx context.Context, id string) (*models.Entity, error) {
	return f.lock(ctx, id)
}

func (f *fakeStore) Deactivate(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entities[id]; ok && e.IsActive {
		e.IsActive = false
		e.DeactivatedAt = &at
	}
	return nil
}

func (f *fakeStore) FindActiveByNormalizedName(_ context.Context, t models.EntityType, name string) (*models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entities {
		if e.EntityType == t && e.NormalizedName == name && e.IsActive {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) DistinctBillCodes(_ context.Context) ([]string, error) {
	return f.billCodes, nil
}

func (f *fakeStore) Repoint(_ context.Context, _ models.EntityType, from, to string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repointed[from] = to
	return 3, nil
}

func (f *fakeStore) Record(_ context.Context, ev models.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) actions() []models.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.AuditAction{}
	for _, ev := range f.events {
		out = append(out, ev.Action())
	}
	return out
}

// fakeAliases exposes the alias half of fakeStore. Its Deactivate has a
// different signature from the entity one.
type fakeAliases struct{ *fakeStore }

func (f fakeAliases) FindActiveByName(_ context.Context, t models.EntityType, name string) (*models.EntityAlias, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.aliases {
		if a.EntityType == t && a.AliasName == name && a.IsActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f fakeAliases) Create(_ context.Context, a *models.EntityAlias) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.aliases {
		if existing.IsActive && existing.EntityType == a.EntityType && existing.AliasName == a.AliasName {
			return fmt.Errorf("duplicate alias %s", a.AliasName)
		}
	}
	f.nextID++
	a.ID = fmt.Sprintf("alias-%d", f.nextID)
	a.IsActive = true
	cp := *a
	f.aliases = append(f.aliases, &cp)
	return nil
}

func (f fakeAliases) Get(_ context.Context, id string) (*models.EntityAlias, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.aliases {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("alias %s not found", id)
}

func (f fakeAliases) List(_ context.Context, filter aliasrepo.Filter) ([]models.EntityAlias, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EntityAlias
	for _, a := range f.aliases {
		if filter.TargetEntityID != "" && a.TargetEntityID != filter.TargetEntityID {
			continue
		}
		if filter.ActiveOnly && !a.IsActive {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (f fakeAliases) Deactivate(_ context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.aliases {
		if a.ID == id && a.IsActive {
			a.IsActive = false
			a.DeactivatedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (f fakeAliases) Retarget(_ context.Context, from, to string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.aliases {
		if a.TargetEntityID == from && a.IsActive {
			a.TargetEntityID = to
			n++
		}
	}
	return n, nil
}

// fakeCanonical exposes the canonical maps of fakeStore.
type fakeCanonical struct{ *fakeStore }

func (f fakeCanonical) Get(_ context.Context, kind models.EntityType, alias string) (*models.CanonicalMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	canonical, ok := f.canonical[kind][alias]
	if !ok {
		return nil, nil
	}
	return &models.CanonicalMapping{AliasName: alias, CanonicalName: canonical}, nil
}

func (f fakeCanonical) Upsert(_ context.Context, kind models.EntityType, m *models.CanonicalMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canonical[kind][m.AliasName] = m.CanonicalName
	return nil
}

func (f fakeCanonical) Delete(_ context.Context, kind models.EntityType, alias string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.canonical[kind][alias]
	delete(f.canonical[kind], alias)
	return ok, nil
}

func (f fakeCanonical) ListAll(_ context.Context, kind models.EntityType) ([]models.CanonicalMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CanonicalMapping
	for alias, canonical := range f.canonical[kind] {
		out = append(out, models.CanonicalMapping{AliasName: alias, CanonicalName: canonical})
	}
	return out, nil
}

type countingInvalidator struct {
	store *aliasmap.Store
	calls int
}

func (c *countingInvalidator) Invalidate(_ context.Context) {
	c.calls++
	c.store.Invalidate()
}

type fixture struct {
	store       *fakeStore
	snapshots   *aliasmap.Store
	invalidator *countingInvalidator
	auditor     *Auditor
	service     *AliasService
}

func newFixture() *fixture {
	store := newFakeStore()
	snapshots := aliasmap.NewStore(fakeCanonical{store}, testLogger())
	inv := &countingInvalidator{store: snapshots}
	return &fixture{
		store:       store,
		snapshots:   snapshots,
		invalidator: inv,
		auditor:     NewAuditor(snapshots, store, fakeAliases{store}, store, 4, testLogger()),
		service:     NewAliasService(fakeTx{}, store, fakeAliases{store}, store, fakeCanonical{store}, inv, store, testLogger()),
	}
}
