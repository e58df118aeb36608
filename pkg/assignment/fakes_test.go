package assignment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// fakeStore stands in for the entity lock, the entity cache, the period
// table, the ledger and the audit log.
type fakeStore struct {
	mu       sync.Mutex
	entities map[string]*models.Entity
	periods  []*models.AssignmentPeriod
	refs     []models.EntityRef
	activity map[string][]models.OwnerActivity
	events   []models.AuditEvent
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities: map[string]*models.Entity{},
		activity: map[string][]models.OwnerActivity{},
	}
}

func (f *fakeStore) addEntity(id string, active bool) {
	f.entities[id] = &models.Entity{ID: id, EntityType: models.EntityTypeCustomer, IsActive: active}
}

func (f *fakeStore) WithEntityLock(ctx context.Context, entityID string, fn func(ctx context.Context, entity *models.Entity) error) error {
	entity, err := f.LockForUpdate(ctx, entityID)
	if err != nil {
		return err
	}
	if !entity.IsActive {
		return canonerr.NewEntityError(canonerr.ErrEntityInactive, entityID, "")
	}
	return fn(ctx, entity)
}

func (f *fakeStore) LockForUpdate(_ context.Context, id string) (*models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[id]
	if !ok {
		return nil, canonerr.NewEntityError(canonerr.ErrEntityNotFound, id, "")
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) SetCacheField(_ context.Context, id string, field models.CacheField, value *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[id].SetValue(field, value)
	return nil
}

func (f *fakeStore) assignedTo(id string) *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entities[id].AssignedTo
}

func (f *fakeStore) Open(_ context.Context, entityID string) (*models.AssignmentPeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.periods {
		if p.EntityID == entityID && p.EndedAt == nil {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListByEntity(_ context.Context, entityID string) ([]models.AssignmentPeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AssignmentPeriod
	for _, p := range f.periods {
		if p.EntityID == entityID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	return out, nil
}

func (f *fakeStore) Insert(_ context.Context, p *models.AssignmentPeriod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.periods {
		if existing.EntityID == p.EntityID && existing.EndedAt == nil {
			return fmt.Errorf("second open period for %s", p.EntityID)
		}
	}
	f.nextID++
	p.ID = fmt.Sprintf("per-%d", f.nextID)
	p.CreatedAt = time.Now()
	cp := *p
	f.periods = append(f.periods, &cp)
	return nil
}

func (f *fakeStore) Close(_ context.Context, id string, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.periods {
		if p.ID == id && p.EndedAt == nil {
			at := endedAt
			p.EndedAt = &at
		}
	}
	return nil
}

func (f *fakeStore) ReferencedEntities(_ context.Context, _, _ time.Time) ([]models.EntityRef, error) {
	return f.refs, nil
}

func (f *fakeStore) OwnerActivity(_ context.Context, ref models.EntityRef, _, _ time.Time) ([]models.OwnerActivity, error) {
	if ref.ID == "ent-broken" {
		return nil, fmt.Errorf("ledger read failed")
	}
	return f.activity[ref.ID], nil
}

func (f *fakeStore) Record(_ context.Context, ev models.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}
