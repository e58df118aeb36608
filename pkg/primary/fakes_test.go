package primary

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

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeStore holds entities, related records and audit events in memory. It
// satisfies EntityStore, RecordStore and AuditRecorder.
type fakeStore struct {
	mu       sync.Mutex
	entities map[string]*models.Entity
	records  map[models.RecordKind][]*models.RelatedRecord
	events   []models.AuditEvent
	clock    time.Time
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities: map[string]*models.Entity{},
		records:  map[models.RecordKind][]*models.RelatedRecord{},
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) addEntity(id string, active bool) {
	f.entities[id] = &models.Entity{ID: id, EntityType: models.EntityTypeCustomer, Name: id, NormalizedName: id, IsActive: active}
}

func (f *fakeStore) entity(id string) models.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.entities[id]
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

func (f *fakeStore) find(spec models.KindSpec, id string) *models.RelatedRecord {
	for _, r := range f.records[spec.Kind] {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func copyRecord(r *models.RelatedRecord) *models.RelatedRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

func (f *fakeStore) Get(_ context.Context, spec models.KindSpec, id string) (*models.RelatedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyRecord(f.find(spec, id)), nil
}

func (f *fakeStore) Primary(_ context.Context, spec models.KindSpec, entityID string) (*models.RelatedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records[spec.Kind] {
		if r.EntityID == entityID && r.IsPrimary && r.IsActive {
			return copyRecord(r), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) active(spec models.KindSpec, entityID string) []*models.RelatedRecord {
	var out []*models.RelatedRecord
	for _, r := range f.records[spec.Kind] {
		if r.EntityID == entityID && r.IsActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (f *fakeStore) EarliestActive(_ context.Context, spec models.KindSpec, entityID, excludeID string) (*models.RelatedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.active(spec, entityID) {
		if r.ID != excludeID {
			return copyRecord(r), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) List(_ context.Context, spec models.KindSpec, entityID string, activeOnly bool) ([]models.RelatedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RelatedRecord
	for _, r := range f.records[spec.Kind] {
		if r.EntityID == entityID && (!activeOnly || r.IsActive) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) CountActive(_ context.Context, spec models.KindSpec, entityID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active(spec, entityID)), nil
}

func (f *fakeStore) Insert(_ context.Context, spec models.KindSpec, entityID string, input models.RecordInput, isPrimary bool) (*models.RelatedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.clock = f.clock.Add(time.Minute)

	rec := &models.RelatedRecord{
		ID:        fmt.Sprintf("%s-%03d", spec.Kind, f.nextID),
		Kind:      spec.Kind,
		EntityID:  entityID,
		IsPrimary: isPrimary,
		IsActive:  true,
		CreatedAt: f.clock,
	}
	if s, ok := input.(models.SectorInput); ok {
		v := s.SectorID
		rec.Value = &v
	} else {
		v := rec.ID
		rec.Value = &v
	}
	f.records[spec.Kind] = append(f.records[spec.Kind], rec)
	return copyRecord(rec), nil
}

func (f *fakeStore) ClearPrimary(_ context.Context, spec models.KindSpec, entityID, exceptID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.records[spec.Kind] {
		if r.EntityID == entityID && r.IsPrimary && r.ID != exceptID {
			r.IsPrimary = false
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SetPrimary(_ context.Context, spec models.KindSpec, id string, primary bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.find(spec, id); r != nil {
		r.IsPrimary = primary
	}
	return nil
}

func (f *fakeStore) Deactivate(_ context.Context, spec models.KindSpec, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.find(spec, id); r != nil {
		r.IsActive = false
		r.IsPrimary = false
	}
	return nil
}

func (f *fakeStore) Record(_ context.Context, ev models.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) lastEvent() models.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	return f.events[len(f.events)-1]
}
