// Package primary keeps at most one active primary record per entity and
// record kind, and mirrors the primary onto the entity row.
//
// Every write goes through Manager, which takes the entity row lock first.
// Together with the partial unique index on (entity_id) WHERE is_primary AND
// is_active this makes a second primary unreachable.
package primary

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/metrics"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

type EntityStore interface {
	LockForUpdate(ctx context.Context, id string) (*models.Entity, error)
	SetCacheField(ctx context.Context, id string, field models.CacheField, value *string) error
}

type RecordStore interface {
	Get(ctx context.Context, spec models.KindSpec, id string) (*models.RelatedRecord, error)
	Primary(ctx context.Context, spec models.KindSpec, entityID string) (*models.RelatedRecord, error)
	EarliestActive(ctx context.Context, spec models.KindSpec, entityID, excludeID string) (*models.RelatedRecord, error)
	List(ctx context.Context, spec models.KindSpec, entityID string, activeOnly bool) ([]models.RelatedRecord, error)
	CountActive(ctx context.Context, spec models.KindSpec, entityID string) (int, error)
	Insert(ctx context.Context, spec models.KindSpec, entityID string, input models.RecordInput, isPrimary bool) (*models.RelatedRecord, error)
	ClearPrimary(ctx context.Context, spec models.KindSpec, entityID, exceptID string) (int64, error)
	SetPrimary(ctx context.Context, spec models.KindSpec, id string, primary bool) error
	Deactivate(ctx context.Context, spec models.KindSpec, id string) error
}

type AuditRecorder interface {
	Record(ctx context.Context, ev models.AuditEvent) error
}

type Manager struct {
	tx       database.Transactor
	entities EntityStore
	records  RecordStore
	syncer   *CacheSyncer
	audit    AuditRecorder
	logger   ectologger.Logger
}

func NewManager(tx database.Transactor, entities EntityStore, records RecordStore, audit AuditRecorder, logger ectologger.Logger) *Manager {
	return &Manager{
		tx:       tx,
		entities: entities,
		records:  records,
		syncer:   NewCacheSyncer(entities, logger),
		audit:    audit,
		logger:   logger,
	}
}

// Syncer exposes the cache synchronizer for writers outside the record tables.
func (m *Manager) Syncer() *CacheSyncer {
	return m.syncer
}

// WithEntityLock runs fn in a transaction holding the entity row lock. It fails
// with ErrEntityInactive before fn runs if the entity is deactivated.
func (m *Manager) WithEntityLock(ctx context.Context, entityID string, fn func(ctx context.Context, entity *models.Entity) error) error {
	return m.tx.WithTx(ctx, func(ctx context.Context) error {
		entity, err := m.entities.LockForUpdate(ctx, entityID)
		if err != nil {
			return err
		}
		if !entity.IsActive {
			return canonerr.NewEntityError(canonerr.ErrEntityInactive, entityID, "")
		}
		return fn(ctx, entity)
	})
}

// loadOwned fetches a record and checks that it belongs to the entity.
func (m *Manager) loadOwned(ctx context.Context, spec models.KindSpec, entityID, recordID string) (*models.RelatedRecord, error) {
	rec, err := m.records.Get(ctx, spec, recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.EntityID != entityID {
		return nil, canonerr.NewEntityError(canonerr.ErrRecordNotFound, entityID, "%s %s", spec.Kind, recordID)
	}
	return rec, nil
}

// SetPrimary makes recordID the entity's primary record of kind.
func (m *Manager) SetPrimary(ctx context.Context, kind models.RecordKind, entityID, recordID string) (*models.RelatedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "primary.Manager.SetPrimary")
	defer span.End()

	spec, err := kind.Spec()
	if err != nil {
		return nil, canonerr.NewEntityError(canonerr.ErrInvalidArgument, entityID, "%s", err.Error())
	}

	var result *models.RelatedRecord
	err = m.WithEntityLock(ctx, entityID, func(ctx context.Context, entity *models.Entity) error {
		rec, err := m.loadOwned(ctx, spec, entityID, recordID)
		if err != nil {
			return err
		}
		if !rec.IsActive {
			return canonerr.NewEntityError(canonerr.ErrRecordInactive, entityID, "%s %s", spec.Kind, recordID)
		}

		if rec.IsPrimary {
			result = rec
			return m.syncer.SyncRecord(ctx, entity, spec, rec)
		}

		previous, err := m.records.Primary(ctx, spec, entityID)
		if err != nil {
			return err
		}
		if _, err := m.records.ClearPrimary(ctx, spec, entityID, recordID); err != nil {
			return err
		}
		if err := m.records.SetPrimary(ctx, spec, recordID, true); err != nil {
			return err
		}
		rec.IsPrimary = true

		if err := m.syncer.SyncRecord(ctx, entity, spec, rec); err != nil {
			return err
		}

		ev := models.PrimaryChanged{EntityID: entityID, Kind: kind, RecordID: recordID}
		if previous != nil {
			ev.PreviousRecordID = &previous.ID
		}
		if err := m.audit.Record(ctx, ev); err != nil {
			return err
		}

		result = rec
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":      kind,
			"entity_id": entityID,
			"record_id": recordID,
		}).Warn("Failed to set primary record")
		return nil, err
	}

	metrics.PrimaryChanges.WithLabelValues(string(kind), "set").Inc()
	return result, nil
}

// Deactivate retires a record. When it was primary the oldest remaining active
// record is promoted, or the cache field is cleared if none remain.
func (m *Manager) Deactivate(ctx context.Context, kind models.RecordKind, entityID, recordID string) error {
	ctx, span := tracing.StartSpan(ctx, "primary.Manager.Deactivate")
	defer span.End()

	spec, err := kind.Spec()
	if err != nil {
		return canonerr.NewEntityError(canonerr.ErrInvalidArgument, entityID, "%s", err.Error())
	}

	outcome := "noop"
	err = m.WithEntityLock(ctx, entityID, func(ctx context.Context, entity *models.Entity) error {
		rec, err := m.loadOwned(ctx, spec, entityID, recordID)
		if err != nil {
			return err
		}
		if !rec.IsActive {
			return nil
		}

		if err := m.records.Deactivate(ctx, spec, recordID); err != nil {
			return err
		}
		if err := m.audit.Record(ctx, models.RecordDeactivated{EntityID: entityID, Kind: kind, RecordID: recordID}); err != nil {
			return err
		}
		outcome = "deactivated"
		if !rec.IsPrimary {
			return nil
		}

		next, err := m.records.EarliestActive(ctx, spec, entityID, recordID)
		if err != nil {
			return err
		}
		if next == nil {
			outcome = "cleared"
			if err := m.syncer.SyncRecord(ctx, entity, spec, nil); err != nil {
				return err
			}
			return m.audit.Record(ctx, models.PrimaryCleared{EntityID: entityID, Kind: kind, PreviousRecordID: recordID})
		}

		if err := m.records.SetPrimary(ctx, spec, next.ID, true); err != nil {
			return err
		}
		next.IsPrimary = true
		outcome = "promoted"
		if err := m.syncer.SyncRecord(ctx, entity, spec, next); err != nil {
			return err
		}
		return m.audit.Record(ctx, models.PrimaryChanged{
			EntityID:         entityID,
			Kind:             kind,
			RecordID:         next.ID,
			PreviousRecordID: &rec.ID,
			Promoted:         true,
		})
	})
	if err != nil {
		tracing.RecordError(span, err)
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":      kind,
			"entity_id": entityID,
			"record_id": recordID,
		}).Warn("Failed to deactivate record")
		return err
	}

	metrics.PrimaryChanges.WithLabelValues(string(kind), outcome).Inc()
	return nil
}

// Add inserts a record. The entity's first active record of a kind always
// becomes primary; later ones only when makePrimary is set.
func (m *Manager) Add(ctx context.Context, entityID string, input models.RecordInput, makePrimary bool) (*models.RelatedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "primary.Manager.Add")
	defer span.End()

	spec, err := input.Kind().Spec()
	if err != nil {
		return nil, canonerr.NewEntityError(canonerr.ErrInvalidArgument, entityID, "%s", err.Error())
	}

	var result *models.RelatedRecord
	err = m.WithEntityLock(ctx, entityID, func(ctx context.Context, entity *models.Entity) error {
		count, err := m.records.CountActive(ctx, spec, entityID)
		if err != nil {
			return err
		}
		asPrimary := makePrimary || count == 0

		var previous *models.RelatedRecord
		if asPrimary {
			if previous, err = m.records.Primary(ctx, spec, entityID); err != nil {
				return err
			}
			if _, err := m.records.ClearPrimary(ctx, spec, entityID, ""); err != nil {
				return err
			}
		}

		rec, err := m.records.Insert(ctx, spec, entityID, input, asPrimary)
		if err != nil {
			return err
		}
		result = rec
		if !asPrimary {
			return nil
		}

		if err := m.syncer.SyncRecord(ctx, entity, spec, rec); err != nil {
			return err
		}
		ev := models.PrimaryChanged{EntityID: entityID, Kind: spec.Kind, RecordID: rec.ID}
		if previous != nil {
			ev.PreviousRecordID = &previous.ID
		}
		return m.audit.Record(ctx, ev)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// Primary returns the entity's current primary record of kind, or nil.
func (m *Manager) Primary(ctx context.Context, kind models.RecordKind, entityID string) (*models.RelatedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "primary.Manager.Primary")
	defer span.End()

	spec, err := kind.Spec()
	if err != nil {
		return nil, canonerr.NewEntityError(canonerr.ErrInvalidArgument, entityID, "%s", err.Error())
	}
	return m.records.Primary(ctx, spec, entityID)
}

func (m *Manager) List(ctx context.Context, kind models.RecordKind, entityID string, activeOnly bool) ([]models.RelatedRecord, error) {
	spec, err := kind.Spec()
	if err != nil {
		return nil, canonerr.NewEntityError(canonerr.ErrInvalidArgument, entityID, "%s", err.Error())
	}
	return m.records.List(ctx, spec, entityID, activeOnly)
}
