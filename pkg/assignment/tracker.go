// Package assignment tracks which owner held an account over time.
package assignment

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	appctx "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/context"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/metrics"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/normalizers"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/primary"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

type PeriodStore interface {
	Open(ctx context.Context, entityID string) (*models.AssignmentPeriod, error)
	ListByEntity(ctx context.Context, entityID string) ([]models.AssignmentPeriod, error)
	Insert(ctx context.Context, p *models.AssignmentPeriod) error
	Close(ctx context.Context, id string, endedAt time.Time) error
}

type LedgerSource interface {
	ReferencedEntities(ctx context.Context, from, to time.Time) ([]models.EntityRef, error)
	OwnerActivity(ctx context.Context, ref models.EntityRef, from, to time.Time) ([]models.OwnerActivity, error)
}

// EntityLocker is the lock-and-check unit of the primary manager.
type EntityLocker interface {
	WithEntityLock(ctx context.Context, entityID string, fn func(ctx context.Context, entity *models.Entity) error) error
}

type Tracker struct {
	locker  EntityLocker
	syncer  *primary.CacheSyncer
	periods PeriodStore
	ledger  LedgerSource
	owners  *normalizers.OwnerTable
	audit   primary.AuditRecorder
	logger  ectologger.Logger
}

func NewTracker(locker EntityLocker, syncer *primary.CacheSyncer, periods PeriodStore, ledger LedgerSource, owners *normalizers.OwnerTable, audit primary.AuditRecorder, logger ectologger.Logger) *Tracker {
	if owners == nil {
		owners = normalizers.DefaultOwnerTable()
	}
	return &Tracker{
		locker:  locker,
		syncer:  syncer,
		periods: periods,
		ledger:  ledger,
		owners:  owners,
		audit:   audit,
		logger:  logger,
	}
}

// OpenAssignment makes owner the entity's current owner from at. An open
// period for a different owner is closed at the same instant in the same
// transaction; an open period for the same owner is left untouched.
func (t *Tracker) OpenAssignment(ctx context.Context, entityID, owner string, at time.Time) (*models.AssignmentPeriod, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Tracker.OpenAssignment")
	defer span.End()

	owner = normalizers.CollapseWhitespace(owner)
	if owner == "" {
		return nil, false, canonerr.NewEntityError(canonerr.ErrInvalidArgument, entityID, "owner name is blank")
	}
	at = at.UTC()

	var result *models.AssignmentPeriod
	opened := false
	err := t.locker.WithEntityLock(ctx, entityID, func(ctx context.Context, entity *models.Entity) error {
		current, err := t.periods.Open(ctx, entityID)
		if err != nil {
			return err
		}

		if current != nil {
			if current.OwnerName == owner {
				result = current
				return t.syncer.Sync(ctx, entity, models.CacheFieldAssignedTo, &owner)
			}
			if at.Before(current.AssignedAt) {
				return canonerr.NewEntityError(canonerr.ErrAssignmentOrder, entityID,
					"%s assigned at %s", current.OwnerName, current.AssignedAt.Format(time.RFC3339))
			}
			if err := t.periods.Close(ctx, current.ID, at); err != nil {
				return err
			}
			if err := t.audit.Record(ctx, models.AssignmentClosed{
				EntityID:  entityID,
				PeriodID:  current.ID,
				OwnerName: current.OwnerName,
				EndedAt:   at,
			}); err != nil {
				return err
			}
		}

		actor := appctx.GetActor(ctx)
		period := &models.AssignmentPeriod{
			EntityID:   entityID,
			OwnerName:  owner,
			AssignedAt: at,
			AssignedBy: &actor,
		}
		if err := t.periods.Insert(ctx, period); err != nil {
			return err
		}
		if err := t.syncer.Sync(ctx, entity, models.CacheFieldAssignedTo, &owner); err != nil {
			return err
		}

		result = period
		opened = true
		return t.audit.Record(ctx, models.AssignmentOpened{
			EntityID:   entityID,
			PeriodID:   period.ID,
			OwnerName:  owner,
			AssignedAt: at,
		})
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, false, err
	}

	if opened {
		metrics.AssignmentsOpened.WithLabelValues(sourceLabel(ctx)).Inc()
		t.logger.WithContext(ctx).WithFields(map[string]any{
			"entity_id": entityID,
			"owner":     owner,
		}).Info("Opened assignment")
	}
	return result, opened, nil
}

// CloseAssignment ends the open period at at and clears the cached owner.
func (t *Tracker) CloseAssignment(ctx context.Context, entityID string, at time.Time) (*models.AssignmentPeriod, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Tracker.CloseAssignment")
	defer span.End()

	at = at.UTC()
	var closed *models.AssignmentPeriod
	err := t.locker.WithEntityLock(ctx, entityID, func(ctx context.Context, entity *models.Entity) error {
		current, err := t.periods.Open(ctx, entityID)
		if err != nil || current == nil {
			return err
		}
		if at.Before(current.AssignedAt) {
			return canonerr.NewEntityError(canonerr.ErrAssignmentOrder, entityID, "close predates assignment")
		}
		if err := t.periods.Close(ctx, current.ID, at); err != nil {
			return err
		}
		if err := t.syncer.Sync(ctx, entity, models.CacheFieldAssignedTo, nil); err != nil {
			return err
		}
		current.EndedAt = &at
		closed = current
		return t.audit.Record(ctx, models.AssignmentClosed{
			EntityID:  entityID,
			PeriodID:  current.ID,
			OwnerName: current.OwnerName,
			EndedAt:   at,
		})
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return closed, nil
}

func (t *Tracker) Open(ctx context.Context, entityID string) (*models.AssignmentPeriod, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Tracker.Open")
	defer span.End()

	return t.periods.Open(ctx, entityID)
}

// History returns every period for the entity, newest first.
func (t *Tracker) History(ctx context.Context, entityID string) ([]models.AssignmentPeriod, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Tracker.History")
	defer span.End()

	return t.periods.ListByEntity(ctx, entityID)
}

func sourceLabel(ctx context.Context) string {
	if source := appctx.GetSource(ctx); source != "" {
		return source
	}
	return "unknown"
}
