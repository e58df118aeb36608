package entity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

const entitiesTable = "entities"

var entityColumns = []string{
	"id", "entity_type", "name", "normalized_name", "is_active",
	"sector_id", "primary_contact_id", "primary_address_id", "assigned_to",
	"created_at", "updated_at", "deactivated_at",
}

// Repository handles entity persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) selectByID(id string) *database.SelectBuilder {
	sb := database.NewSelectBuilder()
	sb.Select(entityColumns...)
	sb.From(entitiesTable)
	sb.Where(sb.Equal("id", id))
	return sb
}

// Get retrieves an entity by ID regardless of its lifecycle state
func (r *Repository) Get(ctx context.Context, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Get")
	defer span.End()

	query, args := r.selectByID(id).Build()
	return r.getOne(ctx, id, query, args)
}

// LockForUpdate reads the entity row with FOR UPDATE. It must run inside a
// transaction; the lock is what serializes writers of one entity's records.
func (r *Repository) LockForUpdate(ctx context.Context, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.LockForUpdate")
	defer span.End()

	sb := r.selectByID(id)
	sb.ForUpdate()
	query, args := sb.Build()
	return r.getOne(ctx, id, query, args)
}

// LockForShare reads the entity row with FOR SHARE so it cannot be
// deactivated while the caller's transaction references it.
func (r *Repository) LockForShare(ctx context.Context, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.LockForShare")
	defer span.End()

	sb := r.selectByID(id)
	sb.ForShare()
	query, args := sb.Build()
	return r.getOne(ctx, id, query, args)
}

func (r *Repository) getOne(ctx context.Context, id, query string, args []any) (*models.Entity, error) {
	var e models.Entity
	if err := r.db.Executor(ctx).GetContext(ctx, &e, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, canonerr.NewEntityError(canonerr.ErrEntityNotFound, id, "")
		}
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", id).Error("Failed to get entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity")
	}
	return &e, nil
}

// FindByNormalizedName returns the entity with the given name, or nil when none exists.
func (r *Repository) FindByNormalizedName(ctx context.Context, entityType models.EntityType, normalizedName string, activeOnly bool) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.FindByNormalizedName")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(entityColumns...)
	sb.From(entitiesTable)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("normalized_name", normalizedName),
	)
	if activeOnly {
		sb.Where(sb.Equal("is_active", true))
	}
	sb.Limit(1)

	query, args := sb.Build()
	var e models.Entity
	if err := r.db.Executor(ctx).GetContext(ctx, &e, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_type":     entityType,
			"normalized_name": normalizedName,
		}).Error("Failed to find entity by normalized name")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find entity")
	}
	return &e, nil
}

// FindActiveByNormalizedName returns the active entity with the given name, or nil.
func (r *Repository) FindActiveByNormalizedName(ctx context.Context, entityType models.EntityType, normalizedName string) (*models.Entity, error) {
	return r.FindByNormalizedName(ctx, entityType, normalizedName, true)
}

// CreateIfAbsent inserts an active entity unless one with the same
// (entity_type, normalized_name) exists, and returns whichever row is stored.
func (r *Repository) CreateIfAbsent(ctx context.Context, entityType models.EntityType, name, normalizedName string) (*models.Entity, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.CreateIfAbsent")
	defer span.End()

	now := time.Now().UTC()
	ib := database.NewInsertBuilder().InsertInto(entitiesTable)
	ib.Cols("id", "entity_type", "name", "normalized_name", "is_active", "created_at", "updated_at")
	ib.Values(uuid.New().String(), entityType, name, normalizedName, true, now, now)
	ib.IgnoreConflict("entity_type", "normalized_name")
	ib = ib.Returning(entityColumns...)

	query, args := ib.Build()
	var e models.Entity
	err := r.db.Executor(ctx).GetContext(ctx, &e, query, args...)
	if err == nil {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"entity_id":       e.ID,
			"entity_type":     entityType,
			"normalized_name": normalizedName,
		}).Info("Created entity")
		return &e, true, nil
	}
	if !database.IsNoRows(err) {
		r.logger.WithContext(ctx).WithError(err).WithField("normalized_name", normalizedName).Error("Failed to create entity")
		return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create entity")
	}

	existing, err := r.FindByNormalizedName(ctx, entityType, normalizedName, false)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, httperror.NewHTTPErrorf(http.StatusConflict, "entity %s was removed concurrently", normalizedName)
	}
	return existing, false, nil
}

// SetCacheField writes one denormalized scalar on the entity row.
func (r *Repository) SetCacheField(ctx context.Context, id string, field models.CacheField, value *string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.SetCacheField")
	defer span.End()

	if !field.Valid() {
		return fmt.Errorf("%w: unknown cache field %q", canonerr.ErrInvalidArgument, field)
	}

	ub := database.NewUpdateBuilder()
	ub.Update(entitiesTable)
	ub.Set(
		ub.Assign(string(field), value),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": id,
			"field":     field,
		}).Error("Failed to update entity cache field")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update entity cache field")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return canonerr.NewEntityError(canonerr.ErrEntityNotFound, id, "")
	}
	return nil
}

// Deactivate soft-deletes the entity. The row and its history stay in place.
func (r *Repository) Deactivate(ctx context.Context, id string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Deactivate")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(entitiesTable)
	ub.Set(
		ub.Assign("is_active", false),
		ub.Assign("deactivated_at", at),
		ub.Assign("updated_at", at),
	)
	ub.Where(ub.Equal("id", id), ub.Equal("is_active", true))

	query, args := ub.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", id).Error("Failed to deactivate entity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to deactivate entity")
	}

	r.logger.WithContext(ctx).WithField("entity_id", id).Info("Deactivated entity")
	return nil
}
