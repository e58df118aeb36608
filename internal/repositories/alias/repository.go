package alias

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/normalizers"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

const aliasesTable = "entity_aliases"

var aliasColumns = []string{"id", "alias_name", "entity_type", "target_entity_id", "is_active", "created_by", "created_at", "deactivated_at"}

// Filter narrows List. Zero values match everything.
type Filter struct {
	EntityType     models.EntityType
	TargetEntityID string
	ActiveOnly     bool
	Limit          int
	Offset         int
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create stores a with its name whitespace-collapsed, the form FindActiveByName
// looks names up in.
func (r *Repository) Create(ctx context.Context, a *models.EntityAlias) error {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.Create")
	defer span.End()

	a.AliasName = normalizers.CollapseWhitespace(a.AliasName)
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()
	a.IsActive = true

	ib := database.NewInsertBuilder().InsertInto(aliasesTable)
	ib.Cols(aliasColumns...)
	ib.Values(a.ID, a.AliasName, a.EntityType, a.TargetEntityID, a.IsActive, a.CreatedBy, a.CreatedAt, a.DeactivatedAt)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return httperror.NewHTTPErrorf(http.StatusConflict, "an active %s alias named %q already exists", a.EntityType, a.AliasName)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("alias_name", a.AliasName).Error("Failed to create alias")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create alias")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"alias_id":         a.ID,
		"alias_name":       a.AliasName,
		"target_entity_id": a.TargetEntityID,
	}).Info("Created alias")
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.EntityAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(aliasColumns...)
	sb.From(aliasesTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var a models.EntityAlias
	if err := r.db.Executor(ctx).GetContext(ctx, &a, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "alias %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("alias_id", id).Error("Failed to get alias")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get alias")
	}
	return &a, nil
}

// FindActiveByName returns the active alias with exactly this name, or nil.
func (r *Repository) FindActiveByName(ctx context.Context, entityType models.EntityType, aliasName string) (*models.EntityAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.FindActiveByName")
	defer span.End()

	aliasName = normalizers.CollapseWhitespace(aliasName)
	sb := database.NewSelectBuilder()
	sb.Select(aliasColumns...)
	sb.From(aliasesTable)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("alias_name", aliasName),
		sb.Equal("is_active", true),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var a models.EntityAlias
	if err := r.db.Executor(ctx).GetContext(ctx, &a, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("alias_name", aliasName).Error("Failed to find alias")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find alias")
	}
	return &a, nil
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]models.EntityAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(aliasColumns...)
	sb.From(aliasesTable)
	if filter.EntityType != "" {
		sb.Where(sb.Equal("entity_type", filter.EntityType))
	}
	if filter.TargetEntityID != "" {
		sb.Where(sb.Equal("target_entity_id", filter.TargetEntityID))
	}
	if filter.ActiveOnly {
		sb.Where(sb.Equal("is_active", true))
	}
	sb.OrderBy("alias_name ASC", "created_at ASC")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
		sb.Offset(filter.Offset)
	}

	query, args := sb.Build()
	var aliases []models.EntityAlias
	if err := r.db.Executor(ctx).SelectContext(ctx, &aliases, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list aliases")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list aliases")
	}
	return aliases, nil
}

// Deactivate soft-deactivates an alias. It reports whether a row changed.
func (r *Repository) Deactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.Deactivate")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(aliasesTable)
	ub.Set(
		ub.Assign("is_active", false),
		ub.Assign("deactivated_at", at),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("is_active", true),
	)

	query, args := ub.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("alias_id", id).Error("Failed to deactivate alias")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to deactivate alias")
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Retarget points every active alias of fromID at toID.
func (r *Repository) Retarget(ctx context.Context, fromID, toID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "alias.Repository.Retarget")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(aliasesTable)
	ub.Set(ub.Assign("target_entity_id", toID))
	ub.Where(
		ub.Equal("target_entity_id", fromID),
		ub.Equal("is_active", true),
	)

	query, args := ub.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"from_entity_id": fromID,
			"to_entity_id":   toID,
		}).Error("Failed to retarget aliases")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to retarget aliases")
	}
	n, _ := result.RowsAffected()
	return n, nil
}
