// Package relatedrecord stores contacts, addresses and sector memberships.
// The three tables share their bookkeeping columns, so one repository serves
// every kind through models.KindSpec.
package relatedrecord

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

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

func recordColumns(spec models.KindSpec) []string {
	return []string{"id", "entity_id", spec.ValueExpr + " AS value", "is_primary", "is_active", "created_at"}
}

func (r *Repository) selectRecords(spec models.KindSpec) *database.SelectBuilder {
	sb := database.NewSelectBuilder()
	sb.Select(recordColumns(spec)...)
	sb.From(spec.Table)
	return sb
}

func (r *Repository) getOne(ctx context.Context, spec models.KindSpec, sb *database.SelectBuilder) (*models.RelatedRecord, error) {
	query, args := sb.Build()
	var rec models.RelatedRecord
	if err := r.db.Executor(ctx).GetContext(ctx, &rec, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("kind", spec.Kind).Error("Failed to read related record")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to read %s record", spec.Kind)
	}
	rec.Kind = spec.Kind
	return &rec, nil
}

// Get returns the record, or nil when no record of the kind has that id.
func (r *Repository) Get(ctx context.Context, spec models.KindSpec, id string) (*models.RelatedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "relatedrecord.Repository.Get")
	defer span.End()

	sb := r.selectRecords(spec)
	sb.Where(sb.Equal("id", id))
	return r.getOne(ctx, spec, sb)
}

// Primary returns the active primary record of the kind, or nil.
func (r *Repository) Primary(ctx context.Context, spec models.KindSpec, entityID string) (*models.RelatedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "relatedrecord.Repository.Primary")
	defer span.End()

	sb := r.selectRecords(spec)
	sb.Where(
		sb.Equal("entity_id", entityID),
		sb.Equal("is_primary", true),
		sb.Equal("is_active", true),
	)
	sb.Limit(1)
	return r.getOne(ctx, spec, sb)
}

// EarliestActive returns the oldest active record other than excludeID,
// breaking created_at ties on the lowest id.
func (r *Repository) EarliestActive(ctx context.Context, spec models.KindSpec, entityID, excludeID string) (*models.RelatedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "relatedrecord.Repository.EarliestActive")
	defer span.End()

	sb := r.selectRecords(spec)
	sb.Where(
		sb.Equal("entity_id", entityID),
		sb.Equal("is_active", true),
	)
	if excludeID != "" {
		sb.Where(sb.NotEqual("id", excludeID))
	}
	sb.OrderBy("created_at ASC", "id ASC")
	sb.Limit(1)
	return r.getOne(ctx, spec, sb)
}

func (r *Repository) List(ctx context.Context, spec models.KindSpec, entityID string, activeOnly bool) ([]models.RelatedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "relatedrecord.Repository.List")
	defer span.End()

	sb := r.selectRecords(spec)
	sb.Where(sb.Equal("entity_id", entityID))
	if activeOnly {
		sb.Where(sb.Equal("is_active", true))
	}
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var records []models.RelatedRecord
	if err := r.db.Executor(ctx).SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":      spec.Kind,
			"entity_id": entityID,
		}).Error("Failed to list related records")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to list %s records", spec.Kind)
	}
	for i := range records {
		records[i].Kind = spec.Kind
	}
	return records, nil
}

func (r *Repository) CountActive(ctx context.Context, spec models.KindSpec, entityID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "relatedrecord.Repository.CountActive")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(spec.Table)
	sb.Where(
		sb.Equal("entity_id", entityID),
		sb.Equal("is_active", true),
	)

	query, args := sb.Build()
	var count int
	if err := r.db.Executor(ctx).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("kind", spec.Kind).Error("Failed to count related records")
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to count %s records", spec.Kind)
	}
	return count, nil
}

// Insert stores a new active record for the entity.
func (r *Repository) Insert(ctx context.Context, spec models.KindSpec, entityID string, input models.RecordInput, isPrimary bool) (*models.RelatedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "relatedrecord.Repository.Insert")
	defer span.End()

	now := time.Now().UTC()
	cols := []string{"id", "entity_id", "is_primary", "is_active", "created_at", "updated_at"}
	vals := []any{uuid.New().String(), entityID, isPrimary, true, now, now}
	extraCols, extraVals := input.Columns()

	ib := database.NewInsertBuilder().InsertInto(spec.Table)
	ib.Cols(append(cols, extraCols...)...)
	ib.Values(append(vals, extraVals...)...)
	ib = ib.Returning(recordColumns(spec)...)

	query, args := ib.Build()
	var rec models.RelatedRecord
	if err := r.db.Executor(ctx).GetContext(ctx, &rec, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":      spec.Kind,
			"entity_id": entityID,
		}).Error("Failed to insert related record")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to insert %s record", spec.Kind)
	}
	rec.Kind = spec.Kind
	return &rec, nil
}

// ClearPrimary drops is_primary from every record of the entity except exceptID.
func (r *Repository) ClearPrimary(ctx context.Context, spec models.KindSpec, entityID, exceptID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "relatedrecord.Repository.ClearPrimary")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(spec.Table)
	ub.Set(
		ub.Assign("is_primary", false),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(
		ub.Equal("entity_id", entityID),
		ub.Equal("is_primary", true),
	)
	if exceptID != "" {
		ub.Where(ub.NotEqual("id", exceptID))
	}

	return r.exec(ctx, spec, "clear primary", ub)
}

func (r *Repository) SetPrimary(ctx context.Context, spec models.KindSpec, id string, primary bool) error {
	ctx, span := tracing.StartSpan(ctx, "relatedrecord.Repository.SetPrimary")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(spec.Table)
	ub.Set(
		ub.Assign("is_primary", primary),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	_, err := r.exec(ctx, spec, "set primary", ub)
	return err
}

// Deactivate marks the record inactive and non-primary in one statement.
func (r *Repository) Deactivate(ctx context.Context, spec models.KindSpec, id string) error {
	ctx, span := tracing.StartSpan(ctx, "relatedrecord.Repository.Deactivate")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(spec.Table)
	ub.Set(
		ub.Assign("is_active", false),
		ub.Assign("is_primary", false),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	_, err := r.exec(ctx, spec, "deactivate", ub)
	return err
}

func (r *Repository) exec(ctx context.Context, spec models.KindSpec, op string, ub *database.UpdateBuilder) (int64, error) {
	query, args := ub.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind": spec.Kind,
			"op":   op,
		}).Error("Failed to update related record")
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to %s on %s records", op, spec.Kind)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
