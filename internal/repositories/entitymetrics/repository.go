package entitymetrics

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

const metricsTable = "entity_metrics"

var metricsStruct = database.NewStruct(new(models.EntityMetrics))

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

// Upsert fully replaces the entity's metrics row.
func (r *Repository) Upsert(ctx context.Context, m *models.EntityMetrics) error {
	ctx, span := tracing.StartSpan(ctx, "entitymetrics.Repository.Upsert")
	defer span.End()

	ib := metricsStruct.InsertInto(metricsTable, m)
	ib.UpsertOn([]string{"entity_id"}, metricsStruct.Columns("entity_id")...)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", m.EntityID).Error("Failed to upsert entity metrics")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert entity metrics")
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, entityID string) (*models.EntityMetrics, error) {
	ctx, span := tracing.StartSpan(ctx, "entitymetrics.Repository.Get")
	defer span.End()

	sb := metricsStruct.SelectFrom(metricsTable)
	sb.Where(sb.Equal("entity_id", entityID))

	query, args := sb.Build()
	var m models.EntityMetrics
	if err := r.db.Executor(ctx).GetContext(ctx, &m, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, canonerr.NewEntityError(canonerr.ErrEntityNotFound, entityID, "no metrics computed")
		}
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to get entity metrics")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity metrics")
	}
	return &m, nil
}

// DeleteComputedBefore drops rows a completed pass did not rewrite.
func (r *Repository) DeleteComputedBefore(ctx context.Context, asOf time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "entitymetrics.Repository.DeleteComputedBefore")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(metricsTable)
	db.Where(db.LessThan("computed_at", asOf))

	query, args := db.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to prune entity metrics")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to prune entity metrics")
	}
	n, _ := result.RowsAffected()
	return n, nil
}
