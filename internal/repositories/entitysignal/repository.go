package entitysignal

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

const signalsTable = "entity_signals"

var signalColumns = []string{"entity_id", "signal_kind", "label", "priority", "trailing_revenue", "prior_revenue", "computed_at"}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Kind   models.SignalKind
	Limit  int
	Offset int
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

// Replace deletes the entity's signals and inserts signals in their place.
// It returns the kinds the entity carried before.
func (r *Repository) Replace(ctx context.Context, entityID string, signals []models.EntitySignal) ([]models.SignalKind, error) {
	ctx, span := tracing.StartSpan(ctx, "entitysignal.Repository.Replace")
	defer span.End()

	exec := r.db.Executor(ctx)

	del := database.NewDeleteBuilder()
	del.DeleteFrom(signalsTable)
	del.Where(del.Equal("entity_id", entityID))
	del.SQL("RETURNING signal_kind")

	query, args := del.Build()
	var previous []models.SignalKind
	if err := exec.SelectContext(ctx, &previous, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to clear entity signals")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to clear entity signals")
	}

	if len(signals) == 0 {
		return previous, nil
	}

	ib := database.NewInsertBuilder().InsertInto(signalsTable)
	ib.Cols(signalColumns...)
	for _, s := range signals {
		ib.Values(s.EntityID, s.SignalKind, s.Label, s.Priority, s.TrailingRevenue, s.PriorRevenue, s.ComputedAt)
	}

	query, args = ib.Build()
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to insert entity signals")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert entity signals")
	}
	return previous, nil
}

func (r *Repository) ListByEntity(ctx context.Context, entityID string) ([]models.EntitySignal, error) {
	ctx, span := tracing.StartSpan(ctx, "entitysignal.Repository.ListByEntity")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(signalColumns...)
	sb.From(signalsTable)
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("priority ASC")

	return r.list(ctx, sb)
}

// List returns signals across entities, highest priority first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]models.EntitySignal, error) {
	ctx, span := tracing.StartSpan(ctx, "entitysignal.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(signalColumns...)
	sb.From(signalsTable)
	if filter.Kind != "" {
		sb.Where(sb.Equal("signal_kind", filter.Kind))
	}
	sb.OrderBy("priority ASC", "prior_revenue DESC", "entity_id ASC")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
		sb.Offset(filter.Offset)
	}

	return r.list(ctx, sb)
}

func (r *Repository) list(ctx context.Context, sb *database.SelectBuilder) ([]models.EntitySignal, error) {
	query, args := sb.Build()
	var signals []models.EntitySignal
	if err := r.db.Executor(ctx).SelectContext(ctx, &signals, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list entity signals")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entity signals")
	}
	return signals, nil
}

// DeleteComputedBefore drops signals a completed pass did not rewrite.
func (r *Repository) DeleteComputedBefore(ctx context.Context, asOf time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "entitysignal.Repository.DeleteComputedBefore")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(signalsTable)
	db.Where(db.LessThan("computed_at", asOf))

	query, args := db.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to prune entity signals")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to prune entity signals")
	}
	n, _ := result.RowsAffected()
	return n, nil
}
