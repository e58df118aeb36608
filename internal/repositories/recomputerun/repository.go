package recomputerun

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

const runsTable = "recompute_runs"

var runStruct = database.NewStruct(new(models.RecomputeRun))

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

func (r *Repository) Start(ctx context.Context, run *models.RecomputeRun) error {
	ctx, span := tracing.StartSpan(ctx, "recomputerun.Repository.Start")
	defer span.End()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.Status = models.RunStatusRunning

	ib := runStruct.InsertInto(runsTable, run)
	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("import_batch_id", run.ImportBatchID).Error("Failed to record recompute run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record recompute run")
	}
	return nil
}

func (r *Repository) Finish(ctx context.Context, run *models.RecomputeRun) error {
	ctx, span := tracing.StartSpan(ctx, "recomputerun.Repository.Finish")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(runsTable)
	ub.Set(
		ub.Assign("status", run.Status),
		ub.Assign("entity_count", run.EntityCount),
		ub.Assign("failed_count", run.FailedCount),
		ub.Assign("finished_at", run.FinishedAt),
		ub.Assign("error", run.Error),
	)
	ub.Where(ub.Equal("id", run.ID))

	query, args := ub.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", run.ID).Error("Failed to finish recompute run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish recompute run")
	}
	return nil
}

// Latest returns the most recently started run, or nil when none exist.
func (r *Repository) Latest(ctx context.Context) (*models.RecomputeRun, error) {
	ctx, span := tracing.StartSpan(ctx, "recomputerun.Repository.Latest")
	defer span.End()

	sb := runStruct.SelectFrom(runsTable)
	sb.OrderBy("started_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var run models.RecomputeRun
	if err := r.db.Executor(ctx).GetContext(ctx, &run, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get latest recompute run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get latest recompute run")
	}
	return &run, nil
}
