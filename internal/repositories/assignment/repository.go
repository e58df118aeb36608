package assignment

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

const periodsTable = "entity_assignments"

var periodColumns = []string{"id", "entity_id", "owner_name", "assigned_at", "ended_at", "assigned_by", "created_at"}

// Repository handles assignment period persistence
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

// Open returns the entity's open period, or nil when the account is unassigned.
func (r *Repository) Open(ctx context.Context, entityID string) (*models.AssignmentPeriod, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Repository.Open")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(periodColumns...)
	sb.From(periodsTable)
	sb.Where(
		sb.Equal("entity_id", entityID),
		sb.IsNull("ended_at"),
	)

	query, args := sb.Build()
	var p models.AssignmentPeriod
	if err := r.db.Executor(ctx).GetContext(ctx, &p, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to get open assignment")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get open assignment")
	}
	return &p, nil
}

// ListByEntity returns every period, newest first.
func (r *Repository) ListByEntity(ctx context.Context, entityID string) ([]models.AssignmentPeriod, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Repository.ListByEntity")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(periodColumns...)
	sb.From(periodsTable)
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("assigned_at DESC", "created_at DESC")

	query, args := sb.Build()
	var periods []models.AssignmentPeriod
	if err := r.db.Executor(ctx).SelectContext(ctx, &periods, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to list assignments")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list assignments")
	}
	return periods, nil
}

func (r *Repository) Insert(ctx context.Context, p *models.AssignmentPeriod) error {
	ctx, span := tracing.StartSpan(ctx, "assignment.Repository.Insert")
	defer span.End()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()

	ib := database.NewInsertBuilder().InsertInto(periodsTable)
	ib.Cols(periodColumns...)
	ib.Values(p.ID, p.EntityID, p.OwnerName, p.AssignedAt, p.EndedAt, p.AssignedBy, p.CreatedAt)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": p.EntityID,
			"owner":     p.OwnerName,
		}).Error("Failed to insert assignment")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert assignment")
	}
	return nil
}

// Close sets ended_at on an open period.
func (r *Repository) Close(ctx context.Context, id string, endedAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "assignment.Repository.Close")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(periodsTable)
	ub.Set(ub.Assign("ended_at", endedAt))
	ub.Where(
		ub.Equal("id", id),
		ub.IsNull("ended_at"),
	)

	query, args := ub.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("period_id", id).Error("Failed to close assignment")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to close assignment")
	}
	return nil
}
