// Package ledger reads the spots table written by the ingestion pipeline.
// The only write is the entity merge re-pointing rows to the surviving entity.
package ledger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

const (
	spotsTable    = "spots"
	entitiesTable = "entities"
)

var rowColumns = []string{
	"id", "bill_code", "customer_id", "agency_id", "market_name", "air_date",
	"gross_rate", "revenue_type", "sales_person", "import_batch_id",
}

func referenceColumn(t models.EntityType) (string, error) {
	switch t {
	case models.EntityTypeCustomer:
		return "customer_id", nil
	case models.EntityTypeAgency:
		return "agency_id", nil
	}
	return "", fmt.Errorf("%w: unknown entity type %q", canonerr.ErrInvalidArgument, t)
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

// DistinctBillCodes lists every raw identifier present in the ledger.
func (r *Repository) DistinctBillCodes(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Repository.DistinctBillCodes")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("bill_code")
	sb.Distinct()
	sb.From(spotsTable)
	sb.Where(sb.IsNotNull("bill_code"))
	sb.OrderBy("bill_code")

	query, args := sb.Build()
	var codes []string
	if err := r.db.Executor(ctx).SelectContext(ctx, &codes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list bill codes")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list bill codes")
	}
	return codes, nil
}

// ReferencedEntities lists every customer and agency the ledger points at.
// With a non-zero window only rows with air_date in [from, to] count. The
// ledger carries no foreign keys, so ids with no matching entity of that type
// are left out and logged.
func (r *Repository) ReferencedEntities(ctx context.Context, from, to time.Time) ([]models.EntityRef, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Repository.ReferencedEntities")
	defer span.End()

	window := ""
	var args []any
	if !from.IsZero() && !to.IsZero() {
		window = " AND s.air_date BETWEEN $1 AND $2"
		args = append(args, from, to)
	}

	query := fmt.Sprintf(`SELECT DISTINCT s.customer_id::text AS entity_id, 'customer' AS entity_type, e.id IS NOT NULL AS known
FROM %[1]s s LEFT JOIN %[2]s e ON e.id = s.customer_id AND e.entity_type = 'customer'
WHERE s.customer_id IS NOT NULL%[3]s
UNION
SELECT DISTINCT s.agency_id::text AS entity_id, 'agency' AS entity_type, e.id IS NOT NULL AS known
FROM %[1]s s LEFT JOIN %[2]s e ON e.id = s.agency_id AND e.entity_type = 'agency'
WHERE s.agency_id IS NOT NULL%[3]s
ORDER BY entity_id`, spotsTable, entitiesTable, window)

	var found []struct {
		models.EntityRef
		Known bool `db:"known"`
	}
	if err := r.db.Executor(ctx).SelectContext(ctx, &found, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list referenced entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list referenced entities")
	}

	refs := make([]models.EntityRef, 0, len(found))
	var unknown []string
	for _, f := range found {
		if !f.Known {
			unknown = append(unknown, string(f.Type)+":"+f.ID)
			continue
		}
		refs = append(refs, f.EntityRef)
	}
	if len(unknown) > 0 {
		r.logger.WithContext(ctx).WithField("refs", unknown).Warnf("Skipping %d ledger references with no matching entity", len(unknown))
	}
	return refs, nil
}

// RowsForEntity loads every ledger row attributed to the entity, oldest first.
func (r *Repository) RowsForEntity(ctx context.Context, ref models.EntityRef) ([]models.LedgerRow, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Repository.RowsForEntity")
	defer span.End()

	col, err := referenceColumn(ref.Type)
	if err != nil {
		return nil, err
	}

	sb := database.NewSelectBuilder()
	sb.Select(rowColumns...)
	sb.From(spotsTable)
	sb.Where(sb.Equal(col, ref.ID))
	sb.OrderBy("air_date ASC", "id ASC")

	query, args := sb.Build()
	var rows []models.LedgerRow
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", ref.ID).Error("Failed to load ledger rows")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load ledger rows")
	}
	return rows, nil
}

// OwnerActivity returns rows in [from, to] that name a sales person, most recent first.
func (r *Repository) OwnerActivity(ctx context.Context, ref models.EntityRef, from, to time.Time) ([]models.OwnerActivity, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Repository.OwnerActivity")
	defer span.End()

	col, err := referenceColumn(ref.Type)
	if err != nil {
		return nil, err
	}

	sb := database.NewSelectBuilder()
	sb.Select("id", "air_date", "sales_person")
	sb.From(spotsTable)
	sb.Where(
		sb.Equal(col, ref.ID),
		sb.Between("air_date", from, to),
		sb.IsNotNull("sales_person"),
	)
	sb.OrderBy("air_date DESC", "id DESC")

	query, args := sb.Build()
	var activity []models.OwnerActivity
	if err := r.db.Executor(ctx).SelectContext(ctx, &activity, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", ref.ID).Error("Failed to load owner activity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load owner activity")
	}
	return activity, nil
}

// Repoint moves every row attributed to fromID onto toID.
func (r *Repository) Repoint(ctx context.Context, entityType models.EntityType, fromID, toID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Repository.Repoint")
	defer span.End()

	col, err := referenceColumn(entityType)
	if err != nil {
		return 0, err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(spotsTable)
	ub.Set(ub.Assign(col, toID))
	ub.Where(ub.Equal(col, fromID))

	query, args := ub.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"from_entity_id": fromID,
			"to_entity_id":   toID,
		}).Error("Failed to repoint ledger rows")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to repoint ledger rows")
	}
	n, _ := result.RowsAffected()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"from_entity_id": fromID,
		"to_entity_id":   toID,
		"rows":           n,
	}).Info("Repointed ledger rows")
	return n, nil
}
