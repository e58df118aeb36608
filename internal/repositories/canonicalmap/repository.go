package canonicalmap

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

var mappingColumns = []string{"alias_name", "canonical_name", "updated_by", "updated_at"}

func tableFor(kind models.EntityType) (string, error) {
	switch kind {
	case models.EntityTypeAgency:
		return "agency_canonical_map", nil
	case models.EntityTypeCustomer:
		return "customer_canonical_map", nil
	}
	return "", fmt.Errorf("%w: unknown canonical map %q", canonerr.ErrInvalidArgument, kind)
}

// Repository stores the agency and customer canonical maps
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

func (r *Repository) ListAll(ctx context.Context, kind models.EntityType) ([]models.CanonicalMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalmap.Repository.ListAll")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	sb := database.NewSelectBuilder()
	sb.Select(mappingColumns...)
	sb.From(table)
	sb.OrderBy("alias_name")

	query, args := sb.Build()
	var rows []models.CanonicalMapping
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("kind", kind).Error("Failed to list canonical map")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list canonical map")
	}
	return rows, nil
}

// Get returns the mapping for alias, or nil when the alias is unmapped.
func (r *Repository) Get(ctx context.Context, kind models.EntityType, alias string) (*models.CanonicalMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalmap.Repository.Get")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	sb := database.NewSelectBuilder()
	sb.Select(mappingColumns...)
	sb.From(table)
	sb.Where(sb.Equal("alias_name", alias))

	query, args := sb.Build()
	var m models.CanonicalMapping
	if err := r.db.Executor(ctx).GetContext(ctx, &m, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("alias_name", alias).Error("Failed to get canonical mapping")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get canonical mapping")
	}
	return &m, nil
}

// Upsert writes alias -> canonical. The last write for an alias wins.
func (r *Repository) Upsert(ctx context.Context, kind models.EntityType, m *models.CanonicalMapping) error {
	ctx, span := tracing.StartSpan(ctx, "canonicalmap.Repository.Upsert")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()

	ib := database.NewInsertBuilder().InsertInto(table)
	ib.Cols(mappingColumns...)
	ib.Values(m.AliasName, m.CanonicalName, m.UpdatedBy, m.UpdatedAt)
	ib.UpsertOn([]string{"alias_name"}, "canonical_name", "updated_by", "updated_at")

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":       kind,
			"alias_name": m.AliasName,
		}).Error("Failed to upsert canonical mapping")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert canonical mapping")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":           kind,
		"alias_name":     m.AliasName,
		"canonical_name": m.CanonicalName,
	}).Info("Upserted canonical mapping")
	return nil
}

// Delete removes the mapping and reports whether it existed.
func (r *Repository) Delete(ctx context.Context, kind models.EntityType, alias string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalmap.Repository.Delete")
	defer span.End()

	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.Equal("alias_name", alias))

	query, args := db.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("alias_name", alias).Error("Failed to delete canonical mapping")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete canonical mapping")
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}
