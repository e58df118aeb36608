package auditlog

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	appctx "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/context"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

const auditTable = "entity_audit_log"

var auditColumns = []string{"id", "entity_id", "action", "payload", "performed_by", "performed_at"}

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

// Record appends ev to the audit log inside the caller's transaction, if any.
// The performer is the user on ctx.
func (r *Repository) Record(ctx context.Context, ev models.AuditEvent) error {
	ctx, span := tracing.StartSpan(ctx, "auditlog.Repository.Record")
	defer span.End()

	entry, err := models.NewAuditLogEntry(ev, appctx.GetActor(ctx), time.Now().UTC())
	if err != nil {
		return err
	}

	ib := database.NewInsertBuilder().InsertInto(auditTable)
	ib.Cols("entity_id", "action", "payload", "performed_by", "performed_at")
	ib.Values(entry.EntityID, entry.Action, []byte(entry.Payload), entry.PerformedBy, entry.PerformedAt)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"action":    entry.Action,
			"entity_id": entry.EntityID,
		}).Error("Failed to write audit event")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to write audit event")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"action":       entry.Action,
		"performed_by": entry.PerformedBy,
	}).Debug("Recorded audit event")
	return nil
}

// ListByEntity returns the entity's audit trail, newest first.
func (r *Repository) ListByEntity(ctx context.Context, entityID string, limit int) ([]models.AuditLogEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "auditlog.Repository.ListByEntity")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(auditColumns...)
	sb.From(auditTable)
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("performed_at DESC", "id DESC")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var entries []models.AuditLogEntry
	if err := r.db.Executor(ctx).SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to list audit events")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list audit events")
	}
	return entries, nil
}
