package assignment

import (
	"context"
	"time"

	appctx "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/context"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

// Backfill derives current ownership from ledger activity in [lookbackStart, now].
// For each entity the most recent row naming a real owner wins. Re-running
// over unchanged data opens nothing new.
func (t *Tracker) Backfill(ctx context.Context, lookbackStart, now time.Time) (models.BackfillReport, error) {
	ctx, span := tracing.StartSpan(ctx, "assignment.Tracker.Backfill")
	defer span.End()

	ctx = appctx.SetSource(ctx, appctx.SourceBackfill)
	var report models.BackfillReport

	refs, err := t.ledger.ReferencedEntities(ctx, lookbackStart, now)
	if err != nil {
		tracing.RecordError(span, err)
		return report, err
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		owner, at, found, err := t.latestOwner(ctx, ref, lookbackStart, now)
		if err != nil {
			report.Failed++
			t.logger.WithContext(ctx).WithError(err).WithField("entity_id", ref.ID).Warn("Failed to read owner activity")
			continue
		}
		if !found {
			report.Skipped++
			continue
		}

		_, opened, err := t.OpenAssignment(ctx, ref.ID, owner, at)
		switch {
		case err == nil && opened:
			report.Opened++
		case err == nil:
			report.Unchanged++
		case canonerr.Is(err, canonerr.ErrEntityInactive), canonerr.Is(err, canonerr.ErrEntityNotFound):
			report.Skipped++
		case canonerr.Is(err, canonerr.ErrAssignmentOrder):
			// a newer manual assignment outranks ledger history
			report.Unchanged++
		default:
			report.Failed++
			t.logger.WithContext(ctx).WithError(err).WithField("entity_id", ref.ID).Warn("Failed to backfill assignment")
		}
	}

	t.logger.WithContext(ctx).WithFields(map[string]any{
		"scanned":   report.Scanned,
		"opened":    report.Opened,
		"unchanged": report.Unchanged,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	}).Info("Assignment backfill finished")
	return report, nil
}

// latestOwner picks the newest activity row whose owner is not a pseudo-owner.
// Rows arrive ordered air_date DESC, id DESC.
func (t *Tracker) latestOwner(ctx context.Context, ref models.EntityRef, from, to time.Time) (string, time.Time, bool, error) {
	activity, err := t.ledger.OwnerActivity(ctx, ref, from, to)
	if err != nil {
		return "", time.Time{}, false, err
	}
	for _, a := range activity {
		if owner, ok := t.owners.OwnerName(a.SalesPerson); ok {
			return owner, a.AirDate, true, nil
		}
	}
	return "", time.Time{}, false, nil
}
