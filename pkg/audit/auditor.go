// Package audit cross-checks parsed identifiers against canonical entities
// and aliases, and owns the administrative alias and merge operations.
//
// The Auditor never writes. Conflicts it finds are left for a person to
// resolve through AliasService.
package audit

import (
	"context"
	"strconv"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/aliasmap"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/hierarchy"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/metrics"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

type SnapshotSource interface {
	Snapshot(ctx context.Context) (*aliasmap.Snapshot, error)
}

type EntityFinder interface {
	FindActiveByNormalizedName(ctx context.Context, entityType models.EntityType, normalizedName string) (*models.Entity, error)
}

type AliasFinder interface {
	FindActiveByName(ctx context.Context, entityType models.EntityType, aliasName string) (*models.EntityAlias, error)
}

type BillCodeSource interface {
	DistinctBillCodes(ctx context.Context) ([]string, error)
}

type Auditor struct {
	snapshots SnapshotSource
	entities  EntityFinder
	aliases   AliasFinder
	ledger    BillCodeSource
	workers   int
	logger    ectologger.Logger
}

func NewAuditor(snapshots SnapshotSource, entities EntityFinder, aliases AliasFinder, ledger BillCodeSource, workers int, logger ectologger.Logger) *Auditor {
	if workers < 1 {
		workers = 1
	}
	return &Auditor{
		snapshots: snapshots,
		entities:  entities,
		aliases:   aliases,
		ledger:    ledger,
		workers:   workers,
		logger:    logger,
	}
}

func (a *Auditor) Audit(ctx context.Context, raw string) (models.AuditFinding, error) {
	findings, err := a.AuditBatch(ctx, []string{raw})
	if err != nil {
		return models.AuditFinding{}, err
	}
	return findings[0], nil
}

// AuditBatch audits every identifier against one alias-map snapshot. Findings
// are returned in input order.
func (a *Auditor) AuditBatch(ctx context.Context, raws []string) ([]models.AuditFinding, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.Auditor.AuditBatch")
	defer span.End()

	snap, err := a.snapshots.Snapshot(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	parsed, err := hierarchy.ParseAll(ctx, raws, snap, a.workers)
	if err != nil {
		return nil, err
	}

	findings := make([]models.AuditFinding, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, raw := range raws {
		g.Go(func() error {
			f, err := a.check(gctx, raw, parsed[i])
			if err != nil {
				return err
			}
			findings[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	for _, f := range findings {
		metrics.IdentifiersParsed.WithLabelValues(strconv.Itoa(f.Parsed.Depth()), strconv.FormatBool(f.Parsed.Ambiguous)).Inc()
	}
	return findings, nil
}

func (a *Auditor) check(ctx context.Context, raw string, parsed models.ParsedHierarchy) (models.AuditFinding, error) {
	finding := models.AuditFinding{
		RawIdentifier: raw,
		Parsed:        parsed,
	}

	entity, err := a.entities.FindActiveByNormalizedName(ctx, models.EntityTypeCustomer, parsed.NormalizedName)
	if err != nil {
		return finding, err
	}
	if entity != nil {
		finding.ExistsInCustomers = true
		finding.MatchedEntityID = &entity.ID
	}

	alias, err := a.aliases.FindActiveByName(ctx, models.EntityTypeCustomer, raw)
	if err != nil {
		return finding, err
	}
	if alias != nil {
		finding.HasAlias = true
		finding.AliasTargetID = &alias.TargetEntityID
	}

	finding.AliasConflict = finding.ExistsInCustomers && finding.HasAlias && *finding.AliasTargetID != *finding.MatchedEntityID
	return finding, nil
}

// Conflicts audits every distinct identifier in the ledger and returns only
// the conflicting findings.
func (a *Auditor) Conflicts(ctx context.Context) ([]models.AuditFinding, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.Auditor.Conflicts")
	defer span.End()

	codes, err := a.ledger.DistinctBillCodes(ctx)
	if err != nil {
		return nil, err
	}

	findings, err := a.AuditBatch(ctx, codes)
	if err != nil {
		return nil, err
	}

	conflicts := OnlyConflicts(findings)
	metrics.AliasConflicts.Add(float64(len(conflicts)))
	a.logger.WithContext(ctx).WithFields(map[string]any{
		"identifiers": len(codes),
		"conflicts":   len(conflicts),
	}).Info("Audited ledger identifiers")
	return conflicts, nil
}

func OnlyConflicts(findings []models.AuditFinding) []models.AuditFinding {
	return ectolinq.Filter(findings, func(f models.AuditFinding) bool {
		return f.AliasConflict
	})
}
