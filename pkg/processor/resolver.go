package processor

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/metrics"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

type AliasLookup interface {
	FindActiveByName(ctx context.Context, entityType models.EntityType, aliasName string) (*models.EntityAlias, error)
}

type EntityLookup interface {
	FindActiveByNormalizedName(ctx context.Context, entityType models.EntityType, normalizedName string) (*models.Entity, error)
	CreateIfAbsent(ctx context.Context, entityType models.EntityType, name, normalizedName string) (*models.Entity, bool, error)
}

// ResolvedVia names the step that produced a resolution.
type ResolvedVia string

const (
	ViaRawAlias        ResolvedVia = "raw_alias"
	ViaNormalizedAlias ResolvedVia = "normalized_alias"
	ViaEntity          ResolvedVia = "entity"
	ViaCreated         ResolvedVia = "created"
	ViaUnresolved      ResolvedVia = "unresolved"
)

// Resolution is the customer entity a raw identifier settled on, plus the
// agency entity of its top agency segment when it has one.
type Resolution struct {
	RawIdentifier string              `json:"raw_identifier"`
	Finding       models.AuditFinding `json:"finding"`
	EntityID      string              `json:"entity_id,omitempty"`
	Via           ResolvedVia         `json:"via"`
	AgencyID      string              `json:"agency_id,omitempty"`
	AgencyVia     ResolvedVia         `json:"agency_via,omitempty"`
}

// Resolver maps audited identifiers to customer and agency entities, creating one when
// nothing matches. An explicit alias always wins over a name match, so a
// conflicting identifier resolves to its alias target and stays flagged on
// the finding.
type Resolver struct {
	aliases  AliasLookup
	entities EntityLookup
	logger   ectologger.Logger
}

func NewResolver(aliases AliasLookup, entities EntityLookup, logger ectologger.Logger) *Resolver {
	return &Resolver{aliases: aliases, entities: entities, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, finding models.AuditFinding) (Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Resolver.Resolve")
	defer span.End()

	res := Resolution{RawIdentifier: finding.RawIdentifier, Finding: finding}
	if agency := finding.Parsed.Agency1; agency != nil && *agency != "" {
		id, via, err := r.resolveAgency(ctx, finding.RawIdentifier, *agency)
		if err != nil {
			tracing.RecordError(span, err)
			return res, err
		}
		res.AgencyID, res.AgencyVia = id, via
	}

	name := finding.Parsed.NormalizedName

	if finding.HasAlias {
		res.EntityID, res.Via = *finding.AliasTargetID, ViaRawAlias
		return res, nil
	}

	if name != "" && name != finding.RawIdentifier {
		alias, err := r.aliases.FindActiveByName(ctx, models.EntityTypeCustomer, name)
		if err != nil {
			tracing.RecordError(span, err)
			return res, err
		}
		if alias != nil {
			res.EntityID, res.Via = alias.TargetEntityID, ViaNormalizedAlias
			return res, nil
		}
	}

	if finding.ExistsInCustomers {
		res.EntityID, res.Via = *finding.MatchedEntityID, ViaEntity
		return res, nil
	}

	if name == "" {
		res.Via = ViaUnresolved
		return res, nil
	}

	entity, created, err := r.entities.CreateIfAbsent(ctx, models.EntityTypeCustomer, finding.Parsed.Customer, name)
	if err != nil {
		tracing.RecordError(span, err)
		return res, err
	}
	if !entity.IsActive {
		// a deactivated entity keeps its name; only an alias can claim it now
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"raw_identifier": finding.RawIdentifier,
			"entity_id":      entity.ID,
		}).Warn("Identifier matches an inactive entity")
		res.Via = ViaUnresolved
		return res, nil
	}

	res.EntityID = entity.ID
	res.Via = ViaEntity
	if created {
		res.Via = ViaCreated
		metrics.EntitiesCreated.WithLabelValues(string(models.EntityTypeCustomer)).Inc()
	}
	return res, nil
}

// resolveAgency maps the canonical top agency segment to an agency entity.
// The parser has already applied the agency canonical map, so name doubles
// as the normalized name.
func (r *Resolver) resolveAgency(ctx context.Context, raw, name string) (string, ResolvedVia, error) {
	alias, err := r.aliases.FindActiveByName(ctx, models.EntityTypeAgency, name)
	if err != nil {
		return "", "", err
	}
	if alias != nil {
		return alias.TargetEntityID, ViaNormalizedAlias, nil
	}

	entity, created, err := r.entities.CreateIfAbsent(ctx, models.EntityTypeAgency, name, name)
	if err != nil {
		return "", "", err
	}
	if !entity.IsActive {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"raw_identifier": raw,
			"agency":         name,
			"entity_id":      entity.ID,
		}).Warn("Agency segment matches an inactive entity")
		return "", ViaUnresolved, nil
	}
	if created {
		metrics.EntitiesCreated.WithLabelValues(string(models.EntityTypeAgency)).Inc()
		return entity.ID, ViaCreated, nil
	}
	return entity.ID, ViaEntity, nil
}
