package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	aliasrepo "github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/alias"
	appctx "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/context"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/normalizers"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

type EntityStore interface {
	LockForShare(ctx context.Context, id string) (*models.Entity, error)
	LockForUpdate(ctx context.Context, id string) (*models.Entity, error)
	Deactivate(ctx context.Context, id string, at time.Time) error
}

type AliasStore interface {
	AliasFinder
	Create(ctx context.Context, a *models.EntityAlias) error
	Get(ctx context.Context, id string) (*models.EntityAlias, error)
	List(ctx context.Context, filter aliasrepo.Filter) ([]models.EntityAlias, error)
	Deactivate(ctx context.Context, id string, at time.Time) (bool, error)
	Retarget(ctx context.Context, fromID, toID string) (int64, error)
}

type LedgerRepointer interface {
	Repoint(ctx context.Context, entityType models.EntityType, fromID, toID string) (int64, error)
}

type CanonicalStore interface {
	Get(ctx context.Context, kind models.EntityType, alias string) (*models.CanonicalMapping, error)
	Upsert(ctx context.Context, kind models.EntityType, m *models.CanonicalMapping) error
	Delete(ctx context.Context, kind models.EntityType, alias string) (bool, error)
}

// Invalidator drops cached alias-map snapshots after a canonical map edit.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

type Recorder interface {
	Record(ctx context.Context, ev models.AuditEvent) error
}

type CreateAliasRequest struct {
	AliasName      string            `json:"alias_name" validate:"required"`
	EntityType     models.EntityType `json:"entity_type" validate:"required,oneof=agency customer"`
	TargetEntityID string            `json:"target_entity_id" validate:"required"`
}

type MergeResult struct {
	Source            *models.Entity `json:"source"`
	Target            *models.Entity `json:"target"`
	AliasID           string         `json:"alias_id"`
	RepointedRows     int64          `json:"repointed_rows"`
	RetargetedAliases int64          `json:"retargeted_aliases"`
}

type AliasService struct {
	tx          database.Transactor
	entities    EntityStore
	aliases     AliasStore
	ledger      LedgerRepointer
	canonical   CanonicalStore
	invalidator Invalidator
	audit       Recorder
	logger      ectologger.Logger
	now         func() time.Time
}

func NewAliasService(tx database.Transactor, entities EntityStore, aliases AliasStore, ledger LedgerRepointer, canonical CanonicalStore, invalidator Invalidator, audit Recorder, logger ectologger.Logger) *AliasService {
	return &AliasService{
		tx:          tx,
		entities:    entities,
		aliases:     aliases,
		ledger:      ledger,
		canonical:   canonical,
		invalidator: invalidator,
		audit:       audit,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateAlias points req.AliasName at an existing active entity. The target
// row is share-locked so it cannot be deactivated or merged away until the
// alias is committed.
func (s *AliasService) CreateAlias(ctx context.Context, req CreateAliasRequest) (*models.EntityAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.AliasService.CreateAlias")
	defer span.End()

	name := normalizers.CollapseWhitespace(req.AliasName)
	if name == "" {
		return nil, fmt.Errorf("%w: alias name is blank", canonerr.ErrInvalidArgument)
	}
	if !req.EntityType.Valid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", canonerr.ErrInvalidArgument, req.EntityType)
	}

	var created *models.EntityAlias
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		target, err := s.entities.LockForShare(ctx, req.TargetEntityID)
		if canonerr.Is(err, canonerr.ErrEntityNotFound) {
			return canonerr.NewEntityError(canonerr.ErrInvalidAliasTarget, req.TargetEntityID, "target does not exist")
		}
		if err != nil {
			return err
		}
		if !target.IsActive {
			return canonerr.NewEntityError(canonerr.ErrInvalidAliasTarget, target.ID, "target is inactive")
		}
		if target.EntityType != req.EntityType {
			return canonerr.NewEntityError(canonerr.ErrInvalidAliasTarget, target.ID, "target is a %s, not a %s", target.EntityType, req.EntityType)
		}

		actor := appctx.GetActor(ctx)
		alias := &models.EntityAlias{
			AliasName:      name,
			EntityType:     req.EntityType,
			TargetEntityID: target.ID,
			CreatedBy:      &actor,
		}
		if err := s.aliases.Create(ctx, alias); err != nil {
			return err
		}
		created = alias
		return s.audit.Record(ctx, models.AliasCreated{
			AliasID:        alias.ID,
			AliasName:      alias.AliasName,
			EntityType:     alias.EntityType,
			TargetEntityID: alias.TargetEntityID,
		})
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return created, nil
}

// DeactivateAlias soft-deactivates the alias. Deactivating an inactive alias
// is a no-op.
func (s *AliasService) DeactivateAlias(ctx context.Context, id string) (*models.EntityAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.AliasService.DeactivateAlias")
	defer span.End()

	var alias *models.EntityAlias
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		alias, err = s.aliases.Get(ctx, id)
		if err != nil {
			return err
		}
		return s.deactivateAlias(ctx, alias)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return alias, nil
}

func (s *AliasService) deactivateAlias(ctx context.Context, alias *models.EntityAlias) error {
	at := s.now()
	changed, err := s.aliases.Deactivate(ctx, alias.ID, at)
	if err != nil || !changed {
		return err
	}
	alias.IsActive = false
	alias.DeactivatedAt = &at
	return s.audit.Record(ctx, models.AliasDeactivated{
		AliasID:        alias.ID,
		AliasName:      alias.AliasName,
		TargetEntityID: alias.TargetEntityID,
	})
}

// MergeEntities folds source into target: ledger rows and active aliases move
// to target, source's normalized name becomes an alias of target, and source
// is deactivated. Source's related records and assignment history stay where
// they are.
func (s *AliasService) MergeEntities(ctx context.Context, sourceID, targetID string) (*MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.AliasService.MergeEntities")
	defer span.End()

	if sourceID == targetID {
		return nil, canonerr.NewEntityError(canonerr.ErrMergeInvalid, sourceID, "cannot merge an entity into itself")
	}

	result := &MergeResult{}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		source, target, err := s.lockPair(ctx, sourceID, targetID)
		if err != nil {
			return err
		}
		if !source.IsActive || !target.IsActive {
			return canonerr.NewEntityError(canonerr.ErrMergeInvalid, sourceID, "both entities must be active")
		}
		if source.EntityType != target.EntityType {
			return canonerr.NewEntityError(canonerr.ErrMergeInvalid, sourceID, "cannot merge a %s into a %s", source.EntityType, target.EntityType)
		}

		if result.RepointedRows, err = s.ledger.Repoint(ctx, source.EntityType, source.ID, target.ID); err != nil {
			return err
		}
		if result.RetargetedAliases, err = s.aliases.Retarget(ctx, source.ID, target.ID); err != nil {
			return err
		}

		aliasID, err := s.compensatingAlias(ctx, source, target)
		if err != nil {
			return err
		}
		result.AliasID = aliasID

		at := s.now()
		if err := s.entities.Deactivate(ctx, source.ID, at); err != nil {
			return err
		}
		source.IsActive = false
		source.DeactivatedAt = &at

		result.Source = source
		result.Target = target
		return s.audit.Record(ctx, models.EntityMerged{
			SourceEntityID: source.ID,
			TargetEntityID: target.ID,
			AliasID:        aliasID,
			RepointedRows:  result.RepointedRows,
		})
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"source_entity_id": sourceID,
		"target_entity_id": targetID,
		"repointed_rows":   result.RepointedRows,
	}).Info("Merged entities")
	return result, nil
}

// lockPair takes both row locks in id order so two merges over the same pair
// cannot deadlock.
func (s *AliasService) lockPair(ctx context.Context, sourceID, targetID string) (*models.Entity, *models.Entity, error) {
	first, second := sourceID, targetID
	if second < first {
		first, second = second, first
	}

	locked := map[string]*models.Entity{}
	for _, id := range []string{first, second} {
		e, err := s.entities.LockForUpdate(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = e
	}
	return locked[sourceID], locked[targetID], nil
}

// compensatingAlias makes source's normalized name resolve to target. An
// active alias with that name, already retargeted, is reused.
func (s *AliasService) compensatingAlias(ctx context.Context, source, target *models.Entity) (string, error) {
	existing, err := s.aliases.FindActiveByName(ctx, source.EntityType, source.NormalizedName)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.TargetEntityID == target.ID {
		return existing.ID, nil
	}
	if existing != nil {
		if err := s.deactivateAlias(ctx, existing); err != nil {
			return "", err
		}
	}

	actor := appctx.GetActor(ctx)
	alias := &models.EntityAlias{
		AliasName:      source.NormalizedName,
		EntityType:     source.EntityType,
		TargetEntityID: target.ID,
		CreatedBy:      &actor,
	}
	if err := s.aliases.Create(ctx, alias); err != nil {
		return "", err
	}
	if err := s.audit.Record(ctx, models.AliasCreated{
		AliasID:        alias.ID,
		AliasName:      alias.AliasName,
		EntityType:     alias.EntityType,
		TargetEntityID: alias.TargetEntityID,
	}); err != nil {
		return "", err
	}
	return alias.ID, nil
}

// DeactivateEntity soft-deletes the entity and the aliases pointing at it.
// Deactivating an inactive entity is a no-op.
func (s *AliasService) DeactivateEntity(ctx context.Context, id, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "audit.AliasService.DeactivateEntity")
	defer span.End()

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		entity, err := s.entities.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !entity.IsActive {
			return nil
		}

		aliases, err := s.aliases.List(ctx, aliasrepo.Filter{TargetEntityID: id, ActiveOnly: true})
		if err != nil {
			return err
		}
		for i := range aliases {
			if err := s.deactivateAlias(ctx, &aliases[i]); err != nil {
				return err
			}
		}

		if err := s.entities.Deactivate(ctx, id, s.now()); err != nil {
			return err
		}
		return s.audit.Record(ctx, models.EntityDeactivated{EntityID: id, Reason: reason})
	})
	if err != nil {
		tracing.RecordError(span, err)
	}
	return err
}

// PutCanonical maps alias to canonical in the agency or customer map. Writing
// the mapping it already has changes nothing.
func (s *AliasService) PutCanonical(ctx context.Context, kind models.EntityType, alias, canonical string) (*models.CanonicalMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.AliasService.PutCanonical")
	defer span.End()

	alias = strings.TrimSpace(alias)
	canonical = strings.TrimSpace(canonical)
	if alias == "" || canonical == "" {
		return nil, fmt.Errorf("%w: alias and canonical names are required", canonerr.ErrInvalidArgument)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown canonical map %q", canonerr.ErrInvalidArgument, kind)
	}

	var mapping *models.CanonicalMapping
	changed := false
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		previous, err := s.canonical.Get(ctx, kind, alias)
		if err != nil {
			return err
		}
		if previous != nil && previous.CanonicalName == canonical {
			mapping = previous
			return nil
		}

		actor := appctx.GetActor(ctx)
		mapping = &models.CanonicalMapping{
			AliasName:     alias,
			CanonicalName: canonical,
			UpdatedBy:     &actor,
		}
		if err := s.canonical.Upsert(ctx, kind, mapping); err != nil {
			return err
		}
		changed = true

		ev := models.CanonicalMapEdited{MapKind: kind, Alias: alias, Canonical: &canonical}
		if previous != nil {
			ev.Previous = &previous.CanonicalName
		}
		return s.audit.Record(ctx, ev)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	if changed {
		s.invalidator.Invalidate(ctx)
	}
	return mapping, nil
}

// DeleteCanonical removes alias from the map. It reports false when the alias
// was not mapped.
func (s *AliasService) DeleteCanonical(ctx context.Context, kind models.EntityType, alias string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.AliasService.DeleteCanonical")
	defer span.End()

	alias = strings.TrimSpace(alias)
	if !kind.Valid() {
		return false, fmt.Errorf("%w: unknown canonical map %q", canonerr.ErrInvalidArgument, kind)
	}

	deleted := false
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		previous, err := s.canonical.Get(ctx, kind, alias)
		if err != nil || previous == nil {
			return err
		}
		if deleted, err = s.canonical.Delete(ctx, kind, alias); err != nil || !deleted {
			return err
		}
		return s.audit.Record(ctx, models.CanonicalMapEdited{
			MapKind:  kind,
			Alias:    alias,
			Previous: &previous.CanonicalName,
		})
	})
	if err != nil {
		tracing.RecordError(span, err)
		return false, err
	}

	if deleted {
		s.invalidator.Invalidate(ctx)
	}
	return deleted, nil
}
