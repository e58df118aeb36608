package primary

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
)

// CacheSyncer writes denormalized scalars onto the entity row. It runs inside
// the caller's transaction and touches only the one entity it is given.
type CacheSyncer struct {
	entities EntityStore
	logger   ectologger.Logger
}

func NewCacheSyncer(entities EntityStore, logger ectologger.Logger) *CacheSyncer {
	return &CacheSyncer{
		entities: entities,
		logger:   logger,
	}
}

// Sync sets field to value. The entity passed in is updated to match, and the
// write is skipped when the row already holds value.
func (s *CacheSyncer) Sync(ctx context.Context, entity *models.Entity, field models.CacheField, value *string) error {
	if equalPtr(entity.Value(field), value) {
		return nil
	}
	if err := s.entities.SetCacheField(ctx, entity.ID, field, value); err != nil {
		return err
	}
	entity.SetValue(field, value)

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": entity.ID,
		"field":     field,
	}).Debug("Synced entity cache field")
	return nil
}

// SyncRecord projects rec, the new primary of spec's kind or nil, onto the entity.
func (s *CacheSyncer) SyncRecord(ctx context.Context, entity *models.Entity, spec models.KindSpec, rec *models.RelatedRecord) error {
	return s.Sync(ctx, entity, spec.CacheField, models.CacheValue(spec, rec))
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
