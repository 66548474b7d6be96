// Package cache invalidates report caches kept in Redis when mappings or
// master products change.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	DefaultKeyPrefix = "clover:report"
	DefaultChannel   = "clover:invalidations"
)

// Store is the part of the Redis client the invalidator needs
type Store interface {
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	Publish(ctx context.Context, channel string, message any) error
}

// RedisInvalidator drops cached report entries, bumps a per-entity-type
// version counter so readers holding stale aggregates can tell, and
// announces the change on a pub/sub channel.
type RedisInvalidator struct {
	store     Store
	keyPrefix string
	channel   string
	logger    ectologger.Logger
}

func NewRedisInvalidator(store Store, keyPrefix, channel string, logger ectologger.Logger) *RedisInvalidator {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisInvalidator{
		store:     store,
		keyPrefix: keyPrefix,
		channel:   channel,
		logger:    logger,
	}
}

// ReportKey is the cache key of an entity's report
func (r *RedisInvalidator) ReportKey(inv models.Invalidation) string {
	return fmt.Sprintf("%s:%s:%s", r.keyPrefix, inv.EntityType, inv.ID)
}

// VersionKey is the counter bumped whenever any entity of the type changes
func (r *RedisInvalidator) VersionKey(entityType models.EntityType) string {
	return fmt.Sprintf("%s:%s:version", r.keyPrefix, entityType)
}

func (r *RedisInvalidator) Invalidate(ctx context.Context, invalidations ...models.Invalidation) error {
	ctx, span := tracing.StartSpan(ctx, "cache.RedisInvalidator.Invalidate")
	defer span.End()

	if len(invalidations) == 0 {
		return nil
	}

	keys := make([]string, 0, len(invalidations))
	types := map[models.EntityType]struct{}{}
	for _, inv := range invalidations {
		keys = append(keys, r.ReportKey(inv))
		types[inv.EntityType] = struct{}{}
	}

	if err := r.store.Del(ctx, keys...); err != nil {
		return tracing.RecordError(span, fmt.Errorf("failed to delete report keys: %w", err))
	}

	for entityType := range types {
		if _, err := r.store.Incr(ctx, r.VersionKey(entityType)); err != nil {
			return tracing.RecordError(span, fmt.Errorf("failed to bump %s version: %w", entityType, err))
		}
	}

	payload, err := json.Marshal(invalidations)
	if err != nil {
		return err
	}
	if err := r.store.Publish(ctx, r.channel, payload); err != nil {
		return tracing.RecordError(span, fmt.Errorf("failed to publish invalidation: %w", err))
	}

	r.logger.WithContext(ctx).WithField("keys", keys).Debug("Invalidated report cache")
	return nil
}
