// Package events delivers the side effects of matching and verification:
// audit records, cache invalidations and operational notifications. Delivery
// is fire-and-forget; a failing sink is logged and never fails the caller.
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// AuditSink accepts append-only audit records
type AuditSink interface {
	Record(ctx context.Context, record models.AuditRecord) error
}

// Invalidator drops cached reports for changed entities
type Invalidator interface {
	Invalidate(ctx context.Context, invalidations ...models.Invalidation) error
}

// Notifier raises operational alerts
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}

// Hooks fans side effects out to the configured sinks. Nil sinks are skipped.
type Hooks struct {
	audit    AuditSink
	cache    Invalidator
	notifier Notifier
	logger   ectologger.Logger
	now      func() time.Time
}

func NewHooks(logger ectologger.Logger, audit AuditSink, cache Invalidator, notifier Notifier) *Hooks {
	return &Hooks{
		audit:    audit,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Audit records a transition. The timestamp is filled when missing.
func (h *Hooks) Audit(ctx context.Context, record models.AuditRecord) {
	if h == nil || h.audit == nil {
		return
	}
	ctx, span := tracing.StartSpan(ctx, "events.Hooks.Audit")
	defer span.End()

	if record.Timestamp.IsZero() {
		record.Timestamp = h.now()
	}
	if err := h.audit.Record(ctx, record); err != nil {
		h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"action":     record.Action,
			"mapping_id": record.MappingID,
			"master_id":  record.MasterID,
		}).Warn("Failed to record audit entry")
	}
}

// Invalidate signals that the given mapping and master product changed.
// Empty ids are skipped.
func (h *Hooks) Invalidate(ctx context.Context, mappingID string, masterIDs ...string) {
	if h == nil || h.cache == nil {
		return
	}

	var invalidations []models.Invalidation
	if mappingID != "" {
		invalidations = append(invalidations, models.Invalidation{EntityType: models.EntityTypeMapping, ID: mappingID})
	}
	for _, id := range masterIDs {
		if id != "" {
			invalidations = append(invalidations, models.Invalidation{EntityType: models.EntityTypeMasterProduct, ID: id})
		}
	}
	if len(invalidations) == 0 {
		return
	}

	if err := h.cache.Invalidate(ctx, invalidations...); err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("mapping_id", mappingID).Warn("Failed to invalidate report cache")
	}
}

// Notify raises an alert. The timestamp is filled when missing.
func (h *Hooks) Notify(ctx context.Context, notification models.Notification) {
	if h == nil || h.notifier == nil {
		return
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = h.now()
	}
	if err := h.notifier.Notify(ctx, notification); err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("metric", notification.Metric).Warn("Failed to send notification")
	}
}
