// Package ingest turns external SKU records arriving on Kafka into
// match_sku jobs.
package ingest

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// Enqueuer stores matching work
type Enqueuer interface {
	Enqueue(ctx context.Context, payload models.JobPayload, opts models.EnqueueOptions) (*models.QueueJob, error)
}

// Handler consumes source records
type Handler struct {
	queue    Enqueuer
	priority models.JobPriority
	logger   ectologger.Logger
}

func NewHandler(queue Enqueuer, priority models.JobPriority, logger ectologger.Logger) *Handler {
	return &Handler{
		queue:    queue,
		priority: priority,
		logger:   logger,
	}
}

// HandleMessage enqueues a match job for the record in msg. Malformed or
// invalid records are logged and dropped so they do not block the
// partition; an enqueue failure is returned so the message is redelivered.
func (h *Handler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	ctx, span := tracing.StartSpan(ctx, "ingest.Handler.HandleMessage")
	defer span.End()

	log := h.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"key":       string(msg.Key),
	})

	var record models.SourceRecord
	if err := json.Unmarshal(msg.Value, &record); err != nil {
		log.WithError(err).Warn("Dropping malformed source record")
		return nil
	}
	if _, err := utils.Validate(record); err != nil {
		log.WithError(err).Warn("Dropping invalid source record")
		return nil
	}

	job, err := h.queue.Enqueue(ctx, models.MatchSKUPayload{Record: record}, models.EnqueueOptions{Priority: h.priority})
	if err != nil {
		return tracing.RecordError(span, err)
	}

	log.WithFields(map[string]any{
		"job_id":       job.ID,
		"external_sku": record.ExternalSKU,
		"source":       record.Source,
	}).Debug("Enqueued source record for matching")
	return nil
}
