package events

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Publisher writes one event to a topic
type Publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, event any) error
}

// KafkaSink publishes audit records and notifications to Kafka topics
type KafkaSink struct {
	publisher  Publisher
	auditTopic string
	alertTopic string
}

func NewKafkaSink(publisher Publisher, auditTopic, alertTopic string) *KafkaSink {
	return &KafkaSink{
		publisher:  publisher,
		auditTopic: auditTopic,
		alertTopic: alertTopic,
	}
}

// Record publishes an audit record keyed by mapping id so a mapping's
// history stays ordered on one partition.
func (k *KafkaSink) Record(ctx context.Context, record models.AuditRecord) error {
	key := record.MappingID
	if key == "" {
		key = record.MasterID
	}
	return k.publisher.Publish(ctx, k.auditTopic, key, string(record.Action), record)
}

func (k *KafkaSink) Notify(ctx context.Context, notification models.Notification) error {
	return k.publisher.Publish(ctx, k.alertTopic, notification.Metric, "notification."+notification.Metric, notification)
}
