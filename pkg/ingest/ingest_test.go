package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeQueue struct {
	payloads []models.JobPayload
	opts     []models.EnqueueOptions
	err      error
}

func (f *fakeQueue) Enqueue(_ context.Context, payload models.JobPayload, opts models.EnqueueOptions) (*models.QueueJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	f.opts = append(f.opts, opts)
	return &models.QueueJob{ID: fmt.Sprintf("job-%d", len(f.payloads)), JobType: payload.JobType()}, nil
}

func newHandler(q *fakeQueue) *Handler {
	return NewHandler(q, models.JobPriorityNormal, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func TestHandleMessage_EnqueuesMatchJob(t *testing.T) {
	q := &fakeQueue{}
	msg := kafka.Message{Topic: "external-sku-records", Value: []byte(`{"external_sku":"WB-100","source":"wildberries","name":"Коврик для йоги","brand":"Demix"}`)}

	require.NoError(t, newHandler(q).HandleMessage(context.Background(), msg))

	require.Len(t, q.payloads, 1)
	payload := q.payloads[0].(models.MatchSKUPayload)
	assert.Equal(t, "WB-100", payload.Record.ExternalSKU)
	assert.Equal(t, "Demix", payload.Record.Brand)
	assert.Equal(t, models.JobPriorityNormal, q.opts[0].Priority)
}

func TestHandleMessage_DropsBadRecords(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not json", `not json`},
		{"missing name", `{"external_sku":"WB-100","source":"wildberries"}`},
		{"missing sku", `{"source":"wildberries","name":"Коврик"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{}
			err := newHandler(q).HandleMessage(context.Background(), kafka.Message{Value: []byte(tt.value)})
			assert.NoError(t, err)
			assert.Empty(t, q.payloads)
		})
	}
}

func TestHandleMessage_ReturnsEnqueueFailure(t *testing.T) {
	q := &fakeQueue{err: fmt.Errorf("connection refused")}
	msg := kafka.Message{Value: []byte(`{"external_sku":"OZ-1","source":"ozon","name":"Apple iPhone 14"}`)}

	assert.Error(t, newHandler(q).HandleMessage(context.Background(), msg))
}
