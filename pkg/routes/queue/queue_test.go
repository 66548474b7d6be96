package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/inject"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	jobqueue "github.com/Ramsey-B/clover/pkg/queue"
	"github.com/Ramsey-B/clover/pkg/queue/queuetest"
)

type fixture struct {
	store *queuetest.Store
	queue *jobqueue.Queue
	e     *echo.Echo
}

func newFixture(t *testing.T) *fixture {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	store := queuetest.NewStore()
	q := jobqueue.NewQueue(store, events.NewHooks(logger, nil, nil, nil), jobqueue.DefaultConfig(), logger)

	id := "queue-" + uuid.NewString()
	container, err := inject.NewContainer(id)
	require.NoError(t, err)
	require.NoError(t, inject.Provide[JobQueue](container, q))
	require.NoError(t, inject.Provide(container, logger))

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Container(id))
	Register(e.Group("/queue"))
	return &fixture{store: store, queue: q, e: e}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/queue/jobs", `{"job_type":"rematch_mapping","payload":{"mapping_id":"m-1"},"priority":10}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var job models.QueueJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.JobTypeRematchMapping, job.JobType)
	assert.Equal(t, models.JobPriorityHigh, job.Priority)
	assert.Equal(t, models.JobStatusPending, job.Status)

	rec = f.do(http.MethodGet, "/queue/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEnqueue_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"job_type":"resize_image","payload":{}}`},
		{"payload mismatch", `{"job_type":"rematch_mapping","payload":{"mapping_id":42}}`},
		{"missing payload", `{"job_type":"match_sku"}`},
		{"too many attempts", `{"job_type":"rematch_mapping","payload":{"mapping_id":"m-1"},"max_attempts":99}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodPost, "/queue/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, f.store.Jobs())
		})
	}
}

func TestGetJob_NotFound(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/queue/jobs/missing", "").Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.Enqueue(context.Background(), models.RematchMappingPayload{MappingID: "m-1"}, models.EnqueueOptions{})
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/queue/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.QueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.StatusCounts[models.JobStatusPending])
	assert.Equal(t, 1, stats.JobTypeCounts[models.JobTypeRematchMapping])
}

func TestResetStuck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, err := f.queue.Enqueue(ctx, models.RematchMappingPayload{MappingID: "m-1"}, models.EnqueueOptions{})
	require.NoError(t, err)
	_, err = f.queue.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	f.store.SetClaimedAt(job.ID, time.Now().UTC().Add(-20*time.Minute))

	rec := f.do(http.MethodPost, "/queue/reset-stuck", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reset":0}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/queue/reset-stuck?timeout=10m", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reset":1}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/queue/reset-stuck?timeout=soon", "").Code)
}
