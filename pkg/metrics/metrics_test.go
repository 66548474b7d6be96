package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordVerification(t *testing.T) {
	before := testutil.ToFloat64(VerificationsTotal.WithLabelValues("approve", "error"))
	RecordVerification("approve", errors.New("missing master id"))
	assert.Equal(t, before+1, testutil.ToFloat64(VerificationsTotal.WithLabelValues("approve", "error")))
}

func TestRecordJobLifecycle(t *testing.T) {
	inFlight := testutil.ToFloat64(QueueJobsInFlight)
	processed := testutil.ToFloat64(QueueJobsProcessed.WithLabelValues("match_sku", "completed"))

	RecordJobStart()
	assert.Equal(t, inFlight+1, testutil.ToFloat64(QueueJobsInFlight))
	RecordJobEnd("match_sku", "completed", 20*time.Millisecond)

	assert.Equal(t, inFlight, testutil.ToFloat64(QueueJobsInFlight))
	assert.Equal(t, processed+1, testutil.ToFloat64(QueueJobsProcessed.WithLabelValues("match_sku", "completed")))
}

func TestSetPendingMappings(t *testing.T) {
	SetPendingMappings(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(PendingMappings))
}
