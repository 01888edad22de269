package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	require.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestCounters(t *testing.T) {
	Register()

	before := testutil.ToFloat64(jobsEnqueued.WithLabelValues("push-invoice"))
	IncJobsEnqueued("push-invoice")
	assert.Equal(t, before+1, testutil.ToFloat64(jobsEnqueued.WithLabelValues("push-invoice")))

	before = testutil.ToFloat64(jobsProcessed.WithLabelValues("push-invoice", "completed"))
	IncJobsProcessed("push-invoice", "completed")
	assert.Equal(t, before+1, testutil.ToFloat64(jobsProcessed.WithLabelValues("push-invoice", "completed")))

	before = testutil.ToFloat64(tokenRefreshes.WithLabelValues("invalid_grant"))
	IncTokenRefresh("invalid_grant")
	assert.Equal(t, before+1, testutil.ToFloat64(tokenRefreshes.WithLabelValues("invalid_grant")))

	before = testutil.ToFloat64(auditWriteFailures)
	IncAuditWriteFailure()
	assert.Equal(t, before+1, testutil.ToFloat64(auditWriteFailures))
}

func TestObserveRateLimitWait(t *testing.T) {
	require.NotPanics(t, func() {
		ObserveRateLimitWait(0.005)
	})
}
