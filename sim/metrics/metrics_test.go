package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Claimed(5, 3)
	m.RequeuedIDs(2)
	m.Started()
	m.Started()
	m.Finished(OutcomeCompleted, 10*time.Millisecond)
	m.Reclaimed(4)
	m.BatchCompleted()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RunsClaimed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClaimMisses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requeued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsFinished.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsFinished.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.LeasesReclaimed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesCompleted))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Claimed(1, 1)
		m.RequeuedIDs(1)
		m.Started()
		m.Finished(OutcomeFailed, time.Second)
		m.Reclaimed(1)
		m.BatchCompleted()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Claimed(1, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "boardsim_runs_claimed_total 1"))
}
