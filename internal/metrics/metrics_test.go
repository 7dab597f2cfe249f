package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := New()

	m.RequestStarted("user_text")
	m.InvocationFinished("ok", 2*time.Second, 0.25)
	m.Failure("timeout")
	m.Failure("timeout")
	m.Event("assistant_text")
	m.Relay(1, 9)
	m.IdleInjected()
	m.QueueDepth(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("user_text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.failures.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayed))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.idle))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.running))
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.cost), 1e-9)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RequestStarted("x")
	m.InvocationFinished("ok", time.Second, 1)
	m.Failure("generic")
	m.Event("error")
	m.Relay(1, 1)
	m.IdleInjected()
	m.QueueDepth(1)
	assert.NotNil(t, m.Handler())
}

func TestHandlerExposes(t *testing.T) {
	m := New()
	m.IdleInjected()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "agentrelay_idle_injections_total 1")
}
