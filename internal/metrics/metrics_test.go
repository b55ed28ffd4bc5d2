package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.TokenIssued("authorization_code")
	m.TokenIssued("authorization_code")
	m.Replay("refresh_token")
	m.ToolCall("list_tasks", "ok", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TokensIssued.WithLabelValues("authorization_code")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplayDetected.WithLabelValues("refresh_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("list_tasks", "ok")))
}

func TestMetricsReRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	second.GrantFailed("refresh_token")
	assert.Equal(t, 1.0, testutil.ToFloat64(first.GrantFailures.WithLabelValues("refresh_token")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TokenIssued("x")
		m.GrantFailed("x")
		m.Replay("x")
		m.ToolCall("x", "ok", time.Second)
	})
}
