// Package metrics defines the Prometheus collectors for the oauth and
// dispatch paths. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	TokensIssued    *prometheus.CounterVec
	GrantFailures   *prometheus.CounterVec
	ReplayDetected  *prometheus.CounterVec
	ToolCalls       *prometheus.CounterVec
	ToolCallSeconds *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg (the default
// registerer when nil). Collectors already registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "track_oauth_tokens_issued_total",
			Help: "Token pairs issued, by grant type.",
		}, []string{"grant"}),
		GrantFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "track_oauth_grant_failures_total",
			Help: "Rejected token requests, by grant type.",
		}, []string{"grant"}),
		ReplayDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "track_oauth_replay_detected_total",
			Help: "Reused authorization codes or refresh tokens.",
		}, []string{"kind"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "track_tool_calls_total",
			Help: "Tool calls, by tool and outcome code.",
		}, []string{"tool", "outcome"}),
		ToolCallSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "track_tool_call_duration_seconds",
			Help:    "Tool call latency including upstream retries.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"tool"}),
	}
	if err := register(reg, &m.TokensIssued); err != nil {
		return nil, err
	}
	if err := register(reg, &m.GrantFailures); err != nil {
		return nil, err
	}
	if err := register(reg, &m.ReplayDetected); err != nil {
		return nil, err
	}
	if err := register(reg, &m.ToolCalls); err != nil {
		return nil, err
	}
	if err := register(reg, &m.ToolCallSeconds); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	if err := reg.Register(*c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		existing, ok := are.ExistingCollector.(C)
		if !ok {
			return err
		}
		*c = existing
	}
	return nil
}

func (m *Metrics) TokenIssued(grant string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(grant).Inc()
}

func (m *Metrics) GrantFailed(grant string) {
	if m == nil {
		return
	}
	m.GrantFailures.WithLabelValues(grant).Inc()
}

func (m *Metrics) Replay(kind string) {
	if m == nil {
		return
	}
	m.ReplayDetected.WithLabelValues(kind).Inc()
}

func (m *Metrics) ToolCall(tool, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolCallSeconds.WithLabelValues(tool).Observe(took.Seconds())
}
