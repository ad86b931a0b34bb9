package agent

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for runs, tools, retrieval and storage.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	RunSteps          prometheus.Histogram
	RunToolCalls      prometheus.Histogram
	ModelCallsTotal   *prometheus.CounterVec
	ModelCallDuration prometheus.Histogram
	ModelTokensIn     prometheus.Counter
	ModelTokensOut    prometheus.Counter
	ToolCallsTotal    *prometheus.CounterVec
	ToolDuration      *prometheus.HistogramVec
	KBSearchesTotal   *prometheus.CounterVec
	KBSearchDuration  prometheus.Histogram
	DBQueryDuration   *prometheus.HistogramVec
	SubmitsTotal      *prometheus.CounterVec
	ApprovalDepth     prometheus.Gauge
}

// NewMetrics registers and returns metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "responder_runs_total",
			Help: "Total orchestration runs by status and failure reason.",
		}, []string{"status", "reason"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "responder_run_duration_seconds",
			Help:    "Duration of orchestration runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"status"}),
		RunSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "responder_run_steps",
			Help:    "Model calls per run.",
			Buckets: prometheus.LinearBuckets(0, 1, MaxSteps+1),
		}),
		RunToolCalls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "responder_run_tool_calls",
			Help:    "Tool calls per run.",
			Buckets: prometheus.LinearBuckets(0, 2, 11), // 0 .. 20
		}),
		ModelCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "responder_model_calls_total",
			Help: "Total model transport calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ModelCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "responder_model_call_duration_seconds",
			Help:    "Duration of individual model calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. ~32s
		}),
		ModelTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "responder_model_tokens_input_total",
			Help: "Total model input tokens consumed.",
		}),
		ModelTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "responder_model_tokens_output_total",
			Help: "Total model output tokens consumed.",
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "responder_tool_calls_total",
			Help: "Total tool dispatches by tool and status.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "responder_tool_duration_seconds",
			Help:    "Duration of tool dispatches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
		}, []string{"tool"}),
		KBSearchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "responder_kb_searches_total",
			Help: "Total knowledge base searches by outcome.",
		}, []string{"outcome"}),
		KBSearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "responder_kb_search_duration_seconds",
			Help:    "Duration of knowledge base searches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10), // 0.5ms .. ~256ms
		}),
		DBQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "responder_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}, []string{"operation", "outcome"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "responder_submits_total",
			Help: "Total alert submissions by how they were run.",
		}, []string{"mode"}),
		ApprovalDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "responder_approval_queue_depth",
			Help: "Approvals waiting to be taken.",
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunSteps,
		m.RunToolCalls,
		m.ModelCallsTotal,
		m.ModelCallDuration,
		m.ModelTokensIn,
		m.ModelTokensOut,
		m.ToolCallsTotal,
		m.ToolDuration,
		m.KBSearchesTotal,
		m.KBSearchDuration,
		m.DBQueryDuration,
		m.SubmitsTotal,
		m.ApprovalDepth,
	)

	return m
}

// Hooks returns EngineHooks that record into m.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnModelCall: func(provider, _ string, inputTokens, outputTokens int, duration float64, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.ModelCallsTotal.WithLabelValues(provider, outcome).Inc()
			m.ModelCallDuration.Observe(duration)
			m.ModelTokensIn.Add(float64(inputTokens))
			m.ModelTokensOut.Add(float64(outputTokens))
		},
		OnToolCall: func(tool string, duration float64, failed bool) {
			status := "success"
			if failed {
				status = "error"
			}
			m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
			m.ToolDuration.WithLabelValues(tool).Observe(duration)
		},
		OnComplete: func(e *CompleteEvent) {
			status := "complete"
			if e.Failed {
				status = "failed"
			}
			m.RunsTotal.WithLabelValues(status, e.Reason).Inc()
			m.RunDuration.WithLabelValues(status).Observe(e.Duration)
			m.RunSteps.Observe(float64(e.Steps))
			m.RunToolCalls.Observe(float64(e.ToolCalls))
		},
	}
}

// ObserveKBSearch matches kb.SearchHook.
func (m *Metrics) ObserveKBSearch(_ int, dur time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.KBSearchesTotal.WithLabelValues(outcome).Inc()
	m.KBSearchDuration.Observe(dur.Seconds())
}

// ObserveQuery implements postgres.QueryObserver.
func (m *Metrics) ObserveQuery(_ context.Context, operation, outcome string, dur time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, outcome).Observe(dur.Seconds())
}

// SetApprovalDepth records the current approval queue length.
func (m *Metrics) SetApprovalDepth(n int) {
	m.ApprovalDepth.Set(float64(n))
}
