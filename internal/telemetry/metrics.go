package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the funnel server.
type Metrics struct {
	ToolCalls         *prometheus.CounterVec
	ToolDuration      *prometheus.HistogramVec
	LeadsLoaded       prometheus.Counter
	RowsSkipped       prometheus.Counter
	OpenDatasets      prometheus.Gauge
	InsightsGenerated *prometheus.CounterVec
	NarrativeTokens   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses a private registry, which keeps tests isolated.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpfunnel_tool_calls_total",
				Help: "Tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpfunnel_tool_duration_seconds",
				Help:    "Tool call duration in seconds",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30},
			},
			[]string{"tool"},
		),
		LeadsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpfunnel_leads_loaded_total",
			Help: "Lead rows accepted by loads",
		}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpfunnel_rows_skipped_total",
			Help: "Rows skipped or dropped during loads",
		}),
		OpenDatasets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcpfunnel_open_datasets",
			Help: "Datasets currently held in memory",
		}),
		InsightsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpfunnel_insights_total",
				Help: "Insights emitted by kind",
			},
			[]string{"kind"},
		),
		NarrativeTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpfunnel_narrative_tokens_total",
				Help: "Estimated language model tokens used for narratives",
			},
			[]string{"model", "type"},
		),
		gatherer: reg,
	}
	reg.MustRegister(m.ToolCalls, m.ToolDuration, m.LeadsLoaded, m.RowsSkipped, m.OpenDatasets, m.InsightsGenerated, m.NarrativeTokens)
	return m
}

// ToolMiddleware records call counts and latency. Tool errors count as
// outcome "error" even though they are not transport errors.
func (m *Metrics) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := next(ctx, req)
		outcome := "ok"
		if err != nil || (res != nil && res.IsError) {
			outcome = "error"
		}
		m.ToolCalls.WithLabelValues(req.Params.Name, outcome).Inc()
		m.ToolDuration.WithLabelValues(req.Params.Name).Observe(time.Since(start).Seconds())
		return res, err
	}
}

// Handler serves /healthz, /readyz and /metrics. ready reports whether the
// server can take work; nil means always ready.
func (m *Metrics) Handler(ready func() bool) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	return r
}
