package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/vinodismyname/mcpfunnel/config"
	"github.com/vinodismyname/mcpfunnel/internal/analysis"
	"github.com/vinodismyname/mcpfunnel/internal/datasets"
	"github.com/vinodismyname/mcpfunnel/internal/narrative"
	"github.com/vinodismyname/mcpfunnel/internal/runtime"
	"github.com/vinodismyname/mcpfunnel/internal/security"
	"github.com/vinodismyname/mcpfunnel/internal/telemetry"
)

// ToolProvider resolves MCP tool definitions.
type ToolProvider interface {
	Tools(context.Context) ([]mcp.Tool, error)
}

// Registry keeps the tool definitions registered with the server.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]mcp.Tool
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{tools: map[string]mcp.Tool{}}
}

// Register stores a tool definition for discovery.
func (r *Registry) Register(tool mcp.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns a tool by name when present.
func (r *Registry) Get(name string) (mcp.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns the registered definitions sorted by name.
func (r *Registry) Tools(ctx context.Context) ([]mcp.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]mcp.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})
	return tools, ctx.Err()
}

// Deps are the services the tool handlers call into.
type Deps struct {
	Store    *datasets.Store
	Analyzer *analysis.Analyzer
	// Narrator may hold a nil model; narrate_insights then falls back or
	// reports NARRATIVE_UNAVAILABLE.
	Narrator *narrative.Narrator
	// NarrativeTimeout bounds one model call; zero uses the operation timeout.
	NarrativeTimeout time.Duration
	Security         *security.Manager
	EnableExports    bool
	Metrics          *telemetry.Metrics
	Limits           runtime.Limits
	Analysis         config.AnalysisConfig
	Log              zerolog.Logger
}

// Handlers implements every funnel tool. Methods take typed inputs so tests
// can call them without a server.
type Handlers struct {
	Deps
	clock func() time.Time
}

// NewHandlers fills unset dependencies with defaults.
func NewHandlers(d Deps) *Handlers {
	if d.Analyzer == nil {
		d.Analyzer = analysis.New(d.Log)
	}
	if d.Narrator == nil {
		d.Narrator = narrative.New(nil, "", d.Log)
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.NewMetrics(nil)
	}
	if d.Limits.MaxPayloadBytes <= 0 {
		d.Limits = runtime.NewLimits(config.DefaultMaxConcurrentRequests, config.DefaultMaxOpenWorkbooks)
	}
	if d.Analysis.MaxInsights <= 0 {
		d.Analysis.MaxInsights = config.DefaultMaxInsights
	}
	if d.Narrator.OnTokens == nil {
		m := d.Metrics
		d.Narrator.OnTokens = func(model string, prompt, completion int) {
			m.NarrativeTokens.WithLabelValues(model, "prompt").Add(float64(prompt))
			m.NarrativeTokens.WithLabelValues(model, "completion").Add(float64(completion))
		}
	}
	d.Log = d.Log.With().Str("component", "tools").Logger()
	return &Handlers{Deps: d, clock: time.Now}
}

// RegisterAll wires every funnel tool onto s and records it in reg.
func RegisterAll(s *server.MCPServer, reg *Registry, h *Handlers) {
	RegisterFoundationTools(s, reg, h)
	RegisterMetricTools(s, reg, h)
	RegisterInsightsTools(s, reg, h)
}
