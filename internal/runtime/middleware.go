package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/vinodismyname/mcpfunnel/pkg/mcperr"
)

// Middleware gates every tool call on the Controller's request semaphore and
// bounds its run time.
type Middleware struct {
	ctrl     *Controller
	log      zerolog.Logger
	timeouts map[string]time.Duration
}

// NewMiddleware constructs a Middleware bound to the provided Controller.
func NewMiddleware(ctrl *Controller, log zerolog.Logger) *Middleware {
	return &Middleware{
		ctrl:     ctrl,
		log:      log.With().Str("component", "runtime").Logger(),
		timeouts: map[string]time.Duration{},
	}
}

// WithToolTimeout overrides the operation timeout for one tool, e.g. a
// model-backed tool that needs longer than the aggregation tools. Call it
// before the server starts.
func (m *Middleware) WithToolTimeout(tool string, d time.Duration) *Middleware {
	m.timeouts[tool] = d
	return m
}

func (m *Middleware) timeout(tool string) time.Duration {
	if d, ok := m.timeouts[tool]; ok {
		return d
	}
	return m.ctrl.limits.OperationTimeout
}

// ToolMiddleware implements mcp-go's tool handler middleware interface.
func (m *Middleware) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tool := req.Params.Name
		acquireCtx := ctx
		if wait := m.ctrl.limits.AcquireRequestTimeout; wait > 0 {
			var cancel context.CancelFunc
			acquireCtx, cancel = context.WithTimeout(ctx, wait)
			defer cancel()
		}
		if err := m.ctrl.AcquireRequest(acquireCtx); err != nil {
			capacity := m.ctrl.limits.MaxConcurrentRequests
			m.log.Warn().Str("tool", tool).Int("max", capacity).Msg("request rejected: at capacity")
			return mcperr.Wrapf(mcperr.BusyResource, "concurrent request limit reached (max=%d)", capacity), nil
		}
		defer m.ctrl.ReleaseRequest()

		limit := m.timeout(tool)
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if limit > 0 {
			callCtx, cancel = context.WithTimeout(ctx, limit)
		}
		defer cancel()

		started := time.Now()
		res, err := next(callCtx, req)

		timedOut := errors.Is(err, context.DeadlineExceeded) ||
			(errors.Is(callCtx.Err(), context.DeadlineExceeded) && err == nil && res == nil)
		if timedOut {
			m.log.Warn().Str("tool", tool).Dur("timeout", limit).Dur("elapsed", time.Since(started)).Msg("tool call timed out")
			return mcperr.New(mcperr.Timeout, ""), nil
		}
		if errors.Is(err, context.Canceled) {
			return mcperr.New(mcperr.Timeout, "request canceled"), nil
		}
		return res, err
	}
}
