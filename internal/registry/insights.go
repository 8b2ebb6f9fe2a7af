package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vinodismyname/mcpfunnel/internal/analysis"
	"github.com/vinodismyname/mcpfunnel/internal/campaigns"
	"github.com/vinodismyname/mcpfunnel/internal/export"
	"github.com/vinodismyname/mcpfunnel/internal/funnel"
	"github.com/vinodismyname/mcpfunnel/internal/insights"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
	"github.com/vinodismyname/mcpfunnel/internal/narrative"
	"github.com/vinodismyname/mcpfunnel/pkg/mcperr"
	"github.com/vinodismyname/mcpfunnel/pkg/validation"
)

// PeriodInput selects the current period and, optionally, the period it is
// compared with.
type PeriodInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset ID for the current period"`
	Dimension string `json:"dimension,omitempty" validate:"omitempty,dimension" jsonschema_description:"campaign (default), source or medium"`
	WindowInput
	PreviousDatasetID string `json:"previous_dataset_id,omitempty" jsonschema_description:"Dataset holding the previous period, e.g. last month's export"`
	PreviousStart     string `json:"previous_start,omitempty" validate:"omitempty,datetime_or_date" jsonschema_description:"Explicit previous period start"`
	PreviousEnd       string `json:"previous_end,omitempty" validate:"required_with=PreviousStart" jsonschema_description:"Explicit previous period end"`
	ComparePrevious   bool   `json:"compare_previous,omitempty" jsonschema_description:"Compare with the equal-length window just before start"`
	MinLeads          *int   `json:"min_leads,omitempty" validate:"omitempty,gte=0" jsonschema_description:"Groups with fewer leads are left out of rankings and insights"`
}

// MarketingInsightsInput defines parameters for marketing_insights.
type MarketingInsightsInput struct {
	PeriodInput
	MaxInsights int `json:"max_insights,omitempty" validate:"omitempty,min=1,max=100" jsonschema_description:"Maximum insights returned"`
	TopRows     int `json:"top_rows,omitempty" validate:"omitempty,min=0,max=100" jsonschema_description:"Ranked groups included for context"`
}

// MarketingInsightsOutput is the prioritized findings for a period.
type MarketingInsightsOutput struct {
	Dimension       leads.Dimension       `json:"dimension"`
	Summary         funnel.PeriodSummary  `json:"summary"`
	PreviousSummary *funnel.PeriodSummary `json:"previous_summary,omitempty"`
	Compared        bool                  `json:"compared" jsonschema_description:"True when period-over-period rules were evaluated"`
	Insights        []insights.Insight    `json:"insights"`
	ByKind          map[string]int        `json:"by_kind"`
	Groups          int                   `json:"groups" jsonschema_description:"Groups meeting min_leads"`
	Excluded        int                   `json:"excluded_groups"`
	TopRows         []campaigns.Row       `json:"top_rows,omitempty"`
}

// NarrateInsightsInput defines parameters for narrate_insights.
type NarrateInsightsInput struct {
	PeriodInput
	Question      string `json:"question,omitempty" validate:"omitempty,max=2000" jsonschema_description:"Optional focus for the briefing"`
	AllowFallback bool   `json:"allow_fallback,omitempty" jsonschema_description:"Return a rule-based briefing when no model is configured"`
}

// NarrateInsightsOutput carries the briefing and what it was built from.
type NarrateInsightsOutput struct {
	narrative.Narrative
	Fallback bool `json:"fallback" jsonschema_description:"True when the text was composed without a model"`
}

// ExportMetricsInput defines parameters for export_metrics.
type ExportMetricsInput struct {
	PeriodInput
	Path   string `json:"path" validate:"required,exportpath" jsonschema_description:"Target .csv (metrics only) or .xlsx (metrics, changes and insights sheets) inside an allowed directory"`
	SortBy string `json:"sort_by,omitempty" validate:"omitempty,sortkey" jsonschema_description:"Row order of the metrics sheet"`
}

// ExportMetricsOutput documents the written file.
type ExportMetricsOutput struct {
	Path        string    `json:"path"`
	Format      string    `json:"format"`
	Rows        int       `json:"rows" jsonschema_description:"Data rows written across all sheets"`
	GeneratedAt time.Time `json:"generated_at"`
}

// RegisterInsightsTools wires the insight, narrative and export tools.
func RegisterInsightsTools(s *server.MCPServer, reg *Registry, h *Handlers) {
	mi := mcp.NewTool(
		"marketing_insights",
		mcp.WithDescription("Rule-based findings for a period, most important first: top volume, best conversion and funnel efficiency, high disqualification (warning or critical), high no-show, missed opportunities, zero-conversion campaigns, untracked traffic share and, when a previous period is given, sales regressions and disqualification rises. Give previous_dataset_id, previous_start/previous_end or compare_previous to enable the period rules. Kinds: positive, warning, critical, info, opportunity; priority 1 is highest."),
		mcp.WithInputSchema[MarketingInsightsInput](),
		mcp.WithOutputSchema[MarketingInsightsOutput](),
	)
	s.AddTool(mi, mcp.NewTypedToolHandler(h.MarketingInsights))
	reg.Register(mi)

	ni := mcp.NewTool(
		"narrate_insights",
		mcp.WithDescription("Turn the funnel summary, ranked groups and insights into a short written briefing using the configured language model. The prompt is trimmed to the token budget by dropping the lowest ranked groups, then the lowest priority insights. question adds optional focus and is sanitized. Errors: NARRATIVE_UNAVAILABLE when no model is configured (set allow_fallback for a rule-based briefing), NARRATIVE_FAILED."),
		mcp.WithInputSchema[NarrateInsightsInput](),
		mcp.WithOutputSchema[NarrateInsightsOutput](),
	)
	s.AddTool(ni, mcp.NewTypedToolHandler(h.NarrateInsights))
	reg.Register(ni)

	ex := mcp.NewTool(
		"export_metrics",
		mcp.WithDescription("Write grouped metrics, period changes and insights to a .xlsx workbook, or the metrics table alone to .csv, inside an allowed directory. Hidden unless exports are enabled."),
		mcp.WithInputSchema[ExportMetricsInput](),
		mcp.WithOutputSchema[ExportMetricsOutput](),
	)
	s.AddTool(ex, mcp.NewTypedToolHandler(h.ExportMetrics))
	reg.Register(ex)
}

// request resolves datasets and windows into an analysis request. With
// needPrevious set and nothing else given, the previous period defaults to
// the window before start.
func (h *Handlers) request(in PeriodInput, needPrevious bool) (analysis.Request, *mcp.CallToolResult) {
	e, res := h.dataset(in.DatasetID)
	if res != nil {
		return analysis.Request{}, res
	}
	win, res := in.WindowInput.parse()
	if res != nil {
		return analysis.Request{}, res
	}
	prevWin, res := WindowInput{Start: in.PreviousStart, End: in.PreviousEnd}.parse()
	if res != nil {
		return analysis.Request{}, res
	}

	req := analysis.Request{
		Current:     analysis.Period{Dataset: e.Dataset, Window: win},
		Dimension:   dimensionOf(in.Dimension),
		MinLeads:    h.minLeads(in.MinLeads),
		MaxInsights: h.Analysis.MaxInsights,
	}
	switch {
	case strings.TrimSpace(in.PreviousDatasetID) != "":
		pe, res := h.dataset(in.PreviousDatasetID)
		if res != nil {
			return analysis.Request{}, res
		}
		req.Previous = &analysis.Period{Dataset: pe.Dataset, Window: prevWin}
	case prevWin != nil:
		req.Previous = &analysis.Period{Dataset: e.Dataset, Window: prevWin}
	case in.ComparePrevious || needPrevious:
		if win == nil {
			return analysis.Request{}, mcperr.New(mcperr.Validation, "a previous period needs previous_dataset_id, previous_start/previous_end, or start and end")
		}
		req.Previous = &analysis.Period{Dataset: e.Dataset, Window: win.Previous()}
	}
	return req, nil
}

func (h *Handlers) recordInsights(ins []insights.Insight) map[string]int {
	byKind := map[string]int{}
	for _, i := range ins {
		byKind[string(i.Kind)]++
		h.Metrics.InsightsGenerated.WithLabelValues(string(i.Kind)).Inc()
	}
	return byKind
}

// MarketingInsights runs the insight rules over a period.
func (h *Handlers) MarketingInsights(ctx context.Context, _ mcp.CallToolRequest, in MarketingInsightsInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	req, res := h.request(in.PeriodInput, false)
	if res != nil {
		return res, nil
	}
	if in.MaxInsights > 0 {
		req.MaxInsights = in.MaxInsights
	}
	result, err := h.Analyzer.Run(ctx, req)
	if err != nil {
		return failure(mcperr.AnalysisFailed, err), nil
	}

	out := MarketingInsightsOutput{
		Dimension:       result.Dimension,
		Summary:         result.Summary,
		PreviousSummary: result.PreviousSummary,
		Compared:        len(result.Comparisons) > 0,
		Insights:        result.Insights,
		ByKind:          h.recordInsights(result.Insights),
		Groups:          len(result.Rows),
		Excluded:        result.Excluded,
	}
	top := in.TopRows
	if top > len(result.Rows) {
		top = len(result.Rows)
	}
	out.TopRows = result.Rows[:top]

	summary := fmt.Sprintf("insights=%d groups=%d compared=%v", len(out.Insights), out.Groups, out.Compared)
	lines := []string{summary}
	for _, i := range out.Insights {
		lines = append(lines, fmt.Sprintf("- [%s p%d] %s: %s", i.Kind, i.Priority, i.Title, i.Description))
	}
	return h.structured(out, summary, strings.Join(lines, "\n"))
}

// NarrateInsights produces a written briefing over a period's insights.
func (h *Handlers) NarrateInsights(ctx context.Context, _ mcp.CallToolRequest, in NarrateInsightsInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	if !h.Narrator.Available() && !in.AllowFallback {
		return mcperr.New(mcperr.NarrativeUnavailable, ""), nil
	}
	req, res := h.request(in.PeriodInput, false)
	if res != nil {
		return res, nil
	}
	result, err := h.Analyzer.Run(ctx, req)
	if err != nil {
		return failure(mcperr.AnalysisFailed, err), nil
	}
	h.recordInsights(result.Insights)

	nin := narrative.Input{
		DimensionLabel: result.Dimension.Label(),
		Summary:        result.Summary,
		Previous:       result.PreviousSummary,
		Rows:           result.Rows,
		Insights:       result.Insights,
		Question:       in.Question,
	}
	if !h.Narrator.Available() {
		text := narrative.Compose(nin)
		out := NarrateInsightsOutput{
			Narrative: narrative.Narrative{Text: text, Model: "rule-based", RowsUsed: len(nin.Rows), InsightsUsed: len(nin.Insights)},
			Fallback:  true,
		}
		return h.structured(out, "rule-based briefing", text)
	}

	if h.NarrativeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.NarrativeTimeout)
		defer cancel()
	}
	n, err := h.Narrator.Generate(ctx, nin)
	if err != nil {
		h.Log.Warn().Err(err).Str("model", h.Narrator.ModelName).Msg("narrative generation failed")
		return failure(mcperr.NarrativeFailed, err), nil
	}
	summary := fmt.Sprintf("model=%s prompt_tokens=%d rows=%d insights=%d", n.Model, n.PromptTokens, n.RowsUsed, n.InsightsUsed)
	return h.structured(NarrateInsightsOutput{Narrative: n}, summary, n.Text)
}

// ExportMetrics writes the analysis of a period to a file.
func (h *Handlers) ExportMetrics(ctx context.Context, _ mcp.CallToolRequest, in ExportMetricsInput) (*mcp.CallToolResult, error) {
	if !h.EnableExports {
		return mcperr.New(mcperr.PermissionDenied, "exports are disabled"), nil
	}
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	if h.Security == nil {
		return mcperr.New(mcperr.PermissionDenied, "no allowed directories configured"), nil
	}
	target, err := h.Security.ValidateWritePath(in.Path, export.Extensions...)
	if err != nil {
		return failure(mcperr.ExportFailed, err), nil
	}
	req, res := h.request(in.PeriodInput, false)
	if res != nil {
		return res, nil
	}
	req.SortBy = sortKeyOf(in.SortBy)
	result, err := h.Analyzer.Run(ctx, req)
	if err != nil {
		return failure(mcperr.AnalysisFailed, err), nil
	}
	if err := ctx.Err(); err != nil {
		return failure(mcperr.ExportFailed, err), nil
	}

	n, err := export.Save(target, export.FromResult(result))
	if err != nil {
		h.Log.Error().Err(err).Str("file", filepath.Base(target)).Msg("export failed")
		return failure(mcperr.ExportFailed, err), nil
	}
	out := ExportMetricsOutput{
		Path:        target,
		Format:      strings.TrimPrefix(strings.ToLower(filepath.Ext(target)), "."),
		Rows:        n,
		GeneratedAt: h.clock().UTC(),
	}
	h.Log.Info().Str("file", filepath.Base(target)).Int("rows", n).Msg("metrics exported")
	summary := fmt.Sprintf("wrote %d rows to %s", n, target)
	return h.structured(out, summary, summary)
}
