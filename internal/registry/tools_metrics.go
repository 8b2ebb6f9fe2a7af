package registry

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vinodismyname/mcpfunnel/config"
	"github.com/vinodismyname/mcpfunnel/internal/campaigns"
	"github.com/vinodismyname/mcpfunnel/internal/compare"
	"github.com/vinodismyname/mcpfunnel/internal/funnel"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
	"github.com/vinodismyname/mcpfunnel/pkg/mcperr"
	"github.com/vinodismyname/mcpfunnel/pkg/pagination"
	"github.com/vinodismyname/mcpfunnel/pkg/validation"
)

// FunnelSummaryInput defines parameters for funnel_summary.
type FunnelSummaryInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset ID from open_leads"`
	WindowInput
	MinLeads *int `json:"min_leads,omitempty" validate:"omitempty,gte=0" jsonschema_description:"Minimum leads for a campaign to be named best or worst"`
}

// Stage is one step of the whole-dataset funnel.
type Stage struct {
	Stage          string  `json:"stage"`
	Count          int     `json:"count"`
	StepRate       float64 `json:"step_rate" jsonschema_description:"Percent of the previous stage"`
	CumulativeRate float64 `json:"cumulative_rate" jsonschema_description:"Percent of leads created"`
}

// FunnelSummaryOutput is the headline view of one period.
type FunnelSummaryOutput struct {
	DatasetID  string               `json:"dataset_id"`
	Summary    funnel.PeriodSummary `json:"summary"`
	Stages     []Stage              `json:"stages"`
	Bottleneck string               `json:"bottleneck,omitempty" jsonschema_description:"Stage with the lowest step rate"`
	Headline   campaigns.Summary    `json:"headline"`
}

// CampaignMetricsInput defines parameters for campaign_metrics.
type CampaignMetricsInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset ID from open_leads"`
	Dimension string `json:"dimension,omitempty" validate:"omitempty,dimension" jsonschema_description:"campaign (default), source or medium"`
	SortBy    string `json:"sort_by,omitempty" validate:"omitempty,sortkey" jsonschema_description:"total_leads (default), conversion_rate, disqualification_rate, no_show_rate, funnel_efficiency, sales or name"`
	WindowInput
	MinLeads *int   `json:"min_leads,omitempty" validate:"omitempty,gte=0" jsonschema_description:"Groups with fewer leads are left out of the ranking but kept in totals"`
	PageSize int    `json:"page_size,omitempty" validate:"omitempty,min=1,max=500" jsonschema_description:"Groups per page"`
	Cursor   string `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"next_cursor from a previous page; repeat the same window"`
}

// CampaignMetricsOutput is one page of grouped metrics.
type CampaignMetricsOutput struct {
	DatasetID string          `json:"dataset_id"`
	Dimension leads.Dimension `json:"dimension"`
	SortBy    string          `json:"sort_by"`
	Window    string          `json:"window"`
	Rows      []campaigns.Row `json:"rows"`
	Totals    campaigns.Row   `json:"totals" jsonschema_description:"Every lead, including groups below min_leads"`
	Excluded  int             `json:"excluded_groups"`
	Note      string          `json:"note,omitempty"`
	Meta      PageMeta        `json:"meta"`
}

// ComparePeriodsInput defines parameters for compare_periods.
type ComparePeriodsInput struct {
	PeriodInput
}

// ComparePeriodsOutput pairs each group's metrics across two periods.
type ComparePeriodsOutput struct {
	Dimension leads.Dimension        `json:"dimension"`
	Current   funnel.PeriodSummary   `json:"current"`
	Previous  funnel.PeriodSummary   `json:"previous"`
	Overall   []compare.Change       `json:"overall"`
	Groups    []compare.GroupChanges `json:"groups"`
	Note      string                 `json:"note,omitempty"`
}

// DisqualificationReasonsInput defines parameters for disqualification_reasons.
type DisqualificationReasonsInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset ID from open_leads"`
	Dimension string `json:"dimension,omitempty" validate:"omitempty,dimension" jsonschema_description:"campaign (default), source or medium"`
	WindowInput
	Limit int `json:"limit,omitempty" validate:"omitempty,min=1,max=500" jsonschema_description:"Maximum reason rows"`
}

// DisqualificationReasonsOutput lists reasons per group.
type DisqualificationReasonsOutput struct {
	DatasetID string                  `json:"dataset_id"`
	Dimension leads.Dimension         `json:"dimension"`
	Reasons   []campaigns.ReasonShare `json:"reasons"`
	Meta      PageMeta                `json:"meta"`
}

// LeadTrendInput defines parameters for lead_trend.
type LeadTrendInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset ID from open_leads"`
	Dimension string `json:"dimension,omitempty" validate:"omitempty,dimension" jsonschema_description:"campaign (default), source or medium"`
	WindowInput
	TopN int `json:"top_n,omitempty" validate:"omitempty,min=1,max=20" jsonschema_description:"Number of largest groups to chart"`
}

// LeadTrendOutput is a daily series per group.
type LeadTrendOutput struct {
	DatasetID string                 `json:"dataset_id"`
	Dimension leads.Dimension        `json:"dimension"`
	Groups    []string               `json:"groups"`
	Points    []campaigns.TrendPoint `json:"points"`
}

// RegisterMetricTools wires the descriptive metric tools.
func RegisterMetricTools(s *server.MCPServer, reg *Registry, h *Handlers) {
	fs := mcp.NewTool(
		"funnel_summary",
		mcp.WithDescription("Whole-dataset funnel for a period: leads created, demos scheduled, completed, disqualified, no-shows and sales, with stage and cumulative conversion and the weakest stage. Also names the best converting, most disqualified and top selling campaigns among those with at least min_leads leads. Each counter uses its own timestamp, so a window counts demos scheduled and sales made inside it."),
		mcp.WithInputSchema[FunnelSummaryInput](),
		mcp.WithOutputSchema[FunnelSummaryOutput](),
	)
	s.AddTool(fs, mcp.NewTypedToolHandler(h.FunnelSummary))
	reg.Register(fs)

	cm := mcp.NewTool(
		"campaign_metrics",
		mcp.WithDescription("Per-group funnel metrics (counts plus scheduling, completion, disqualification, conversion and no-show rates and funnel efficiency) for a dimension, ranked by sort_by with ties broken by name. Untracked leads form their own group. Results are paged: pass meta.next_cursor back as cursor with the same window. Errors: INVALID_DATASET, VALIDATION, INVALID_WINDOW, CURSOR_INVALID, PAYLOAD_TOO_LARGE."),
		mcp.WithInputSchema[CampaignMetricsInput](),
		mcp.WithOutputSchema[CampaignMetricsOutput](),
	)
	s.AddTool(cm, mcp.NewTypedToolHandler(h.CampaignMetrics))
	reg.Register(cm)

	cp := mcp.NewTool(
		"compare_periods",
		mcp.WithDescription("Compare two periods per group: total leads, demos completed, disqualification, conversion and no-show rates and sales, each with absolute and percentage change and an up/down/stable trend (5% deadband). The previous period is previous_dataset_id, previous_start/previous_end, or by default the equal-length window before start. Groups present in only one period are compared against zero."),
		mcp.WithInputSchema[ComparePeriodsInput](),
		mcp.WithOutputSchema[ComparePeriodsOutput](),
	)
	s.AddTool(cp, mcp.NewTypedToolHandler(h.ComparePeriods))
	reg.Register(cp)

	dr := mcp.NewTool(
		"disqualification_reasons",
		mcp.WithDescription("Break disqualified leads down by group and recorded reason, with each reason's share of the group's disqualifications. Groups with the most disqualifications come first."),
		mcp.WithInputSchema[DisqualificationReasonsInput](),
		mcp.WithOutputSchema[DisqualificationReasonsOutput](),
	)
	s.AddTool(dr, mcp.NewTypedToolHandler(h.DisqualificationReasons))
	reg.Register(dr)

	lt := mcp.NewTool(
		"lead_trend",
		mcp.WithDescription("Daily leads created (UTC days) for the top_n largest groups of a dimension, for charting volume over time."),
		mcp.WithInputSchema[LeadTrendInput](),
		mcp.WithOutputSchema[LeadTrendOutput](),
	)
	s.AddTool(lt, mcp.NewTypedToolHandler(h.LeadTrend))
	reg.Register(lt)
}

// FunnelSummary reports the whole-dataset funnel for a period.
func (h *Handlers) FunnelSummary(_ context.Context, _ mcp.CallToolRequest, in FunnelSummaryInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	e, res := h.dataset(in.DatasetID)
	if res != nil {
		return res, nil
	}
	win, res := in.WindowInput.parse()
	if res != nil {
		return res, nil
	}

	agg := h.Analyzer.Aggregator
	sum := agg.Classifier.Summarize(e.Dataset, win)
	out := FunnelSummaryOutput{
		DatasetID: e.ID,
		Summary:   sum,
		Stages:    stages(sum),
		Headline:  agg.Summarize(e.Dataset, win, h.minLeads(in.MinLeads)),
	}
	out.Bottleneck = bottleneck(out.Stages)

	summary := fmt.Sprintf("leads=%d scheduled=%d completed=%d sales=%d conversion=%.1f%% window=%s",
		sum.TotalLeads, sum.DemosScheduled, sum.DemosCompleted, sum.Sales, sum.ConversionRate, sum.Window)
	lines := []string{summary}
	for _, st := range out.Stages {
		lines = append(lines, fmt.Sprintf("- %s %d step=%.1f%% cumulative=%.1f%%", st.Stage, st.Count, st.StepRate, st.CumulativeRate))
	}
	if out.Bottleneck != "" {
		lines = append(lines, "bottleneck: "+out.Bottleneck)
	}
	return h.structured(out, summary, strings.Join(lines, "\n"))
}

func stages(s funnel.PeriodSummary) []Stage {
	counts := []struct {
		name string
		n    int
	}{
		{"leads", s.TotalLeads},
		{"demos_scheduled", s.DemosScheduled},
		{"demos_completed", s.DemosCompleted},
		{"sales", s.Sales},
	}
	out := make([]Stage, len(counts))
	for i, c := range counts {
		out[i] = Stage{Stage: c.name, Count: c.n, StepRate: 100, CumulativeRate: round1(funnel.Rate(c.n, s.TotalLeads))}
		if i > 0 {
			out[i].StepRate = round1(funnel.Rate(c.n, counts[i-1].n))
		}
	}
	if s.TotalLeads == 0 {
		out[0].StepRate = 0
	}
	return out
}

// bottleneck is the stage after leads with the lowest step rate. Ties keep
// the earlier stage.
func bottleneck(st []Stage) string {
	if len(st) < 2 || st[0].Count == 0 {
		return ""
	}
	worst := 1
	for i := 2; i < len(st); i++ {
		if st[i].StepRate < st[worst].StepRate {
			worst = i
		}
	}
	return st[worst].Stage
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }

// CampaignMetrics returns one page of grouped metrics.
func (h *Handlers) CampaignMetrics(_ context.Context, _ mcp.CallToolRequest, in CampaignMetricsInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	e, res := h.dataset(in.DatasetID)
	if res != nil {
		return res, nil
	}
	win, res := in.WindowInput.parse()
	if res != nil {
		return res, nil
	}
	var wh string
	if win != nil {
		wh = pagination.WindowHash(win.Start, win.End)
	}

	dim, sortBy, minLeads := dimensionOf(in.Dimension), sortKeyOf(in.SortBy), h.minLeads(in.MinLeads)
	offset, size := 0, in.PageSize
	if size <= 0 {
		size = config.DefaultPageSize
	}
	if in.Cursor != "" {
		c, err := pagination.DecodeCursor(in.Cursor)
		if err != nil {
			return mcperr.New(mcperr.CursorInvalid, ""), nil
		}
		switch {
		case c.Did != e.ID, c.Wh != wh:
			return mcperr.New(mcperr.CursorInvalid, "cursor belongs to another dataset or window"), nil
		case in.Dimension != "" && string(dim) != c.Dim, in.SortBy != "" && string(sortBy) != c.Sb:
			return mcperr.New(mcperr.CursorInvalid, "dimension or sort_by changed since the first page"), nil
		case in.MinLeads != nil && *in.MinLeads != c.Ml:
			return mcperr.New(mcperr.CursorInvalid, "min_leads changed since the first page"), nil
		}
		dim, sortBy, minLeads = dimensionOf(c.Dim), sortKeyOf(c.Sb), c.Ml
		offset, size = c.Off, c.Ps
	}

	rep := h.Analyzer.Aggregator.Aggregate(e.Dataset, campaigns.Options{Dimension: dim, MinLeads: minLeads, SortBy: sortBy, Window: win})
	start, end, next := pagination.Page(len(rep.Groups), offset, size)
	out := CampaignMetricsOutput{
		DatasetID: e.ID,
		Dimension: dim,
		SortBy:    string(sortBy),
		Window:    win.String(),
		Rows:      campaigns.Rows(rep.Groups[start:end]),
		Totals:    rep.Totals.Row(),
		Excluded:  rep.Excluded,
		Meta:      PageMeta{Total: len(rep.Groups), Returned: end - start, Truncated: next >= 0},
	}
	out.Totals.Name = "TOTAL"
	if !e.Dataset.HasDimension(dim) {
		out.Note = fmt.Sprintf("dataset has no %s column; no tracking available for this dimension", dim)
	}
	if next >= 0 {
		tok, err := pagination.EncodeCursor(pagination.Cursor{Did: e.ID, Dim: string(dim), Sb: string(sortBy), Wh: wh, Ml: minLeads, Off: next, Ps: size})
		if err != nil {
			return mcperr.Wrapf(mcperr.CursorBuildFailed, "%v", err), nil
		}
		out.Meta.NextCursor = tok
	}

	summary := fmt.Sprintf("dimension=%s groups=%d returned=%d excluded=%d truncated=%v", dim, out.Meta.Total, out.Meta.Returned, out.Excluded, out.Meta.Truncated)
	lines := []string{summary}
	for _, r := range out.Rows {
		lines = append(lines, fmt.Sprintf("- %s leads=%d completed=%d sales=%d conv=%.1f%% disq=%.1f%% no_show=%.1f%%",
			r.Name, r.TotalLeads, r.DemosCompleted, r.Sales, r.ConversionRate, r.DisqualificationRate, r.NoShowRate))
	}
	return h.structured(out, summary, strings.Join(lines, "\n"))
}

// ComparePeriods compares each group across the current and previous period.
func (h *Handlers) ComparePeriods(ctx context.Context, _ mcp.CallToolRequest, in ComparePeriodsInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	req, res := h.request(in.PeriodInput, true)
	if res != nil {
		return res, nil
	}
	result, err := h.Analyzer.Run(ctx, req)
	if err != nil {
		return failure(mcperr.AnalysisFailed, err), nil
	}

	out := ComparePeriodsOutput{
		Dimension: result.Dimension,
		Current:   result.Summary,
		Groups:    result.Changes,
	}
	if result.PreviousSummary != nil {
		out.Previous = *result.PreviousSummary
		out.Overall = overall(result.Summary, *result.PreviousSummary)
	}
	if len(result.Comparisons) == 0 {
		out.Groups = []compare.GroupChanges{}
		out.Note = "previous period has no leads; no comparison available"
	}

	summary := fmt.Sprintf("dimension=%s groups=%d current=[%s] previous=[%s]", out.Dimension, len(out.Groups), out.Current.Window, out.Previous.Window)
	lines := []string{summary}
	for _, c := range out.Overall {
		lines = append(lines, fmt.Sprintf("- %s %.1f -> %.1f (%+.1f%%, %s)", c.Metric, c.Previous, c.Current, c.PercentageChange, c.Trend))
	}
	return h.structured(out, summary, strings.Join(lines, "\n"))
}

// overall compares whole-period summaries.
func overall(cur, prev funnel.PeriodSummary) []compare.Change {
	pairs := []compare.PeriodComparison{
		{Metric: "total_leads", Current: float64(cur.TotalLeads), Previous: float64(prev.TotalLeads)},
		{Metric: "demos_scheduled", Current: float64(cur.DemosScheduled), Previous: float64(prev.DemosScheduled)},
		{Metric: "demos_completed", Current: float64(cur.DemosCompleted), Previous: float64(prev.DemosCompleted)},
		{Metric: "sales", Current: float64(cur.Sales), Previous: float64(prev.Sales)},
		{Metric: "conversion_rate", Current: cur.ConversionRate, Previous: prev.ConversionRate},
		{Metric: "no_show_rate", Current: cur.NoShowRate, Previous: prev.NoShowRate},
	}
	out := make([]compare.Change, len(pairs))
	for i, p := range pairs {
		out[i] = p.Change()
	}
	return out
}

// DisqualificationReasons lists disqualification reasons per group.
func (h *Handlers) DisqualificationReasons(_ context.Context, _ mcp.CallToolRequest, in DisqualificationReasonsInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	e, res := h.dataset(in.DatasetID)
	if res != nil {
		return res, nil
	}
	win, res := in.WindowInput.parse()
	if res != nil {
		return res, nil
	}
	dim := dimensionOf(in.Dimension)
	reasons := h.Analyzer.Aggregator.DisqualificationReasons(e.Dataset, dim, win)
	if reasons == nil {
		reasons = []campaigns.ReasonShare{}
	}
	limit := in.Limit
	if limit <= 0 {
		limit = config.DefaultPageSize
	}
	_, end, next := pagination.Page(len(reasons), 0, limit)
	out := DisqualificationReasonsOutput{
		DatasetID: e.ID,
		Dimension: dim,
		Reasons:   reasons[:end],
		Meta:      PageMeta{Total: len(reasons), Returned: end, Truncated: next >= 0},
	}

	summary := fmt.Sprintf("dimension=%s reasons=%d returned=%d", dim, out.Meta.Total, out.Meta.Returned)
	lines := []string{summary}
	for _, r := range out.Reasons {
		lines = append(lines, fmt.Sprintf("- %s: %s %d/%d (%.1f%%)", r.Group, r.Reason, r.Count, r.GroupTotal, r.Share))
	}
	return h.structured(out, summary, strings.Join(lines, "\n"))
}

// LeadTrend returns daily lead counts for the largest groups.
func (h *Handlers) LeadTrend(_ context.Context, _ mcp.CallToolRequest, in LeadTrendInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	e, res := h.dataset(in.DatasetID)
	if res != nil {
		return res, nil
	}
	win, res := in.WindowInput.parse()
	if res != nil {
		return res, nil
	}
	dim := dimensionOf(in.Dimension)
	topN := in.TopN
	if topN <= 0 {
		topN = config.DefaultTrendTopN
	}
	points := h.Analyzer.Aggregator.DailyTrend(e.Dataset, dim, win, topN)
	out := LeadTrendOutput{DatasetID: e.ID, Dimension: dim, Groups: []string{}, Points: points}
	if out.Points == nil {
		out.Points = []campaigns.TrendPoint{}
	}
	seen := map[string]bool{}
	days := map[string]bool{}
	for _, p := range out.Points {
		if !seen[p.Group] {
			seen[p.Group] = true
			out.Groups = append(out.Groups, p.Group)
		}
		days[p.Date] = true
	}
	summary := fmt.Sprintf("dimension=%s groups=%d days=%d points=%d", dim, len(out.Groups), len(days), len(out.Points))
	return h.structured(out, summary, summary)
}
