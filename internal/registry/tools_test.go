package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/vinodismyname/mcpfunnel/config"
	"github.com/vinodismyname/mcpfunnel/internal/datasets"
	"github.com/vinodismyname/mcpfunnel/internal/insights"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
	"github.com/vinodismyname/mcpfunnel/internal/narrative"
	"github.com/vinodismyname/mcpfunnel/internal/security"
)

const leadsCSV = `id,utm_campaign,utm_source,created_at,demo_scheduled_at,no_show_at,sold_at,status,disqualification_reason
s1,spring,google,2025-03-01T10:00:00Z,2025-03-03T10:00:00Z,,2025-03-05T10:00:00Z,Won,
s2,spring,google,2025-03-02T10:00:00Z,2025-03-04T10:00:00Z,,2025-03-06T10:00:00Z,Won,
s3,spring,google,2025-03-02T11:00:00Z,2025-03-05T10:00:00Z,,,Disqualified,No budget
s4,spring,google,2025-03-03T10:00:00Z,2025-03-06T10:00:00Z,2025-03-06T10:30:00Z,,No Show,
s5,spring,google,2025-03-04T10:00:00Z,,,,New,
s6,spring,google,2025-03-05T10:00:00Z,,,,New,
u1,summer,meta,2025-03-02T10:00:00Z,2025-03-04T10:00:00Z,,2025-03-07T10:00:00Z,Won,
u2,summer,meta,2025-03-03T10:00:00Z,2025-03-05T10:00:00Z,,,Disqualified,No budget
u3,summer,meta,2025-03-03T11:00:00Z,2025-03-05T11:00:00Z,,,Disqualified,
u4,summer,meta,2025-03-04T10:00:00Z,,,,New,
u5,summer,meta,2025-03-06T10:00:00Z,,,,New,
x1,,,2025-03-02T10:00:00Z,,,,New,
x2,,,2025-03-03T10:00:00Z,,,,New,
p1,spring,google,2025-02-01T10:00:00Z,2025-02-03T10:00:00Z,,2025-02-06T10:00:00Z,Won,
p2,spring,google,2025-02-02T10:00:00Z,2025-02-04T10:00:00Z,,2025-02-07T10:00:00Z,Won,
p3,spring,google,2025-02-03T10:00:00Z,2025-02-05T10:00:00Z,,2025-02-08T10:00:00Z,Won,
p4,spring,google,2025-02-04T10:00:00Z,2025-02-06T10:00:00Z,,2025-02-09T10:00:00Z,Won,
p5,spring,google,2025-02-05T10:00:00Z,,,,New,
`

var march = WindowInput{Start: "2025-03-01", End: "2025-03-31"}

func newHandlers(t *testing.T) (*Handlers, string) {
	t.Helper()
	dir := t.TempDir()
	sec, err := security.NewManager([]string{dir}, nil)
	require.NoError(t, err)
	store := datasets.NewStore(datasets.Options{Validator: sec, Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = store.Shutdown(context.Background()) })
	h := NewHandlers(Deps{
		Store:         store,
		Security:      sec,
		EnableExports: true,
		Analysis:      config.AnalysisConfig{MinLeads: 5, MaxInsights: 10},
		Log:           zerolog.Nop(),
	})
	return h, dir
}

func openFixture(t *testing.T, h *Handlers, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "leads.csv")
	require.NoError(t, os.WriteFile(path, []byte(leadsCSV), 0o644))
	res, err := h.OpenLeads(context.Background(), mcp.CallToolRequest{}, OpenLeadsInput{Path: path})
	require.NoError(t, err)
	require.False(t, res.IsError, errText(res))
	out := res.StructuredContent.(OpenLeadsOutput)
	require.NotEmpty(t, out.DatasetID)
	return out.DatasetID
}

func errText(res *mcp.CallToolResult) string {
	if res == nil || len(res.Content) == 0 {
		return ""
	}
	if tc, ok := res.Content[0].(mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}

func requireCode(t *testing.T, res *mcp.CallToolResult, code string) {
	t.Helper()
	require.True(t, res.IsError, "expected %s error", code)
	require.True(t, strings.HasPrefix(errText(res), code+":"), errText(res))
}

func TestOpenLeads(t *testing.T) {
	h, dir := newHandlers(t)
	path := filepath.Join(dir, "leads.csv")
	require.NoError(t, os.WriteFile(path, []byte(leadsCSV), 0o644))

	res, err := h.OpenLeads(context.Background(), mcp.CallToolRequest{}, OpenLeadsInput{Path: path})
	require.NoError(t, err)
	require.False(t, res.IsError, errText(res))
	out := res.StructuredContent.(OpenLeadsOutput)
	require.Equal(t, "leads.csv", out.Name)
	require.Equal(t, 18, out.Stats.Loaded)
	require.NotNil(t, out.FirstLead)
	require.Equal(t, "2025-02-01", out.FirstLead.UTC().Format("2006-01-02"))
	require.Contains(t, errText(res), "loaded=18")
}

func TestOpenLeads_Errors(t *testing.T) {
	h, dir := newHandlers(t)
	ctx := context.Background()

	res, _ := h.OpenLeads(ctx, mcp.CallToolRequest{}, OpenLeadsInput{})
	requireCode(t, res, "VALIDATION")

	res, _ = h.OpenLeads(ctx, mcp.CallToolRequest{}, OpenLeadsInput{Path: filepath.Join(dir, "notes.txt")})
	requireCode(t, res, "VALIDATION")

	res, _ = h.OpenLeads(ctx, mcp.CallToolRequest{}, OpenLeadsInput{Path: filepath.Join(dir, "leads.csv"), Timezone: "Mars/Olympus"})
	requireCode(t, res, "VALIDATION")

	outside := filepath.Join(t.TempDir(), "leads.csv")
	require.NoError(t, os.WriteFile(outside, []byte(leadsCSV), 0o644))
	res, _ = h.OpenLeads(ctx, mcp.CallToolRequest{}, OpenLeadsInput{Path: outside})
	requireCode(t, res, "PERMISSION_DENIED")
}

func TestCloseLeadsAndListDimensions(t *testing.T) {
	h, dir := newHandlers(t)
	ctx := context.Background()
	id := openFixture(t, h, dir)

	res, err := h.ListDimensions(ctx, mcp.CallToolRequest{}, ListDimensionsInput{})
	require.NoError(t, err)
	out := res.StructuredContent.(ListDimensionsOutput)
	require.Len(t, out.Datasets, 1)
	require.Equal(t, id, out.Datasets[0].ID)

	var campaign *DimensionInfo
	for i := range out.Datasets[0].Dimensions {
		if out.Datasets[0].Dimensions[i].Dimension == leads.DimensionCampaign {
			campaign = &out.Datasets[0].Dimensions[i]
		}
	}
	require.NotNil(t, campaign)
	require.Equal(t, 2, campaign.Groups)
	require.Equal(t, 16, campaign.TrackedLeads)
	require.Equal(t, 2, campaign.UntrackedLeads)

	res, _ = h.CloseLeads(ctx, mcp.CallToolRequest{}, CloseLeadsInput{DatasetID: id})
	require.False(t, res.IsError, errText(res))

	res, _ = h.CloseLeads(ctx, mcp.CallToolRequest{}, CloseLeadsInput{DatasetID: id})
	requireCode(t, res, "INVALID_DATASET")

	res, _ = h.ListDimensions(ctx, mcp.CallToolRequest{}, ListDimensionsInput{DatasetID: id})
	requireCode(t, res, "INVALID_DATASET")
}

func TestFunnelSummary(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)

	res, err := h.FunnelSummary(context.Background(), mcp.CallToolRequest{}, FunnelSummaryInput{DatasetID: id, WindowInput: march})
	require.NoError(t, err)
	require.False(t, res.IsError, errText(res))
	out := res.StructuredContent.(FunnelSummaryOutput)
	require.Equal(t, 13, out.Summary.TotalLeads)
	require.Equal(t, 7, out.Summary.DemosScheduled)
	require.Equal(t, 6, out.Summary.DemosCompleted)
	require.Equal(t, 3, out.Summary.Sales)
	require.InDelta(t, 23.1, out.Summary.ConversionRate, 0.001)
	require.Len(t, out.Stages, 4)
	require.Equal(t, "sales", out.Bottleneck)
	require.InDelta(t, 50.0, out.Stages[3].StepRate, 0.001)
	require.Equal(t, out.Summary.Sales, out.Headline.TotalSales)
	require.Equal(t, out.Summary.ConversionRate, out.Headline.ConversionRate)
}

func TestFunnelSummary_WindowErrors(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)
	ctx := context.Background()

	res, _ := h.FunnelSummary(ctx, mcp.CallToolRequest{}, FunnelSummaryInput{DatasetID: "nope"})
	requireCode(t, res, "INVALID_DATASET")

	res, _ = h.FunnelSummary(ctx, mcp.CallToolRequest{}, FunnelSummaryInput{DatasetID: id, WindowInput: WindowInput{Start: "2025-03-01"}})
	requireCode(t, res, "VALIDATION")

	res, _ = h.FunnelSummary(ctx, mcp.CallToolRequest{}, FunnelSummaryInput{DatasetID: id, WindowInput: WindowInput{End: "2025-03-01"}})
	requireCode(t, res, "VALIDATION")

	res, _ = h.FunnelSummary(ctx, mcp.CallToolRequest{}, FunnelSummaryInput{DatasetID: id, WindowInput: WindowInput{Start: "2025-03-10T00:00:00Z", End: "2025-03-01T00:00:00Z"}})
	requireCode(t, res, "INVALID_WINDOW")
}

func TestCampaignMetrics_Paging(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)
	ctx := context.Background()

	res, err := h.CampaignMetrics(ctx, mcp.CallToolRequest{}, CampaignMetricsInput{DatasetID: id, WindowInput: march, PageSize: 1})
	require.NoError(t, err)
	require.False(t, res.IsError, errText(res))
	first := res.StructuredContent.(CampaignMetricsOutput)
	require.Equal(t, 2, first.Meta.Total)
	require.Equal(t, 1, first.Excluded)
	require.Len(t, first.Rows, 1)
	require.Equal(t, "spring", first.Rows[0].Name)
	require.Equal(t, 6, first.Rows[0].TotalLeads)
	require.Equal(t, "TOTAL", first.Totals.Name)
	require.Equal(t, 13, first.Totals.TotalLeads)
	require.True(t, first.Meta.Truncated)
	require.NotEmpty(t, first.Meta.NextCursor)

	res, _ = h.CampaignMetrics(ctx, mcp.CallToolRequest{}, CampaignMetricsInput{DatasetID: id, WindowInput: march, Cursor: first.Meta.NextCursor})
	require.False(t, res.IsError, errText(res))
	second := res.StructuredContent.(CampaignMetricsOutput)
	require.Len(t, second.Rows, 1)
	require.Equal(t, "summer", second.Rows[0].Name)
	require.Empty(t, second.Meta.NextCursor)

	res, _ = h.CampaignMetrics(ctx, mcp.CallToolRequest{}, CampaignMetricsInput{DatasetID: id, WindowInput: WindowInput{Start: "2025-02-01", End: "2025-03-31"}, Cursor: first.Meta.NextCursor})
	requireCode(t, res, "CURSOR_INVALID")

	res, _ = h.CampaignMetrics(ctx, mcp.CallToolRequest{}, CampaignMetricsInput{DatasetID: id, WindowInput: march, SortBy: "sales", Cursor: first.Meta.NextCursor})
	requireCode(t, res, "CURSOR_INVALID")

	res, _ = h.CampaignMetrics(ctx, mcp.CallToolRequest{}, CampaignMetricsInput{DatasetID: id, SortBy: "clicks"})
	requireCode(t, res, "VALIDATION")
}

func TestCampaignMetrics_PayloadLimit(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)
	h.Limits.MaxPayloadBytes = 64

	res, err := h.CampaignMetrics(context.Background(), mcp.CallToolRequest{}, CampaignMetricsInput{DatasetID: id})
	require.NoError(t, err)
	requireCode(t, res, "PAYLOAD_TOO_LARGE")
}

func TestComparePeriods_DefaultPrevious(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)

	res, err := h.ComparePeriods(context.Background(), mcp.CallToolRequest{}, ComparePeriodsInput{PeriodInput{DatasetID: id, WindowInput: march}})
	require.NoError(t, err)
	require.False(t, res.IsError, errText(res))
	out := res.StructuredContent.(ComparePeriodsOutput)
	require.Equal(t, 5, out.Previous.TotalLeads)
	require.Equal(t, 4, out.Previous.Sales)
	require.Empty(t, out.Note)

	var found bool
	for _, g := range out.Groups {
		if g.Group != "spring" {
			continue
		}
		for _, c := range g.Changes {
			if c.Metric == "sales" {
				found = true
				require.InDelta(t, 2.0, c.Current, 0.001)
				require.InDelta(t, 4.0, c.Previous, 0.001)
				require.Equal(t, "down", string(c.Trend))
			}
		}
	}
	require.True(t, found)
}

func TestComparePeriods_NoPrevious(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)
	ctx := context.Background()

	res, _ := h.ComparePeriods(ctx, mcp.CallToolRequest{}, ComparePeriodsInput{PeriodInput{DatasetID: id}})
	requireCode(t, res, "VALIDATION")

	res, err := h.ComparePeriods(ctx, mcp.CallToolRequest{}, ComparePeriodsInput{PeriodInput{
		DatasetID:     id,
		WindowInput:   march,
		PreviousStart: "2024-01-01",
		PreviousEnd:   "2024-01-31",
	}})
	require.NoError(t, err)
	require.False(t, res.IsError, errText(res))
	out := res.StructuredContent.(ComparePeriodsOutput)
	require.Empty(t, out.Groups)
	require.NotEmpty(t, out.Note)
}

func TestDisqualificationReasons(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)

	res, err := h.DisqualificationReasons(context.Background(), mcp.CallToolRequest{}, DisqualificationReasonsInput{DatasetID: id, WindowInput: march})
	require.NoError(t, err)
	require.False(t, res.IsError, errText(res))
	out := res.StructuredContent.(DisqualificationReasonsOutput)
	require.Equal(t, 3, out.Meta.Total)
	require.Equal(t, "summer", out.Reasons[0].Group)
	require.Equal(t, 2, out.Reasons[0].GroupTotal)
	require.InDelta(t, 50.0, out.Reasons[0].Share, 0.001)
}

func TestLeadTrend(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)

	res, err := h.LeadTrend(context.Background(), mcp.CallToolRequest{}, LeadTrendInput{DatasetID: id, WindowInput: march, TopN: 1})
	require.NoError(t, err)
	require.False(t, res.IsError, errText(res))
	out := res.StructuredContent.(LeadTrendOutput)
	require.Equal(t, []string{"spring"}, out.Groups)
	total := 0
	for _, p := range out.Points {
		total += p.Leads
	}
	require.Equal(t, 6, total)
}

func TestMarketingInsights(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)

	res, err := h.MarketingInsights(context.Background(), mcp.CallToolRequest{}, MarketingInsightsInput{
		PeriodInput: PeriodInput{DatasetID: id, WindowInput: march, ComparePrevious: true},
		TopRows:     1,
	})
	require.NoError(t, err)
	require.False(t, res.IsError, errText(res))
	out := res.StructuredContent.(MarketingInsightsOutput)
	require.True(t, out.Compared)
	require.NotNil(t, out.PreviousSummary)
	require.Equal(t, 2, out.Groups)
	require.Len(t, out.TopRows, 1)

	var regression *insights.Insight
	for i := range out.Insights {
		if out.Insights[i].Title == "Sales dropped" {
			regression = &out.Insights[i]
		}
	}
	require.NotNil(t, regression)
	require.Equal(t, "spring", regression.Campaign)
	require.Equal(t, insights.KindCritical, regression.Kind)
	require.Positive(t, out.ByKind[string(insights.KindCritical)])
}

func TestMarketingInsights_PreviousDataset(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)
	ctx := context.Background()

	res, _ := h.MarketingInsights(ctx, mcp.CallToolRequest{}, MarketingInsightsInput{PeriodInput: PeriodInput{DatasetID: id, PreviousDatasetID: "gone"}})
	requireCode(t, res, "INVALID_DATASET")

	res, err := h.MarketingInsights(ctx, mcp.CallToolRequest{}, MarketingInsightsInput{PeriodInput: PeriodInput{DatasetID: id, WindowInput: march}})
	require.NoError(t, err)
	out := res.StructuredContent.(MarketingInsightsOutput)
	require.False(t, out.Compared)
	require.Nil(t, out.PreviousSummary)
}

func TestNarrateInsights_NoModel(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)
	ctx := context.Background()

	res, _ := h.NarrateInsights(ctx, mcp.CallToolRequest{}, NarrateInsightsInput{PeriodInput: PeriodInput{DatasetID: id, WindowInput: march}})
	requireCode(t, res, "NARRATIVE_UNAVAILABLE")

	res, err := h.NarrateInsights(ctx, mcp.CallToolRequest{}, NarrateInsightsInput{PeriodInput: PeriodInput{DatasetID: id, WindowInput: march}, AllowFallback: true})
	require.NoError(t, err)
	require.False(t, res.IsError, errText(res))
	out := res.StructuredContent.(NarrateInsightsOutput)
	require.True(t, out.Fallback)
	require.Equal(t, "rule-based", out.Model)
	require.NotEmpty(t, out.Text)
}

type stubModel struct {
	answer string
	prompt string
}

func (m *stubModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range msgs {
		for _, p := range msg.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				m.prompt += tc.Text
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.answer}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func TestNarrateInsights_Model(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)
	model := &stubModel{answer: "Spring sales halved; review the demo pipeline."}
	n := narrative.New(model, "stub-model", zerolog.Nop())
	n.Count = func(_ string, text string) int { return len(strings.Fields(text)) }
	h.Narrator = n

	res, err := h.NarrateInsights(context.Background(), mcp.CallToolRequest{}, NarrateInsightsInput{
		PeriodInput: PeriodInput{DatasetID: id, WindowInput: march, ComparePrevious: true},
		Question:    "Why did spring slow down?",
	})
	require.NoError(t, err)
	require.False(t, res.IsError, errText(res))
	out := res.StructuredContent.(NarrateInsightsOutput)
	require.False(t, out.Fallback)
	require.Equal(t, "stub-model", out.Model)
	require.Equal(t, model.answer, out.Text)
	require.Contains(t, model.prompt, "spring")
}

func TestExportMetrics(t *testing.T) {
	h, dir := newHandlers(t)
	id := openFixture(t, h, dir)
	ctx := context.Background()

	target := filepath.Join(dir, "march.xlsx")
	res, err := h.ExportMetrics(ctx, mcp.CallToolRequest{}, ExportMetricsInput{
		PeriodInput: PeriodInput{DatasetID: id, WindowInput: march, ComparePrevious: true},
		Path:        target,
	})
	require.NoError(t, err)
	require.False(t, res.IsError, errText(res))
	out := res.StructuredContent.(ExportMetricsOutput)
	require.Equal(t, "xlsx", out.Format)
	require.Positive(t, out.Rows)
	_, err = os.Stat(target)
	require.NoError(t, err)

	res, _ = h.ExportMetrics(ctx, mcp.CallToolRequest{}, ExportMetricsInput{
		PeriodInput: PeriodInput{DatasetID: id},
		Path:        filepath.Join(t.TempDir(), "out.csv"),
	})
	requireCode(t, res, "PERMISSION_DENIED")

	res, _ = h.ExportMetrics(ctx, mcp.CallToolRequest{}, ExportMetricsInput{
		PeriodInput: PeriodInput{DatasetID: id},
		Path:        filepath.Join(dir, "out.json"),
	})
	requireCode(t, res, "VALIDATION")

	h.EnableExports = false
	res, _ = h.ExportMetrics(ctx, mcp.CallToolRequest{}, ExportMetricsInput{
		PeriodInput: PeriodInput{DatasetID: id},
		Path:        filepath.Join(dir, "out.csv"),
	})
	requireCode(t, res, "PERMISSION_DENIED")
}
