package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vinodismyname/mcpfunnel/internal/campaigns"
	"github.com/vinodismyname/mcpfunnel/internal/datasets"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
	"github.com/vinodismyname/mcpfunnel/pkg/mcperr"
	"github.com/vinodismyname/mcpfunnel/pkg/validation"
)

// --- Input / Output Schemas (typed for discovery) ---

// WindowInput bounds the reporting period. Omit both bounds for all history.
type WindowInput struct {
	Start string `json:"start,omitempty" validate:"omitempty,datetime_or_date" jsonschema_description:"Period start (inclusive), RFC 3339 or YYYY-MM-DD"`
	End   string `json:"end,omitempty" validate:"required_with=Start" jsonschema_description:"Period end, RFC 3339 (exclusive) or YYYY-MM-DD (that day included)"`
}

// OpenLeadsInput defines parameters for loading a lead export.
type OpenLeadsInput struct {
	Path     string `json:"path" validate:"required,leadpath" jsonschema_description:"Path to a CRM lead export (.xlsx, .xlsm or .csv) inside an allowed directory"`
	Sheet    string `json:"sheet,omitempty" validate:"omitempty,sheetname" jsonschema_description:"Worksheet to load; defaults to the first sheet"`
	Timezone string `json:"timezone,omitempty" jsonschema_description:"IANA zone for timestamps without an offset, e.g. America/Sao_Paulo"`
}

// OpenLeadsOutput documents the response fields for open_leads.
type OpenLeadsOutput struct {
	DatasetID  string            `json:"dataset_id" jsonschema_description:"Server-assigned dataset ID"`
	Name       string            `json:"name"`
	Sheet      string            `json:"sheet,omitempty"`
	Stats      leads.LoadStats   `json:"stats" jsonschema_description:"Rows read, loaded, skipped (bad timestamps) and dropped (no creation time or duplicate IDs)"`
	Dimensions []leads.Dimension `json:"dimensions" jsonschema_description:"Attribution dimensions with at least one tracked value"`
	FirstLead  *time.Time        `json:"first_lead,omitempty"`
	LastLead   *time.Time        `json:"last_lead,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at" jsonschema_description:"Idle expiry; any use of the dataset extends it"`
}

// CloseLeadsInput defines parameters for releasing a dataset.
type CloseLeadsInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset ID to close"`
}

// ListDimensionsInput defines parameters for dimension discovery.
type ListDimensionsInput struct {
	DatasetID string `json:"dataset_id,omitempty" jsonschema_description:"Dataset to describe; omit to list every open dataset"`
}

// DimensionInfo summarizes one attribution axis of a dataset.
type DimensionInfo struct {
	Dimension      leads.Dimension `json:"dimension"`
	Label          string          `json:"label"`
	Groups         int             `json:"groups" jsonschema_description:"Distinct tracked values"`
	TrackedLeads   int             `json:"tracked_leads"`
	UntrackedLeads int             `json:"untracked_leads"`
}

// DatasetDescription is one dataset with its dimensions.
type DatasetDescription struct {
	datasets.Info
	Dimensions []DimensionInfo `json:"dimensions"`
}

// ListDimensionsOutput lists datasets and their dimensions.
type ListDimensionsOutput struct {
	Datasets []DatasetDescription `json:"datasets"`
}

// PageMeta captures paging metadata.
type PageMeta struct {
	Total      int    `json:"total"`
	Returned   int    `json:"returned"`
	Truncated  bool   `json:"truncated"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// RegisterFoundationTools wires the dataset lifecycle tools.
func RegisterFoundationTools(s *server.MCPServer, reg *Registry, h *Handlers) {
	openTool := mcp.NewTool(
		"open_leads",
		mcp.WithDescription("Load a CRM lead export (.xlsx, .xlsm or .csv) from an allowed directory and return a dataset ID. Headers are matched by name in English or Portuguese (utm_campaign/campanha, created_at/criado_em, demo_scheduled_at, no_show_at, sold_at, status, disqualification_reason). Timestamps need an offset unless timezone is given. Rows with unparseable timestamps are skipped and counted; duplicate lead IDs keep the first row. Errors: VALIDATION, PERMISSION_DENIED, OPEN_FAILED, INVALID_SHEET, NAIVE_TIMESTAMP, LIMIT_EXCEEDED, LOAD_FAILED."),
		mcp.WithInputSchema[OpenLeadsInput](),
		mcp.WithOutputSchema[OpenLeadsOutput](),
	)
	s.AddTool(openTool, mcp.NewTypedToolHandler(h.OpenLeads))
	reg.Register(openTool)

	closeTool := mcp.NewTool(
		"close_leads",
		mcp.WithDescription("Release a dataset loaded with open_leads. Datasets also expire after an idle period."),
		mcp.WithInputSchema[CloseLeadsInput](),
		mcp.WithOutputSchema[struct {
			DatasetID string `json:"dataset_id"`
			Closed    bool   `json:"closed" jsonschema_description:"True when the dataset was released"`
		}](),
	)
	s.AddTool(closeTool, mcp.NewTypedToolHandler(h.CloseLeads))
	reg.Register(closeTool)

	listTool := mcp.NewTool(
		"list_dimensions",
		mcp.WithDescription("Describe open datasets: load statistics and, per attribution dimension (utm_campaign, utm_source, utm_medium), how many distinct values and untracked leads it has. Use it to pick a dimension before campaign_metrics."),
		mcp.WithInputSchema[ListDimensionsInput](),
		mcp.WithOutputSchema[ListDimensionsOutput](),
	)
	s.AddTool(listTool, mcp.NewTypedToolHandler(h.ListDimensions))
	reg.Register(listTool)
}

// OpenLeads loads a lead file into the dataset store.
func (h *Handlers) OpenLeads(ctx context.Context, _ mcp.CallToolRequest, in OpenLeadsInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	var loc *time.Location
	if tz := strings.TrimSpace(in.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return mcperr.Wrapf(mcperr.Validation, "unknown timezone %q", tz), nil
		}
		loc = l
	}

	e, err := h.Store.Load(ctx, datasets.LoadRequest{Path: in.Path, Sheet: in.Sheet, Location: loc})
	if err != nil {
		h.Log.Warn().Err(err).Str("file", filepath.Base(in.Path)).Msg("open_leads failed")
		return failure(mcperr.LoadFailed, err), nil
	}
	h.Metrics.LeadsLoaded.Add(float64(e.Stats.Loaded))
	h.Metrics.RowsSkipped.Add(float64(e.Stats.Skipped + e.Stats.Dropped))
	h.Metrics.OpenDatasets.Set(float64(h.Store.Count()))

	out := OpenLeadsOutput{
		DatasetID:  e.ID,
		Name:       e.Name,
		Sheet:      e.Sheet,
		Stats:      e.Stats,
		Dimensions: campaigns.AvailableDimensions(e.Dataset),
		ExpiresAt:  e.ExpiresAt(),
	}
	if first, last, ok := e.Dataset.Span(); ok {
		out.FirstLead, out.LastLead = &first, &last
	}
	summary := fmt.Sprintf("dataset_id=%s name=%s loaded=%d skipped=%d dropped=%d", e.ID, e.Name, e.Stats.Loaded, e.Stats.Skipped, e.Stats.Dropped)
	return h.structured(out, summary, summary)
}

// CloseLeads releases a dataset.
func (h *Handlers) CloseLeads(_ context.Context, _ mcp.CallToolRequest, in CloseLeadsInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	if err := h.Store.Close(in.DatasetID); err != nil {
		return failure(mcperr.InvalidDataset, err), nil
	}
	h.Metrics.OpenDatasets.Set(float64(h.Store.Count()))
	out := struct {
		DatasetID string `json:"dataset_id"`
		Closed    bool   `json:"closed"`
	}{in.DatasetID, true}
	summary := "closed " + in.DatasetID
	return h.structured(out, summary, summary)
}

// ListDimensions describes one dataset, or all of them.
func (h *Handlers) ListDimensions(ctx context.Context, _ mcp.CallToolRequest, in ListDimensionsInput) (*mcp.CallToolResult, error) {
	var infos []datasets.Info
	if id := strings.TrimSpace(in.DatasetID); id != "" {
		e, res := h.dataset(id)
		if res != nil {
			return res, nil
		}
		infos = []datasets.Info{{ID: e.ID, Name: e.Name, Sheet: e.Sheet, Stats: e.Stats, LoadedAt: e.LoadedAt, ExpiresAt: e.ExpiresAt()}}
	} else {
		infos = h.Store.List()
	}

	out := ListDimensionsOutput{Datasets: make([]DatasetDescription, 0, len(infos))}
	lines := []string{fmt.Sprintf("datasets=%d", len(infos))}
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return failure(mcperr.AnalysisFailed, err), nil
		}
		e, ok := h.Store.Get(info.ID)
		if !ok {
			continue
		}
		desc := DatasetDescription{Info: info, Dimensions: describeDimensions(h.Analyzer.Aggregator, e.Dataset)}
		out.Datasets = append(out.Datasets, desc)
		for _, d := range desc.Dimensions {
			lines = append(lines, fmt.Sprintf("- %s %s groups=%d untracked=%d", info.ID, d.Dimension, d.Groups, d.UntrackedLeads))
		}
	}
	return h.structured(out, lines[0], strings.Join(lines, "\n"))
}

func describeDimensions(agg *campaigns.Aggregator, ds *leads.Dataset) []DimensionInfo {
	out := []DimensionInfo{}
	for _, dim := range ds.Dimensions() {
		rep := agg.Aggregate(ds, campaigns.Options{Dimension: dim})
		info := DimensionInfo{Dimension: dim, Label: dim.Label()}
		for _, m := range rep.All {
			if m.Attribution.IsTracked() {
				info.Groups++
				info.TrackedLeads += m.TotalLeads
			} else {
				info.UntrackedLeads += m.TotalLeads
			}
		}
		out = append(out, info)
	}
	return out
}

// --- shared helpers ---

func (h *Handlers) dataset(id string) (*datasets.Entry, *mcp.CallToolResult) {
	e, ok := h.Store.Get(strings.TrimSpace(id))
	if !ok {
		return nil, mcperr.Wrapf(mcperr.InvalidDataset, "dataset %q not found or expired", id)
	}
	return e, nil
}

// parse resolves the window. A bare-date end covers that whole day.
func (w WindowInput) parse() (*leads.Window, *mcp.CallToolResult) {
	start, end := strings.TrimSpace(w.Start), strings.TrimSpace(w.End)
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" {
		return nil, mcperr.New(mcperr.Validation, "start is required together with end")
	}
	from, err := validation.ParseBound(start)
	if err != nil {
		return nil, mcperr.New(mcperr.Validation, err.Error())
	}
	to, err := validation.ParseBound(end)
	if err != nil {
		return nil, mcperr.New(mcperr.Validation, err.Error())
	}
	if len(end) == len(time.DateOnly) {
		to = to.AddDate(0, 0, 1)
	}
	win, err := leads.NewWindow(from, to)
	if err != nil {
		return nil, mcperr.Wrapf(mcperr.InvalidWindow, "%s is not after %s", end, start)
	}
	return win, nil
}

func dimensionOf(s string) leads.Dimension {
	d, err := leads.ParseDimension(s)
	if err != nil {
		return leads.DimensionCampaign
	}
	return d
}

func sortKeyOf(s string) campaigns.SortKey {
	k, err := campaigns.ParseSortKey(s)
	if err != nil {
		return campaigns.SortTotalLeads
	}
	return k
}

func (h *Handlers) minLeads(v *int) int {
	if v != nil {
		return *v
	}
	return h.Analysis.MinLeads
}

// structured attaches a text rendering to a structured result and enforces
// the payload limit on the structured form.
func (h *Handlers) structured(out any, summary, text string) (*mcp.CallToolResult, error) {
	if limit := h.Limits.MaxPayloadBytes; limit > 0 {
		b, err := json.Marshal(out)
		if err != nil {
			return mcperr.Wrapf(mcperr.AnalysisFailed, "encode result: %v", err), nil
		}
		if len(b) > limit {
			return mcperr.Wrapf(mcperr.PayloadTooLarge, "result is %d bytes (max %d)", len(b), limit), nil
		}
	}
	res := mcp.NewToolResultStructured(out, summary)
	res.Content = []mcp.Content{mcp.NewTextContent(text)}
	return res, nil
}
