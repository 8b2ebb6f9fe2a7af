package mcperr

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Code defines a canonical MCP error code used across tools.
type Code string

const (
	// Validation & Input
	Validation        Code = "VALIDATION"
	InvalidDataset    Code = "INVALID_DATASET"
	InvalidSheet      Code = "INVALID_SHEET"
	InvalidWindow     Code = "INVALID_WINDOW"
	CursorInvalid     Code = "CURSOR_INVALID"
	CursorBuildFailed Code = "CURSOR_BUILD_FAILED"

	// Resource & Limits
	BusyResource    Code = "BUSY_RESOURCE"
	Timeout         Code = "TIMEOUT"
	LimitExceeded   Code = "LIMIT_EXCEEDED"
	PayloadTooLarge Code = "PAYLOAD_TOO_LARGE"

	// IO & Formats
	OpenFailed   Code = "OPEN_FAILED"
	LoadFailed   Code = "LOAD_FAILED"
	NaiveTime    Code = "NAIVE_TIMESTAMP"
	ExportFailed Code = "EXPORT_FAILED"

	// Analysis
	AnalysisFailed       Code = "ANALYSIS_FAILED"
	NarrativeUnavailable Code = "NARRATIVE_UNAVAILABLE"
	NarrativeFailed      Code = "NARRATIVE_FAILED"

	// Integrity
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	PermissionDenied  Code = "PERMISSION_DENIED"
)

// Entry documents a code's standard message, retry semantics, and next steps.
type Entry struct {
	Code      Code
	Message   string
	Retryable bool
	NextSteps []string
}

// catalog maps canonical codes to guidance. Messages can be overridden per error.
var catalog = map[Code]Entry{
	Validation:        {Code: Validation, Message: "invalid inputs", Retryable: true, NextSteps: []string{"Correct the inputs per schema and retry", "See examples in tool description"}},
	InvalidDataset:    {Code: InvalidDataset, Message: "dataset not found or expired", Retryable: true, NextSteps: []string{"Reload the lead file with open_leads and retry"}},
	InvalidSheet:      {Code: InvalidSheet, Message: "sheet not found", Retryable: true, NextSteps: []string{"Check the sheet name, including case and spacing", "Omit sheet to load the first sheet"}},
	InvalidWindow:     {Code: InvalidWindow, Message: "window end must be after start", Retryable: true, NextSteps: []string{"Provide start and end as YYYY-MM-DD or RFC 3339 with end > start"}},
	CursorInvalid:     {Code: CursorInvalid, Message: "cursor is invalid for current context", Retryable: true, NextSteps: []string{"Restart pagination from the first page", "Keep dimension, sort and window unchanged between pages"}},
	CursorBuildFailed: {Code: CursorBuildFailed, Message: "failed to encode next page cursor", Retryable: true, NextSteps: []string{"Retry or lower page_size"}},

	BusyResource:    {Code: BusyResource, Message: "concurrent request limit reached", Retryable: true, NextSteps: []string{"Retry after a short delay"}},
	Timeout:         {Code: Timeout, Message: "operation exceeded configured time limit", Retryable: true, NextSteps: []string{"Narrow the window or increase the timeout"}},
	LimitExceeded:   {Code: LimitExceeded, Message: "operation exceeded configured limits", Retryable: true, NextSteps: []string{"Close unused datasets or load a smaller file"}},
	PayloadTooLarge: {Code: PayloadTooLarge, Message: "payload exceeds configured size", Retryable: true, NextSteps: []string{"Lower page_size or use export_metrics"}},

	OpenFailed:   {Code: OpenFailed, Message: "failed to open lead file", Retryable: true, NextSteps: []string{"Verify path, permissions, and format"}},
	LoadFailed:   {Code: LoadFailed, Message: "failed to load leads", Retryable: true, NextSteps: []string{"Check that the header row names the lead columns", "Verify timestamps carry a timezone or configure analysis.timezone"}},
	NaiveTime:    {Code: NaiveTime, Message: "timestamp without timezone", Retryable: true, NextSteps: []string{"Pass timezone to open_leads or set MCPFUNNEL_ANALYSIS_TIMEZONE"}},
	ExportFailed: {Code: ExportFailed, Message: "failed to write export", Retryable: false, NextSteps: []string{"Choose a .csv or .xlsx path inside an allowed directory"}},

	AnalysisFailed:       {Code: AnalysisFailed, Message: "analysis failed", Retryable: true, NextSteps: []string{"Verify dataset ids and window", "Retry with a wider window"}},
	NarrativeUnavailable: {Code: NarrativeUnavailable, Message: "no language model configured", Retryable: false, NextSteps: []string{"Set narrative.provider and credentials, or use marketing_insights"}},
	NarrativeFailed:      {Code: NarrativeFailed, Message: "narrative generation failed", Retryable: true, NextSteps: []string{"Retry, or use marketing_insights for the rule-based report"}},

	UnsupportedFormat: {Code: UnsupportedFormat, Message: "unsupported lead file format", Retryable: false, NextSteps: []string{"Convert to .xlsx or .csv and retry"}},
	PermissionDenied:  {Code: PermissionDenied, Message: "insufficient permissions to access path", Retryable: false, NextSteps: []string{"Adjust permissions or choose an allowed directory"}},
}

// Detail is the structured form of a tool error, attached alongside the text
// so clients can branch on code and retryable without parsing.
type Detail struct {
	Code      Code     `json:"code"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
	NextSteps []string `json:"next_steps,omitempty"`
}

// resolve fills message and guidance from the catalog. Unknown codes keep
// the caller's message and are not retryable.
func resolve(code Code, msg string) Detail {
	d := Detail{Code: code, Message: strings.TrimSpace(msg)}
	e, ok := catalog[code]
	if !ok {
		return d
	}
	if d.Message == "" {
		d.Message = e.Message
	}
	d.Retryable = e.Retryable
	d.NextSteps = e.NextSteps
	return d
}

// Text renders "CODE: message | nextSteps: a; b" for clients that surface
// only the text content.
func (d Detail) Text() string {
	if d.Message == "" {
		return string(d.Code)
	}
	out := fmt.Sprintf("%s: %s", d.Code, d.Message)
	if len(d.NextSteps) > 0 {
		out += " | nextSteps: " + strings.Join(d.NextSteps, "; ")
	}
	return out
}

func result(d Detail) *mcp.CallToolResult {
	res := mcp.NewToolResultError(d.Text())
	res.StructuredContent = d
	return res
}

// FromText parses a "CODE: message" string as produced by the validation
// package. Empty text is a bare VALIDATION error.
func FromText(text string) *mcp.CallToolResult {
	code, msg, _ := strings.Cut(strings.TrimSpace(text), ":")
	if code = strings.TrimSpace(code); code == "" {
		code = string(Validation)
	}
	return result(resolve(Code(code), msg))
}

// New returns an error result for code; an empty message uses the catalog's.
func New(code Code, message string) *mcp.CallToolResult {
	return result(resolve(code, message))
}

// Wrapf formats details and returns an MCP error result for the code.
func Wrapf(code Code, format string, args ...any) *mcp.CallToolResult {
	return result(resolve(code, fmt.Sprintf(format, args...)))
}

// Lookup returns the catalog entry for code.
func Lookup(code Code) (Entry, bool) {
	e, ok := catalog[code]
	return e, ok
}
