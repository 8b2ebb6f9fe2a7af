package config

import "time"

// Default runtime guardrails for the funnel analytics server. They are
// referenced by internal/runtime and can be overridden through Load.

const (
	// Concurrency
	DefaultMaxConcurrentRequests = 10
	DefaultMaxOpenWorkbooks      = 4
	DefaultMaxDatasets           = 16

	// Payload and row limits
	DefaultMaxPayloadBytes = 128 * 1024 // 128KB
	DefaultMaxRowsPerLoad  = 200_000
	DefaultPageSize        = 25
	MaxPageSize            = 500
	DefaultTrendTopN       = 5
)

const (
	// Timeouts
	DefaultOperationTimeout      = 30 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second

	// Workbook and dataset handle lifetimes
	DefaultWorkbookIdleTTL       = 5 * time.Minute
	DefaultWorkbookCleanupPeriod = time.Minute
	DefaultDatasetIdleTTL        = 30 * time.Minute
)

// Analysis defaults.
const (
	DefaultMinLeads          = 5
	DefaultMaxInsights       = 10
	DefaultDisqualifiedLabel = "Disqualified"
)

// DefaultCompletedStatuses are the statuses that count a scheduled demo as held.
var DefaultCompletedStatuses = []string{"Demo Completed", "Hot Lead", "Negotiating", "Won"}

// Narrative defaults.
const (
	DefaultMaxPromptTokens  = 6000
	DefaultNarrativeTimeout = 45 * time.Second
	DefaultNarrativeMaxLen  = 1200
)

// DefaultOpsAddr is where /healthz and /metrics are served; empty disables it.
const DefaultOpsAddr = ""
