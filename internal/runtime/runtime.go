package runtime

import (
	"context"
	"time"

	"github.com/vinodismyname/mcpfunnel/config"
	"golang.org/x/sync/semaphore"
)

// Limits captures the concurrency and capacity guardrails configured for the server.
type Limits struct {
	// Concurrency caps
	MaxConcurrentRequests int
	MaxOpenWorkbooks      int
	MaxDatasets           int

	// Payload and row bounds
	MaxPayloadBytes int
	MaxRowsPerLoad  int

	// Timeouts
	OperationTimeout      time.Duration
	AcquireRequestTimeout time.Duration
}

// NewLimits initializes Limits with config defaults for unset values.
func NewLimits(maxConcurrentRequests, maxOpenWorkbooks int) Limits {
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = config.DefaultMaxConcurrentRequests
	}
	if maxOpenWorkbooks <= 0 {
		maxOpenWorkbooks = config.DefaultMaxOpenWorkbooks
	}

	return Limits{
		MaxConcurrentRequests: maxConcurrentRequests,
		MaxOpenWorkbooks:      maxOpenWorkbooks,
		MaxDatasets:           config.DefaultMaxDatasets,
		MaxPayloadBytes:       config.DefaultMaxPayloadBytes,
		MaxRowsPerLoad:        config.DefaultMaxRowsPerLoad,
		OperationTimeout:      config.DefaultOperationTimeout,
		AcquireRequestTimeout: config.DefaultAcquireRequestTimeout,
	}
}

// LimitsFromConfig maps the server section of the configuration.
func LimitsFromConfig(sc config.ServerConfig) Limits {
	l := NewLimits(sc.MaxConcurrentRequests, sc.MaxOpenWorkbooks)
	if sc.MaxDatasets > 0 {
		l.MaxDatasets = sc.MaxDatasets
	}
	if sc.MaxRowsPerLoad > 0 {
		l.MaxRowsPerLoad = sc.MaxRowsPerLoad
	}
	if sc.OperationTimeout > 0 {
		l.OperationTimeout = sc.OperationTimeout
	}
	if sc.AcquireTimeout >= 0 {
		l.AcquireRequestTimeout = sc.AcquireTimeout
	}
	return l
}

// Controller coordinates runtime semaphores for request, workbook and
// dataset guardrails.
type Controller struct {
	limits            Limits
	requestSemaphore  *semaphore.Weighted
	workbookSemaphore *semaphore.Weighted
	datasetSemaphore  *semaphore.Weighted
}

// NewController constructs a Controller backed by weighted semaphores.
func NewController(limits Limits) *Controller {
	if limits.MaxDatasets <= 0 {
		limits.MaxDatasets = config.DefaultMaxDatasets
	}
	return &Controller{
		limits:            limits,
		requestSemaphore:  semaphore.NewWeighted(int64(limits.MaxConcurrentRequests)),
		workbookSemaphore: semaphore.NewWeighted(int64(limits.MaxOpenWorkbooks)),
		datasetSemaphore:  semaphore.NewWeighted(int64(limits.MaxDatasets)),
	}
}

// AcquireRequest reserves capacity for an incoming request.
func (c *Controller) AcquireRequest(ctx context.Context) error {
	return c.requestSemaphore.Acquire(ctx, 1)
}

// ReleaseRequest frees previously-acquired request capacity.
func (c *Controller) ReleaseRequest() {
	c.requestSemaphore.Release(1)
}

// AcquireWorkbook reserves an open workbook slot.
func (c *Controller) AcquireWorkbook(ctx context.Context) error {
	return c.workbookSemaphore.Acquire(ctx, 1)
}

// ReleaseWorkbook frees an open workbook slot.
func (c *Controller) ReleaseWorkbook() {
	c.workbookSemaphore.Release(1)
}

// TryAcquireDataset reserves a loaded-dataset slot without waiting.
func (c *Controller) TryAcquireDataset() bool {
	return c.datasetSemaphore.TryAcquire(1)
}

// ReleaseDataset frees a loaded-dataset slot.
func (c *Controller) ReleaseDataset() {
	c.datasetSemaphore.Release(1)
}

// LimitsSnapshot exposes the configured guardrails for telemetry and discovery.
func (c *Controller) LimitsSnapshot() Limits {
	return c.limits
}
