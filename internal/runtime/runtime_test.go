package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/mcpfunnel/config"
)

func TestControllerAcquireRelease(t *testing.T) {
	limits := NewLimits(1, 1)
	controller := NewController(limits)

	require.Equal(t, limits, controller.LimitsSnapshot())

	require.NoError(t, controller.AcquireRequest(context.Background()))
	controller.ReleaseRequest()

	require.NoError(t, controller.AcquireWorkbook(context.Background()))
	controller.ReleaseWorkbook()
}

func TestControllerDatasetSlots(t *testing.T) {
	limits := NewLimits(1, 1)
	limits.MaxDatasets = 2
	controller := NewController(limits)

	require.True(t, controller.TryAcquireDataset())
	require.True(t, controller.TryAcquireDataset())
	require.False(t, controller.TryAcquireDataset())
	controller.ReleaseDataset()
	require.True(t, controller.TryAcquireDataset())
}

func TestLimitsFromConfig(t *testing.T) {
	l := LimitsFromConfig(config.ServerConfig{MaxConcurrentRequests: 3, MaxDatasets: 7, OperationTimeout: time.Second})
	require.Equal(t, 3, l.MaxConcurrentRequests)
	require.Equal(t, config.DefaultMaxOpenWorkbooks, l.MaxOpenWorkbooks)
	require.Equal(t, 7, l.MaxDatasets)
	require.Equal(t, config.DefaultMaxRowsPerLoad, l.MaxRowsPerLoad)
	require.Equal(t, time.Second, l.OperationTimeout)
	require.Zero(t, l.AcquireRequestTimeout)
}
