package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultMaxConcurrentRequests, cfg.Server.MaxConcurrentRequests)
	require.Equal(t, DefaultDatasetIdleTTL, cfg.Server.DatasetIdleTTL)
	require.False(t, cfg.Server.EnableExports)
	require.Empty(t, cfg.Server.AllowedDirs)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, DefaultCompletedStatuses, cfg.Analysis.CompletedStatuses)
	require.Equal(t, DefaultDisqualifiedLabel, cfg.Analysis.DisqualifiedLabel)
	require.Equal(t, DefaultMinLeads, cfg.Analysis.MinLeads)
	require.True(t, cfg.Analysis.ReportInsufficientData)
	require.InDelta(t, 20.0, cfg.Analysis.Thresholds.SalesDrop, 0.001)
	require.Empty(t, cfg.Narrative.Provider)

	loc, err := cfg.Analysis.Location()
	require.NoError(t, err)
	require.Nil(t, loc)
}

func TestLoad_EnvOverrides(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	t.Setenv("MCPFUNNEL_ALLOWED_DIRS", a+string(os.PathListSeparator)+b)
	t.Setenv("MCPFUNNEL_ENABLE_EXPORTS", "true")
	t.Setenv("MCPFUNNEL_ANALYSIS_MIN_LEADS", "12")
	t.Setenv("MCPFUNNEL_ANALYSIS_TIMEZONE", "America/Sao_Paulo")
	t.Setenv("MCPFUNNEL_SERVER_DATASET_IDLE_TTL", "2h")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{a, b}, cfg.Server.AllowedDirs)
	require.True(t, cfg.Server.EnableExports)
	require.Equal(t, 12, cfg.Analysis.MinLeads)
	require.Equal(t, 2*time.Hour, cfg.Server.DatasetIdleTTL)

	loc, err := cfg.Analysis.Location()
	require.NoError(t, err)
	require.Equal(t, "America/Sao_Paulo", loc.String())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funnel.yaml")
	body := `server:
  max_datasets: 3
  ops_addr: "127.0.0.1:9464"
log:
  level: debug
  pretty: true
analysis:
  completed_statuses: ["Demo Realizada", "Ganho"]
  disqualified_label: Desqualificado
  thresholds:
    sales_drop: 35
narrative:
  provider: openai
  model: gpt-4o-mini
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Server.MaxDatasets)
	require.Equal(t, "127.0.0.1:9464", cfg.Server.OpsAddr)
	require.Equal(t, "debug", cfg.Log.Level)
	require.True(t, cfg.Log.Pretty)
	require.Equal(t, []string{"Demo Realizada", "Ganho"}, cfg.Analysis.CompletedStatuses)
	require.Equal(t, "Desqualificado", cfg.Analysis.DisqualifiedLabel)
	require.InDelta(t, 35.0, cfg.Analysis.Thresholds.SalesDrop, 0.001)
	require.InDelta(t, 3.0, cfg.Analysis.Thresholds.SalesDropMinPrevious, 0.001)
	require.Equal(t, "openai", cfg.Narrative.Provider)
	require.Equal(t, "gpt-4o-mini", cfg.Narrative.Model)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"log level":  "log:\n  level: loud\n",
		"provider":   "narrative:\n  provider: carrier-pigeon\n",
		"timezone":   "analysis:\n  timezone: Mars/Olympus\n",
		"max leads":  "analysis:\n  max_insights: 0\n",
		"negative":   "analysis:\n  min_leads: -1\n",
		"concurrent": "server:\n  max_concurrent_requests: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "funnel.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestGetenv(t *testing.T) {
	t.Setenv("MCPFUNNEL_SAMPLE", "x")
	require.Equal(t, "x", Getenv("SAMPLE"))
}
