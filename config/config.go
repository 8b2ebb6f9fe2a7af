package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vinodismyname/mcpfunnel/internal/insights"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
	"github.com/vinodismyname/mcpfunnel/pkg/validation"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "MCPFUNNEL"

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Narrative NarrativeConfig `mapstructure:"narrative"`
}

type ServerConfig struct {
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests" validate:"min=1"`
	MaxOpenWorkbooks      int           `mapstructure:"max_open_workbooks" validate:"min=1"`
	MaxDatasets           int           `mapstructure:"max_datasets" validate:"min=1"`
	MaxRowsPerLoad        int           `mapstructure:"max_rows_per_load" validate:"min=1"`
	OperationTimeout      time.Duration `mapstructure:"operation_timeout" validate:"gt=0"`
	AcquireTimeout        time.Duration `mapstructure:"acquire_timeout" validate:"gte=0"`
	WorkbookIdleTTL       time.Duration `mapstructure:"workbook_idle_ttl" validate:"gt=0"`
	DatasetIdleTTL        time.Duration `mapstructure:"dataset_idle_ttl" validate:"gt=0"`
	AllowedDirs           []string      `mapstructure:"allowed_dirs"`
	EnableExports         bool          `mapstructure:"enable_exports"`
	OpsAddr               string        `mapstructure:"ops_addr" validate:"omitempty,hostname_port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `mapstructure:"pretty"`
}

type AnalysisConfig struct {
	CompletedStatuses      []string            `mapstructure:"completed_statuses" validate:"min=1,dive,required"`
	DisqualifiedLabel      string              `mapstructure:"disqualified_label" validate:"required"`
	MinLeads               int                 `mapstructure:"min_leads" validate:"gte=0"`
	MaxInsights            int                 `mapstructure:"max_insights" validate:"min=1,max=100"`
	ReportInsufficientData bool                `mapstructure:"report_insufficient_data"`
	Timezone               string              `mapstructure:"timezone"`
	UntrackedAliases       []string            `mapstructure:"untracked_aliases"`
	Thresholds             insights.Thresholds `mapstructure:"thresholds"`
}

type NarrativeConfig struct {
	// Provider selects the model backend; empty disables narration.
	Provider        string        `mapstructure:"provider" validate:"omitempty,oneof=openai"`
	Model           string        `mapstructure:"model"`
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	MaxPromptTokens int           `mapstructure:"max_prompt_tokens" validate:"min=256"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// Location resolves the configured timezone for naive timestamps. An empty
// timezone returns nil, which makes loaders reject naive values.
func (a AnalysisConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(a.Timezone) == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// Load reads an optional YAML file and MCPFUNNEL_* environment overrides on
// top of the defaults, then validates the result. An empty path looks for
// mcpfunnel.yaml in the working directory and ignores it when absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mcpfunnel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Short aliases kept for operators used to the allow-list variables.
	_ = v.BindEnv("server.allowed_dirs", EnvPrefix+"_ALLOWED_DIRS", EnvPrefix+"_SERVER_ALLOWED_DIRS")
	_ = v.BindEnv("server.enable_exports", EnvPrefix+"_ENABLE_EXPORTS", EnvPrefix+"_SERVER_ENABLE_EXPORTS")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Server.AllowedDirs = splitDirs(cfg.Server.AllowedDirs)

	if err := validation.Validator().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	if _, err := cfg.Analysis.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitDirs accepts list entries that themselves hold an OS path list, as
// produced by a single environment variable.
func splitDirs(in []string) []string {
	var out []string
	for _, d := range in {
		for _, p := range filepath.SplitList(d) {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.max_concurrent_requests", DefaultMaxConcurrentRequests)
	v.SetDefault("server.max_open_workbooks", DefaultMaxOpenWorkbooks)
	v.SetDefault("server.max_datasets", DefaultMaxDatasets)
	v.SetDefault("server.max_rows_per_load", DefaultMaxRowsPerLoad)
	v.SetDefault("server.operation_timeout", DefaultOperationTimeout)
	v.SetDefault("server.acquire_timeout", DefaultAcquireRequestTimeout)
	v.SetDefault("server.workbook_idle_ttl", DefaultWorkbookIdleTTL)
	v.SetDefault("server.dataset_idle_ttl", DefaultDatasetIdleTTL)
	v.SetDefault("server.allowed_dirs", []string{})
	v.SetDefault("server.enable_exports", false)
	v.SetDefault("server.ops_addr", DefaultOpsAddr)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("analysis.completed_statuses", DefaultCompletedStatuses)
	v.SetDefault("analysis.disqualified_label", DefaultDisqualifiedLabel)
	v.SetDefault("analysis.min_leads", DefaultMinLeads)
	v.SetDefault("analysis.max_insights", DefaultMaxInsights)
	v.SetDefault("analysis.report_insufficient_data", true)
	v.SetDefault("analysis.timezone", "")
	v.SetDefault("analysis.untracked_aliases", leads.DefaultUntrackedAliases)

	th := insights.DefaultThresholds()
	v.SetDefault("analysis.thresholds.high_disqualification", th.HighDisqualification)
	v.SetDefault("analysis.thresholds.critical_disqualification", th.CriticalDisqualification)
	v.SetDefault("analysis.thresholds.disqualification_cap", th.DisqualificationCap)
	v.SetDefault("analysis.thresholds.high_no_show", th.HighNoShow)
	v.SetDefault("analysis.thresholds.no_show_min_scheduled", th.NoShowMinScheduled)
	v.SetDefault("analysis.thresholds.no_show_cap", th.NoShowCap)
	v.SetDefault("analysis.thresholds.low_conversion", th.LowConversion)
	v.SetDefault("analysis.thresholds.missed_opportunity_min_completed", th.MissedOpportunityMinCompleted)
	v.SetDefault("analysis.thresholds.missed_opportunity_cap", th.MissedOpportunityCap)
	v.SetDefault("analysis.thresholds.untracked_share", th.UntrackedShare)
	v.SetDefault("analysis.thresholds.sales_drop", th.SalesDrop)
	v.SetDefault("analysis.thresholds.sales_drop_min_previous", th.SalesDropMinPrevious)
	v.SetDefault("analysis.thresholds.disqualification_rise", th.DisqualificationRise)
	v.SetDefault("analysis.thresholds.disqualification_rise_min_current", th.DisqualificationRiseMinCurrent)
	v.SetDefault("analysis.thresholds.zero_conversion_min_completed", th.ZeroConversionMinCompleted)
	v.SetDefault("analysis.thresholds.zero_conversion_names", th.ZeroConversionNames)

	v.SetDefault("narrative.provider", "")
	v.SetDefault("narrative.model", "")
	v.SetDefault("narrative.base_url", "")
	v.SetDefault("narrative.max_prompt_tokens", DefaultMaxPromptTokens)
	v.SetDefault("narrative.timeout", DefaultNarrativeTimeout)
}

// Getenv is os.Getenv with the server prefix applied.
func Getenv(key string) string { return os.Getenv(EnvPrefix + "_" + key) }
