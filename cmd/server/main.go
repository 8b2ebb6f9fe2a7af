package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/vinodismyname/mcpfunnel/config"
	"github.com/vinodismyname/mcpfunnel/internal/analysis"
	"github.com/vinodismyname/mcpfunnel/internal/campaigns"
	"github.com/vinodismyname/mcpfunnel/internal/datasets"
	"github.com/vinodismyname/mcpfunnel/internal/funnel"
	"github.com/vinodismyname/mcpfunnel/internal/leads"
	"github.com/vinodismyname/mcpfunnel/internal/narrative"
	"github.com/vinodismyname/mcpfunnel/internal/registry"
	"github.com/vinodismyname/mcpfunnel/internal/runtime"
	"github.com/vinodismyname/mcpfunnel/internal/security"
	"github.com/vinodismyname/mcpfunnel/internal/telemetry"
	"github.com/vinodismyname/mcpfunnel/internal/workbooks"
	"github.com/vinodismyname/mcpfunnel/pkg/version"
)

func main() {
	var (
		useStdio        bool
		configPath      string
		shutdownTimeout time.Duration
	)

	flag.BoolVar(&useStdio, "stdio", false, "Run server over stdio transport")
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file (default ./mcpfunnel.yaml when present)")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)

	// Security: validate allow-list directories on startup (fail-safe on error)
	secMgr, err := security.NewManager(cfg.Server.AllowedDirs, nil)
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize allow-list")
		fmt.Fprintln(os.Stderr, "invalid security configuration; set MCPFUNNEL_ALLOWED_DIRS")
		os.Exit(1)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		fmt.Fprintln(os.Stderr, "no allowed directories configured; set MCPFUNNEL_ALLOWED_DIRS")
		os.Exit(1)
	}
	logger.Info().Strs("allowed_dirs", secMgr.AllowedDirectories()).Msg("security allow-list configured")

	limits := runtime.LimitsFromConfig(cfg.Server)
	runtimeController := runtime.NewController(limits)
	// narrate_insights runs the analysis and then waits on the model.
	runtimeMW := runtime.NewMiddleware(runtimeController, logger).
		WithToolTimeout("narrate_insights", limits.OperationTimeout+cfg.Narrative.Timeout)

	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promReg)

	books := workbooks.NewManager(cfg.Server.WorkbookIdleTTL, config.DefaultWorkbookCleanupPeriod, runtimeController, nil)
	books.SetValidator(secMgr)
	books.Start()

	loc, _ := cfg.Analysis.Location()
	store := datasets.NewStore(datasets.Options{
		TTL:       cfg.Server.DatasetIdleTTL,
		MaxRows:   limits.MaxRowsPerLoad,
		Load:      leads.LoadOptions{Location: loc, UntrackedAliases: cfg.Analysis.UntrackedAliases},
		Workbooks: books,
		Validator: secMgr,
		Capacity:  runtimeController,
		Logger:    logger,
	})
	store.Start(0)

	analyzer := analysis.New(logger)
	analyzer.Aggregator = campaigns.NewAggregator(funnel.NewClassifier(cfg.Analysis.CompletedStatuses, cfg.Analysis.DisqualifiedLabel))
	analyzer.Engine.Thresholds = cfg.Analysis.Thresholds
	analyzer.Engine.ReportInsufficientData = cfg.Analysis.ReportInsufficientData

	model, err := newModel(cfg.Narrative)
	if err != nil {
		// Narration is optional; the other tools keep working.
		logger.Warn().Err(err).Str("provider", cfg.Narrative.Provider).Msg("narrative model unavailable")
	}
	narrator := narrative.New(model, cfg.Narrative.Model, logger)
	narrator.MaxPromptTokens = cfg.Narrative.MaxPromptTokens

	handlers := registry.NewHandlers(registry.Deps{
		Store:            store,
		Analyzer:         analyzer,
		Narrator:         narrator,
		NarrativeTimeout: cfg.Narrative.Timeout,
		Security:         secMgr,
		EnableExports:    cfg.Server.EnableExports,
		Metrics:          metrics,
		Limits:           limits,
		Analysis:         cfg.Analysis,
		Log:              logger,
	})
	toolRegistry := registry.New()
	exportFilter := registry.NewExportToolFilter(cfg.Server.EnableExports)

	srv := server.NewMCPServer(
		"MCP Funnel Analytics Server",
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(telemetry.NewHooks(logger)),
		server.WithToolHandlerMiddleware(metrics.ToolMiddleware),
		server.WithToolHandlerMiddleware(runtimeMW.ToolMiddleware),
		server.WithToolFilter(exportFilter.FilterTools),
	)
	registry.RegisterAll(srv, toolRegistry, handlers)

	var ready atomic.Bool

	var ops *http.Server
	if cfg.Server.OpsAddr != "" {
		ops = &http.Server{
			Addr:              cfg.Server.OpsAddr,
			Handler:           metrics.Handler(ready.Load),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.Server.OpsAddr).Msg("ops server stopped")
			}
		}()
	}

	logger.Info().
		Str("version", version.Version()).
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("max_open_workbooks", limits.MaxOpenWorkbooks).
		Int("max_datasets", limits.MaxDatasets).
		Bool("exports", cfg.Server.EnableExports).
		Bool("narrative", narrator.Available()).
		Str("ops_addr", cfg.Server.OpsAddr).
		Bool("stdio", useStdio).
		Msg("server bootstrap configured")

	shutdown := func() {
		ready.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if ops != nil {
			_ = ops.Shutdown(ctx)
		}
		if err := store.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("dataset store shutdown")
		}
		if err := books.Close(ctx); err != nil {
			logger.Warn().Err(err).Msg("workbook manager shutdown")
		}
		logger.Info().Msg("server stopped")
	}

	if !useStdio {
		// If no transport flags provided, print usage and exit non-zero
		fmt.Fprintln(os.Stderr, "no transport selected; use --stdio to run over stdio")
		shutdown()
		os.Exit(2)
	}

	ready.Store(true)
	stdio := server.NewStdioServer(srv)
	stdio.SetErrorLogger(log.New(logger.With().Str("component", "stdio").Logger(), "", 0))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = stdio.Listen(ctx, os.Stdin, os.Stdout)
	shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		// Use stderr for transport errors so clients don't misinterpret output
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger writes to stderr; stdout carries the stdio transport.
func newLogger(lc config.LogConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if lc.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "mcpfunnel-server").Logger()
}

// newModel builds the configured language model. An empty provider returns
// a nil model, which disables narration.
func newModel(nc config.NarrativeConfig) (llms.Model, error) {
	switch strings.ToLower(nc.Provider) {
	case "":
		return nil, nil
	case "openai":
		opts := []openai.Option{}
		if nc.Model != "" {
			opts = append(opts, openai.WithModel(nc.Model))
		}
		if nc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(nc.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		return llm, nil
	}
	return nil, fmt.Errorf("unknown narrative provider %q", nc.Provider)
}
