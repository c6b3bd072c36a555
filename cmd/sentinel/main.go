// SOC Sentinel: alert ingestion, ATT&CK classification, risk scoring,
// live broadcast, and approval-gated remediation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hdnguyen/soc-sentinel/internal/actions"
	"github.com/hdnguyen/soc-sentinel/internal/auth"
	"github.com/hdnguyen/soc-sentinel/internal/chat"
	"github.com/hdnguyen/soc-sentinel/internal/config"
	"github.com/hdnguyen/soc-sentinel/internal/hub"
	"github.com/hdnguyen/soc-sentinel/internal/ingest"
	"github.com/hdnguyen/soc-sentinel/internal/memory"
	"github.com/hdnguyen/soc-sentinel/internal/mitre"
	"github.com/hdnguyen/soc-sentinel/internal/observability"
	"github.com/hdnguyen/soc-sentinel/internal/scenario"
	"github.com/hdnguyen/soc-sentinel/internal/server"
	"github.com/hdnguyen/soc-sentinel/internal/sources"
	"github.com/hdnguyen/soc-sentinel/internal/store"
)

const shutdownGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	settings, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	telCfg := observability.Config{
		ServiceName:    "soc-sentinel",
		ServiceVersion: server.Version,
		Environment:    environment(settings.Debug),
		LogLevel:       logLevel(settings.Debug),
		LogFormat:      logFormat(settings.Debug),
		TracingEnabled: settings.TracingEnabled,
		OTLPEndpoint:   settings.OTLPEndpoint,
		SamplingRate:   1.0,
		MetricsEnabled: settings.MetricsEnabled,
	}
	telCfg, err = observability.LoadConfigOverlay("configs/telemetry.yaml", telCfg)
	if err != nil {
		return fmt.Errorf("loading telemetry overlay: %w", err)
	}

	tel, err := observability.New(telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	logger := tel.Logger()
	logger.Info("SOC Sentinel starting",
		zap.Int("port", settings.Port),
		zap.Bool("debug", settings.Debug),
		zap.Bool("real_execution", settings.AllowRealExecution),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel.StartSystemMetricsCollector(ctx)

	// Persistence
	st, err := store.Connect(ctx, settings.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer st.Close()
	if err := st.CreateTables(ctx); err != nil {
		return fmt.Errorf("preparing schema: %w", err)
	}

	// Enrichment and pipeline
	classifier := mitre.NewClassifier(settings.DataDir, logger)
	h := hub.New(logger, tel.Metrics())
	pipeline := ingest.New(classifier, st, h, tel)

	ingestFn := func(ctx context.Context, raw, hint string) {
		if _, err := pipeline.Ingest(ctx, raw, hint); err != nil {
			logger.Error("Ingest failed", zap.Error(err))
		}
	}

	// Alert source: tail a live file when configured, otherwise
	// generate synthetic traffic.
	if settings.LogFilePath != "" {
		tailer := sources.NewTailer(settings.LogFilePath, ingestFn, logger)
		go tailer.Run(ctx)
	} else {
		sim := sources.NewSimulator(
			settings.LogSimulateIntervalMin,
			settings.LogSimulateIntervalMax,
			ingestFn, logger,
		)
		go sim.Run(ctx)
	}

	// Scenario replay
	runner := scenario.NewRunner(settings.DataDir, ingestFn, logger)
	scenarioCoord := scenario.NewCoordinator(ctx, runner, logger,
		nil,
		func(id, outcome string) {
			if m := tel.Metrics(); m != nil {
				m.ScenarioRuns.WithLabelValues(outcome).Inc()
			}
		},
	)

	// Remediation
	actionCoord := actions.NewCoordinator(st, classifier, tel, settings.AllowRealExecution)

	// Auth
	authn := auth.New(
		settings.SecretKey,
		settings.AdminUsername,
		settings.AdminPassword,
		time.Duration(settings.AccessTokenExpireMinutes)*time.Minute,
	)

	// Assistant
	mem, err := memory.New(settings.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("initializing conversation memory: %w", err)
	}
	if im, ok := mem.(*memory.InMemory); ok {
		go im.RunCleanup(ctx)
	}
	responder := chat.NewAssistant(classifier, st, mem, settings.OpenAIAPIKey != "", logger)

	// HTTP surface
	srv := server.New(settings, st, h, actionCoord, scenarioCoord, authn, responder, tel)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", settings.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	_ = scenarioCoord.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown incomplete", zap.Error(err))
	}

	logger.Info("SOC Sentinel stopped")
	return nil
}

func environment(debug bool) string {
	if debug {
		return "development"
	}
	return "production"
}

func logLevel(debug bool) string {
	if debug {
		return "debug"
	}
	return "info"
}

func logFormat(debug bool) string {
	if debug {
		return "console"
	}
	return "json"
}
