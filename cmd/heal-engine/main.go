package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsmendstack/opsmend-heal/internal/api"
	"github.com/opsmendstack/opsmend-heal/internal/config"
	"github.com/opsmendstack/opsmend-heal/internal/detector"
	"github.com/opsmendstack/opsmend-heal/internal/engine"
	"github.com/opsmendstack/opsmend-heal/internal/executor"
	"github.com/opsmendstack/opsmend-heal/internal/metrics"
	"github.com/opsmendstack/opsmend-heal/internal/policy"
	"github.com/opsmendstack/opsmend-heal/internal/repo"
	"github.com/opsmendstack/opsmend-heal/internal/sim"
	"github.com/opsmendstack/opsmend-heal/internal/store"
	"github.com/opsmendstack/opsmend-heal/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting opsmend-heal",
		slog.String("address", cfg.Server.Address),
		slog.String("data_dir", cfg.Store.DataDir),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	recorder, err := store.NewRecorder(cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open healing logs", slog.Any("error", err))
		os.Exit(1)
	}
	aggregator := recorder.Aggregator()

	classifier := detector.NewClassifier(cfg.Detector, logger)

	var reasoner policy.Reasoner
	if reasoningClient := repo.NewReasoningClient(cfg.Reasoning, logger); reasoningClient != nil {
		reasoner = reasoningClient
	}

	resolver, err := policy.NewResolver(cfg.Policies.Path, reasoner, cfg.Reasoning.Timeout, logger)
	if err != nil {
		logger.Error("failed to load policy pack", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("policy table loaded", slog.Int("categories", len(resolver.Categories())))

	dispatcher := executor.NewDispatcher(recorder, executor.Ranges{
		RecoveryMin:  75,
		RecoveryMax:  98,
		RewardMin:    -0.1,
		RewardMax:    0.5,
		MinLatencyMs: cfg.Simulator.MinLatencyMs,
		MaxLatencyMs: cfg.Simulator.MaxLatencyMs,
	}, logger)

	biller := repo.NewBillingClient(cfg.Billing, recorder, logger)
	notifier := repo.NewWebhookNotifier(cfg.Webhook, logger)

	pipeline := engine.NewPipeline(
		logger,
		classifier,
		resolver,
		dispatcher,
		recorder,
		biller,
		notifier,
		cfg.Billing,
	)

	supervisor := sim.NewSupervisor(cfg.Simulator, pipeline, logger)
	supervisor.Start()

	handlers := api.NewHandlers(logger, pipeline, supervisor, recorder, aggregator, api.Readiness{
		Reasoning: reasoner != nil,
		Billing:   cfg.Billing.APIKey != "" && cfg.Billing.BaseURL != "",
		Webhook:   cfg.Webhook.URL != "",
	})
	server, err := api.NewServer(cfg.Server, handlers)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	supervisor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("opsmend-heal stopped")
}
