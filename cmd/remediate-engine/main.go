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

	"github.com/miradorstack/mirador-remediate/internal/api"
	"github.com/miradorstack/mirador-remediate/internal/config"
	"github.com/miradorstack/mirador-remediate/internal/council"
	"github.com/miradorstack/mirador-remediate/internal/diagnose"
	"github.com/miradorstack/mirador-remediate/internal/llm"
	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/notify"
	"github.com/miradorstack/mirador-remediate/internal/orchestrator"
	"github.com/miradorstack/mirador-remediate/internal/retrieval"
	"github.com/miradorstack/mirador-remediate/internal/runbook"
	"github.com/miradorstack/mirador-remediate/internal/runtime"
	"github.com/miradorstack/mirador-remediate/internal/utils"
	"github.com/miradorstack/mirador-remediate/internal/verify"
	"github.com/miradorstack/mirador-remediate/internal/ws"
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
	logger.Info("starting mirador-remediate", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	primary := llm.NewOpenAIBackend("primary",
		cfg.LLM.Primary.BaseURL, cfg.LLM.Primary.APIKey, cfg.LLM.Primary.Model,
		cfg.LLM.Temperature, cfg.LLM.Timeout)
	fallback := llm.NewOpenAIBackend("fallback",
		cfg.LLM.Fallback.BaseURL, cfg.LLM.Fallback.APIKey, cfg.LLM.Fallback.Model,
		cfg.LLM.Temperature, cfg.LLM.Timeout)
	backend := llm.NewFailover(primary, fallback, utils.ComponentLogger(logger, "llm"))

	hints, err := diagnose.LoadHints(cfg.Hints.Path, utils.ComponentLogger(logger, "hints"))
	if err != nil {
		logger.Error("failed to load hint pack", slog.Any("error", err))
		os.Exit(1)
	}

	store := runbook.NewStore(cfg.Runbook.Path, utils.ComponentLogger(logger, "runbook"))
	retriever := retrieval.NewRetriever(
		cfg.Retrieval.TopK, cfg.Retrieval.MinSimilarity, cfg.Retrieval.MaxFeatures,
		utils.ComponentLogger(logger, "retrieval"))

	agent := diagnose.NewAgent(backend, retriever, store, hints,
		cfg.LLM.LogTruncateChars, utils.ComponentLogger(logger, "diagnose"))
	reviewers := council.New(backend, utils.ComponentLogger(logger, "council"))

	driver := runtime.NewDriver(cfg.Runtime, utils.ComponentLogger(logger, "runtime"))
	verifier := verify.NewVerifier(cfg.Verify, utils.ComponentLogger(logger, "verify"))
	hub := ws.NewHub(utils.ComponentLogger(logger, "ws"))
	notifier := notify.NewSlackNotifier(cfg.Slack.WebhookURL, utils.ComponentLogger(logger, "notify"))

	orch := orchestrator.New(orchestrator.Deps{
		Agent:    agent,
		Council:  reviewers,
		Runtime:  driver,
		Verifier: verifier,
		Corpus:   store,
		Live:     hub,
		Notifier: notifier,
		Logger:   utils.ComponentLogger(logger, "orchestrator"),
	})

	server := api.NewServer(api.Deps{
		Pipeline:  orch,
		Runbook:   store,
		Finder:    agent,
		Workloads: driver,
		Live:      hub,
		Logger:    utils.ComponentLogger(logger, "api"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go broadcastStats(ctx, cfg.Server.StatsInterval, driver, hub, logger)

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

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: server.Handler(),
	}
	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	hub.Close()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("mirador-remediate stopped")
}

// statsSource is the slice of the runtime driver the stats loop reads.
type statsSource interface {
	Stats(ctx context.Context) ([]models.WorkloadStats, error)
	ListRunning(ctx context.Context) ([]models.WorkloadInfo, error)
}

// statsSink is the slice of the live channel the stats loop writes to.
type statsSink interface {
	Count() int
	Broadcast(frameType models.FrameType, incidentID string, data any)
}

// broadcastStats pushes live resource snapshots and the running workload
// list to subscribers on a fixed cadence. It skips the runtime calls
// entirely when nobody is listening.
func broadcastStats(ctx context.Context, interval time.Duration, source statsSource, sink statsSink, logger *slog.Logger) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sink.Count() == 0 {
				continue
			}
			stats, err := source.Stats(ctx)
			if err != nil {
				logger.Debug("stats collection failed", slog.Any("error", err))
				continue
			}
			sink.Broadcast(models.FrameMetrics, "", stats)

			workloads, err := source.ListRunning(ctx)
			if err != nil {
				logger.Debug("workload listing failed", slog.Any("error", err))
				continue
			}
			sink.Broadcast(models.FrameContainerList, "", workloads)
		}
	}
}
