// cmd/anomalyd/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/charannyk06/shadower-analytics/internal/alert"
	"github.com/charannyk06/shadower-analytics/internal/api"
	"github.com/charannyk06/shadower-analytics/internal/baseline"
	"github.com/charannyk06/shadower-analytics/internal/config"
	"github.com/charannyk06/shadower-analytics/internal/database"
	"github.com/charannyk06/shadower-analytics/internal/detector"
	"github.com/charannyk06/shadower-analytics/internal/lifecycle"
	"github.com/charannyk06/shadower-analytics/internal/processor"
	"github.com/charannyk06/shadower-analytics/internal/rules"
)

func main() {
	configPath := os.Getenv("SHADOWER_CONFIG")

	cfg, err := config.Load(configPath)
	if err != nil {
		// Logger is not up yet.
		panic(err)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logger.Fatal("database open failed", zap.Error(err))
	}
	defer func() { _ = pg.Close() }()

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	defer pingCancel()
	if err := pg.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	if err := pg.CreateTables(ctx); err != nil {
		logger.Fatal("schema setup failed", zap.Error(err))
	}

	history := database.NewHistory(pg.DB())
	opsAlerter := alert.NewOpsAlerter(256, logger)
	baselines := baseline.NewStore(history, logger,
		baseline.WithPersister(baseline.NewPostgresPersister(pg.DB())),
		baseline.WithNotifier(opsAlerter),
		baseline.WithMaxAge(cfg.Baseline.MaxAge),
	)
	if err := baselines.WarmStart(ctx); err != nil {
		logger.Warn("baseline warm start failed, models rebuild from scratch", zap.Error(err))
	}
	baselines.StartMaintenance(ctx, cfg.Baseline.RetrainInterval, cfg.Baseline.RetrainWindow)

	ruleEngine := rules.NewEngine(rules.NewPostgresStore(pg.DB()), logger)
	if err := ruleEngine.Load(ctx); err != nil {
		logger.Fatal("rule load failed", zap.Error(err))
	}

	anomalies := lifecycle.NewManager(lifecycle.NewPostgresStore(pg.DB()), logger)
	dispatcher := alert.NewChannelDispatcher(cfg.Alerting.Buffer, cfg.Alerting.PerSecond, cfg.Alerting.Burst, logger)

	proc := processor.New(cfg.Processor, ruleEngine, baselines,
		detector.NewScorer(cfg.Scoring), anomalies, dispatcher, logger)
	proc.Start(ctx)

	// Alert delivery: log-only here, external channels hang off this feed.
	go func() {
		for ev := range dispatcher.Events() {
			logger.Info("alert",
				zap.String("workspace_id", ev.WorkspaceID),
				zap.String("anomaly_id", ev.AnomalyID),
				zap.String("metric_type", ev.MetricType),
				zap.String("severity", string(ev.Severity)),
				zap.Float64("score", ev.NormalizedScore))
		}
	}()
	// History retention pruning, once a day.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := history.Prune(ctx, cfg.Baseline.Retention); err != nil {
					logger.Warn("history prune failed", zap.Error(err))
				} else if n > 0 {
					logger.Info("history pruned", zap.Int64("rows", n))
				}
			}
		}
	}()

	server := api.NewServer(cfg, logger, proc, ruleEngine, anomalies, baselines, history)

	if configPath != "" {
		err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
			// Only log level changes apply live; the rest needs a restart.
			logger.Info("config change detected", zap.String("log_level", next.Server.LogLevel))
		})
		if err != nil {
			logger.Warn("config watch unavailable", zap.Error(err))
		}
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		// Lanes and handlers have stopped; end the alert feed so its
		// consumer exits.
		dispatcher.Close()
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
