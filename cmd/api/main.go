package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/modelstatus/internal/catalog"
	"github.com/hamed0406/modelstatus/internal/config"
	"github.com/hamed0406/modelstatus/internal/domain"
	"github.com/hamed0406/modelstatus/internal/healthcheck"
	"github.com/hamed0406/modelstatus/internal/httpapi"
	apimw "github.com/hamed0406/modelstatus/internal/httpapi/middleware"
	"github.com/hamed0406/modelstatus/internal/logging"
	"github.com/hamed0406/modelstatus/internal/notify"
	"github.com/hamed0406/modelstatus/internal/openrouter"
	"github.com/hamed0406/modelstatus/internal/probe"
	"github.com/hamed0406/modelstatus/internal/repo"
	"github.com/hamed0406/modelstatus/internal/repo/memory"
	"github.com/hamed0406/modelstatus/internal/repo/postgres"
	"github.com/hamed0406/modelstatus/internal/scheduler"
)

type stores interface {
	repo.RunStore
	repo.AlertStore
}

func main() {
	cfg := config.Load()
	logger, err := logging.NewLogger(cfg.LogDir, true)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store stores
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("db_connect_error", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("db_migrate_error", zap.Error(err))
		}
		store = pg
		logger.Info("store_postgres")
	} else {
		store = memory.New(0)
		logger.Info("store_memory")
	}

	client := openrouter.NewClient(cfg.OpenRouterBaseURL, cfg.OpenRouterKey)
	client.Referer = cfg.OpenRouterReferer
	if cfg.OpenRouterKey == "" {
		logger.Warn("openrouter_key_missing")
	}

	cat := catalog.New(client, cfg.CatalogCache, cfg.CatalogTTL, logger)
	if cfg.ModelsFile != "" {
		static, err := catalog.LoadStatic(cfg.ModelsFile)
		if err != nil {
			logger.Fatal("models_file_error", zap.String("path", cfg.ModelsFile), zap.Error(err))
		}
		cat.Static = static
		logger.Info("models_static", zap.Int("count", len(static)))
	}

	monitor := healthcheck.NewMonitor(logger, probe.NewCompletionProber(client, cfg.ProbeTimeout), cfg.ProbeOptions(logger))
	defer monitor.Close()

	var notifier notify.Notifier = notify.Nop{}
	if s := notify.NewSlack(cfg.SlackWebhook); s != nil {
		notifier = notify.Multi{s}
	}
	alerter := scheduler.NewAlerter(store, notifier, scheduler.AlerterConfig{
		AlertOnRecovery: cfg.AlertOnRecovery,
		Cooldown:        cfg.AlertCooldown,
	}, logger)

	monitor.Listen(func(run domain.BatchRun) {
		lctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := store.Append(lctx, &run); err != nil {
			logger.Warn("history_append_error", zap.String("run_id", run.ID), zap.Error(err))
		}
		if _, err := alerter.Observe(lctx, run); err != nil {
			logger.Warn("alert_error", zap.String("run_id", run.ID), zap.Error(err))
		}
	})

	go scheduler.NewRechecker(logger, cat, monitor, cfg.CheckInterval).Run(ctx)

	api := httpapi.NewServer(logger, cat, monitor, store)
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("api_listen", zap.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("api_listen_error", zap.Error(err))
	}
	logger.Info("api_stopped")
}
