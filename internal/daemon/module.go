// Package daemon composes the full application: storage, session registry,
// ingestion pipeline, scheduled jobs, and the HTTP API.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/grouptrack/internal/bus"
	"github.com/matheus3301/grouptrack/internal/capture"
	"github.com/matheus3301/grouptrack/internal/config"
	"github.com/matheus3301/grouptrack/internal/httpapi"
	"github.com/matheus3301/grouptrack/internal/ingest"
	"github.com/matheus3301/grouptrack/internal/lock"
	"github.com/matheus3301/grouptrack/internal/logging"
	"github.com/matheus3301/grouptrack/internal/pace"
	"github.com/matheus3301/grouptrack/internal/registry"
	"github.com/matheus3301/grouptrack/internal/report"
	"github.com/matheus3301/grouptrack/internal/scheduler"
	"github.com/matheus3301/grouptrack/internal/store"
	"github.com/matheus3301/grouptrack/internal/tenant"
	"github.com/matheus3301/grouptrack/internal/wa"
)

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideLimiter,
			provideRegistry,
			providePipeline,
			provideCaptureJob,
			provideReportJob,
			provideRunner,
			provideScheduler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	if err := tenant.EnsureBase(cfg.DataDir); err != nil {
		return nil, err
	}
	return logging.New(tenant.LogPath(cfg.DataDir))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data directory lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data directory lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.DBPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

// provideLimiter is shared between the capture and report jobs so their
// member-count fetches never burst together.
func provideLimiter(cfg *config.Config) *pace.Limiter {
	return pace.NewLimiter(cfg.CaptureDelay())
}

func provideRegistry(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *registry.Registry {
	factory := func(ctx context.Context, tenantID string) (registry.Client, error) {
		adapter, err := wa.NewAdapter(ctx, cfg.DataDir, tenantID, b, logger)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	}
	return registry.New(factory, db, b, logger, cfg.AutoSyncInterval())
}

func providePipeline(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *ingest.Pipeline {
	return ingest.New(db, b, logger.Named("ingest"), cfg.Ingest.BatchSize, cfg.FlushInterval())
}

func provideCaptureJob(cfg *config.Config, db *store.DB, limiter *pace.Limiter, logger *zap.Logger) *capture.Job {
	return capture.New(db, limiter, uint64(cfg.Capture.RetryAttempts), logger)
}

func provideReportJob(cfg *config.Config, db *store.DB, b *bus.Bus, limiter *pace.Limiter, logger *zap.Logger) *report.Job {
	return report.New(db, b, limiter, uint64(cfg.Capture.RetryAttempts), cfg.Scheduler.ReportJID, logger)
}

func provideRunner(r *registry.Registry, captureJob *capture.Job, reportJob *report.Job, logger *zap.Logger) *scheduler.TenantRunner {
	return scheduler.NewTenantRunner(r, captureJob, reportJob, logger)
}

func provideScheduler(cfg *config.Config, runner *scheduler.TenantRunner, logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.New(cfg.Scheduler.CaptureCron, cfg.Scheduler.ReportCron, runner, logger)
}

func provideServer(cfg *config.Config, r *registry.Registry, pipeline *ingest.Pipeline, sched *scheduler.Scheduler, runner *scheduler.TenantRunner, db *store.DB, logger *zap.Logger) *httpapi.Server {
	return httpapi.New(cfg.HTTP.Addr, r, pipeline, sched, runner, db, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *httpapi.Server, lk *lock.Lock, r *registry.Registry, pipeline *ingest.Pipeline, sched *scheduler.Scheduler, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			r.Start(context.Background())
			pipeline.Start(context.Background())
			if err := sched.Start(); err != nil {
				return err
			}
			if err := srv.Start(); err != nil {
				return err
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Warn("http shutdown error", zap.Error(err))
			}
			sched.Stop()
			pipeline.Stop()
			r.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
