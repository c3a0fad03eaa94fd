package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"kvcache/internal/bootstrap/config"
	"kvcache/internal/bootstrap/database"
	"kvcache/internal/bootstrap/logging"
	"kvcache/internal/errs"
	cacheinfra "kvcache/internal/infrastructure/cache"
	sqliteconn "kvcache/internal/infrastructure/persistence/sqlite/conn"
	sqliterepo "kvcache/internal/infrastructure/persistence/sqlite/repository"
	"kvcache/internal/infrastructure/pool"
	"kvcache/internal/infrastructure/telemetry"
	"kvcache/internal/infrastructure/worker"
	"kvcache/internal/ports"
	"kvcache/internal/usecase/kv"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideConnPool),
	fx.Provide(provideCache),
	fx.Provide(provideWorkerPool),
	fx.Provide(provideTelemetry),
	fx.Provide(provideApp),
	fx.Provide(provideMetrics),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewKVStore,
			fx.As(new(ports.Store)),
		),
	),
	fx.Provide(
		func(c *cacheinfra.LRU) ports.Cache { return c },
		func(p *pool.Pool[ports.Conn]) ports.ConnPool { return p },
		func(p *worker.Pool) worker.Submitter { return p },
	),
	fx.Provide(provideService),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string         `name:"configFile"`
	Flags      *pflag.FlagSet `name:"flags" optional:"true"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile, p.Flags)
}

// provideDatabase sizes the database/sql pool to the pinned slots plus one
// spare connection for migrations and health checks.
func provideDatabase(ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database, cfg.Pool.Size+1)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := sqliterepo.Migrate(logCtx, db); err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, errs.Wrap(err, "migrate on startup")
		}
	}

	return db, nil
}

func provideConnPool(ctx context.Context, cfg config.Config, db *gorm.DB) (*pool.Pool[ports.Conn], error) {
	conns, err := pool.New(ctx, pool.Config[ports.Conn]{
		Size:           cfg.Pool.Size,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		New: func(ctx context.Context, id int) (ports.Conn, error) {
			return sqliteconn.Open(ctx, db, id)
		},
		Close: func(slot ports.Conn) error {
			c, ok := slot.(*sqliteconn.Conn)
			if !ok {
				return fmt.Errorf("unexpected slot type %T", slot)
			}
			return c.Close()
		},
	})
	if err != nil {
		return nil, errs.Wrap(err, "open connection pool")
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx")),
		"connection pool ready",
		slog.Int("size", cfg.Pool.Size),
		slog.Duration("acquire_timeout", cfg.Pool.AcquireTimeout),
	)
	return conns, nil
}

func provideCache(cfg config.Config) (*cacheinfra.LRU, error) {
	return cacheinfra.NewLRU(cfg.Cache.Capacity)
}

func provideWorkerPool(cfg config.Config) (*worker.Pool, error) {
	policy, err := worker.ParseQueuePolicy(cfg.Workers.QueuePolicy)
	if err != nil {
		return nil, err
	}

	return worker.New(worker.Config{
		Name:        "kv",
		Workers:     cfg.Workers.Size,
		QueueSize:   cfg.Workers.QueueSize,
		QueuePolicy: policy,
	})
}

func provideTelemetry(ctx context.Context, cfg config.Config) (*telemetry.Provider, error) {
	return telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:     cfg.Metrics.Enabled,
		Exporter:    cfg.Metrics.Exporter,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Env,
	})
}

// provideApp owns shutdown: a single OnStop hook closes everything in order.
func provideApp(
	lc fx.Lifecycle,
	cfg config.Config,
	db *gorm.DB,
	lru *cacheinfra.LRU,
	conns *pool.Pool[ports.Conn],
	workers *worker.Pool,
	provider *telemetry.Provider,
) *App {
	app := &App{
		Config:    cfg,
		DB:        db,
		Cache:     lru,
		Conns:     conns,
		Workers:   workers,
		Telemetry: provider,
	}

	lc.Append(fx.Hook{
		OnStop: app.Close,
	})

	return app
}

func provideMetrics(app *App) (*telemetry.Metrics, error) {
	meter := app.Telemetry.Meter()

	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return nil, errs.Wrap(err, "create metrics")
	}

	if err := telemetry.RegisterGauges(meter, telemetry.GaugeSources{
		CacheEntries: func() int64 { return int64(app.Cache.Len()) },
		PoolInUse:    func() int64 { return int64(app.Conns.Stats().InUse) },
		QueueDepth:   func() int64 { return int64(app.Workers.Stats().Queued) },
		ActiveTasks:  func() int64 { return app.Workers.Stats().Active },
	}); err != nil {
		return nil, errs.Wrap(err, "register gauges")
	}

	return metrics, nil
}

func provideService(
	cfg config.Config,
	cache ports.Cache,
	store ports.Store,
	conns ports.ConnPool,
	workers worker.Submitter,
	metrics *telemetry.Metrics,
) *kv.Service {
	return kv.NewService(cache, store, conns, workers, kv.Options{
		WriteOnStoreError: cfg.Cache.WriteOnStoreError,
		Metrics:           metrics,
	})
}
