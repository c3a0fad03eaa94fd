package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"kvcache/internal/bootstrap/config"
	"kvcache/internal/bootstrap/logging"
	"kvcache/internal/errs"
	cacheinfra "kvcache/internal/infrastructure/cache"
	sqliterepo "kvcache/internal/infrastructure/persistence/sqlite/repository"
	"kvcache/internal/infrastructure/pool"
	"kvcache/internal/infrastructure/telemetry"
	"kvcache/internal/infrastructure/worker"
	"kvcache/internal/ports"
)

// App holds the long-lived resources behind the service.
type App struct {
	Config    config.Config
	DB        *gorm.DB
	Cache     *cacheinfra.LRU
	Conns     *pool.Pool[ports.Conn]
	Workers   *worker.Pool
	Telemetry *telemetry.Provider
}

// Stats is a point-in-time view of the cache, connection pool and worker pool.
type Stats struct {
	Cache   cacheinfra.Stats `json:"cache"`
	Pool    pool.Stats       `json:"pool"`
	Workers worker.Stats     `json:"workers"`
}

func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	logging.Info(logCtx, "start schema migration")

	if err := sqliterepo.Migrate(ctx, a.DB); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}

	logging.Info(logCtx, "schema migration completed")
	return nil
}

// Ping checks that the database answers on a connection outside the pinned slots.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return errs.Wrap(err, "get sql db")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errs.Wrap(err, "ping database")
	}
	return nil
}

func (a *App) Stats() Stats {
	var stats Stats
	if a.Cache != nil {
		stats.Cache = a.Cache.Stats()
	}
	if a.Conns != nil {
		stats.Pool = a.Conns.Stats()
	}
	if a.Workers != nil {
		stats.Workers = a.Workers.Stats()
	}
	return stats
}

// Close releases resources in dependency order: drain the workers, close the
// pinned connections, flush metrics, then close the database.
func (a *App) Close(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	var closeErrs []error

	if a.Workers != nil {
		a.Workers.Shutdown()
		logging.Info(logCtx, "worker pool drained")
	}

	if a.Conns != nil {
		if err := a.Conns.Close(ctx); err != nil {
			closeErrs = append(closeErrs, errs.Wrap(err, "close connection pool"))
		} else {
			logging.Info(logCtx, "connection pool closed")
		}
	}

	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			closeErrs = append(closeErrs, errs.Wrap(err, "shutdown telemetry"))
		}
	}

	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err != nil {
			closeErrs = append(closeErrs, errs.Wrap(err, "get sql db"))
		} else if err := sqlDB.Close(); err != nil {
			closeErrs = append(closeErrs, errs.Wrap(err, "close sql db"))
		} else {
			logging.Info(logCtx, "database connection closed")
		}
	}

	return errors.Join(closeErrs...)
}
