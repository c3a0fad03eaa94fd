package kv

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kvcache/internal/bootstrap/logging"
	domainkv "kvcache/internal/domain/kv"
	"kvcache/internal/errs"
	"kvcache/internal/infrastructure/telemetry"
	"kvcache/internal/infrastructure/worker"
	"kvcache/internal/ports"
)

// Options tune the consistency policy.
type Options struct {
	// WriteOnStoreError caches the value of a Create even when the store write
	// failed, so the writer reads its own value back while the store is down.
	// The error is still returned.
	WriteOnStoreError bool

	Metrics *telemetry.Metrics
}

// Service implements Create/Read/Delete over the read cache, the worker pool
// and the connection pool.
//
// Reads are cache-aside: a hit is answered from the cache without touching
// the worker or connection pools. Writes are write-through: the store call
// completes before the cache is updated, inside the same task.
//
// Two races with Delete on the same key are accepted:
//   - a Read hit can return the cached value after the store row is gone,
//     until the delete task reaches its cache invalidation step;
//   - a Read miss that fetched the value before the store row was removed can
//     put it back into the cache after that invalidation. The deleted value
//     then stays cached until it is evicted or overwritten.
type Service struct {
	cache   ports.Cache
	store   ports.Store
	conns   ports.ConnPool
	workers worker.Submitter
	metrics *telemetry.Metrics

	writeOnStoreError bool
}

func NewService(cache ports.Cache, store ports.Store, conns ports.ConnPool, workers worker.Submitter, opts Options) *Service {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics()
	}

	return &Service{
		cache:             cache,
		store:             store,
		conns:             conns,
		workers:           workers,
		metrics:           metrics,
		writeOnStoreError: opts.WriteOnStoreError,
	}
}

// Create upserts key in the store and then in the cache. It returns only after
// the store write has been attempted.
func (s *Service) Create(ctx context.Context, key string, value string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := domainkv.ValidateRecord(key, value); err != nil {
		s.metrics.RecordOperation(ctx, "create", telemetry.OutcomeInvalid)
		return err
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.kv"), slog.String("op", "create"))

	_, err := worker.Run(ctx, s.workers, func(taskCtx context.Context) (struct{}, error) {
		storeErr := s.withConn(taskCtx, "insert", key, func(conn ports.Conn) (string, error) {
			return telemetry.OutcomeOK, s.store.Insert(taskCtx, conn, key, value)
		})

		if storeErr == nil || (s.writeOnStoreError && errors.Is(storeErr, domainkv.ErrStore)) {
			s.cache.Put(key, value)
		}
		return struct{}{}, storeErr
	})
	if err != nil {
		s.metrics.RecordOperation(ctx, "create", telemetry.OutcomeError)
		logging.Warn(logCtx, "create failed", slog.String("key", key), slog.Any("err", errs.Loggable(err)))
		return errs.Wrapf(err, "create %q", key)
	}

	s.metrics.RecordOperation(ctx, "create", telemetry.OutcomeOK)
	logging.Debug(logCtx, "created", slog.String("key", key))
	return nil
}

type lookup struct {
	value string
	found bool
}

// Read serves key from the cache, falling back to the store on a miss. A value
// found in the store is cached before it is returned. A key absent from the
// store yields ErrNotFound; a failing store yields ErrStore.
func (s *Service) Read(ctx context.Context, key string) (domainkv.ReadResult, error) {
	if ctx == nil {
		return domainkv.ReadResult{}, errors.New("context is required")
	}
	if err := domainkv.ValidateKey(key); err != nil {
		s.metrics.RecordOperation(ctx, "read", telemetry.OutcomeInvalid)
		return domainkv.ReadResult{}, err
	}

	if value, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheLookup(ctx, true)
		s.metrics.RecordOperation(ctx, "read", telemetry.OutcomeOK)
		return domainkv.ReadResult{Value: value, Source: domainkv.SourceCache}, nil
	}
	s.metrics.RecordCacheLookup(ctx, false)

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.kv"), slog.String("op", "read"))

	res, err := worker.Run(ctx, s.workers, func(taskCtx context.Context) (lookup, error) {
		var res lookup
		err := s.withConn(taskCtx, "get", key, func(conn ports.Conn) (string, error) {
			value, found, err := s.store.Get(taskCtx, conn, key)
			res = lookup{value: value, found: found}
			if err == nil && !found {
				return telemetry.OutcomeAbsent, nil
			}
			return telemetry.OutcomeOK, err
		})
		return res, err
	})
	if err != nil {
		s.metrics.RecordOperation(ctx, "read", telemetry.OutcomeError)
		logging.Warn(logCtx, "read failed", slog.String("key", key), slog.Any("err", errs.Loggable(err)))
		return domainkv.ReadResult{}, errs.Wrapf(err, "read %q", key)
	}
	if !res.found {
		s.metrics.RecordOperation(ctx, "read", telemetry.OutcomeNotFound)
		return domainkv.ReadResult{}, domainkv.ErrNotFound
	}

	// May re-cache a value deleted after the fetch above; see Service.
	s.cache.Put(key, res.value)
	s.metrics.RecordOperation(ctx, "read", telemetry.OutcomeOK)
	return domainkv.ReadResult{Value: res.value, Source: domainkv.SourceStore}, nil
}

// Delete removes key from the store and then invalidates the cache, both on
// the worker. The cache entry is dropped even if the store call fails or panics.
func (s *Service) Delete(ctx context.Context, key string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := domainkv.ValidateKey(key); err != nil {
		s.metrics.RecordOperation(ctx, "delete", telemetry.OutcomeInvalid)
		return err
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.kv"), slog.String("op", "delete"))

	_, err := worker.Run(ctx, s.workers, func(taskCtx context.Context) (struct{}, error) {
		defer s.cache.Remove(key)

		storeErr := s.withConn(taskCtx, "remove", key, func(conn ports.Conn) (string, error) {
			return telemetry.OutcomeOK, s.store.Remove(taskCtx, conn, key)
		})
		return struct{}{}, storeErr
	})
	if err != nil {
		s.metrics.RecordOperation(ctx, "delete", telemetry.OutcomeError)
		logging.Warn(logCtx, "delete failed", slog.String("key", key), slog.Any("err", errs.Loggable(err)))
		return errs.Wrapf(err, "delete %q", key)
	}

	s.metrics.RecordOperation(ctx, "delete", telemetry.OutcomeOK)
	logging.Debug(logCtx, "deleted", slog.String("key", key))
	return nil
}

// withConn runs fn on a pooled connection and releases it on every path.
// Errors from fn come back as *domainkv.StoreError. Acquire errors are wrapped
// without the ErrStore mark so callers can tell pool pressure from store failure.
func (s *Service) withConn(ctx context.Context, op string, key string, fn func(conn ports.Conn) (string, error)) (err error) {
	start := time.Now()

	conn, err := s.conns.Acquire(ctx)
	if err != nil {
		return errs.Wrap(err, "acquire connection")
	}
	defer func() {
		if releaseErr := s.conns.Release(conn); releaseErr != nil {
			logging.Error(
				logging.WithComponent(ctx, "usecase.kv"),
				"release connection failed",
				slog.String("op", op),
				slog.Any("err", errs.Loggable(releaseErr)),
			)
			err = errors.Join(err, releaseErr)
		}
	}()

	outcome, err := fn(conn)
	if err != nil {
		s.metrics.RecordStoreCall(ctx, op, telemetry.OutcomeError, time.Since(start))
		return domainkv.NewStoreError(op, key, err)
	}

	s.metrics.RecordStoreCall(ctx, op, outcome, time.Since(start))
	return nil
}
