package loadgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"kvcache/internal/bootstrap/logging"
	"kvcache/internal/errs"
)

// Runner drives one load test against a running server.
type Runner struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	stats   *Stats

	createSeq atomic.Uint64

	mu      sync.Mutex
	started time.Time
	stopped time.Time
}

// NewRunner validates cfg. A nil client gets one sized for cfg.Threads.
func NewRunner(cfg Config, client *http.Client) (*Runner, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Threads * 2,
				MaxIdleConnsPerHost: cfg.Threads * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		burst := int(cfg.Rate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	return &Runner{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		stats:   &Stats{},
	}, nil
}

func (r *Runner) Config() Config { return r.cfg }

// Prepopulate seeds the keys the read workloads expect. progress, if non-nil,
// is called after each seeded key. Seeding requests are not counted in Stats.
func (r *Runner) Prepopulate(ctx context.Context, progress func(done, total int)) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if r.cfg.SkipPrepopulate || !r.cfg.Workload.Prepopulates() {
		return nil
	}

	prefix, total := "key_", r.cfg.KeySpace
	if r.cfg.Workload == WorkloadGetPopular {
		prefix, total = "popular_", r.cfg.PopularSize
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.loadgen"))
	logging.Info(logCtx, "prepopulating keys", slog.String("prefix", prefix), slog.Int("count", total))

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Threads)
	for i := 0; i < total; i++ {
		key := prefix + strconv.Itoa(i)
		value := "value_" + strconv.Itoa(i)
		g.Go(func() error {
			status, err := r.create(gctx, key, value)
			if err != nil {
				return errs.Wrapf(err, "seed %s", key)
			}
			if status < 200 || status >= 300 {
				return fmt.Errorf("seed %s: unexpected status %d", key, status)
			}
			n := done.Add(1)
			if progress != nil {
				progress(int(n), total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errs.Wrap(err, "prepopulate")
	}

	logging.Info(logCtx, "prepopulation complete", slog.Int("count", total))
	return nil
}

// Run issues requests from cfg.Threads goroutines until cfg.Duration elapses
// or ctx ends, then returns the summary. In-flight requests finish after the
// deadline and are counted.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if ctx == nil {
		return Summary{}, errors.New("context is required")
	}

	start := time.Now()
	r.mu.Lock()
	r.started = start
	r.stopped = time.Time{}
	r.mu.Unlock()

	runCtx, cancel := context.WithDeadline(ctx, start.Add(r.cfg.Duration))
	defer cancel()

	var g errgroup.Group
	for tid := 0; tid < r.cfg.Threads; tid++ {
		g.Go(func() error {
			r.loop(ctx, runCtx, tid)
			return nil
		})
	}
	_ = g.Wait()

	stop := time.Now()
	r.mu.Lock()
	r.stopped = stop
	r.mu.Unlock()

	return r.summary(stop.Sub(start)), nil
}

// Snapshot reports live progress of the current or last run.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	started, stopped := r.started, r.stopped
	r.mu.Unlock()

	var elapsed time.Duration
	switch {
	case started.IsZero():
	case stopped.IsZero():
		elapsed = time.Since(started)
	default:
		elapsed = stopped.Sub(started)
	}
	return r.stats.Snapshot(elapsed)
}

// loop runs one load thread. reqCtx outlives runCtx so a request started
// before the deadline is not cut short by it.
func (r *Runner) loop(reqCtx context.Context, runCtx context.Context, tid int) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(tid)<<16|1))

	for runCtx.Err() == nil {
		if r.limiter != nil {
			if err := r.limiter.Wait(runCtx); err != nil {
				return
			}
		}
		r.step(reqCtx, rng)
	}
}

func (r *Runner) step(ctx context.Context, rng *rand.Rand) {
	percent := rng.IntN(100) + 1

	switch r.cfg.Workload {
	case WorkloadPutAll:
		if percent <= 70 {
			r.timedCreate(ctx, rng)
		} else {
			r.timed(OpDelete, func() (int, error) { return r.delete(ctx, r.randomKey(rng)) })
		}
	case WorkloadGetAll:
		r.timed(OpRead, func() (int, error) { return r.read(ctx, r.randomKey(rng)) })
	case WorkloadGetPopular:
		key := "popular_" + strconv.Itoa(rng.IntN(r.cfg.PopularSize))
		r.timed(OpRead, func() (int, error) { return r.read(ctx, key) })
	case WorkloadGetMix:
		switch {
		case percent <= 30:
			r.timedCreate(ctx, rng)
		case percent <= 90:
			r.timed(OpRead, func() (int, error) { return r.read(ctx, r.randomKey(rng)) })
		default:
			r.timed(OpDelete, func() (int, error) { return r.delete(ctx, r.randomKey(rng)) })
		}
	}
}

func (r *Runner) randomKey(rng *rand.Rand) string {
	return "key_" + strconv.Itoa(rng.IntN(r.cfg.KeySpace))
}

func (r *Runner) timedCreate(ctx context.Context, rng *rand.Rand) {
	id := r.createSeq.Add(1) - 1
	key := "key_" + strconv.FormatUint(id, 10)
	value := "value_" + strconv.FormatUint(rng.Uint64(), 10)
	r.timed(OpCreate, func() (int, error) { return r.create(ctx, key, value) })
}

func (r *Runner) timed(op Op, do func() (int, error)) {
	start := time.Now()
	status, err := do()
	r.stats.Record(op, err == nil && status >= 200 && status < 300, time.Since(start))
}

func (r *Runner) create(ctx context.Context, key string, value string) (int, error) {
	form := url.Values{"key": {key}, "value": {value}}
	return r.do(ctx, http.MethodPost, "/create", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func (r *Runner) read(ctx context.Context, key string) (int, error) {
	return r.do(ctx, http.MethodGet, "/read?key="+url.QueryEscape(key), nil, "")
}

func (r *Runner) delete(ctx context.Context, key string) (int, error) {
	return r.do(ctx, http.MethodDelete, "/delete?key="+url.QueryEscape(key), nil, "")
}

func (r *Runner) do(ctx context.Context, method string, path string, body io.Reader, contentType string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, r.cfg.BaseURL+path, body)
	if err != nil {
		return 0, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (r *Runner) summary(elapsed time.Duration) Summary {
	snap := r.stats.Snapshot(elapsed)

	ops := make(map[string]OpSnapshot, len(snap.Ops))
	for op, s := range snap.Ops {
		ops[string(op)] = s
	}

	return Summary{
		Workload:        string(r.cfg.Workload),
		Threads:         r.cfg.Threads,
		DurationSeconds: elapsed.Seconds(),
		TotalRequests:   snap.Total,
		Successful:      snap.Successful,
		Throughput:      snap.Throughput,
		AvgLatencyMs:    snap.AvgLatencyMs,
		Ops:             ops,
	}
}
