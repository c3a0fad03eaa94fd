package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"kvcache/internal/bootstrap/logging"
	"kvcache/internal/errs"
)

var (
	ErrPoolShutdown = errors.New("worker pool is shut down")
	ErrQueueFull    = errors.New("task queue is full")

	// ErrTaskPanic matches failures recovered from a panicking task.
	ErrTaskPanic = errs.ErrPanic
)

// QueuePolicy decides what Submit does when a bounded queue is full.
type QueuePolicy string

const (
	PolicyBlock  QueuePolicy = "block"
	PolicyReject QueuePolicy = "reject"
)

// ParseQueuePolicy accepts "block" (default when empty) and "reject".
func ParseQueuePolicy(raw string) (QueuePolicy, error) {
	switch QueuePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyBlock:
		return PolicyBlock, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("unknown queue policy %q", raw)
	}
}

// Task is a unit of work. The context passed to it carries the submitter's
// values but is never canceled: once queued, a task runs to completion.
type Task func(ctx context.Context) (any, error)

// Submitter is the part of Pool that usecases depend on.
type Submitter interface {
	Submit(ctx context.Context, task Task) (*Future, error)
}

// Config configures a Pool.
type Config struct {
	Name string

	// Workers is the fixed number of worker goroutines.
	// Default: 1
	Workers int

	// QueueSize bounds the number of queued (not yet running) tasks.
	// Default: 0 (unbounded)
	QueueSize int

	// QueuePolicy applies only when QueueSize > 0.
	// Default: PolicyBlock
	QueuePolicy QueuePolicy
}

// Stats contains worker pool statistics.
type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

type job struct {
	ctx    context.Context
	task   Task
	future *Future
}

// Pool runs submitted tasks on a fixed set of goroutines fed by one shared
// FIFO queue. Tasks picked up by different workers may finish out of order.
type Pool struct {
	name    string
	workers int
	policy  QueuePolicy
	room    *semaphore.Weighted // nil when the queue is unbounded

	mu     sync.Mutex
	ready  *sync.Cond
	queue  []*job
	closed bool

	wg           sync.WaitGroup
	shutdownOnce sync.Once

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

var _ Submitter = (*Pool)(nil)

// New starts cfg.Workers goroutines. The worker count never changes afterwards.
func New(cfg Config) (*Pool, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		return nil, fmt.Errorf("queue size must not be negative, got %d", cfg.QueueSize)
	}
	policy, err := ParseQueuePolicy(string(cfg.QueuePolicy))
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "worker"
	}

	p := &Pool{
		name:    cfg.Name,
		workers: cfg.Workers,
		policy:  policy,
	}
	p.ready = sync.NewCond(&p.mu)
	if cfg.QueueSize > 0 {
		p.room = semaphore.NewWeighted(int64(cfg.QueueSize))
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p, nil
}

// Submit enqueues task and returns its future. With a bounded queue that is
// full, PolicyBlock waits for room (or ctx) and PolicyReject returns ErrQueueFull.
func (p *Pool) Submit(ctx context.Context, task Task) (*Future, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if task == nil {
		return nil, errors.New("task is required")
	}
	if p.isClosed() {
		return nil, ErrPoolShutdown
	}

	if p.room != nil {
		if p.policy == PolicyReject {
			if !p.room.TryAcquire(1) {
				return nil, ErrQueueFull
			}
		} else if err := p.room.Acquire(ctx, 1); err != nil {
			return nil, errs.Wrap(err, "wait for queue room")
		}
	}

	j := &job{
		ctx:    context.WithoutCancel(ctx),
		task:   task,
		future: newFuture(uuid.NewString()),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.releaseRoom()
		return nil, ErrPoolShutdown
	}
	p.queue = append(p.queue, j)
	p.ready.Signal()
	p.mu.Unlock()

	return j.future, nil
}

// Shutdown stops accepting tasks, lets every queued task finish and joins the
// workers. Safe to call more than once.
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.ready.Broadcast()
		p.mu.Unlock()
	})
	p.wg.Wait()
}

// Stats returns current worker pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	queued := len(p.queue)
	p.mu.Unlock()

	return Stats{
		Name:      p.name,
		Workers:   p.workers,
		Queued:    queued,
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		j, ok := p.next()
		if !ok {
			return
		}
		p.run(id, j)
	}
}

// next blocks until a job is queued. It reports false once the pool is shut
// down and the queue has drained.
func (p *Pool) next() (*job, bool) {
	p.mu.Lock()
	for len(p.queue) == 0 && !p.closed {
		p.ready.Wait()
	}
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return nil, false
	}

	j := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.mu.Unlock()

	p.releaseRoom()
	return j, true
}

func (p *Pool) run(workerID int, j *job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	value, err := p.invoke(j)

	if err != nil {
		p.failed.Add(1)
		if errors.Is(err, ErrTaskPanic) {
			ctx := logging.WithAttrs(j.ctx,
				slog.String("component", "infrastructure.worker"),
				slog.String("pool", p.name),
				slog.Int("worker_id", workerID),
				slog.String("task_id", j.future.ID()),
			)
			logging.Error(ctx, "task panicked", slog.Duration("elapsed", time.Since(start)), slog.Any("err", errs.Loggable(err)))
		}
	} else {
		p.completed.Add(1)
	}

	j.future.complete(value, err)
}

func (p *Pool) invoke(j *job) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = errs.Wrapf(errs.FromPanic(r), "task %s", j.future.ID())
		}
	}()

	return j.task(j.ctx)
}

func (p *Pool) releaseRoom() {
	if p.room != nil {
		p.room.Release(1)
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
