package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrPoolExhausted = errors.New("no connection available before acquire timeout")
	ErrPoolClosed    = errors.New("connection pool is closed")
	ErrForeignSlot   = errors.New("slot is not checked out from this pool")
	ErrInvalidSize   = errors.New("pool size must be positive")
)

// Config configures a Pool.
type Config[T comparable] struct {
	// Size is the exact number of slots created up front.
	Size int

	// AcquireTimeout bounds how long Acquire waits for a free slot.
	// Default: 0 (wait until a slot is released or ctx ends)
	AcquireTimeout time.Duration

	// New creates slot number id. Called Size times by New.
	New func(ctx context.Context, id int) (T, error)

	// Close disposes of a slot during Pool.Close. Optional.
	Close func(slot T) error
}

// Pool is a fixed set of reusable slots. Free slots sit in a buffered channel:
// Acquire receives, Release sends, so each release wakes at most one waiter.
// Slots are never created or destroyed after New returns, and no health check
// is run on a released slot.
type Pool[T comparable] struct {
	size           int
	acquireTimeout time.Duration
	closeSlot      func(T) error

	free chan T

	mu        sync.Mutex
	inUse     map[T]struct{}
	maxInUse  int
	waits     int64
	timeouts  int64
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// Stats contains pool statistics.
type Stats struct {
	Size      int   `json:"size"`
	Available int   `json:"available"`
	InUse     int   `json:"in_use"`
	MaxInUse  int   `json:"max_in_use"`
	Waits     int64 `json:"waits"`
	Timeouts  int64 `json:"timeouts"`
}

// New creates every slot eagerly. If any slot fails to open, the ones already
// created are closed and the error is returned.
func New[T comparable](ctx context.Context, cfg Config[T]) (*Pool[T], error) {
	if cfg.Size <= 0 {
		return nil, ErrInvalidSize
	}
	if cfg.New == nil {
		return nil, errors.New("slot factory is required")
	}

	p := &Pool[T]{
		size:           cfg.Size,
		acquireTimeout: cfg.AcquireTimeout,
		closeSlot:      cfg.Close,
		free:           make(chan T, cfg.Size),
		inUse:          make(map[T]struct{}, cfg.Size),
		done:           make(chan struct{}),
	}

	created := make([]T, 0, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		slot, err := cfg.New(ctx, i)
		if err != nil {
			p.closeAll(created)
			return nil, fmt.Errorf("open slot %d: %w", i, err)
		}
		created = append(created, slot)
		p.free <- slot
	}

	return p, nil
}

// Acquire blocks until a slot is free and transfers its ownership to the caller.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	if p.isClosed() {
		return zero, ErrPoolClosed
	}

	// Fast path: try non-blocking acquire
	select {
	case slot := <-p.free:
		return p.checkout(slot)
	default:
	}

	p.mu.Lock()
	p.waits++
	p.mu.Unlock()

	var timeout <-chan time.Time
	if p.acquireTimeout > 0 {
		timer := time.NewTimer(p.acquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case slot := <-p.free:
		return p.checkout(slot)
	case <-timeout:
		p.mu.Lock()
		p.timeouts++
		p.mu.Unlock()
		return zero, ErrPoolExhausted
	case <-p.done:
		return zero, ErrPoolClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release hands a slot back. Releasing a slot the caller does not own is an error.
func (p *Pool[T]) Release(slot T) error {
	p.mu.Lock()
	if _, ok := p.inUse[slot]; !ok {
		p.mu.Unlock()
		return ErrForeignSlot
	}
	delete(p.inUse, slot)
	p.mu.Unlock()

	// Cannot block: at most Size slots exist and this one was not in the channel.
	p.free <- slot
	return nil
}

func (p *Pool[T]) checkout(slot T) (T, error) {
	p.mu.Lock()
	p.inUse[slot] = struct{}{}
	if n := len(p.inUse); n > p.maxInUse {
		p.maxInUse = n
	}
	p.mu.Unlock()
	return slot, nil
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Size:      p.size,
		Available: len(p.free),
		InUse:     len(p.inUse),
		MaxInUse:  p.maxInUse,
		Waits:     p.waits,
		Timeouts:  p.timeouts,
	}
}

// Size returns the fixed number of slots.
func (p *Pool[T]) Size() int {
	return p.size
}

// Close stops new acquisitions, waits for outstanding slots to come back and
// closes every slot. If ctx ends first, slots still checked out are left open
// and ctx.Err() is returned.
func (p *Pool[T]) Close(ctx context.Context) error {
	first := false
	p.closeOnce.Do(func() {
		first = true
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.done)
	})
	if !first {
		return nil
	}

	collected := make([]T, 0, p.size)
	var waitErr error
	for len(collected) < p.size {
		select {
		case slot := <-p.free:
			collected = append(collected, slot)
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
		if waitErr != nil {
			break
		}
	}

	if err := p.closeAll(collected); err != nil {
		return err
	}
	return waitErr
}

func (p *Pool[T]) closeAll(slots []T) error {
	if p.closeSlot == nil {
		return nil
	}

	var errs []error
	for _, slot := range slots {
		if err := p.closeSlot(slot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool[T]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
