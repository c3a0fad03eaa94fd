package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slot struct {
	id     int
	closed atomic.Bool
}

func newSlotPool(t *testing.T, size int, timeout time.Duration) *Pool[*slot] {
	t.Helper()

	p, err := New(context.Background(), Config[*slot]{
		Size:           size,
		AcquireTimeout: timeout,
		New: func(_ context.Context, id int) (*slot, error) {
			return &slot{id: id}, nil
		},
		Close: func(s *slot) error {
			s.closed.Store(true)
			return nil
		},
	})
	require.NoError(t, err)
	return p
}

func TestNewRejectsInvalidSize(t *testing.T) {
	_, err := New(context.Background(), Config[*slot]{
		Size: 0,
		New:  func(context.Context, int) (*slot, error) { return &slot{}, nil },
	})
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestNewClosesCreatedSlotsOnFactoryError(t *testing.T) {
	var created []*slot
	boom := errors.New("connect refused")

	_, err := New(context.Background(), Config[*slot]{
		Size: 3,
		New: func(_ context.Context, id int) (*slot, error) {
			if id == 2 {
				return nil, boom
			}
			s := &slot{id: id}
			created = append(created, s)
			return s, nil
		},
		Close: func(s *slot) error {
			s.closed.Store(true)
			return nil
		},
	})

	require.ErrorIs(t, err, boom)
	require.Len(t, created, 2)
	for _, s := range created {
		assert.True(t, s.closed.Load(), "slot %d should be closed", s.id)
	}
}

func TestAcquireReleaseAccounting(t *testing.T) {
	p := newSlotPool(t, 2, 0)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	stats := p.Stats()
	assert.Equal(t, 2, stats.InUse)
	assert.Equal(t, 0, stats.Available)
	assert.Equal(t, stats.Size, stats.InUse+stats.Available)

	require.NoError(t, p.Release(a))
	stats = p.Stats()
	assert.Equal(t, 1, stats.InUse)
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, 2, stats.MaxInUse)

	require.NoError(t, p.Release(b))
}

func TestReleaseRejectsForeignAndDoubleRelease(t *testing.T) {
	p := newSlotPool(t, 1, 0)

	assert.ErrorIs(t, p.Release(&slot{id: 99}), ErrForeignSlot)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(s))
	assert.ErrorIs(t, p.Release(s), ErrForeignSlot)
	assert.Equal(t, 1, p.Stats().Available)
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := newSlotPool(t, 1, 0)
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan *slot, 1)
	go func() {
		s, err := p.Acquire(ctx)
		if err == nil {
			acquired <- s
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while the only slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Release(held))

	select {
	case s := <-acquired:
		assert.Same(t, held, s)
		require.NoError(t, p.Release(s))
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
	assert.Equal(t, int64(1), p.Stats().Waits)
}

func TestAcquireTimeout(t *testing.T) {
	p := newSlotPool(t, 1, 20*time.Millisecond)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer func() { _ = p.Release(held) }()

	start := time.Now()
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(1), p.Stats().Timeouts)
}

func TestAcquireHonorsContext(t *testing.T) {
	p := newSlotPool(t, 1, 0)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer func() { _ = p.Release(held) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentHoldersNeverExceedSize(t *testing.T) {
	const size = 3
	p := newSlotPool(t, size, 0)
	ctx := context.Background()

	var (
		holders atomic.Int32
		peak    atomic.Int32
		owners  sync.Map
		wg      sync.WaitGroup
	)

	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s, err := p.Acquire(ctx)
				if !assert.NoError(t, err) {
					return
				}
				if _, loaded := owners.LoadOrStore(s, struct{}{}); loaded {
					t.Errorf("slot %d handed to two callers", s.id)
				}

				n := holders.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(50 * time.Microsecond)
				holders.Add(-1)

				owners.Delete(s)
				assert.NoError(t, p.Release(s))
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(peak.Load()), size)
	stats := p.Stats()
	assert.Equal(t, size, stats.Available)
	assert.Equal(t, 0, stats.InUse)
	assert.LessOrEqual(t, stats.MaxInUse, size)
}

func TestCloseWaitsForOutstandingSlots(t *testing.T) {
	p := newSlotPool(t, 2, 0)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() {
		closed <- p.Close(context.Background())
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a slot was still checked out")
	case <-time.After(30 * time.Millisecond):
	}

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	require.NoError(t, p.Release(held))
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not finish after release")
	}
	assert.True(t, held.closed.Load())

	assert.NoError(t, p.Close(context.Background()), "Close is idempotent")
}

func TestCloseGivesUpWhenContextEnds(t *testing.T) {
	p := newSlotPool(t, 1, 0)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded)
	assert.False(t, held.closed.Load())
}
