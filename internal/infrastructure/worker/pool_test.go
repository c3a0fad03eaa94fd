package worker

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

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)
	return p
}

func TestNewAppliesDefaults(t *testing.T) {
	p := newTestPool(t, Config{})

	stats := p.Stats()
	assert.Equal(t, 1, stats.Workers)
	assert.Equal(t, "worker", stats.Name)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Workers: 1, QueueSize: -1})
	assert.Error(t, err)

	_, err = New(Config{Workers: 1, QueuePolicy: "drop-oldest"})
	assert.Error(t, err)
}

func TestSubmitAwaitReturnsValue(t *testing.T) {
	p := newTestPool(t, Config{Name: "test", Workers: 2})
	ctx := context.Background()

	future, err := p.Submit(ctx, func(context.Context) (any, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, future.ID())

	value, err := future.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", value)

	select {
	case <-future.Done():
	default:
		t.Fatal("Done() should be closed after Await returns")
	}
}

func TestTaskErrorIsCaptured(t *testing.T) {
	p := newTestPool(t, Config{Workers: 1})
	boom := errors.New("insert failed")

	future, err := p.Submit(context.Background(), func(context.Context) (any, error) {
		return nil, boom
	})
	require.NoError(t, err)

	_, err = future.Await(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	p := newTestPool(t, Config{Workers: 1})
	ctx := context.Background()

	future, err := p.Submit(ctx, func(context.Context) (any, error) {
		panic("nil map write")
	})
	require.NoError(t, err)

	_, err = future.Await(ctx)
	require.ErrorIs(t, err, ErrTaskPanic)
	assert.Contains(t, err.Error(), "nil map write")

	// The single worker must still be alive.
	value, err := Run(ctx, p, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestTaskContextIsNotCanceledWithSubmitter(t *testing.T) {
	p := newTestPool(t, Config{Workers: 1})

	type key struct{}
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "v"))

	release := make(chan struct{})
	future, err := p.Submit(ctx, func(taskCtx context.Context) (any, error) {
		<-release
		if taskCtx.Err() != nil {
			return nil, taskCtx.Err()
		}
		return taskCtx.Value(key{}), nil
	})
	require.NoError(t, err)

	cancel()
	_, err = future.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled, "await gives up with the caller")

	close(release)
	value, err := future.Await(context.Background())
	require.NoError(t, err, "task keeps running after the caller left")
	assert.Equal(t, "v", value)
}

func TestWorkersRunInParallel(t *testing.T) {
	const workers = 4
	p := newTestPool(t, Config{Workers: workers})
	ctx := context.Background()

	var (
		running atomic.Int32
		peak    atomic.Int32
	)
	gate := make(chan struct{})

	futures := make([]*Future, 0, workers)
	for i := 0; i < workers; i++ {
		f, err := p.Submit(ctx, func(context.Context) (any, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-gate
			running.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	require.Eventually(t, func() bool { return peak.Load() == workers }, time.Second, 5*time.Millisecond)
	close(gate)

	for _, f := range futures {
		_, err := f.Await(ctx)
		require.NoError(t, err)
	}
}

func TestShutdownDrainsQueuedTasks(t *testing.T) {
	p, err := New(Config{Workers: 1})
	require.NoError(t, err)
	ctx := context.Background()

	var ran atomic.Int32
	gate := make(chan struct{})

	var futures []*Future
	for i := 0; i < 5; i++ {
		f, err := p.Submit(ctx, func(context.Context) (any, error) {
			<-gate
			ran.Add(1)
			return nil, nil
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := p.Submit(ctx, func(context.Context) (any, error) { return nil, nil })
		return errors.Is(err, ErrPoolShutdown)
	}, time.Second, time.Millisecond)

	close(gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}

	assert.Equal(t, int32(5), ran.Load())
	for _, f := range futures {
		_, err := f.Await(ctx)
		assert.NoError(t, err)
	}

	p.Shutdown()
}

func TestBoundedQueueRejectPolicy(t *testing.T) {
	p := newTestPool(t, Config{Workers: 1, QueueSize: 1, QueuePolicy: PolicyReject})
	ctx := context.Background()

	gate := make(chan struct{})
	started := make(chan struct{})
	blocker := func(context.Context) (any, error) {
		close(started)
		<-gate
		return nil, nil
	}

	running, err := p.Submit(ctx, blocker)
	require.NoError(t, err)
	<-started

	queued, err := p.Submit(ctx, func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	_, err = p.Submit(ctx, func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrQueueFull)

	close(gate)
	_, err = running.Await(ctx)
	require.NoError(t, err)
	_, err = queued.Await(ctx)
	require.NoError(t, err)
}

func TestBoundedQueueBlockPolicyHonorsContext(t *testing.T) {
	p := newTestPool(t, Config{Workers: 1, QueueSize: 1, QueuePolicy: PolicyBlock})
	ctx := context.Background()

	gate := make(chan struct{})
	started := make(chan struct{})
	_, err := p.Submit(ctx, func(context.Context) (any, error) {
		close(started)
		<-gate
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	_, err = p.Submit(ctx, func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.Submit(waitCtx, func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f, err := p.Submit(ctx, func(context.Context) (any, error) { return "late", nil })
		if assert.NoError(t, err) {
			v, err := f.Await(ctx)
			assert.NoError(t, err)
			assert.Equal(t, "late", v)
		}
	}()

	close(gate)
	wg.Wait()
}

func TestRunTypedResult(t *testing.T) {
	p := newTestPool(t, Config{Workers: 1})
	ctx := context.Background()

	value, err := Run(ctx, p, func(context.Context) (string, error) {
		return "typed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "typed", value)

	_, err = Run(ctx, p, func(context.Context) (string, error) {
		return "", errors.New("store down")
	})
	assert.EqualError(t, err, "store down")
}

func TestParseQueuePolicy(t *testing.T) {
	policy, err := ParseQueuePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyBlock, policy)

	policy, err = ParseQueuePolicy(" Reject ")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, policy)
}
