package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(cfg Config) *Pool {
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = time.Millisecond
		cfg.MaxBackoff = 5 * time.Millisecond
	}
	return NewPool(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func start(t *testing.T, p *Pool) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("pool did not stop")
		}
	}
}

func TestPool_RunsTasks(t *testing.T) {
	p := newTestPool(Config{Workers: 2})
	stop := start(t, p)

	var wg sync.WaitGroup
	var ran int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(Task{Name: "t", Run: func(ctx context.Context) error {
			defer wg.Done()
			atomic.AddInt32(&ran, 1)
			return nil
		}}))
	}

	wg.Wait()
	stop()
	assert.Equal(t, int32(10), atomic.LoadInt32(&ran))
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	p := newTestPool(Config{Workers: 1, MaxAttempts: 5})
	stop := start(t, p)
	defer stop()

	done := make(chan struct{})
	var calls int32
	require.NoError(t, p.Submit(Task{Name: "flaky", Run: func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never succeeded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPool_StopsAtMaxAttempts(t *testing.T) {
	p := newTestPool(Config{Workers: 1})
	stop := start(t, p)

	var calls int32
	finished := make(chan struct{})
	require.NoError(t, p.Submit(Task{Name: "bad", Key: "k", MaxAttempts: 3, Run: func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) == 3 {
			defer close(finished)
		}
		return errors.New("always")
	}}))

	<-finished
	stop()
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPool_PermanentErrorIsNotRetried(t *testing.T) {
	p := newTestPool(Config{Workers: 1, MaxAttempts: 5})
	stop := start(t, p)

	var calls int32
	require.NoError(t, p.Submit(Task{Name: "perm", Run: func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(errors.New("no such order"))
	}}))

	stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPool_DeduplicatesByKey(t *testing.T) {
	p := newTestPool(Config{Workers: 1})

	block := make(chan struct{})
	task := Task{Name: "apply", Key: "apply:ORD-1:approved", Run: func(ctx context.Context) error {
		<-block
		return nil
	}}

	require.NoError(t, p.Submit(task))
	assert.ErrorIs(t, p.Submit(task), ErrDuplicate)

	stop := start(t, p)
	close(block)
	stop()

	// the key is released once the task is done.
	assert.Empty(t, p.pending)
}

func TestPool_QueueFull(t *testing.T) {
	p := newTestPool(Config{Workers: 1, QueueSize: 1})
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, p.Submit(Task{Name: "a", Run: noop}))
	assert.ErrorIs(t, p.Submit(Task{Name: "b", Run: noop}), ErrQueueFull)
}

func TestPool_DrainsQueueOnShutdown(t *testing.T) {
	p := newTestPool(Config{Workers: 1, QueueSize: 8})

	var ran int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(Task{Name: "t", Run: func(ctx context.Context) error {
			assert.NoError(t, ctx.Err())
			atomic.AddInt32(&ran, 1)
			return nil
		}}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
	assert.ErrorIs(t, p.Submit(Task{Name: "late", Run: func(ctx context.Context) error { return nil }}), ErrClosed)
}
