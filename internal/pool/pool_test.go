package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippet-share/internal/apperror"
)

type fakeClient struct{ name string }

func newTestPool(t *testing.T, cfg Config) *Pool[*fakeClient] {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = t.Name()
	}
	p := New(&fakeClient{name: "shared"}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(p.Close)
	return p
}

func TestAcquire_AllLeasesShareOneClient(t *testing.T) {
	p := newTestPool(t, Config{MaxActive: 3})
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)

	assert.Same(t, a.Client(), b.Client())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, Stats{Active: 2, Idle: 0, Total: 2}, p.Stats())
}

func TestPrewarm(t *testing.T) {
	p := newTestPool(t, Config{MaxActive: 20, MinIdle: 5})

	p.Prewarm()
	assert.Equal(t, Stats{Idle: 5, Total: 5}, p.Stats())

	// Idle tokens are used before new ones are minted.
	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, l.ID())
	assert.Equal(t, Stats{Active: 1, Idle: 4, Total: 5}, p.Stats())
}

func TestAcquire_BlocksAtMaxUntilRelease(t *testing.T) {
	p := newTestPool(t, Config{MaxActive: 2})
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	require.NoError(t, err)
	_, err = p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan *Lease[*fakeClient], 1)
	go func() {
		l, err := p.Acquire(ctx)
		if err == nil {
			got <- l
		}
	}()

	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)
	select {
	case <-got:
		t.Fatal("Acquire beyond MaxActive returned before any release")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release(first)

	select {
	case l := <-got:
		assert.Equal(t, first.ID(), l.ID(), "the released token is handed to the waiter")
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Release")
	}
	assert.Equal(t, 2, p.Stats().Active)
	assert.Equal(t, 2, p.Stats().Total, "no token minted past MaxActive")
}

func TestRelease_WakesExactlyOneWaiter(t *testing.T) {
	p := newTestPool(t, Config{MaxActive: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	const waiters = 3
	results := make(chan *Lease[*fakeClient], waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := p.Acquire(ctx)
			if err == nil {
				results <- l
			}
		}()
	}
	require.Eventually(t, func() bool { return p.Stats().Waiting == waiters }, time.Second, time.Millisecond)

	p.Release(held)

	select {
	case <-results:
	case <-time.After(time.Second):
		t.Fatal("no waiter proceeded after Release")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, results, 0, "a single release must free exactly one waiter")
	assert.Equal(t, waiters-1, p.Stats().Waiting)

	cancel()
	wg.Wait()
}

func TestAcquire_FIFO(t *testing.T) {
	p := newTestPool(t, Config{MaxActive: 1})
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	order := make(chan int, 2)
	for i := 1; i <= 2; i++ {
		i := i
		go func() {
			l, err := p.Acquire(ctx)
			if err != nil {
				return
			}
			order <- i
			p.Release(l)
		}()
		require.Eventually(t, func() bool { return p.Stats().Waiting == i }, time.Second, time.Millisecond)
	}

	p.Release(held)

	assert.Equal(t, 1, <-order)
	assert.Equal(t, 2, <-order)
}

func TestAcquire_Timeout(t *testing.T) {
	p := newTestPool(t, Config{MaxActive: 1, AcquireTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	_, err := p.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, apperror.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 0, p.Stats().Waiting, "timed-out waiter leaves the queue")
}

func TestAcquire_ContextCancelled(t *testing.T) {
	p := newTestPool(t, Config{MaxActive: 1})

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.Stats().Waiting)
}

func TestAcquire_DeadlineIsTimeoutKind(t *testing.T) {
	p := newTestPool(t, Config{MaxActive: 1})

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, apperror.ErrTimeout)
}

func TestRelease_Idempotent(t *testing.T) {
	p := newTestPool(t, Config{MaxActive: 2})

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Release(l)
	p.Release(l)
	p.Release(nil)

	assert.Equal(t, Stats{Active: 0, Idle: 1, Total: 1}, p.Stats())
}

func TestIdleEviction_KeepsMinIdle(t *testing.T) {
	p := newTestPool(t, Config{MaxActive: 5, MinIdle: 1, IdleTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	var leases []*Lease[*fakeClient]
	for i := 0; i < 3; i++ {
		l, err := p.Acquire(ctx)
		require.NoError(t, err)
		leases = append(leases, l)
	}
	for _, l := range leases {
		p.Release(l)
	}
	assert.Equal(t, 3, p.Stats().Idle)

	assert.Eventually(t, func() bool { return p.Stats().Idle == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, p.Stats().Idle, "eviction stops at MinIdle")
}

func TestClose_FailsWaiters(t *testing.T) {
	p := New(&fakeClient{}, Config{Name: t.Name(), MaxActive: 1}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errs <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	p.Close()

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the waiter")
	}

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	p.Release(held)
	p.Close()
}
