// Package pool hands out leases on a single shared client.
//
// There is no real connection behind a lease: every lease returns the same
// client value. What the pool bounds is how many callers use that client at
// once. A lease is an integer token; at most MaxActive tokens are checked out
// at a time and everyone else waits in line.
//
// WAITING:
// Each blocked Acquire parks on its own channel in a FIFO queue. Release
// hands its token straight to the head of the queue, so one release wakes
// exactly one waiter and a waiter can't be overtaken by a newcomer. Waiting
// ends on hand-off, context cancellation, AcquireTimeout, or Close.
//
// IDLE TOKENS:
// A released token with nobody waiting goes to the idle set. After
// IdleTimeout it is dropped, unless that would take the idle set down to
// MinIdle or below. Prewarm fills the idle set up to MinIdle at startup.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sakif/snippet-share/internal/apperror"
	"github.com/sakif/snippet-share/internal/metrics"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool: closed")

// Config holds the pool limits.
type Config struct {
	// Name labels the pool's metrics and log lines.
	Name string
	// MaxActive is the most leases that may be checked out at once.
	MaxActive int
	// MinIdle is the idle watermark kept by Prewarm and idle eviction.
	MinIdle int
	// IdleTimeout is how long a released token sits idle before eviction.
	IdleTimeout time.Duration
	// AcquireTimeout bounds how long Acquire waits. Zero waits until the
	// context is done.
	AcquireTimeout time.Duration
}

// DefaultConfig returns the limits the app ships with.
func DefaultConfig() Config {
	return Config{
		Name:           "backend",
		MaxActive:      20,
		MinIdle:        5,
		IdleTimeout:    10 * time.Second,
		AcquireTimeout: 30 * time.Second,
	}
}

// Stats is a snapshot of the pool's counters. Total counts every token ever
// minted.
type Stats struct {
	Active  int `json:"active"`
	Idle    int `json:"idle"`
	Total   int `json:"total"`
	Waiting int `json:"waiting"`
}

// Lease is one checkout. Release it exactly once; extra releases are
// ignored.
type Lease[T any] struct {
	id       int
	client   T
	released bool // guarded by Pool.mu
}

// ID is the lease token.
func (l *Lease[T]) ID() int { return l.id }

// Client returns the shared client.
func (l *Lease[T]) Client() T { return l.client }

type idleToken struct {
	id    int
	timer *time.Timer
}

type waiter struct {
	ch     chan int // buffered 1; receives the handed-off token
	served bool     // guarded by Pool.mu
}

// Pool is safe for concurrent use.
type Pool[T any] struct {
	shared T
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	active  int
	minted  int
	idle    []idleToken
	waiters *list.List // of *waiter
	closed  bool
}

// New creates a pool around shared. Non-positive limits fall back to
// DefaultConfig's values.
func New[T any](shared T, cfg Config, logger *slog.Logger) *Pool[T] {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = def.MaxActive
	}
	if cfg.MinIdle < 0 {
		cfg.MinIdle = 0
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	return &Pool[T]{
		shared:  shared,
		cfg:     cfg,
		logger:  logger.With(slog.String("pool", cfg.Name)),
		waiters: list.New(),
	}
}

// Prewarm tops the idle set up to MinIdle. Prewarmed tokens are not subject
// to idle eviction since they sit at the watermark.
func (p *Pool[T]) Prewarm() {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	for len(p.idle) < p.cfg.MinIdle && len(p.idle)+p.active < p.cfg.MaxActive {
		p.minted++
		p.idle = append(p.idle, idleToken{id: p.minted})
		added++
	}
	p.observeLocked()
	p.logger.Info("pool prewarmed", slog.Int("added", added), slog.Int("idle", len(p.idle)))
}

// Acquire checks out a lease: an idle token if there is one, a new token if
// fewer than MaxActive are out, otherwise it waits its turn.
func (p *Pool[T]) Acquire(ctx context.Context) (*Lease[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, p.waitError(err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if len(p.idle) > 0 {
		tok := p.idle[0]
		p.idle = p.idle[1:]
		if tok.timer != nil {
			tok.timer.Stop()
		}
		p.active++
		p.observeLocked()
		p.mu.Unlock()
		return p.lease(tok.id), nil
	}
	if p.active < p.cfg.MaxActive {
		p.minted++
		id := p.minted
		p.active++
		metrics.PoolMinted.WithLabelValues(p.cfg.Name).Inc()
		p.observeLocked()
		p.mu.Unlock()
		return p.lease(id), nil
	}

	w := &waiter{ch: make(chan int, 1)}
	elem := p.waiters.PushBack(w)
	p.observeLocked()
	p.mu.Unlock()

	return p.wait(ctx, w, elem)
}

func (p *Pool[T]) wait(ctx context.Context, w *waiter, elem *list.Element) (*Lease[T], error) {
	start := time.Now()
	defer func() {
		metrics.PoolAcquireWait.WithLabelValues(p.cfg.Name).Observe(time.Since(start).Seconds())
	}()

	var timeout <-chan time.Time
	if p.cfg.AcquireTimeout > 0 {
		t := time.NewTimer(p.cfg.AcquireTimeout)
		defer t.Stop()
		timeout = t.C
	}

	var err error
	select {
	case id, ok := <-w.ch:
		if !ok {
			return nil, ErrClosed
		}
		return p.lease(id), nil
	case <-ctx.Done():
		err = p.waitError(ctx.Err())
	case <-timeout:
		metrics.PoolAcquireTimeouts.WithLabelValues(p.cfg.Name).Inc()
		err = apperror.Timeout("acquiring lease", fmt.Errorf("no lease freed within %s", p.cfg.AcquireTimeout))
	}

	p.mu.Lock()
	if !w.served {
		p.waiters.Remove(elem)
		p.observeLocked()
		p.mu.Unlock()
		p.logger.Warn("gave up waiting for lease", slog.String("error", err.Error()))
		return nil, err
	}
	p.mu.Unlock()

	// A release handed us a token while we were giving up. Pass it on so it
	// isn't lost.
	if id, ok := <-w.ch; ok {
		p.release(id)
	}
	return nil, err
}

func (p *Pool[T]) waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Timeout("acquiring lease", err)
	}
	return fmt.Errorf("pool: acquire: %w", err)
}

func (p *Pool[T]) lease(id int) *Lease[T] {
	return &Lease[T]{id: id, client: p.shared}
}

// Release returns a lease. Releasing the same lease twice, or a nil lease,
// does nothing.
func (p *Pool[T]) Release(l *Lease[T]) {
	if l == nil {
		return
	}
	p.mu.Lock()
	if l.released {
		p.mu.Unlock()
		return
	}
	l.released = true
	p.mu.Unlock()

	p.release(l.id)
}

func (p *Pool[T]) release(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if front := p.waiters.Front(); front != nil && !p.closed {
		w := p.waiters.Remove(front).(*waiter)
		w.served = true
		w.ch <- id // active count unchanged: the token changes hands
		p.observeLocked()
		return
	}

	p.active--
	if p.closed {
		p.observeLocked()
		return
	}
	tok := idleToken{id: id}
	tok.timer = time.AfterFunc(p.cfg.IdleTimeout, func() { p.evict(id) })
	p.idle = append(p.idle, tok)
	p.observeLocked()
}

// evict drops an idle token whose timeout fired, if the idle set is still
// above the watermark.
func (p *Pool[T]) evict(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) <= p.cfg.MinIdle {
		return
	}
	for i, tok := range p.idle {
		if tok.id == id {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			p.observeLocked()
			p.logger.Debug("evicted idle lease", slog.String("id", strconv.Itoa(id)))
			return
		}
	}
}

// Stats returns a snapshot of the counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool[T]) statsLocked() Stats {
	return Stats{
		Active:  p.active,
		Idle:    len(p.idle),
		Total:   p.minted,
		Waiting: p.waiters.Len(),
	}
}

func (p *Pool[T]) observeLocked() {
	s := p.statsLocked()
	metrics.PoolActive.WithLabelValues(p.cfg.Name).Set(float64(s.Active))
	metrics.PoolIdle.WithLabelValues(p.cfg.Name).Set(float64(s.Idle))
	metrics.PoolWaiting.WithLabelValues(p.cfg.Name).Set(float64(s.Waiting))
}

// Close stops idle timers and fails every pending Acquire with ErrClosed.
// Leases already out may still be released.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	for _, tok := range p.idle {
		if tok.timer != nil {
			tok.timer.Stop()
		}
	}
	p.idle = nil

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		w.served = true
		close(w.ch)
	}
	p.waiters.Init()
	p.observeLocked()
	p.logger.Info("pool closed", slog.Int("active", p.active))
}
