// Package governor paces remote calls under a shared request rate limit.
//
// The Governor keeps a sliding-window log of the last Limit issue times: a
// permit is granted only when fewer than Limit permits were issued within the
// trailing Window. Waiters are served strictly in arrival order. A rate-limit
// signal from the remote service pauses issuance entirely until the server's
// retry-after has elapsed.
package governor

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Config bounds the request rate to Limit permits per Window.
type Config struct {
	Limit  int
	Window time.Duration
}

// Validate rejects non-positive limits and windows.
func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate window must be positive, got %s", c.Window)
	}
	return nil
}

// Governor issues permits. It is safe for concurrent use.
type Governor struct {
	clock  clock.Clock
	limit  int
	window time.Duration

	mu          sync.Mutex
	issued      []time.Time // ring buffer of the last limit issue times
	next        int         // ring slot for the next issue; the oldest entry once full
	count       int
	pausedUntil time.Time
	waiters     *list.List
	wake        chan struct{} // closed and replaced whenever waiters must re-check
}

// New creates a Governor. A nil clock uses the real clock.
func New(cfg Config, clk clock.Clock) (*Governor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Governor{
		clock:   clk,
		limit:   cfg.Limit,
		window:  cfg.Window,
		issued:  make([]time.Time, cfg.Limit),
		waiters: list.New(),
		wake:    make(chan struct{}),
	}, nil
}

// Acquire blocks until a permit is granted or ctx is done.
// Concurrent callers are granted permits in the order they called Acquire.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	me := g.waiters.PushBack(struct{}{})
	for {
		wait := time.Duration(-1)
		if g.waiters.Front() == me {
			wait = g.reserveLocked(g.clock.Now())
			if wait == 0 {
				g.waiters.Remove(me)
				g.broadcastLocked()
				g.mu.Unlock()
				return nil
			}
		}
		wake := g.wake
		g.mu.Unlock()

		var timer clock.Timer
		var fire <-chan time.Time
		if wait > 0 {
			timer = g.clock.NewTimer(wait)
			fire = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			g.mu.Lock()
			g.waiters.Remove(me)
			g.broadcastLocked()
			g.mu.Unlock()
			return ctx.Err()
		case <-fire:
		case <-wake:
			if timer != nil {
				timer.Stop()
			}
		}
		g.mu.Lock()
	}
}

// Backoff pauses issuance for retryAfter from now. A pause already extending
// further is kept. A non-positive retryAfter pauses for one full window.
func (g *Governor) Backoff(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = g.window
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	until := g.clock.Now().Add(retryAfter)
	if until.After(g.pausedUntil) {
		g.pausedUntil = until
		g.broadcastLocked()
	}
}

// Snapshot describes the governor at a point in time.
type Snapshot struct {
	InWindow    int
	Limit       int
	Window      time.Duration
	PausedUntil time.Time
	Waiters     int
}

// Snapshot returns the current state.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	inWindow := 0
	for i := 0; i < g.count; i++ {
		if now.Sub(g.issued[i]) < g.window {
			inWindow++
		}
	}
	return Snapshot{
		InWindow:    inWindow,
		Limit:       g.limit,
		Window:      g.window,
		PausedUntil: g.pausedUntil,
		Waiters:     g.waiters.Len(),
	}
}

// reserveLocked records an issue at now and returns 0 when a permit is
// available, or the time to wait before one can be.
func (g *Governor) reserveLocked(now time.Time) time.Duration {
	if now.Before(g.pausedUntil) {
		return g.pausedUntil.Sub(now)
	}
	if g.count == g.limit {
		oldest := g.issued[g.next]
		if elapsed := now.Sub(oldest); elapsed < g.window {
			return g.window - elapsed
		}
	}
	g.issued[g.next] = now
	g.next = (g.next + 1) % g.limit
	if g.count < g.limit {
		g.count++
	}
	return 0
}

func (g *Governor) broadcastLocked() {
	close(g.wake)
	g.wake = make(chan struct{})
}
