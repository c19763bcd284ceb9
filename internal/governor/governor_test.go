package governor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestGovernor(t *testing.T, limit int, window time.Duration) (*Governor, *clocktesting.FakeClock) {
	t.Helper()
	fc := clocktesting.NewFakeClock(epoch)
	g, err := New(Config{Limit: limit, Window: window}, fc)
	require.NoError(t, err)
	return g, fc
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{Limit: 0, Window: time.Second}, nil)
	assert.Error(t, err)

	_, err = New(Config{Limit: -1, Window: time.Second}, nil)
	assert.Error(t, err)

	_, err = New(Config{Limit: 1, Window: 0}, nil)
	assert.Error(t, err)
}

func TestReserve_SlidingWindow(t *testing.T) {
	g, _ := newTestGovernor(t, 2, time.Second)

	assert.Zero(t, g.reserveLocked(epoch))
	assert.Zero(t, g.reserveLocked(epoch.Add(400*time.Millisecond)))

	// Third permit must wait until the first leaves the window.
	assert.Equal(t, 400*time.Millisecond, g.reserveLocked(epoch.Add(600*time.Millisecond)))
	assert.Zero(t, g.reserveLocked(epoch.Add(time.Second)))

	// The window now holds 0.4s and 1.0s.
	assert.Equal(t, 200*time.Millisecond, g.reserveLocked(epoch.Add(1200*time.Millisecond)))
	assert.Zero(t, g.reserveLocked(epoch.Add(1400*time.Millisecond)))
}

func TestReserve_NeverExceedsLimitInAnyWindow(t *testing.T) {
	const limit = 3
	window := time.Second
	g, _ := newTestGovernor(t, limit, window)

	var granted []time.Time
	now := epoch
	for len(granted) < 50 {
		if wait := g.reserveLocked(now); wait == 0 {
			granted = append(granted, now)
		} else {
			now = now.Add(wait)
			continue
		}
		now = now.Add(70 * time.Millisecond)
	}

	for i := range granted {
		inWindow := 0
		for j := i; j < len(granted) && granted[j].Sub(granted[i]) < window; j++ {
			inWindow++
		}
		assert.LessOrEqual(t, inWindow, limit, "window starting at permit %d", i)
	}
}

func TestAcquire_BlocksUntilWindowSlides(t *testing.T) {
	g, fc := newTestGovernor(t, 1, time.Second)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx))

	done := make(chan error, 1)
	go func() { done <- g.Acquire(ctx) }()

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("second permit granted inside the window")
	default:
	}

	fc.Step(time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("permit not granted after window elapsed")
	}
}

func TestAcquire_FIFO(t *testing.T) {
	g, fc := newTestGovernor(t, 1, time.Second)
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(ctx))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
		// Each goroutine must be queued before the next starts.
		require.Eventually(t, func() bool { return g.Snapshot().Waiters == i+1 }, time.Second, time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
		fc.Step(time.Second)
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == i+1
		}, time.Second, time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestAcquire_CancelledWaiterLeavesQueue(t *testing.T) {
	g, fc := newTestGovernor(t, 1, time.Second)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- g.Acquire(ctx) }()
	require.Eventually(t, func() bool { return g.Snapshot().Waiters == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- g.Acquire(context.Background()) }()
	require.Eventually(t, func() bool { return g.Snapshot().Waiters == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	fc.Step(time.Second)
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("queued waiter not served after head cancelled")
	}
	assert.Zero(t, g.Snapshot().Waiters)
}

func TestAcquire_CancelledContext(t *testing.T) {
	g, _ := newTestGovernor(t, 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Acquire(ctx), context.Canceled)
}

func TestBackoff_PausesIssuance(t *testing.T) {
	g, fc := newTestGovernor(t, 5, time.Second)

	g.Backoff(3 * time.Second)
	assert.Equal(t, 3*time.Second, g.reserveLocked(fc.Now()))

	// A shorter pause never shortens the current one.
	g.Backoff(time.Second)
	assert.Equal(t, epoch.Add(3*time.Second), g.Snapshot().PausedUntil)

	fc.Step(3 * time.Second)
	assert.Zero(t, g.reserveLocked(fc.Now()))
}

func TestBackoff_DefaultsToWindow(t *testing.T) {
	g, fc := newTestGovernor(t, 5, 2*time.Second)
	g.Backoff(0)
	assert.Equal(t, fc.Now().Add(2*time.Second), g.Snapshot().PausedUntil)
}

func TestBackoff_WakesWaiterToExtendWait(t *testing.T) {
	g, fc := newTestGovernor(t, 1, time.Second)
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx))

	done := make(chan error, 1)
	go func() { done <- g.Acquire(ctx) }()
	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)

	g.Backoff(5 * time.Second)

	// The original one-second wait no longer suffices.
	fc.Step(time.Second)
	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("permit granted during server back-off")
	default:
	}

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	fc.Step(4 * time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("permit not granted after back-off elapsed")
	}
}
