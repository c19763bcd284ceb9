package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/matchlog/internal/record"
	"github.com/roach88/matchlog/internal/remote"
)

type countingPermits struct {
	mu      sync.Mutex
	granted int
	err     error
}

func (p *countingPermits) Acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.granted++
	return nil
}

type stubRemote struct {
	mu    sync.Mutex
	calls []record.ID
}

func (r *stubRemote) Get(ctx context.Context, id record.ID) (remote.Response, error) {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	r.mu.Unlock()
	if id%2 == 0 {
		return remote.Response{StatusCode: 404}, nil
	}
	return remote.Response{StatusCode: 200, Body: []byte(`{"code":200}`)}, nil
}

func TestWorker_AcquiresPermitBeforeEveryCall(t *testing.T) {
	permits := &countingPermits{}
	rem := &stubRemote{}
	w := NewWorker(permits, rem, nil)

	assert.Equal(t, Success, w.Fetch(context.Background(), 1).Kind)
	assert.Equal(t, NotFound, w.Fetch(context.Background(), 2).Kind)
	assert.Equal(t, 2, permits.granted)
	assert.Len(t, rem.calls, 2)
}

func TestWorker_NoCallWithoutPermit(t *testing.T) {
	permits := &countingPermits{err: context.Canceled}
	rem := &stubRemote{}
	w := NewWorker(permits, rem, nil)

	out := w.Fetch(context.Background(), 1)
	assert.Equal(t, Transient, out.Kind)
	assert.ErrorIs(t, out.Cause, context.Canceled)
	assert.Empty(t, rem.calls)
}

func TestPool_ProcessesAllJobs(t *testing.T) {
	rem := &stubRemote{}
	pool := NewPool(NewWorker(&countingPermits{}, rem, nil), 3)

	jobs := make(chan Job)
	results := make(chan Outcome)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx, jobs, results) }()

	go func() {
		for i := 1; i <= 10; i++ {
			jobs <- Job{ID: record.ID(i), Gen: uint64(100 + i)}
		}
		close(jobs)
	}()

	got := map[record.ID]Outcome{}
	for len(got) < 10 {
		select {
		case out := <-results:
			got[out.ID] = out
		case <-time.After(5 * time.Second):
			t.Fatal("pool stalled")
		}
	}
	require.NoError(t, <-done)

	for i := 1; i <= 10; i++ {
		out := got[record.ID(i)]
		assert.Equal(t, uint64(100+i), out.Gen)
	}
	assert.Equal(t, NotFound, got[4].Kind)
	assert.Equal(t, Success, got[5].Kind)
}

func TestPool_StopsOnCancel(t *testing.T) {
	pool := NewPool(NewWorker(&countingPermits{}, &stubRemote{}, nil), 2)
	jobs := make(chan Job, 1)
	results := make(chan Outcome) // never read

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx, jobs, results) }()

	jobs <- Job{ID: 1}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}
