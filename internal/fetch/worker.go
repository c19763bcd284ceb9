package fetch

import (
	"context"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/roach88/matchlog/internal/record"
	"github.com/roach88/matchlog/internal/remote"
)

// Permits gates remote calls. Implemented by governor.Governor.
type Permits interface {
	Acquire(ctx context.Context) error
}

// Remote performs one request. Implemented by remote.Client.
type Remote interface {
	Get(ctx context.Context, id record.ID) (remote.Response, error)
}

// Worker fetches single IDs.
type Worker struct {
	permits Permits
	remote  Remote
	clock   clock.PassiveClock
}

// NewWorker creates a Worker. A nil clock uses the real clock.
func NewWorker(permits Permits, r Remote, clk clock.PassiveClock) *Worker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Worker{permits: permits, remote: r, clock: clk}
}

// Fetch acquires a permit and performs one remote call for id.
// If ctx ends while waiting for the permit, no call is made and the
// outcome is Transient with the context's error.
func (w *Worker) Fetch(ctx context.Context, id record.ID) Outcome {
	start := w.clock.Now()
	if err := w.permits.Acquire(ctx); err != nil {
		return Outcome{ID: id, Kind: Transient, Cause: err, Waited: w.clock.Since(start)}
	}
	waited := w.clock.Since(start)

	resp, err := w.remote.Get(ctx, id)
	out := Classify(id, resp, err)
	out.Waited = waited
	return out
}

// Job is one dispatched attempt.
type Job struct {
	ID  record.ID
	Gen uint64
}

// Pool runs a fixed number of workers over a job channel.
type Pool struct {
	worker *Worker
	size   int
}

// NewPool creates a pool of size workers sharing w.
func NewPool(w *Worker, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{worker: w, size: size}
}

// Run starts the workers and blocks until jobs is closed or ctx is done.
// Each outcome is sent on results; a worker blocks until it is accepted.
func (p *Pool) Run(ctx context.Context, jobs <-chan Job, results chan<- Outcome) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		g.Go(func() error {
			for {
				var job Job
				select {
				case <-ctx.Done():
					return nil
				case j, ok := <-jobs:
					if !ok {
						return nil
					}
					job = j
				}

				out := p.worker.Fetch(ctx, job.ID)
				out.Gen = job.Gen
				select {
				case results <- out:
				case <-ctx.Done():
					return nil
				}
			}
		})
	}
	return g.Wait()
}
