package tiling

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"tiledpredict/internal/models"
)

// Backend runs inference on one tile. Implementations return an error
// matching ErrResourceExhausted when the tile is too large to process; any
// other error is fatal for the whole call.
type Backend interface {
	Execute(ctx context.Context, tile *models.Image) (*models.Image, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, tile *models.Image) (*models.Image, error)

// Execute calls f.
func (f BackendFunc) Execute(ctx context.Context, tile *models.Image) (*models.Image, error) {
	return f(ctx, tile)
}

// Progress receives status messages and step counts. It is purely
// observational.
type Progress interface {
	Status(msg string)
	Step(done, total int)
}

type nopProgress struct{}

func (nopProgress) Status(string)  {}
func (nopProgress) Step(int, int) {}

// State is the lifecycle state of an Executor.
type State int

const (
	// Idle executors may start a run; a run abandoned on resource
	// exhaustion returns here
	Idle State = iota
	// Running means tiles are being processed
	Running
	// Finished means every tile has a result
	Finished
	// Failed is terminal for the run after a non-retryable error
	Failed
	// Canceled means the context was canceled and results were discarded
	Canceled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Executor runs every tile of a TiledView through a Backend using a bounded
// pool of workers.
type Executor struct {
	backend  Backend
	workers  int
	progress Progress

	mu    sync.Mutex
	state State
}

// NewExecutor creates an executor running at most workers tiles at once.
// A non-positive worker count uses one worker per CPU.
func NewExecutor(backend Backend, workers int, progress Progress) *Executor {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if progress == nil {
		progress = nopProgress{}
	}
	return &Executor{backend: backend, workers: workers, progress: progress}
}

// State returns the current state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Executor) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run processes every tile of tv and stores the results in tv.Processed.
//
// If the backend reports ErrResourceExhausted for any tile, the remaining
// tiles are abandoned, all results are discarded and the executor returns to
// Idle so that the caller can retry with a finer tiling. Canceling ctx
// discards all results and leaves the executor Canceled. Any other failure
// leaves it Failed.
func (e *Executor) Run(ctx context.Context, tv *TiledView) error {
	e.mu.Lock()
	if e.state == Running {
		e.mu.Unlock()
		return errors.New("executor already running")
	}
	e.state = Running
	e.mu.Unlock()

	tv.Reset()
	total := tv.NumTiles()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	var done atomic.Int64
	for idx := 0; idx < total; idx++ {
		if gctx.Err() != nil {
			break
		}
		idx := idx // per-iteration copy (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			out, err := e.call(gctx, idx, tv.Tile(idx))
			if err != nil {
				return err
			}
			tv.Processed[idx] = out
			e.progress.Step(int(done.Add(1)), total)
			return nil
		})
	}
	err := g.Wait()

	switch {
	case ctx.Err() != nil:
		tv.Discard()
		e.setState(Canceled)
		return fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
	case errors.Is(err, ErrResourceExhausted):
		tv.Discard()
		e.setState(Idle)
		return err
	case err != nil:
		tv.Discard()
		e.setState(Failed)
		return err
	}

	for idx, out := range tv.Processed {
		if out == nil {
			tv.Discard()
			e.setState(Failed)
			return fmt.Errorf("tile %d produced no result", idx)
		}
	}
	e.setState(Finished)
	return nil
}

type callResult struct {
	out *models.Image
	err error
}

// call hands one tile to the backend. If ctx is canceled while the backend
// is busy the call is abandoned and its eventual result dropped.
func (e *Executor) call(ctx context.Context, idx int, tile *models.Image) (*models.Image, error) {
	ch := make(chan callResult, 1)
	go func() {
		out, err := e.backend.Execute(ctx, tile)
		ch <- callResult{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		switch {
		case errors.Is(r.err, ErrResourceExhausted):
			return nil, fmt.Errorf("tile %d of shape %v: %w", idx, tile.Shape, r.err)
		case r.err != nil:
			return nil, &BackendError{Tile: idx, Err: r.err}
		case r.out == nil:
			return nil, &BackendError{Tile: idx, Err: errors.New("backend returned no image")}
		}
		return r.out, nil
	}
}
