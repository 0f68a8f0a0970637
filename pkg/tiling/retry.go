package tiling

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"tiledpredict/internal/models"
)

// Failure classifies the outcome of an attempt.
type Failure int

const (
	// NoFailure means the attempt succeeded
	NoFailure Failure = iota
	// ResourceExhausted means a tile was too large; a finer tiling may succeed
	ResourceExhausted
	// Cancellation means the caller canceled the attempt
	Cancellation
	// Fatal covers every other error; retrying will not help
	Fatal
)

func (f Failure) String() string {
	switch f {
	case NoFailure:
		return "none"
	case ResourceExhausted:
		return "resource exhausted"
	case Cancellation:
		return "canceled"
	}
	return "fatal"
}

// Classify maps an attempt error onto a Failure.
func Classify(err error) Failure {
	switch {
	case err == nil:
		return NoFailure
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return Cancellation
	case errors.Is(err, ErrResourceExhausted):
		return ResourceExhausted
	}
	return Fatal
}

// NextParams returns the parameters of the attempt that follows a failed
// attempt with plan and p.
//
// Only ResourceExhausted can be retried. The next tile target is the tile
// count reached by splitting the plan's largest tile once more, so every
// retry strictly increases the target. When no tile can shrink any further
// the batch size of batch axes is halved instead. ErrCannotRefine is
// returned when neither is possible.
func NextParams(plan Plan, p Params, f Failure) (Params, error) {
	if f != ResourceExhausted {
		return p, fmt.Errorf("%w: %s failures are not retried", ErrCannotRefine, f)
	}
	next := p.normalized()

	counts := append([]int(nil), plan.Counts...)
	if axis, ok := growAxis(plan.Original, plan.Actions, counts, next.BlockMultiple); ok {
		counts[axis]++
		next.Tiles = paddedProduct(plan.Actions, counts)
		return next, nil
	}

	batch := 0
	for i, a := range plan.Actions {
		if a == TileWithoutPadding && plan.TileSize[i] > batch {
			batch = plan.TileSize[i]
		}
	}
	if batch > 1 {
		next.BatchSize = ceilDiv(batch, 2)
		return next, nil
	}
	return p, fmt.Errorf("%w: %s", ErrCannotRefine, plan)
}

// Controller drives repeated attempts over the same image, refining the
// tiling after every ResourceExhausted failure. It never limits the number
// of attempts itself; the caller decides when to stop.
type Controller struct {
	backend  Backend
	workers  int
	progress Progress

	params  Params
	plan    Plan
	history []Params
	state   State
}

// NewController creates a controller starting from params.
func NewController(backend Backend, params Params, workers int, progress Progress) *Controller {
	if progress == nil {
		progress = nopProgress{}
	}
	return &Controller{
		backend:  backend,
		workers:  workers,
		progress: progress,
		params:   params.normalized(),
	}
}

// Params returns the parameters the next attempt will use.
func (c *Controller) Params() Params { return c.params }

// Plan returns the plan of the most recent attempt.
func (c *Controller) Plan() Plan { return c.plan }

// History returns the parameters of every attempt so far.
func (c *Controller) History() []Params { return append([]Params(nil), c.history...) }

// State returns the state the most recent attempt ended in.
func (c *Controller) State() State { return c.state }

// Attempt tiles img with the current parameters, runs every tile and
// reassembles the result. img must be in tensor order with axis labels; the
// labels decide which axes are tiled.
func (c *Controller) Attempt(ctx context.Context, img *models.Image) (*models.Image, error) {
	c.plan = ComputePlan(img.Shape, Actions(img.Axes), c.params)
	c.history = append(c.history, c.params)
	if err := c.plan.Check(); err != nil {
		c.state = Failed
		return nil, err
	}

	tileBytes := uint64(models.Volume(c.plan.PaddedTileShape())) * 4
	c.progress.Status(fmt.Sprintf("attempt %d: %d tiles, %s, %s per tile",
		len(c.history), c.plan.NumTiles(), c.plan, humanize.Bytes(tileBytes)))

	expanded := Resize(img, c.plan.Expanded)
	tv, err := NewTiledView(expanded, c.plan)
	if err != nil {
		c.state = Failed
		return nil, err
	}

	exec := NewExecutor(c.backend, c.workers, c.progress)
	err = exec.Run(ctx, tv)
	c.state = exec.State()
	if err != nil {
		return nil, err
	}

	out, err := Reassemble(tv)
	tv.Discard()
	if err != nil {
		c.state = Failed
		return nil, err
	}
	return out, nil
}

// Advance moves to the parameters of the next attempt after err.
func (c *Controller) Advance(err error) error {
	next, nerr := NextParams(c.plan, c.params, Classify(err))
	if nerr != nil {
		return nerr
	}
	c.progress.Status(fmt.Sprintf("out of resources, retrying with %s", next))
	c.params = next
	c.state = Idle
	return nil
}
