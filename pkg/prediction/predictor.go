// Package prediction drives a complete tiled prediction: it maps an image
// onto a network node, normalizes it, runs the tiling retry loop against a
// backend and maps the result back onto the image axes.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tiledpredict/internal/models"
	"tiledpredict/pkg/axes"
	"tiledpredict/pkg/logging"
	"tiledpredict/pkg/normalize"
	"tiledpredict/pkg/tiling"
)

// ErrRetriesExhausted is returned when the backend still runs out of
// resources after MaxRetries refinements.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Stats summarizes the samples of a prediction.
type Stats struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// ComputeStats returns the statistics of img. An empty image has zero stats.
func ComputeStats(img *models.Image) Stats {
	if img.Len() == 0 {
		return Stats{}
	}
	x := make([]float64, img.Len())
	for i, v := range img.Data {
		x[i] = float64(v)
	}
	mean, std := stat.MeanStdDev(x, nil)
	if img.Len() == 1 {
		std = 0
	}
	return Stats{Mean: mean, StdDev: std, Min: floats.Min(x), Max: floats.Max(x)}
}

func (s Stats) String() string {
	return fmt.Sprintf("mean %.4g, stddev %.4g, range [%.4g, %.4g]", s.Mean, s.StdDev, s.Min, s.Max)
}

// Params holds the prediction parameters.
type Params struct {
	// Input and Output describe the network nodes
	Input  models.NodeShape
	Output models.NodeShape

	// Tiling holds the parameters of the first attempt
	Tiling tiling.Params

	// NumWorkers limits how many tiles are evaluated concurrently
	NumWorkers int

	// MaxRetries bounds the number of refined attempts; 0 allows none
	MaxRetries int

	// RemoveAxis names a unit-size image axis dropped before inference and
	// restored afterwards. Unknown disables removal.
	RemoveAxis models.AxisType

	Normalization normalize.Params
}

// Result is the outcome of a successful prediction.
type Result struct {
	Image    *models.Image
	Stats    Stats
	Attempts []tiling.Params
	Plan     tiling.Plan
	Elapsed  time.Duration
}

// Predictor runs predictions with one backend.
type Predictor struct {
	params   *Params
	backend  tiling.Backend
	progress tiling.Progress
}

// NewPredictor creates a predictor. A nil progress logs through the
// package logger.
func NewPredictor(params *Params, backend tiling.Backend, progress tiling.Progress) *Predictor {
	if progress == nil {
		progress = logging.Progress{Label: "predict"}
	}
	return &Predictor{params: params, backend: backend, progress: progress}
}

// Process runs the complete prediction pipeline on img. img is not modified;
// Unknown axes are labeled on a copy.
func (p *Predictor) Process(ctx context.Context, img *models.Image) (*Result, error) {
	timer := logging.NewTimeLog()

	labeled := &models.Image{
		Shape: img.Shape,
		Axes:  append([]models.AxisType(nil), img.Axes...),
		Data:  img.Data,
	}
	axes.AssignUnknownAxes(labeled)
	logging.Debugf("Input %s, %s", labeled, humanize.Bytes(labeled.Bytes()))

	// Step 1: map image axes onto the input node
	m, err := axes.DefaultMapping(p.params.Input, labeled)
	if err != nil {
		return nil, fmt.Errorf("mapping input %s onto node %s: %w", labeled, p.params.Input, err)
	}
	work := labeled
	if p.params.RemoveAxis != models.Unknown {
		if work, err = m.RemoveAxis(work, p.params.RemoveAxis); err != nil {
			return nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	// Step 2: normalize
	if work, err = normalize.Apply(work, p.params.Normalization); err != nil {
		return nil, fmt.Errorf("normalization failed: %w", err)
	}

	// Step 3: permute into tensor order
	tensor, err := m.ToTensor(work)
	if err != nil {
		return nil, err
	}
	logging.Debugf("Tensor %s for node %s", tensor, m.Node())

	// Step 4: tiled execution with refinement on resource exhaustion
	c := tiling.NewController(p.backend, p.params.Tiling, p.params.NumWorkers, p.progress)
	out, err := p.run(ctx, c, tensor)
	if err != nil {
		return nil, err
	}

	if p.params.Output.Rank() > 0 && out.Rank() != p.params.Output.Rank() {
		return nil, fmt.Errorf("backend output %s does not match output node %s", out, p.params.Output)
	}

	// Step 5: map back onto image axes
	res, err := m.FromTensor(out)
	if err != nil {
		return nil, err
	}
	if t, size, ok := m.Removed(); ok {
		if res, err = m.RestoreAxis(res, t, size); err != nil {
			return nil, err
		}
	}

	result := &Result{
		Image:    res,
		Stats:    ComputeStats(res),
		Attempts: c.History(),
		Plan:     c.Plan(),
		Elapsed:  timer.Elapsed(),
	}
	timer.Infof("Prediction %s after %d attempt(s), %s, finished",
		res, len(result.Attempts), result.Stats)
	return result, nil
}

// run repeats attempts until one succeeds, a failure is not retryable, or
// MaxRetries refinements have been spent.
func (p *Predictor) run(ctx context.Context, c *tiling.Controller, tensor *models.Image) (*models.Image, error) {
	for retries := 0; ; retries++ {
		out, err := c.Attempt(ctx, tensor)
		if err == nil {
			return out, nil
		}
		if tiling.Classify(err) != tiling.ResourceExhausted {
			return nil, err
		}
		if retries >= p.params.MaxRetries {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, retries+1, err)
		}
		if aerr := c.Advance(err); aerr != nil {
			return nil, fmt.Errorf("%w: %w", aerr, err)
		}
		logging.Warningf("Backend ran out of resources, retrying with %s", c.Params())
	}
}
