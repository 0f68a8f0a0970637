// Package tiling splits a (tensor ordered) image into overlapping tiles, runs
// every tile through an inference backend and merges the results back into
// an image of the original size. A Controller repeats the whole batch with a
// finer tiling whenever the backend reports ErrResourceExhausted.
package tiling

import (
	"fmt"

	"tiledpredict/internal/models"
)

// Action tells how an axis takes part in tiling.
type Action int

const (
	// NoTiling axes are passed whole to every tile.
	NoTiling Action = iota

	// TileWithPadding axes are split into tiles that overlap by the
	// configured padding. Spatial axes use this.
	TileWithPadding

	// TileWithoutPadding axes are split into batches without overlap.
	// The time axis uses this.
	TileWithoutPadding
)

func (a Action) String() string {
	switch a {
	case TileWithPadding:
		return "tile-with-padding"
	case TileWithoutPadding:
		return "batch"
	}
	return "no-tiling"
}

// ActionFor returns the default tiling action of an axis type.
func ActionFor(t models.AxisType) Action {
	switch t {
	case models.X, models.Y, models.Z:
		return TileWithPadding
	case models.Time:
		return TileWithoutPadding
	}
	return NoTiling
}

// Actions returns the default tiling action of every axis.
func Actions(axes []models.AxisType) []Action {
	actions := make([]Action, len(axes))
	for i, a := range axes {
		actions[i] = ActionFor(a)
	}
	return actions
}

// Params are the user facing tiling parameters.
type Params struct {
	// Tiles is the target number of tiles over all padded axes
	Tiles int `yaml:"nTiles" toml:"nTiles"`

	// BlockMultiple is the granularity tile sizes are rounded up to
	BlockMultiple int `yaml:"blockMultiple" toml:"blockMultiple"`

	// Overlap is the padding added on each side of a tile along split axes.
	// It is rounded up to BlockMultiple so padded tiles keep the required
	// granularity, e.g. overlap 20 with block 8 pads by 24.
	Overlap int `yaml:"overlap" toml:"overlap"`

	// BatchSize is the target batch size along batch axes; 0 means whole axis
	BatchSize int `yaml:"batchSize" toml:"batchSize"`
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{
		Tiles:         8,
		BlockMultiple: 8,
		Overlap:       32,
		BatchSize:     10,
	}
}

func (p Params) String() string {
	return fmt.Sprintf("tiles=%d block=%d overlap=%d batch=%d", p.Tiles, p.BlockMultiple, p.Overlap, p.BatchSize)
}

func (p Params) normalized() Params {
	if p.Tiles < 1 {
		p.Tiles = 1
	}
	if p.BlockMultiple < 1 {
		p.BlockMultiple = 1
	}
	if p.Overlap < 0 {
		p.Overlap = 0
	}
	if p.BatchSize < 0 {
		p.BatchSize = 0
	}
	return p
}

// Plan is the tiling geometry computed for one attempt.
//
// For every axis i, Expanded[i] == TileSize[i]*Counts[i] >= Original[i] and
// Counts[i] >= 1. Padding[i] is non-zero only if Counts[i] > 1.
type Plan struct {
	Original []int
	Counts   []int
	TileSize []int
	Padding  []int
	Expanded []int
	Actions  []Action
	Params   Params
}

// NumTiles returns the number of grid cells.
func (p Plan) NumTiles() int {
	return models.Volume(p.Counts)
}

// PaddedTileShape returns the shape of a tile as handed to the backend.
func (p Plan) PaddedTileShape() []int {
	shape := make([]int, len(p.TileSize))
	for i := range shape {
		shape[i] = p.TileSize[i] + 2*p.Padding[i]
	}
	return shape
}

// Check verifies the plan invariants.
func (p Plan) Check() error {
	for i := range p.Original {
		if p.Counts[i] < 1 {
			return fmt.Errorf("axis %d: tile count %d < 1", i, p.Counts[i])
		}
		if p.Expanded[i] != p.TileSize[i]*p.Counts[i] {
			return fmt.Errorf("axis %d: expanded size %d != %d tiles of %d", i, p.Expanded[i], p.Counts[i], p.TileSize[i])
		}
		if p.Expanded[i] < p.Original[i] {
			return fmt.Errorf("axis %d: expanded size %d smaller than original %d", i, p.Expanded[i], p.Original[i])
		}
		if p.Counts[i] == 1 && p.Padding[i] != 0 {
			return fmt.Errorf("axis %d: padding %d on untiled axis", i, p.Padding[i])
		}
	}
	return nil
}

func (p Plan) String() string {
	return fmt.Sprintf("grid %v of %v (padding %v, expanded %v)", p.Counts, p.TileSize, p.Padding, p.Expanded)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func roundUp(n, multiple int) int {
	return ceilDiv(n, multiple) * multiple
}

// blockSize is the tile size along an axis of the given size split into
// count tiles, rounded up to the block multiple.
func blockSize(size, count, multiple int) int {
	return roundUp(ceilDiv(size, count), multiple)
}

// growAxis returns the padded axis whose rounded tile size is currently the
// largest, lowest index first on ties. It reports false when no axis has a
// rounded tile size above the block multiple, since splitting further would
// not shrink any tile.
func growAxis(shape []int, actions []Action, counts []int, multiple int) (int, bool) {
	best, bestSize := -1, 0
	for i, a := range actions {
		if a != TileWithPadding {
			continue
		}
		if s := blockSize(shape[i], counts[i], multiple); s > bestSize {
			best, bestSize = i, s
		}
	}
	if best < 0 || bestSize <= multiple {
		return 0, false
	}
	return best, true
}

// paddedProduct is the number of tiles over TileWithPadding axes.
func paddedProduct(actions []Action, counts []int) int {
	n := 1
	for i, a := range actions {
		if a == TileWithPadding {
			n *= counts[i]
		}
	}
	return n
}

// ComputePlan decides the tiling of an image of the given shape.
//
// Padded axes start with one tile each; the axis with the largest rounded
// tile size is split once more until the tile count reaches p.Tiles or no
// tile can shrink any further. Batch axes are split independently into
// ceil(size/BatchSize) batches, and the batch size is then lowered to the
// smallest value giving the same number of batches.
func ComputePlan(shape []int, actions []Action, p Params) Plan {
	p = p.normalized()
	n := len(shape)
	plan := Plan{
		Original: append([]int(nil), shape...),
		Counts:   make([]int, n),
		TileSize: make([]int, n),
		Padding:  make([]int, n),
		Expanded: make([]int, n),
		Actions:  append([]Action(nil), actions...),
		Params:   p,
	}
	for i := range plan.Counts {
		plan.Counts[i] = 1
	}

	for iter := 0; iter < max(1, p.Tiles) && paddedProduct(actions, plan.Counts) < p.Tiles; iter++ {
		axis, ok := growAxis(shape, actions, plan.Counts, p.BlockMultiple)
		if !ok {
			break
		}
		plan.Counts[axis]++
	}

	pad := 0
	if p.Overlap > 0 {
		pad = roundUp(p.Overlap, p.BlockMultiple)
	}

	for i, a := range actions {
		switch a {
		case TileWithPadding:
			plan.TileSize[i] = blockSize(shape[i], plan.Counts[i], p.BlockMultiple)
			if plan.Counts[i] > 1 {
				plan.Padding[i] = pad
			}
		case TileWithoutPadding:
			batch := p.BatchSize
			if batch == 0 || batch > shape[i] {
				batch = shape[i]
			}
			if batch > 0 {
				plan.Counts[i] = ceilDiv(shape[i], batch)
				batch = ceilDiv(shape[i], plan.Counts[i])
			}
			plan.TileSize[i] = batch
		default:
			plan.TileSize[i] = shape[i]
		}
		plan.Expanded[i] = plan.TileSize[i] * plan.Counts[i]
	}
	return plan
}
