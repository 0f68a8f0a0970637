// Package backend provides reference inference backends for the tiling
// engine. Real networks live behind the same tiling.Backend interface; the
// backends here are used by the command line tool and by tests.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"tiledpredict/internal/models"
	"tiledpredict/pkg/tiling"
)

// Identity returns every tile unchanged.
type Identity struct{}

// Execute implements tiling.Backend.
func (Identity) Execute(ctx context.Context, tile *models.Image) (*models.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tile, nil
}

// MemoryLimit wraps a backend and reports tiling.ErrResourceExhausted for any
// tile whose samples take more than Budget bytes, the way a GPU backend
// fails on tiles that do not fit into device memory.
type MemoryLimit struct {
	Backend tiling.Backend
	Budget  uint64
}

// Execute implements tiling.Backend.
func (m MemoryLimit) Execute(ctx context.Context, tile *models.Image) (*models.Image, error) {
	if m.Budget > 0 && tile.Bytes() > m.Budget {
		return nil, fmt.Errorf("tile %v needs %s, budget is %s: %w",
			tile.Shape, humanize.Bytes(tile.Bytes()), humanize.Bytes(m.Budget), tiling.ErrResourceExhausted)
	}
	return m.Backend.Execute(ctx, tile)
}

// Options configure New.
type Options struct {
	// Sigma is the Gaussian width in pixels used by the smooth backend
	Sigma float64

	// Factor and Channels configure the scale backend; a zero Factor means 1
	Factor   float32
	Channels int

	// MemoryBudget limits the tile size in bytes; 0 disables the limit
	MemoryBudget uint64
}

// New returns the backend with the given name ("identity", "smooth" or "scale"),
// wrapped in a MemoryLimit when a budget is configured.
func New(name string, opts Options) (tiling.Backend, error) {
	var b tiling.Backend
	switch strings.ToLower(name) {
	case "", "identity":
		b = Identity{}
	case "smooth":
		if opts.Sigma <= 0 {
			return nil, fmt.Errorf("smooth backend needs a positive sigma, got %g", opts.Sigma)
		}
		b = &Smooth{Sigma: opts.Sigma}
	case "scale":
		f := opts.Factor
		if f == 0 {
			f = 1
		}
		b = Scale{Factor: f, Channels: opts.Channels}
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	if opts.MemoryBudget > 0 {
		b = MemoryLimit{Backend: b, Budget: opts.MemoryBudget}
	}
	return b, nil
}
