package tiling

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceExhausted is returned by a Backend when a tile is too large
	// to process. It aborts the current attempt and allows a retry with a
	// finer tiling.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrCanceled reports that an attempt was canceled before it finished.
	// No partial result is kept.
	ErrCanceled = errors.New("tiled execution canceled")

	// ErrNoResult reports that there were no processed tiles to merge.
	ErrNoResult = errors.New("no processed tiles to merge")

	// ErrMalformedTile reports a processed tile whose shape does not fit the
	// tiling it was produced for.
	ErrMalformedTile = errors.New("malformed tile")

	// ErrCannotRefine reports that no finer tiling exists for a failed plan.
	ErrCannotRefine = errors.New("tiling cannot be refined further")
)

// BackendError wraps a non-recoverable failure reported by the inference
// backend for one tile.
type BackendError struct {
	Tile int
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend failed on tile %d: %v", e.Tile, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
