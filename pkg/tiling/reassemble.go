package tiling

import (
	"fmt"

	"tiledpredict/internal/models"
)

// Reassemble merges the processed tiles of tv into one image of the plan's
// original size.
//
// Padding is stripped from every tile, the remaining cores are placed by grid
// coordinate into an image of the expanded size, and that image is cropped
// back to the original size with Resize. Axes that were not tiled keep the
// size the backend produced, which allows the network to derive a different
// number of channels.
func Reassemble(tv *TiledView) (*models.Image, error) {
	if len(tv.Processed) == 0 {
		return nil, ErrNoResult
	}
	plan := tv.plan
	first := tv.Processed[0]
	if first == nil {
		return nil, fmt.Errorf("%w: tile 0 missing", ErrNoResult)
	}
	rank := len(plan.Counts)
	if first.Rank() != rank {
		return nil, fmt.Errorf("%w: tile 0 has rank %d, expected %d", ErrMalformedTile, first.Rank(), rank)
	}

	merged := make([]int, rank)
	core := make([]int, rank)
	for d := 0; d < rank; d++ {
		if plan.Actions[d] == NoTiling {
			merged[d] = first.Shape[d]
			core[d] = first.Shape[d]
			continue
		}
		merged[d] = plan.Expanded[d]
		core[d] = plan.TileSize[d]
	}
	want := plan.PaddedTileShape()

	out := models.NewImage(merged, first.Axes)
	for idx, tile := range tv.Processed {
		if err := checkTile(tile, plan, want, core, idx); err != nil {
			return nil, err
		}
		coord := tv.Coord(idx)
		dst := make([]int, rank)
		for d, c := range coord {
			if plan.Actions[d] != NoTiling {
				dst[d] = c * plan.TileSize[d]
			}
		}
		NewView(tile, plan.Padding, core).CopyTo(out, dst)
	}

	target := append([]int(nil), merged...)
	for d := 0; d < rank; d++ {
		if plan.Actions[d] != NoTiling {
			target[d] = plan.Original[d]
		}
	}
	return Resize(out, target), nil
}

// checkTile verifies that a processed tile fits the plan.
func checkTile(tile *models.Image, plan Plan, want, core []int, idx int) error {
	if tile == nil {
		return fmt.Errorf("%w: tile %d missing", ErrNoResult, idx)
	}
	if tile.Rank() != len(want) {
		return fmt.Errorf("%w: tile %d has rank %d, expected %d", ErrMalformedTile, idx, tile.Rank(), len(want))
	}
	for d := range want {
		if plan.Actions[d] == NoTiling {
			if tile.Shape[d] != core[d] {
				return fmt.Errorf("%w: tile %d has size %d along axis %d, other tiles have %d",
					ErrMalformedTile, idx, tile.Shape[d], d, core[d])
			}
			continue
		}
		if tile.Shape[d] != want[d] {
			return fmt.Errorf("%w: tile %d has size %d along axis %d, expected %d",
				ErrMalformedTile, idx, tile.Shape[d], d, want[d])
		}
	}
	return nil
}
