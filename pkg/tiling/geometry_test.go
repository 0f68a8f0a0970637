package tiling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiledpredict/internal/models"
)

func padded(n int) []Action {
	actions := make([]Action, n)
	for i := range actions {
		actions[i] = TileWithPadding
	}
	return actions
}

func TestComputePlanInvariants(t *testing.T) {
	shapes := [][]int{
		{1},
		{7},
		{30, 80},
		{10, 20, 30},
		{1, 5, 80, 30, 2},
		{3, 1, 64},
		{0, 12},
	}
	actionSets := map[int][][]Action{}
	for _, shape := range shapes {
		n := len(shape)
		actionSets[n] = append(actionSets[n], padded(n))
		mixed := make([]Action, n)
		for i := range mixed {
			mixed[i] = Action(i % 3)
		}
		actionSets[n] = append(actionSets[n], mixed)
	}

	for _, shape := range shapes {
		for _, actions := range actionSets[len(shape)] {
			for _, tiles := range []int{0, 1, 2, 3, 8, 50} {
				for _, block := range []int{1, 4, 8, 16} {
					for _, overlap := range []int{0, 3, 32} {
						p := Params{Tiles: tiles, BlockMultiple: block, Overlap: overlap, BatchSize: 4}
						plan := ComputePlan(shape, actions, p)
						require.NoError(t, plan.Check(), "shape %v actions %v params %s", shape, actions, p)
						for i, a := range actions {
							if a == TileWithPadding {
								assert.Zero(t, plan.TileSize[i]%block, "tile size must be a block multiple")
							}
							if a != TileWithPadding {
								assert.Zero(t, plan.Padding[i])
							}
						}
					}
				}
			}
		}
	}
}

func TestComputePlanScenario(t *testing.T) {
	// Tensor order of a 30x80x2x5 XYCZ image: batch, Z, Y, X, Channel.
	shape := []int{1, 5, 80, 30, 2}
	actions := []Action{NoTiling, TileWithPadding, TileWithPadding, TileWithPadding, NoTiling}
	plan := ComputePlan(shape, actions, Params{Tiles: 8, BlockMultiple: 8, Overlap: 32})

	assert.Equal(t, []int{1, 1, 4, 2, 1}, plan.Counts)
	assert.Equal(t, []int{1, 8, 24, 16, 2}, plan.TileSize)
	assert.Equal(t, []int{0, 0, 32, 32, 0}, plan.Padding)
	assert.Equal(t, []int{1, 8, 96, 32, 2}, plan.Expanded)
	assert.Equal(t, 8, plan.NumTiles())
	assert.Equal(t, []int{1, 8, 88, 80, 2}, plan.PaddedTileShape())
}

func TestComputePlanSingleTileHasNoPadding(t *testing.T) {
	for _, overlap := range []int{0, 1, 16, 100} {
		plan := ComputePlan([]int{40, 40}, padded(2), Params{Tiles: 1, BlockMultiple: 8, Overlap: overlap})
		assert.Equal(t, []int{1, 1}, plan.Counts)
		assert.Equal(t, []int{0, 0}, plan.Padding)
		assert.Equal(t, []int{40, 40}, plan.Expanded)
	}
}

func TestComputePlanTieBreakLowestAxis(t *testing.T) {
	plan := ComputePlan([]int{32, 32}, padded(2), Params{Tiles: 2, BlockMultiple: 8})
	assert.Equal(t, []int{2, 1}, plan.Counts)
}

func TestComputePlanStopsOnTinyAxes(t *testing.T) {
	plan := ComputePlan([]int{3, 1, 5}, padded(3), Params{Tiles: 100, BlockMultiple: 8, Overlap: 4})
	assert.Equal(t, []int{1, 1, 1}, plan.Counts)
	assert.Equal(t, []int{8, 8, 8}, plan.Expanded)
	assert.Equal(t, []int{0, 0, 0}, plan.Padding)
}

func TestComputePlanRoundsPaddingToBlock(t *testing.T) {
	plan := ComputePlan([]int{64}, padded(1), Params{Tiles: 2, BlockMultiple: 8, Overlap: 5})
	assert.Equal(t, []int{2}, plan.Counts)
	assert.Equal(t, []int{8}, plan.Padding)
}

func TestComputePlanBatchAxis(t *testing.T) {
	actions := []Action{TileWithoutPadding, TileWithPadding}
	plan := ComputePlan([]int{25, 16}, actions, Params{Tiles: 1, BlockMultiple: 8, Overlap: 8, BatchSize: 10})

	// ceil(25/10) = 3 batches, which 9 frames per batch already achieve.
	assert.Equal(t, []int{3, 1}, plan.Counts)
	assert.Equal(t, []int{9, 16}, plan.TileSize)
	assert.Equal(t, []int{27, 16}, plan.Expanded)
	assert.Equal(t, []int{0, 0}, plan.Padding)

	whole := ComputePlan([]int{25, 16}, actions, Params{Tiles: 1, BlockMultiple: 8, BatchSize: 0})
	assert.Equal(t, []int{1, 1}, whole.Counts)
	assert.Equal(t, 25, whole.TileSize[0])
}

func TestActionsForAxes(t *testing.T) {
	labels := []models.AxisType{models.X, models.Z, models.Time, models.Channel, models.Unknown}
	assert.Equal(t, []Action{TileWithPadding, TileWithPadding, TileWithoutPadding, NoTiling, NoTiling}, Actions(labels))
	assert.Equal(t, "batch", TileWithoutPadding.String())
}
