package tiling

import (
	"fmt"

	"tiledpredict/internal/models"
)

// mirror maps an index outside [0, n) back into range by reflecting at the
// borders without repeating the border sample.
func mirror(i, n int) int {
	if n <= 1 {
		return 0
	}
	period := 2*n - 2
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// View is a window onto an image. The window may reach past the image
// borders, in which case reads are mirrored back into the image. Creating a
// View never copies samples.
type View struct {
	src    *models.Image
	origin []int
	shape  []int
}

// NewView returns the window of the given shape whose first sample sits at
// origin in src coordinates.
func NewView(src *models.Image, origin, shape []int) *View {
	return &View{
		src:    src,
		origin: append([]int(nil), origin...),
		shape:  append([]int(nil), shape...),
	}
}

// Shape returns the window shape.
func (v *View) Shape() []int { return append([]int(nil), v.shape...) }

// Origin returns the window origin in source coordinates.
func (v *View) Origin() []int { return append([]int(nil), v.origin...) }

// Interval restricts the view to a sub-window given relative to its origin.
func (v *View) Interval(origin, shape []int) *View {
	abs := make([]int, len(origin))
	for i := range origin {
		abs[i] = v.origin[i] + origin[i]
	}
	return NewView(v.src, abs, shape)
}

// Extend grows the view symmetrically by pad[i] samples on both sides of
// axis i.
func (v *View) Extend(pad []int) *View {
	origin := make([]int, len(pad))
	shape := make([]int, len(pad))
	for i := range pad {
		origin[i] = -pad[i]
		shape[i] = v.shape[i] + 2*pad[i]
	}
	return v.Interval(origin, shape)
}

// offsets precomputes, per axis, the source data offset of every window
// position along that axis.
func (v *View) offsets() [][]int {
	strides := v.src.Strides()
	tables := make([][]int, len(v.shape))
	for d, n := range v.shape {
		t := make([]int, n)
		for k := range t {
			t[k] = mirror(v.origin[d]+k, v.src.Shape[d]) * strides[d]
		}
		tables[d] = t
	}
	return tables
}

// CopyTo writes the window into dst with its first sample at dstOrigin.
func (v *View) CopyTo(dst *models.Image, dstOrigin []int) {
	tables := v.offsets()
	dstStrides := dst.Strides()
	base := 0
	for d, o := range dstOrigin {
		base += o * dstStrides[d]
	}
	models.ForEach(v.shape, func(coord []int) {
		src, off := 0, base
		for d, c := range coord {
			src += tables[d][c]
			off += c * dstStrides[d]
		}
		dst.Data[off] = v.src.Data[src]
	})
}

// Materialize copies the window into a new dense image.
func (v *View) Materialize() *models.Image {
	out := models.NewImage(v.shape, v.src.Axes)
	if out.Len() == 0 {
		return out
	}
	v.CopyTo(out, make([]int, len(v.shape)))
	return out
}

// Resize returns src extended or cropped to target. Every axis is handled
// symmetrically: the window starts at -(diff/2) where diff is the size
// change, and samples beyond the border are mirrored. Because Go division
// truncates toward zero, resizing to a larger shape and back to the original
// shape returns the original samples exactly. The same primitive expands
// images before tiling and crops merged results afterwards.
func Resize(src *models.Image, target []int) *models.Image {
	origin := make([]int, len(target))
	for i := range target {
		origin[i] = -((target[i] - src.Shape[i]) / 2)
	}
	return NewView(src, origin, target).Materialize()
}

// TiledView is a grid of blocks over an expanded image together with the
// processed result for every block.
//
// Processed is index aligned with the row-major order of grid coordinates.
// It is nil until an executor starts an attempt, and every index is written
// by exactly one worker.
type TiledView struct {
	plan     Plan
	expanded *models.Image

	Processed []*models.Image
}

// NewTiledView decomposes expanded, which must have the plan's expanded
// shape, into the plan's grid.
func NewTiledView(expanded *models.Image, plan Plan) (*TiledView, error) {
	if len(expanded.Shape) != len(plan.Expanded) {
		return nil, fmt.Errorf("image rank %d does not match plan rank %d", expanded.Rank(), len(plan.Expanded))
	}
	for i, s := range expanded.Shape {
		if s != plan.Expanded[i] {
			return nil, fmt.Errorf("image shape %v does not match expanded plan shape %v", expanded.Shape, plan.Expanded)
		}
	}
	return &TiledView{plan: plan, expanded: expanded}, nil
}

// Plan returns the plan the view was built from.
func (tv *TiledView) Plan() Plan { return tv.plan }

// Dimension returns the number of tiles along axis i.
func (tv *TiledView) Dimension(i int) int { return tv.plan.Counts[i] }

// NumTiles returns the number of blocks; zero if the image is empty.
func (tv *TiledView) NumTiles() int {
	if tv.expanded.Len() == 0 {
		return 0
	}
	return tv.plan.NumTiles()
}

// Coord converts a tile index into its grid coordinate.
func (tv *TiledView) Coord(idx int) []int {
	coord := make([]int, len(tv.plan.Counts))
	for d := len(coord) - 1; d >= 0; d-- {
		coord[d] = idx % tv.plan.Counts[d]
		idx /= tv.plan.Counts[d]
	}
	return coord
}

// Index converts a grid coordinate into its tile index.
func (tv *TiledView) Index(coord []int) int {
	idx := 0
	for d, c := range coord {
		idx = idx*tv.plan.Counts[d] + c
	}
	return idx
}

// Block returns the unpadded block at a grid coordinate.
func (tv *TiledView) Block(coord []int) *View {
	origin := make([]int, len(coord))
	for d, c := range coord {
		origin[d] = c * tv.plan.TileSize[d]
	}
	return NewView(tv.expanded, origin, tv.plan.TileSize)
}

// Tile materializes the padded block with index idx, ready to hand to a
// backend. Padding reads neighbouring samples of the expanded image, and
// mirrored samples past its border.
func (tv *TiledView) Tile(idx int) *models.Image {
	return tv.Block(tv.Coord(idx)).Extend(tv.plan.Padding).Materialize()
}

// Reset clears all processed results and prepares one slot per tile.
func (tv *TiledView) Reset() {
	tv.Processed = make([]*models.Image, tv.NumTiles())
}

// Discard drops all processed results.
func (tv *TiledView) Discard() {
	tv.Processed = nil
}
