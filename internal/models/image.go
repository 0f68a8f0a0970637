package models

import (
	"fmt"
	"strings"
)

// AxisType is the semantic label of one image or tensor dimension.
type AxisType int

const (
	Unknown AxisType = iota
	X
	Y
	Z
	Time
	Channel

	numAxisTypes
)

// CanonicalAxes is the order in which free axis types are handed out to
// dimensions whose type is still Unknown.
var CanonicalAxes = []AxisType{X, Y, Z, Time, Channel}

var axisLetters = [numAxisTypes]byte{'?', 'X', 'Y', 'Z', 'T', 'C'}

func (a AxisType) String() string {
	switch a {
	case X:
		return "X"
	case Y:
		return "Y"
	case Z:
		return "Z"
	case Time:
		return "Time"
	case Channel:
		return "Channel"
	}
	return "Unknown"
}

// Letter returns the single-letter code used in axis strings such as "XYCZ".
func (a AxisType) Letter() byte {
	if a < 0 || a >= numAxisTypes {
		return '?'
	}
	return axisLetters[a]
}

// ParseAxes converts a string such as "XYCZ" into axis types. The letters
// X, Y, Z, T and C are recognized case-insensitively; '?' and 'U' stand for
// Unknown.
func ParseAxes(s string) ([]AxisType, error) {
	axes := make([]AxisType, 0, len(s))
	for _, c := range strings.ToUpper(s) {
		switch c {
		case 'X':
			axes = append(axes, X)
		case 'Y':
			axes = append(axes, Y)
		case 'Z':
			axes = append(axes, Z)
		case 'T':
			axes = append(axes, Time)
		case 'C':
			axes = append(axes, Channel)
		case '?', 'U':
			axes = append(axes, Unknown)
		default:
			return nil, fmt.Errorf("invalid axis letter %q in %q", c, s)
		}
	}
	return axes, nil
}

// FormatAxes is the inverse of ParseAxes.
func FormatAxes(axes []AxisType) string {
	b := make([]byte, len(axes))
	for i, a := range axes {
		b[i] = a.Letter()
	}
	return string(b)
}

// Image is an N-dimensional array of samples with one semantic axis label
// per dimension. Data is stored in row-major order, the last dimension
// varying fastest.
type Image struct {
	// Shape holds the size of every dimension
	Shape []int

	// Axes holds the semantic label of every dimension
	Axes []AxisType

	// Data holds the samples
	Data []float32
}

// NewImage allocates a zero-filled image of the given shape and axes.
func NewImage(shape []int, axes []AxisType) *Image {
	return &Image{
		Shape: append([]int(nil), shape...),
		Axes:  append([]AxisType(nil), axes...),
		Data:  make([]float32, Volume(shape)),
	}
}

// Volume returns the number of samples in an array of the given shape.
func Volume(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Rank returns the number of dimensions.
func (img *Image) Rank() int { return len(img.Shape) }

// Len returns the number of samples.
func (img *Image) Len() int { return len(img.Data) }

// Bytes returns the in-memory size of the sample data.
func (img *Image) Bytes() uint64 { return uint64(len(img.Data)) * 4 }

// Strides returns the row-major stride of every dimension.
func (img *Image) Strides() []int {
	return Strides(img.Shape)
}

// Strides returns the row-major strides of an array of the given shape.
func Strides(shape []int) []int {
	strides := make([]int, len(shape))
	step := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = step
		step *= shape[i]
	}
	return strides
}

// Offset converts a coordinate into a linear index into Data.
func (img *Image) Offset(coord []int) int {
	off := 0
	step := 1
	for i := len(img.Shape) - 1; i >= 0; i-- {
		off += coord[i] * step
		step *= img.Shape[i]
	}
	return off
}

// At returns the sample at the given coordinate.
func (img *Image) At(coord ...int) float32 {
	return img.Data[img.Offset(coord)]
}

// Set stores a sample at the given coordinate.
func (img *Image) Set(v float32, coord ...int) {
	img.Data[img.Offset(coord)] = v
}

// AxisIndex returns the dimension labeled t, or false if no dimension carries
// that label.
func (img *Image) AxisIndex(t AxisType) (int, bool) {
	for i, a := range img.Axes {
		if a == t {
			return i, true
		}
	}
	return 0, false
}

// Clone returns a deep copy of the image.
func (img *Image) Clone() *Image {
	c := NewImage(img.Shape, img.Axes)
	copy(c.Data, img.Data)
	return c
}

// SameShape reports whether both images have identical shape and axes.
func (img *Image) SameShape(other *Image) bool {
	if len(img.Shape) != len(other.Shape) {
		return false
	}
	for i := range img.Shape {
		if img.Shape[i] != other.Shape[i] || img.Axes[i] != other.Axes[i] {
			return false
		}
	}
	return true
}

func (img *Image) String() string {
	return fmt.Sprintf("%v %s", img.Shape, FormatAxes(img.Axes))
}

// ForEach calls fn for every coordinate of shape in row-major order. The
// coordinate slice is reused between calls.
func ForEach(shape []int, fn func(coord []int)) {
	n := Volume(shape)
	if n == 0 {
		return
	}
	coord := make([]int, len(shape))
	for i := 0; i < n; i++ {
		fn(coord)
		for d := len(shape) - 1; d >= 0; d-- {
			coord[d]++
			if coord[d] < shape[d] {
				break
			}
			coord[d] = 0
		}
	}
}

// AnySize marks a tensor dimension that accepts any size.
const AnySize = -1

// NodeShape describes the tensor a network expects as input or produces as
// output. Axes may hold Unknown entries until a mapping resolves them.
type NodeShape struct {
	// Sizes holds the expected size per tensor slot, AnySize if unconstrained
	Sizes []int

	// Axes holds the semantic label per tensor slot
	Axes []AxisType
}

// NewNodeShape builds a node shape with all slots untyped.
func NewNodeShape(sizes ...int) NodeShape {
	return NodeShape{
		Sizes: append([]int(nil), sizes...),
		Axes:  make([]AxisType, len(sizes)),
	}
}

// Rank returns the number of tensor slots.
func (n NodeShape) Rank() int { return len(n.Sizes) }

// Fixed reports whether slot i requires one specific size.
func (n NodeShape) Fixed(i int) bool { return n.Sizes[i] != AnySize }

func (n NodeShape) String() string {
	parts := make([]string, len(n.Sizes))
	for i, s := range n.Sizes {
		size := "any"
		if s != AnySize {
			size = fmt.Sprint(s)
		}
		axis := "?"
		if i < len(n.Axes) {
			axis = string(n.Axes[i].Letter())
		}
		parts[i] = axis + ":" + size
	}
	return "[" + strings.Join(parts, " ") + "]"
}
