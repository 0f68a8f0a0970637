package axes

import (
	"fmt"
	"sort"

	"tiledpredict/internal/models"
)

// Slot is the image dimension feeding one tensor slot. Mapped is false for
// slots with no image counterpart; such slots receive a unit-size dimension.
type Slot struct {
	Dim    int
	Mapped bool
}

// Mapping is indexed by tensor slot.
type Mapping []Slot

// removedAxis remembers an image axis dropped by RemoveAxis.
type removedAxis struct {
	axis models.AxisType
	dim  int
	size int
}

// Map pairs the dimensions of one image with the slots of one network node.
type Map struct {
	node       models.NodeShape
	imageAxes  []models.AxisType
	imageShape []int
	slots      Mapping
	removed    *removedAxis
}

// DefaultMapping computes the mapping between node and img.
//
// Slots that already carry an axis label are matched to the image dimension
// with the same label first. The remaining image axes, sorted in tensor order
// (Time, Z, Y, X, Channel), are then aligned back to front with the remaining
// unlabeled slots, so that surplus leading slots stay unmapped. An unlabeled
// slot of fixed size one is skipped rather than given a non-channel axis
// larger than one. The resolved labels are written into the Map's copy of
// node.
//
// A *ShapeMismatchError is returned if a slot with a fixed size greater than
// one stays unmapped, if a mapped dimension disagrees with a fixed slot size,
// or if an image axis with size greater than one finds no slot.
func DefaultMapping(node models.NodeShape, img *models.Image) (*Map, error) {
	if err := checkInjective(img.Axes); err != nil {
		return nil, err
	}
	m := &Map{
		node: models.NodeShape{
			Sizes: append([]int(nil), node.Sizes...),
			Axes:  make([]models.AxisType, len(node.Sizes)),
		},
		imageAxes:  append([]models.AxisType(nil), img.Axes...),
		imageShape: append([]int(nil), img.Shape...),
		slots:      make(Mapping, len(node.Sizes)),
	}
	copy(m.node.Axes, node.Axes)
	if err := checkInjective(m.node.Axes); err != nil {
		return nil, fmt.Errorf("network node: %w", err)
	}

	used := make([]bool, len(img.Axes))
	for i, a := range m.node.Axes {
		if a == models.Unknown {
			continue
		}
		if d, ok := img.AxisIndex(a); ok {
			m.slots[i] = Slot{Dim: d, Mapped: true}
			used[d] = true
		}
	}

	var rest []int
	for d := range img.Axes {
		if !used[d] {
			rest = append(rest, d)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return tensorOrder[img.Axes[rest[i]]] < tensorOrder[img.Axes[rest[j]]]
	})

	k := len(rest) - 1
	for i := len(m.slots) - 1; i >= 0 && k >= 0; i-- {
		if m.slots[i].Mapped || m.node.Axes[i] != models.Unknown {
			continue
		}
		d := rest[k]
		if m.node.Sizes[i] == 1 && img.Shape[d] > 1 && img.Axes[d] != models.Channel {
			// A unit slot cannot hold a spatial axis; it stays a unit
			// dimension, labeled as the channel when the image has none.
			if _, ok := img.AxisIndex(models.Channel); !ok && !hasLabel(m.node.Axes, models.Channel) {
				m.node.Axes[i] = models.Channel
			}
			continue
		}
		m.slots[i] = Slot{Dim: d, Mapped: true}
		m.node.Axes[i] = img.Axes[d]
		used[d] = true
		k--
	}
	for ; k >= 0; k-- {
		d := rest[k]
		if img.Shape[d] > 1 {
			return nil, &ShapeMismatchError{
				Axis:     img.Axes[d],
				Required: 1,
				Actual:   img.Shape[d],
				Reason:   "image axis has no tensor slot",
			}
		}
	}

	if err := m.checkSizes(); err != nil {
		return nil, err
	}
	return m, nil
}

func hasLabel(labels []models.AxisType, t models.AxisType) bool {
	for _, a := range labels {
		if a == t {
			return true
		}
	}
	return false
}

// checkSizes verifies every fixed-size slot against the image.
func (m *Map) checkSizes() error {
	for i, s := range m.slots {
		if !m.node.Fixed(i) {
			continue
		}
		required := m.node.Sizes[i]
		actual := 1
		if s.Mapped {
			actual = m.imageShape[s.Dim]
		}
		if actual == required {
			continue
		}
		reason := "image size differs from fixed tensor size"
		if !s.Mapped {
			reason = "required axis missing from image"
		}
		return &ShapeMismatchError{Axis: m.node.Axes[i], Required: required, Actual: actual, Reason: reason}
	}
	return nil
}

// Validate checks that the mapping is injective in both directions.
func (m *Map) Validate() error {
	seen := make(map[int]int)
	for i, s := range m.slots {
		if !s.Mapped {
			continue
		}
		if s.Dim < 0 || s.Dim >= len(m.imageAxes) {
			return fmt.Errorf("slot %d maps to dimension %d outside image rank %d", i, s.Dim, len(m.imageAxes))
		}
		if prev, dup := seen[s.Dim]; dup {
			return fmt.Errorf("slots %d and %d both map to dimension %d", prev, i, s.Dim)
		}
		seen[s.Dim] = i
	}
	return checkInjective(m.node.Axes)
}

// Mapping returns a copy of the slot to dimension mapping.
func (m *Map) Mapping() Mapping {
	return append(Mapping(nil), m.slots...)
}

// Node returns the node shape with resolved axis labels.
func (m *Map) Node() models.NodeShape {
	return models.NodeShape{
		Sizes: append([]int(nil), m.node.Sizes...),
		Axes:  append([]models.AxisType(nil), m.node.Axes...),
	}
}

// ImageAxes returns the image axis labels the mapping was computed for, minus
// any removed axis.
func (m *Map) ImageAxes() []models.AxisType {
	return append([]models.AxisType(nil), m.imageAxes...)
}

// DimForSlot returns the image dimension feeding slot.
func (m *Map) DimForSlot(slot int) (int, bool) {
	s := m.slots[slot]
	return s.Dim, s.Mapped
}

// SlotForDim returns the tensor slot fed by image dimension dim.
func (m *Map) SlotForDim(dim int) (int, bool) {
	for i, s := range m.slots {
		if s.Mapped && s.Dim == dim {
			return i, true
		}
	}
	return 0, false
}

// RemoveAxis drops the unit-size image axis t for the rest of the call. The
// slot fed by it becomes unmapped and every slot fed by a later dimension is
// shifted down by one. The returned image shares img's samples. Only one axis
// can be removed per Map.
func (m *Map) RemoveAxis(img *models.Image, t models.AxisType) (*models.Image, error) {
	if m.removed != nil {
		return nil, fmt.Errorf("axis %s already removed", m.removed.axis)
	}
	d, ok := img.AxisIndex(t)
	if !ok {
		return nil, fmt.Errorf("cannot remove axis %s: not present in image %s", t, img)
	}
	if img.Shape[d] != 1 {
		return nil, &ShapeMismatchError{Axis: t, Required: 1, Actual: img.Shape[d], Reason: "only unit-size axes can be removed"}
	}

	for i := range m.slots {
		s := &m.slots[i]
		switch {
		case !s.Mapped:
		case s.Dim == d:
			s.Mapped = false
			s.Dim = 0
		case s.Dim > d:
			s.Dim--
		}
	}
	m.imageAxes = append(m.imageAxes[:d:d], m.imageAxes[d+1:]...)
	m.imageShape = append(m.imageShape[:d:d], m.imageShape[d+1:]...)
	m.removed = &removedAxis{axis: t, dim: d, size: img.Shape[d]}

	if err := m.checkSizes(); err != nil {
		return nil, err
	}

	return &models.Image{
		Shape: append(append([]int(nil), img.Shape[:d]...), img.Shape[d+1:]...),
		Axes:  append(append([]models.AxisType(nil), img.Axes[:d]...), img.Axes[d+1:]...),
		Data:  img.Data,
	}, nil
}

// Removed reports the axis dropped by RemoveAxis and its original size.
func (m *Map) Removed() (models.AxisType, int, bool) {
	if m.removed == nil {
		return models.Unknown, 0, false
	}
	return m.removed.axis, m.removed.size, true
}

// RestoreAxis reinserts axis t at the position RemoveAxis took it from, with
// the given size. Samples are repeated along the new axis when size > 1.
func (m *Map) RestoreAxis(img *models.Image, t models.AxisType, size int) (*models.Image, error) {
	if size < 1 {
		return nil, fmt.Errorf("cannot restore axis %s with size %d", t, size)
	}
	pos := img.Rank()
	if m.removed != nil && m.removed.axis == t && m.removed.dim < pos {
		pos = m.removed.dim
	}

	shape := make([]int, 0, img.Rank()+1)
	labels := make([]models.AxisType, 0, img.Rank()+1)
	shape = append(append(append(shape, img.Shape[:pos]...), size), img.Shape[pos:]...)
	labels = append(append(append(labels, img.Axes[:pos]...), t), img.Axes[pos:]...)

	if size == 1 {
		return &models.Image{Shape: shape, Axes: labels, Data: img.Data}, nil
	}

	out := models.NewImage(shape, labels)
	outer := models.Volume(img.Shape[:pos])
	inner := models.Volume(img.Shape[pos:])
	for o := 0; o < outer; o++ {
		src := img.Data[o*inner : (o+1)*inner]
		for r := 0; r < size; r++ {
			copy(out.Data[(o*size+r)*inner:], src)
		}
	}
	return out, nil
}

// ToTensor permutes img into slot order. Unmapped slots become unit-size
// dimensions labeled with the resolved slot axis.
func (m *Map) ToTensor(img *models.Image) (*models.Image, error) {
	if img.Rank() != len(m.imageAxes) {
		return nil, fmt.Errorf("image rank %d does not match mapped rank %d", img.Rank(), len(m.imageAxes))
	}
	shape := make([]int, len(m.slots))
	src := make([]int, len(m.slots))
	for i, s := range m.slots {
		shape[i] = 1
		src[i] = -1
		if s.Mapped {
			shape[i] = img.Shape[s.Dim]
			src[i] = s.Dim
		}
	}
	return permute(img, src, shape, m.node.Axes), nil
}

// FromTensor permutes a network output back into image axis order. Output
// slots are matched to image axes by label; if out carries no labels and has
// the same rank as the input node, the input node's resolved labels are used.
// Labeled output slots of size greater than one with no image counterpart
// (for example a channel axis created by the network) are appended after the
// image axes; unit-size ones are dropped.
func (m *Map) FromTensor(out *models.Image) (*models.Image, error) {
	labels := append([]models.AxisType(nil), out.Axes...)
	unlabeled := true
	for _, a := range labels {
		if a != models.Unknown {
			unlabeled = false
			break
		}
	}
	if unlabeled {
		if out.Rank() != len(m.node.Axes) {
			return nil, fmt.Errorf("cannot label output of rank %d from input node of rank %d", out.Rank(), len(m.node.Axes))
		}
		copy(labels, m.node.Axes)
	}
	if err := checkInjective(labels); err != nil {
		return nil, fmt.Errorf("network output: %w", err)
	}

	slotOf := func(t models.AxisType) (int, bool) {
		for i, a := range labels {
			if a == t {
				return i, true
			}
		}
		return 0, false
	}

	taken := make([]bool, len(labels))
	var (
		shape  []int
		src    []int
		result []models.AxisType
	)
	for _, a := range m.imageAxes {
		result = append(result, a)
		if i, ok := slotOf(a); ok && a != models.Unknown {
			shape = append(shape, out.Shape[i])
			src = append(src, i)
			taken[i] = true
			continue
		}
		shape = append(shape, 1)
		src = append(src, -1)
	}
	for i, a := range labels {
		if taken[i] {
			continue
		}
		if out.Shape[i] == 1 {
			continue
		}
		if a == models.Unknown {
			return nil, &ShapeMismatchError{Axis: a, Required: 1, Actual: out.Shape[i], Reason: "unlabeled output slot"}
		}
		result = append(result, a)
		shape = append(shape, out.Shape[i])
		src = append(src, i)
	}
	return permute(out, src, shape, result), nil
}

// permute builds an image of the given shape whose dimension i reads source
// dimension src[i]; src[i] < 0 marks an inserted unit dimension. Source
// dimensions not referenced must have size one.
func permute(in *models.Image, src []int, shape []int, labels []models.AxisType) *models.Image {
	out := models.NewImage(shape, labels)
	inStrides := in.Strides()
	strides := make([]int, len(shape))
	for i, d := range src {
		if d >= 0 {
			strides[i] = inStrides[d]
		}
	}
	n := 0
	models.ForEach(shape, func(coord []int) {
		off := 0
		for i, c := range coord {
			off += c * strides[i]
		}
		out.Data[n] = in.Data[off]
		n++
	})
	return out
}
