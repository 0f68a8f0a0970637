// Package axes resolves which image dimension feeds which tensor slot of a
// network, in both directions.
//
// An image carries one semantic label per dimension (X, Y, Z, Time, Channel).
// A network node carries an ordered list of tensor slots, some of which are
// labeled and some of which are not. A Map pairs the two, permutes images into
// tensor order before inference and back into image order afterwards, and can
// drop one unit-size image axis for the duration of a call.
package axes

import (
	"errors"
	"fmt"

	"tiledpredict/internal/models"
)

// ErrShapeMismatch is matched by every *ShapeMismatchError.
var ErrShapeMismatch = errors.New("shape mismatch")

// ShapeMismatchError reports that an image cannot satisfy the tensor shape a
// network requires.
type ShapeMismatchError struct {
	// Axis is the offending axis
	Axis models.AxisType

	// Required is the size the network needs along Axis
	Required int

	// Actual is the size the image provides along Axis (1 if missing)
	Actual int

	// Reason is a short human readable description
	Reason string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch on axis %s: %s (required size %d, got %d)",
		e.Axis, e.Reason, e.Required, e.Actual)
}

// Is makes errors.Is(err, ErrShapeMismatch) succeed.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// tensorOrder is the conventional slot order of network tensors, outermost
// first. Positional alignment sorts image axes by it so that Channel ends up
// in the last slot.
var tensorOrder = [...]int{
	models.Unknown: 0,
	models.Time:    1,
	models.Z:       2,
	models.Y:       3,
	models.X:       4,
	models.Channel: 5,
}

// AssignUnknownAxes labels every Unknown dimension of img with the first
// canonical axis type that no other dimension uses, in dimension order.
// Dimensions stay Unknown once the canonical types run out. Calling it on a
// fully labeled image has no effect.
func AssignUnknownAxes(img *models.Image) {
	var used [len(tensorOrder)]bool
	for _, a := range img.Axes {
		if a != models.Unknown {
			used[a] = true
		}
	}
	for i, a := range img.Axes {
		if a != models.Unknown {
			continue
		}
		for _, candidate := range models.CanonicalAxes {
			if !used[candidate] {
				img.Axes[i] = candidate
				used[candidate] = true
				break
			}
		}
	}
}

// checkInjective returns an error if two dimensions share a known label.
func checkInjective(labels []models.AxisType) error {
	var seen [len(tensorOrder)]bool
	for _, a := range labels {
		if a == models.Unknown {
			continue
		}
		if seen[a] {
			return fmt.Errorf("axis %s assigned to more than one dimension", a)
		}
		seen[a] = true
	}
	return nil
}
