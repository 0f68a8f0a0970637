package backend

import (
	"context"
	"fmt"

	"tiledpredict/internal/models"
)

// Scale multiplies every sample by Factor. With Channels > 1 the output gains
// a channel axis of that size whose c-th channel holds the input scaled by
// Factor*(c+1); a tile that already has a unit channel axis has it widened,
// otherwise the new axis is appended last.
type Scale struct {
	Factor   float32
	Channels int
}

// Execute implements tiling.Backend.
func (s Scale) Execute(ctx context.Context, tile *models.Image) (*models.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Channels <= 1 {
		out := tile.Clone()
		for i := range out.Data {
			out.Data[i] *= s.Factor
		}
		return out, nil
	}

	c, ok := tile.AxisIndex(models.Channel)
	var shape []int
	var labels []models.AxisType
	switch {
	case !ok:
		c = tile.Rank()
		shape = append(append([]int(nil), tile.Shape...), s.Channels)
		labels = append(append([]models.AxisType(nil), tile.Axes...), models.Channel)
	case tile.Shape[c] == 1:
		shape = append([]int(nil), tile.Shape...)
		shape[c] = s.Channels
		labels = append([]models.AxisType(nil), tile.Axes...)
	default:
		return nil, fmt.Errorf("cannot split %d input channels into %d", tile.Shape[c], s.Channels)
	}

	out := models.NewImage(shape, labels)
	inner := models.Volume(shape[c+1:])
	outer := models.Volume(shape[:c])
	for o := 0; o < outer; o++ {
		src := tile.Data[o*inner : (o+1)*inner]
		for ch := 0; ch < s.Channels; ch++ {
			dst := out.Data[(o*s.Channels+ch)*inner:]
			f := s.Factor * float32(ch+1)
			for i, v := range src {
				dst[i] = v * f
			}
		}
	}
	return out, nil
}
