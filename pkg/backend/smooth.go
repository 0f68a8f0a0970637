package backend

import (
	"context"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"tiledpredict/internal/models"
)

// Smooth is a Gaussian low-pass filter applied along every spatial axis of a
// tile in the frequency domain. It stands in for a denoising network: its
// output at a pixel depends on a neighbourhood of a few sigma, so tiles need
// overlap to avoid seams.
type Smooth struct {
	// Sigma is the standard deviation of the Gaussian in pixels
	Sigma float64
}

// Execute implements tiling.Backend.
func (s *Smooth) Execute(ctx context.Context, tile *models.Image) (*models.Image, error) {
	out := tile.Clone()
	for axis, a := range out.Axes {
		if a != models.X && a != models.Y && a != models.Z {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.filterAxis(out, axis)
	}
	return out, nil
}

// filterAxis filters every line of img running along axis in place.
func (s *Smooth) filterAxis(img *models.Image, axis int) {
	n := img.Shape[axis]
	if n < 2 {
		return
	}
	fft := fourier.NewFFT(n)
	gain := s.gains(n)

	line := make([]float64, n)
	coeff := make([]complex128, n/2+1)
	stride := img.Strides()[axis]

	// Iterate over every line start: all coordinates with 0 along axis.
	lineShape := append([]int(nil), img.Shape...)
	lineShape[axis] = 1
	models.ForEach(lineShape, func(coord []int) {
		base := img.Offset(coord)
		for k := 0; k < n; k++ {
			line[k] = float64(img.Data[base+k*stride])
		}
		fft.Coefficients(coeff, line)
		for k := range coeff {
			coeff[k] *= complex(gain[k], 0)
		}
		fft.Sequence(line, coeff)
		// Sequence is not normalized.
		for k := 0; k < n; k++ {
			img.Data[base+k*stride] = float32(line[k] / float64(n))
		}
	})
}

// gains returns the Gaussian transfer function for the n/2+1 real FFT
// frequencies of a line of length n.
func (s *Smooth) gains(n int) []float64 {
	g := make([]float64, n/2+1)
	for k := range g {
		f := float64(k) / float64(n)
		g[k] = math.Exp(-2 * math.Pi * math.Pi * s.Sigma * s.Sigma * f * f)
	}
	return g
}
