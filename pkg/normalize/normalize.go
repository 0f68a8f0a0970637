// Package normalize applies percentile based intensity normalization to
// images before they are handed to a network.
package normalize

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tiledpredict/internal/models"
)

// Params holds the percentile normalization settings.
type Params struct {
	Enabled bool    `yaml:"enabled" toml:"enabled"`
	Low     float64 `yaml:"low" toml:"low"`   // lower percentile in [0, 100]
	High    float64 `yaml:"high" toml:"high"` // upper percentile in [0, 100]
	Clip    bool    `yaml:"clip" toml:"clip"`
}

// DefaultParams returns the usual 1/99.8 percentile normalization.
func DefaultParams() Params {
	return Params{Enabled: true, Low: 1, High: 99.8}
}

// Validate checks the percentile range.
func (p Params) Validate() error {
	if p.Low < 0 || p.High > 100 || p.Low >= p.High {
		return fmt.Errorf("invalid percentile range [%g, %g]", p.Low, p.High)
	}
	return nil
}

// Percentiles returns the values at the low and high percentiles of img.
func Percentiles(img *models.Image, low, high float64) (float64, float64) {
	if img.Len() == 0 {
		return 0, 0
	}
	x := make([]float64, img.Len())
	for i, v := range img.Data {
		x[i] = float64(v)
	}
	sort.Float64s(x)
	return stat.Quantile(low/100, stat.LinInterp, x, nil), stat.Quantile(high/100, stat.LinInterp, x, nil)
}

// Apply returns a normalized copy of img mapping the low percentile to 0 and
// the high percentile to 1. A disabled Params returns img unchanged.
func Apply(img *models.Image, p Params) (*models.Image, error) {
	if !p.Enabled {
		return img, nil
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	lo, hi := Percentiles(img, p.Low, p.High)
	out := img.Clone()
	if out.Len() == 0 {
		return out, nil
	}

	scale := hi - lo
	if scale < 1e-20 {
		scale = 1e-20
	}
	x := make([]float64, out.Len())
	for i, v := range out.Data {
		x[i] = float64(v)
	}
	floats.AddConst(-lo, x)
	floats.Scale(1/scale, x)
	for i, v := range x {
		if p.Clip {
			v = min(max(v, 0), 1)
		}
		out.Data[i] = float32(v)
	}
	return out, nil
}
