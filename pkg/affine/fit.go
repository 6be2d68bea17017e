// Package affine computes the least-squares affine map r ≈ S·d + O between a
// domain block and a range block from their aggregate statistics.
package affine

import (
	"math"

	"fracture/internal/models"
)

// Mode selects the scale formula.
type Mode int

const (
	// ModeReference adds the cross terms in both the numerator and the
	// denominator of the scale. It is the formula the stored transform lists
	// were produced with and stays the default.
	ModeReference Mode = iota

	// ModeLeastSquares is the ordinary least-squares scale, which subtracts
	// the cross terms instead.
	ModeLeastSquares
)

// ParseMode maps a configuration name to a Mode
func ParseMode(name string) (Mode, error) {
	switch name {
	case "", "reference":
		return ModeReference, nil
	case "leastsquares", "ols":
		return ModeLeastSquares, nil
	}
	return 0, models.ConfigErrorf("unknown fit mode %q", name)
}

func (m Mode) String() string {
	switch m {
	case ModeReference:
		return "reference"
	case ModeLeastSquares:
		return "leastsquares"
	}
	return "unknown"
}

// Sums are the aggregate statistics of one (domain, range) pair.
type Sums struct {
	D  float64 // sum of domain values
	D2 float64 // sum of squared domain values
	R  float64 // sum of range values
	R2 float64 // sum of squared range values
	DR float64 // sum of elementwise domain·range products
}

// Result is the fitted map and its mean-squared error.
type Result struct {
	MSE    float64
	Scale  float64
	Offset float64
}

// Fit returns the scale, offset and mean-squared error for n pixels.
//
// When the scale denominator is within ScaleEpsilon of zero the domain block
// carries no usable variation; the fit falls back to S = 0 and the range
// mean as offset. Otherwise the scale is clamped to
// [-1+ScaleEpsilon, 1-ScaleEpsilon].
func Fit(n float64, s Sums, mode Mode) Result {
	var lo, hi float64
	switch mode {
	case ModeLeastSquares:
		lo = n*s.D2 - s.D*s.D
		hi = n*s.DR - s.R*s.D
	default:
		lo = n*s.D2 + s.D*s.D
		hi = n*s.DR + s.R*s.D
	}

	var scale, offset float64
	if math.Abs(lo) > models.ScaleEpsilon {
		scale = Clamp(hi / lo)
		offset = (s.R - scale*s.D) / n
	} else {
		scale = 0
		offset = s.R / n
	}

	return Result{
		MSE:    MSE(n, s, scale, offset),
		Scale:  scale,
		Offset: offset,
	}
}

// MSE is the mean-squared error of r ≈ scale·d + offset expressed in
// aggregate form.
func MSE(n float64, s Sums, scale, offset float64) float64 {
	se := s.R2 +
		scale*(scale*s.D2+2*(offset*s.D-s.DR)) +
		offset*(n*offset-2*s.R)
	return se / n
}

// Clamp limits a scale to [-1+ScaleEpsilon, 1-ScaleEpsilon].
func Clamp(scale float64) float64 {
	const lo, hi = -1 + models.ScaleEpsilon, 1 - models.ScaleEpsilon
	if scale < lo {
		return lo
	}
	if scale > hi {
		return hi
	}
	return scale
}
