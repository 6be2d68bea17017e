// Package quality compares a reconstruction against its source image.
package quality

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"fracture/internal/models"
)

// Metrics holds the reconstruction quality measures.
type Metrics struct {
	// RMSE is the root mean square error over all pixels
	RMSE float64

	// PSNR is the peak signal-to-noise ratio in dB for a peak value of 1.
	// It is +Inf for identical images.
	PSNR float64

	// SSIM is the global structural similarity index, 1 for identical images
	SSIM float64

	// Correlation is the Pearson correlation of the pixel values
	Correlation float64

	// EntropyDiff is the absolute difference of the 256-bin Shannon entropies
	EntropyDiff float64
}

// Compare computes Metrics for two images of identical shape.
func Compare(original, reconstructed *mat.Dense) (Metrics, error) {
	r1, c1 := original.Dims()
	r2, c2 := reconstructed.Dims()
	if r1 != r2 || c1 != c2 {
		return Metrics{}, models.ConfigErrorf("cannot compare %dx%d image with %dx%d image", c1, r1, c2, r2)
	}

	x := flatten(original)
	y := flatten(reconstructed)

	rmse := RMSE(x, y)
	m := Metrics{
		RMSE:        rmse,
		PSNR:        PSNR(rmse),
		SSIM:        SSIM(x, y),
		Correlation: stat.Correlation(x, y, nil),
		EntropyDiff: math.Abs(Entropy(x) - Entropy(y)),
	}
	return m, nil
}

func flatten(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}

// RMSE computes the root mean square error
func RMSE(x, y []float64) float64 {
	if len(x) == 0 || len(x) != len(y) {
		return 0
	}
	d := floats.Distance(x, y, 2)
	return d / math.Sqrt(float64(len(x)))
}

// PSNR converts an RMSE into decibels for a peak value of 1
func PSNR(rmse float64) float64 {
	if rmse == 0 {
		return math.Inf(1)
	}
	return 20 * math.Log10(1/rmse)
}

// SSIM computes the single-window Structural Similarity Index over the
// whole image, for a dynamic range of 1.
func SSIM(x, y []float64) float64 {
	const L = 1.0
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	if len(x) < 2 || len(x) != len(y) {
		return 0
	}

	muX := stat.Mean(x, nil)
	muY := stat.Mean(y, nil)
	sigmaX := stat.Variance(x, nil)
	sigmaY := stat.Variance(y, nil)
	sigmaXY := stat.Covariance(x, y, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// Entropy computes the Shannon entropy in bits of a 256-bin histogram
// spanning the value range of data.
func Entropy(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}

	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return 0
	}

	const numBins = 256
	hist := make([]float64, numBins)
	binWidth := (hi - lo) / numBins
	for _, v := range data {
		bin := int((v - lo) / binWidth)
		if bin >= numBins {
			bin = numBins - 1
		} else if bin < 0 {
			bin = 0
		}
		hist[bin]++
	}

	entropy := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / float64(n)
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}
