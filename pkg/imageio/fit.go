package imageio

import (
	"image"
	"image/color"
	"math"

	"github.com/nfnt/resize"
	"gonum.org/v1/gonum/mat"
)

// FitToBlocks resamples m so that both dimensions are multiples of
// blockSize, rounding each dimension down to the nearest multiple (but
// never below one block). A matrix that already fits is returned as a copy.
func FitToBlocks(m *mat.Dense, blockSize int) *mat.Dense {
	rows, cols := m.Dims()
	width := fitDimension(cols, blockSize)
	height := fitDimension(rows, blockSize)
	if width == cols && height == rows {
		return mat.DenseCopyOf(m)
	}

	src := image.NewGray16(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := math.Max(0, math.Min(1, m.At(y, x)))
			src.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 65535))})
		}
	}

	resized := resize.Resize(uint(width), uint(height), src, resize.Bilinear)

	out := mat.NewDense(height, width, nil)
	b := resized.Bounds()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(resized.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			out.Set(y, x, float64(g.Y)/65535)
		}
	}
	return out
}

func fitDimension(n, blockSize int) int {
	fitted := (n / blockSize) * blockSize
	if fitted == 0 {
		fitted = blockSize
	}
	return fitted
}
