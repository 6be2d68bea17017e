// Package blockstats computes block-aggregated statistics of an image at
// power-of-two block sizes. These aggregates are the sufficient statistics
// used by the affine fit: once a level has been aggregated the raw pixels
// are not revisited.
package blockstats

import (
	"gonum.org/v1/gonum/mat"

	"fracture/internal/models"
)

// Log2 returns k such that n == 1<<k. Values that are not positive powers
// of two are a configuration error.
func Log2(n int) (int, error) {
	if n <= 0 || n&(n-1) != 0 {
		return 0, models.ConfigErrorf("%d is not a power of two", n)
	}
	k := 0
	for n > 1 {
		n >>= 1
		k++
	}
	return k, nil
}

// Levels validates a pair of block sizes and returns log2(rangeSize) and
// the downsample level m = log2(domainSize/rangeSize).
func Levels(domainSize, rangeSize int) (rangeLevel, m int, err error) {
	rangeLevel, err = Log2(rangeSize)
	if err != nil {
		return 0, 0, models.ConfigErrorf("range size: %d is not a power of two", rangeSize)
	}
	domainLevel, err := Log2(domainSize)
	if err != nil {
		return 0, 0, models.ConfigErrorf("domain size: %d is not a power of two", domainSize)
	}
	if domainLevel < rangeLevel {
		return 0, 0, models.ConfigErrorf("domain size %d is smaller than range size %d", domainSize, rangeSize)
	}
	return rangeLevel, domainLevel - rangeLevel, nil
}

// checkDivisible verifies that a rows x cols matrix can be tiled by
// edge x edge cells.
func checkDivisible(rows, cols, edge int) error {
	if rows == 0 || cols == 0 {
		return models.ConfigErrorf("empty %dx%d image", cols, rows)
	}
	if rows%edge != 0 || cols%edge != 0 {
		return models.ConfigErrorf("image %dx%d is not divisible into %dx%d blocks", cols, rows, edge, edge)
	}
	return nil
}

// BlockSum partitions img into non-overlapping 2^level x 2^level cells and
// returns the matrix of per-cell sums. The result has dimensions
// rows>>level x cols>>level. Each cell is summed row by row.
func BlockSum(img *mat.Dense, level int) (*mat.Dense, error) {
	if level < 0 {
		return nil, models.ConfigErrorf("negative block level %d", level)
	}
	rows, cols := img.Dims()
	edge := 1 << level
	if err := checkDivisible(rows, cols, edge); err != nil {
		return nil, err
	}

	src := img.RawMatrix()
	outRows, outCols := rows>>level, cols>>level
	out := mat.NewDense(outRows, outCols, nil)
	dst := out.RawMatrix()

	for j := 0; j < outRows; j++ {
		for i := 0; i < outCols; i++ {
			sum := 0.0
			for y := j << level; y < (j+1)<<level; y++ {
				row := src.Data[y*src.Stride : y*src.Stride+cols]
				for x := i << level; x < (i+1)<<level; x++ {
					sum += row[x]
				}
			}
			dst.Data[j*dst.Stride+i] = sum
		}
	}

	return out, nil
}

// BlockAverage is BlockSum divided by the cell area 4^level.
// At level 0 it returns a copy of img.
func BlockAverage(img *mat.Dense, level int) (*mat.Dense, error) {
	sums, err := BlockSum(img, level)
	if err != nil {
		return nil, err
	}
	if level == 0 {
		return sums, nil
	}
	area := float64(int(1) << (2 * level))
	sums.Scale(1/area, sums)
	return sums, nil
}

// Square returns the elementwise square of img.
func Square(img *mat.Dense) *mat.Dense {
	var sq mat.Dense
	sq.MulElem(img, img)
	return &sq
}

// Tile repeats block across a rows x cols extent. Cell (y, x) of the result
// is block(y mod h, x mod w); the extent must be a whole number of tiles.
func Tile(block *mat.Dense, rows, cols int) (*mat.Dense, error) {
	h, w := block.Dims()
	if rows == 0 || cols == 0 || rows%h != 0 || cols%w != 0 {
		return nil, models.ConfigErrorf("cannot tile %dx%d block over %dx%d", w, h, cols, rows)
	}

	src := block.RawMatrix()
	out := mat.NewDense(rows, cols, nil)
	dst := out.RawMatrix()
	for y := 0; y < rows; y++ {
		srcRow := src.Data[(y%h)*src.Stride : (y%h)*src.Stride+w]
		dstRow := dst.Data[y*dst.Stride : y*dst.Stride+cols]
		for x := 0; x < cols; x += w {
			copy(dstRow[x:x+w], srcRow)
		}
	}
	return out, nil
}

// CrossSum returns the cross-correlation aggregate of block against img:
// block is tiled across img, multiplied elementwise and re-aggregated with
// BlockSum at level. The block edge must equal 2^level.
func CrossSum(block, img *mat.Dense, level int) (*mat.Dense, error) {
	h, w := block.Dims()
	if h != 1<<level || w != 1<<level {
		return nil, models.ConfigErrorf("block %dx%d does not match level %d", w, h, level)
	}
	rows, cols := img.Dims()
	tiled, err := Tile(block, rows, cols)
	if err != nil {
		return nil, err
	}
	tiled.MulElem(tiled, img)
	return BlockSum(tiled, level)
}

// Aggregates holds the per-block sums of values and squared values at one
// block level.
type Aggregates struct {
	Level int
	Sum   *mat.Dense
	Sum2  *mat.Dense
}

// N returns the pixel count of one block.
func (a *Aggregates) N() float64 {
	return float64(int(1) << (2 * a.Level))
}

// Aggregate computes Sum and Sum2 of img at level.
func Aggregate(img *mat.Dense, level int) (*Aggregates, error) {
	sum, err := BlockSum(img, level)
	if err != nil {
		return nil, err
	}
	sum2, err := BlockSum(Square(img), level)
	if err != nil {
		return nil, err
	}
	return &Aggregates{Level: level, Sum: sum, Sum2: sum2}, nil
}
