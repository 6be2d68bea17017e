package search

import (
	"runtime"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"fracture/internal/models"
	"fracture/pkg/affine"
	"fracture/pkg/blockstats"
)

// Params controls an encode run.
type Params struct {
	// DomainSize is the domain block edge in pixels (d_size)
	DomainSize int

	// RangeSize is the range block edge in pixels (r_size)
	RangeSize int

	// Mode selects the affine scale formula
	Mode affine.Mode

	// Workers is the number of range blocks searched concurrently.
	// Zero means runtime.NumCPU().
	Workers int

	// Progress, if set, is called after every finished range block
	Progress func(done, total int)
}

// Encoding is the outcome of an encode run.
type Encoding struct {
	List *models.TransformList

	// MSE holds the fit error of every transform, in list order
	MSE []float64
}

// MeanMSE returns the average fit error over all range blocks
func (e *Encoding) MeanMSE() float64 {
	if len(e.MSE) == 0 {
		return 0
	}
	return stat.Mean(e.MSE, nil)
}

// encoder holds the read-only statistics shared by all range block searches.
type encoder struct {
	img        *mat.Dense
	params     Params
	rangeLevel int

	// downsampled is the image averaged down by the domain/range ratio
	downsampled *mat.Dense
	domain      *blockstats.Aggregates
	ranges      *blockstats.Aggregates
}

type blockResult struct {
	index     int
	transform models.Transform
	mse       float64
	err       error
}

// Encode searches the best domain block for every range block of img and
// returns the resulting transform list. Both image dimensions must be
// multiples of the domain size.
func Encode(img *mat.Dense, p Params) (*Encoding, error) {
	rangeLevel, m, err := blockstats.Levels(p.DomainSize, p.RangeSize)
	if err != nil {
		return nil, err
	}

	rows, cols := img.Dims()
	if rows == 0 || cols == 0 || rows%p.DomainSize != 0 || cols%p.DomainSize != 0 {
		return nil, models.ConfigErrorf("image %dx%d is not divisible into %dx%d domain blocks",
			cols, rows, p.DomainSize, p.DomainSize)
	}

	downsampled, err := blockstats.BlockAverage(img, m)
	if err != nil {
		return nil, err
	}
	domain, err := blockstats.Aggregate(downsampled, rangeLevel)
	if err != nil {
		return nil, err
	}
	ranges, err := blockstats.Aggregate(img, rangeLevel)
	if err != nil {
		return nil, err
	}

	e := &encoder{
		img:         img,
		params:      p,
		rangeLevel:  rangeLevel,
		downsampled: downsampled,
		domain:      domain,
		ranges:      ranges,
	}
	return e.run()
}

// run distributes the range blocks over a pool of workers and merges the
// results back into row-major order.
func (e *encoder) run() (*Encoding, error) {
	gridRows, gridCols := e.ranges.Sum.Dims()
	total := gridRows * gridCols

	workers := e.params.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > total {
		workers = total
	}

	jobs := make(chan int)
	resultChan := make(chan blockResult)

	for w := 0; w < workers; w++ {
		go func() {
			for index := range jobs {
				j, i := index/gridCols, index%gridCols
				t, mse, err := e.searchBlock(j, i)
				resultChan <- blockResult{index: index, transform: t, mse: mse, err: err}
			}
		}()
	}

	go func() {
		for index := 0; index < total; index++ {
			jobs <- index
		}
		close(jobs)
	}()

	transforms := make([]models.Transform, total)
	mses := make([]float64, total)
	var firstErr error
	for done := 1; done <= total; done++ {
		res := <-resultChan
		if res.err != nil && firstErr == nil {
			firstErr = res.err
		}
		transforms[res.index] = res.transform
		mses[res.index] = res.mse

		if e.params.Progress != nil {
			e.params.Progress(done, total)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	rows, cols := e.img.Dims()
	return &Encoding{
		List: &models.TransformList{
			Header: models.TransformListHeader{
				OrigW:      cols,
				OrigH:      rows,
				DomainSize: e.params.DomainSize,
				RangeSize:  e.params.RangeSize,
			},
			Transforms: transforms,
		},
		MSE: mses,
	}, nil
}

// searchBlock finds the best domain block for range block (j, i), where j
// is the grid row and i the grid column.
func (e *encoder) searchBlock(j, i int) (models.Transform, float64, error) {
	size := e.params.RangeSize
	block := e.img.Slice(j*size, (j+1)*size, i*size, (i+1)*size).(*mat.Dense)

	cross, err := blockstats.CrossSum(block, e.downsampled, e.rangeLevel)
	if err != nil {
		return models.Transform{}, 0, err
	}

	n := e.ranges.N()
	sumR := e.ranges.Sum.At(j, i)
	sumR2 := e.ranges.Sum2.At(j, i)

	rows, cols := e.domain.Sum.Dims()
	grid := NewGrid(rows, cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			fit := affine.Fit(n, affine.Sums{
				D:  e.domain.Sum.At(y, x),
				D2: e.domain.Sum2.At(y, x),
				R:  sumR,
				R2: sumR2,
				DR: cross.At(y, x),
			}, e.params.Mode)
			grid.Set(y, x, Candidate{
				Err:    fit.MSE,
				Scale:  fit.Scale,
				Offset: fit.Offset,
				X:      x,
				Y:      y,
			})
		}
	}

	best, _ := grid.Reduce()
	ds := e.params.DomainSize
	return models.Transform{
		Range:  models.Square(i*size, j*size, size),
		Offset: best.Offset,
		Scale:  best.Scale,
		Domain: models.Square(best.X*ds, best.Y*ds, ds),
	}, best.Err, nil
}
