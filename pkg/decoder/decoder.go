// Package decoder reconstructs an image from its transform list by
// iterating the affine maps to their fixed point.
//
// Every iteration averages the current estimate down into domain-source
// resolution and stamps S·patch + O into every range rectangle of a freshly
// allocated estimate. Because every |S| < 1 the combined map is a
// contraction and the iteration converges to the same attractor from any
// seed.
package decoder

import (
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"fracture/internal/models"
	"fracture/pkg/blockstats"
)

// State is the decoder's position in its run.
type State int

const (
	Initializing State = iota
	Iterating
	Converged
	MaxIterationsReached
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Iterating:
		return "iterating"
	case Converged:
		return "converged"
	case MaxIterationsReached:
		return "max iterations reached"
	}
	return "unknown"
}

const (
	// DefaultIterations is the fixed iteration count used when none is set
	DefaultIterations = 10

	// DefaultSeed fills the initial estimate
	DefaultSeed = 0.5
)

// Params controls a decode run.
type Params struct {
	// Iterations is the maximum number of iterations. Zero selects
	// DefaultIterations.
	Iterations int

	// Seed is the constant the initial estimate is filled with
	Seed float64

	// Tolerance enables an early exit once the largest per-pixel change of
	// an iteration is at most Tolerance. Zero always runs every iteration.
	Tolerance float64

	// Workers is the number of goroutines stamping range blocks within one
	// iteration. Zero means runtime.NumCPU().
	Workers int

	// Snapshot, if set, receives every new estimate. The image must not be
	// modified.
	Snapshot func(iteration int, img *mat.Dense) error
}

// DefaultParams returns the reference configuration: ten iterations from a
// 0.5 seed with no early exit.
func DefaultParams() Params {
	return Params{
		Iterations: DefaultIterations,
		Seed:       DefaultSeed,
	}
}

// IterationStats summarizes one estimate.
type IterationStats struct {
	Iteration int
	Min       float64
	Max       float64
	Mean      float64

	// Delta is the largest absolute change from the previous estimate
	Delta float64
}

// Result is the outcome of a decode run.
type Result struct {
	Image      *mat.Dense
	State      State
	Iterations int
	Stats      []IterationStats
}

// Decoder runs the fixed-point iteration for one transform list at a time.
type Decoder struct {
	params Params
	state  State
}

// New creates a decoder
func New(p Params) *Decoder {
	if p.Iterations == 0 {
		p.Iterations = DefaultIterations
	}
	if p.Workers <= 0 {
		p.Workers = runtime.NumCPU()
	}
	return &Decoder{params: p, state: Initializing}
}

// State returns the state reached by the last Decode call.
func (d *Decoder) State() State {
	return d.state
}

// plan is a transform with its domain rectangle in domain-source
// coordinates.
type plan struct {
	dst    models.Rectangle
	src    models.Rectangle
	scale  float64
	offset float64
}

// validate checks the list against its own header and converts every
// transform into a plan. Range rectangles must not overlap, which keeps the
// concurrent stamping in iterate free of shared writes.
func validate(list *models.TransformList, m int) ([]plan, error) {
	h := list.Header
	step := 1 << m
	if h.OrigW <= 0 || h.OrigH <= 0 || h.OrigW%step != 0 || h.OrigH%step != 0 {
		return nil, models.ConfigErrorf("image size %dx%d is not divisible by the downsample factor %d",
			h.OrigW, h.OrigH, step)
	}

	plans := make([]plan, len(list.Transforms))
	covered := make([]bool, h.OrigW*h.OrigH)
	for k, t := range list.Transforms {
		if t.Range.Empty() || !t.Range.In(h.OrigW, h.OrigH) {
			return nil, models.ConfigErrorf("transform %d: range %v outside %dx%d image", k, t.Range, h.OrigW, h.OrigH)
		}
		if !t.Domain.In(h.OrigW, h.OrigH) {
			return nil, models.ConfigErrorf("transform %d: domain %v outside %dx%d image", k, t.Domain, h.OrigW, h.OrigH)
		}
		d := t.Domain
		if d.X1%step != 0 || d.X2%step != 0 || d.Y1%step != 0 || d.Y2%step != 0 {
			return nil, models.ConfigErrorf("transform %d: domain %v not aligned to %d pixels", k, d, step)
		}
		src := d.Shrink(m)
		if src.Dx() != t.Range.Dx() || src.Dy() != t.Range.Dy() {
			return nil, models.ConfigErrorf("transform %d: domain %v does not map onto range %v", k, t.Domain, t.Range)
		}
		for y := t.Range.Y1; y < t.Range.Y2; y++ {
			for x := t.Range.X1; x < t.Range.X2; x++ {
				if covered[y*h.OrigW+x] {
					return nil, models.ConfigErrorf("transform %d: range %v overlaps another range", k, t.Range)
				}
				covered[y*h.OrigW+x] = true
			}
		}
		plans[k] = plan{dst: t.Range, src: src, scale: t.Scale, offset: t.Offset}
	}
	return plans, nil
}

// Decode reconstructs the image described by list.
func (d *Decoder) Decode(list *models.TransformList) (*Result, error) {
	d.state = Initializing
	if d.params.Iterations < 0 {
		return nil, models.ConfigErrorf("negative iteration count %d", d.params.Iterations)
	}

	_, m, err := blockstats.Levels(list.Header.DomainSize, list.Header.RangeSize)
	if err != nil {
		return nil, err
	}
	plans, err := validate(list, m)
	if err != nil {
		return nil, err
	}

	width, height := list.Header.OrigW, list.Header.OrigH
	seed := make([]float64, width*height)
	floats.AddConst(d.params.Seed, seed)
	current := mat.NewDense(height, width, seed)

	result := &Result{State: MaxIterationsReached}
	d.state = Iterating
	for t := 0; t < d.params.Iterations; t++ {
		next, err := d.iterate(current, plans, m)
		if err != nil {
			return nil, err
		}

		data := next.RawMatrix().Data
		st := IterationStats{
			Iteration: t,
			Min:       floats.Min(data),
			Max:       floats.Max(data),
			Mean:      stat.Mean(data, nil),
			Delta:     floats.Distance(data, current.RawMatrix().Data, math.Inf(1)),
		}
		result.Stats = append(result.Stats, st)
		result.Iterations = t + 1

		if d.params.Snapshot != nil {
			if err := d.params.Snapshot(t, next); err != nil {
				return nil, err
			}
		}

		current = next
		if d.params.Tolerance > 0 && st.Delta <= d.params.Tolerance {
			result.State = Converged
			break
		}
	}

	d.state = result.State
	result.Image = current
	return result, nil
}

// iterate computes one new estimate from current. current is only read.
func (d *Decoder) iterate(current *mat.Dense, plans []plan, m int) (*mat.Dense, error) {
	source, err := blockstats.BlockAverage(current, m)
	if err != nil {
		return nil, err
	}

	rows, cols := current.Dims()
	next := mat.NewDense(rows, cols, nil)

	workers := d.params.Workers
	if workers > len(plans) {
		workers = len(plans)
	}
	if workers <= 1 {
		stamp(next, source, plans)
		return next, nil
	}

	chunk := (len(plans) + workers - 1) / workers
	var wg sync.WaitGroup
	for from := 0; from < len(plans); from += chunk {
		to := from + chunk
		if to > len(plans) {
			to = len(plans)
		}
		wg.Add(1)
		go func(part []plan) {
			defer wg.Done()
			stamp(next, source, part)
		}(plans[from:to])
	}
	wg.Wait()

	return next, nil
}

// stamp writes scale·patch + offset for every plan. Range rectangles are
// disjoint, so concurrent calls on different plans never touch the same
// pixel.
func stamp(dst, src *mat.Dense, plans []plan) {
	out := dst.RawMatrix()
	in := src.RawMatrix()
	for _, p := range plans {
		for v := 0; v < p.dst.Dy(); v++ {
			dstRow := out.Data[(p.dst.Y1+v)*out.Stride:]
			srcRow := in.Data[(p.src.Y1+v)*in.Stride:]
			for u := 0; u < p.dst.Dx(); u++ {
				dstRow[p.dst.X1+u] = p.scale*srcRow[p.src.X1+u] + p.offset
			}
		}
	}
}
