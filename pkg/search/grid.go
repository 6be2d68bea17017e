// Package search finds, for every range block, the domain block and affine
// map with the lowest mean-squared error.
//
// The candidates for one range block form a grid shaped like the domain
// grid. The grid is reduced to its best cell by repeated 2x2 minimum
// reduction: every pass halves both dimensions and consists of independent
// comparisons, so a pass can be spread across goroutines.
package search

import (
	"math"
	"sync"
)

// Candidate is the fit of one domain block against the current range block.
type Candidate struct {
	Err    float64
	Scale  float64
	Offset float64

	// X and Y are the domain grid coordinates (column, row)
	X, Y int
}

// key orders NaN errors after every finite error.
func (c Candidate) key() float64 {
	if math.IsNaN(c.Err) {
		return math.Inf(1)
	}
	return c.Err
}

// Better reports whether c beats o: strictly lower error, with equal errors
// going to the earlier domain block in row-major order.
func (c Candidate) Better(o Candidate) bool {
	ck, ok := c.key(), o.key()
	if ck != ok {
		return ck < ok
	}
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.X < o.X
}

// Grid is a rows x cols surface of candidates stored row-major.
type Grid struct {
	Rows, Cols int
	Cells      []Candidate
}

// NewGrid allocates an empty rows x cols grid
func NewGrid(rows, cols int) *Grid {
	return &Grid{
		Rows:  rows,
		Cols:  cols,
		Cells: make([]Candidate, rows*cols),
	}
}

// At returns the candidate at row y, column x.
func (g *Grid) At(y, x int) Candidate {
	return g.Cells[y*g.Cols+x]
}

// Set stores c at row y, column x.
func (g *Grid) Set(y, x int, c Candidate) {
	g.Cells[y*g.Cols+x] = c
}

// reduceRows computes output rows [from, to) of one 2x2 reduction pass.
// Neighbours that fall outside an odd-sized grid are skipped.
func (g *Grid) reduceRows(out *Grid, from, to int) {
	for j := from; j < to; j++ {
		for i := 0; i < out.Cols; i++ {
			y, x := j<<1, i<<1
			best := g.At(y, x)
			if x+1 < g.Cols {
				if c := g.At(y, x+1); c.Better(best) {
					best = c
				}
			}
			if y+1 < g.Rows {
				if c := g.At(y+1, x); c.Better(best) {
					best = c
				}
				if x+1 < g.Cols {
					if c := g.At(y+1, x+1); c.Better(best) {
						best = c
					}
				}
			}
			out.Set(j, i, best)
		}
	}
}

// reducePass halves the grid once, splitting the output rows across
// at most workers goroutines.
func (g *Grid) reducePass(workers int) *Grid {
	out := NewGrid((g.Rows+1)/2, (g.Cols+1)/2)
	if workers <= 1 || out.Rows < 2 {
		g.reduceRows(out, 0, out.Rows)
		return out
	}

	if workers > out.Rows {
		workers = out.Rows
	}
	chunk := (out.Rows + workers - 1) / workers

	var wg sync.WaitGroup
	for from := 0; from < out.Rows; from += chunk {
		to := from + chunk
		if to > out.Rows {
			to = out.Rows
		}
		wg.Add(1)
		go func(from, to int) {
			defer wg.Done()
			g.reduceRows(out, from, to)
		}(from, to)
	}
	wg.Wait()

	return out
}

// Reduce returns the best candidate of the grid using the 2x2 reduction
// tree. It reports false for an empty grid.
func (g *Grid) Reduce() (Candidate, bool) {
	return g.ReduceParallel(1)
}

// ReduceParallel is Reduce with every pass spread across workers goroutines.
func (g *Grid) ReduceParallel(workers int) (Candidate, bool) {
	if g.Rows == 0 || g.Cols == 0 {
		return Candidate{}, false
	}
	cur := g
	for cur.Rows > 1 || cur.Cols > 1 {
		cur = cur.reducePass(workers)
	}
	return cur.Cells[0], true
}

// LinearArgmin scans the grid in row-major order and returns the best
// candidate. It is the serial counterpart of Reduce.
func (g *Grid) LinearArgmin() (Candidate, bool) {
	if len(g.Cells) == 0 {
		return Candidate{}, false
	}
	best := g.Cells[0]
	for _, c := range g.Cells[1:] {
		if c.Better(best) {
			best = c
		}
	}
	return best, true
}
