package search

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"fracture/internal/models"
	"fracture/pkg/affine"
)

// checkerboard creates a rows x cols image alternating between lo and hi
// every cell pixels
func checkerboard(rows, cols, cell int, lo, hi float64) *mat.Dense {
	img := mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(y, x, lo)
			} else {
				img.Set(y, x, hi)
			}
		}
	}
	return img
}

// dyadicImage creates an image of multiples of 1/16 so that all aggregate
// sums are exact regardless of summation order
func dyadicImage(rng *rand.Rand, rows, cols int) *mat.Dense {
	img := mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			img.Set(y, x, float64(rng.Intn(17))/16)
		}
	}
	return img
}

// rectMean averages img over a pixel rectangle
func rectMean(img *mat.Dense, r models.Rectangle) float64 {
	sum := 0.0
	for y := r.Y1; y < r.Y2; y++ {
		for x := r.X1; x < r.X2; x++ {
			sum += img.At(y, x)
		}
	}
	return sum / float64(r.Dx()*r.Dy())
}

func TestEncodeCheckerboard(t *testing.T) {
	img := checkerboard(8, 8, 1, 0.2, 0.8)

	enc, err := Encode(img, Params{DomainSize: 4, RangeSize: 2, Workers: 3})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	list := enc.List
	if list.Len() != 16 {
		t.Fatalf("Expected 16 transforms, got %d", list.Len())
	}
	want := models.TransformListHeader{OrigW: 8, OrigH: 8, DomainSize: 4, RangeSize: 2}
	if list.Header != want {
		t.Errorf("Expected header %+v, got %+v", want, list.Header)
	}

	lo, hi := -1+models.ScaleEpsilon, 1-models.ScaleEpsilon
	for k, tr := range list.Transforms {
		// Transforms are ordered row-major over the 4x4 range grid
		if wantRange := models.Square((k%4)*2, (k/4)*2, 2); tr.Range != wantRange {
			t.Errorf("Transform %d: expected range %v, got %v", k, wantRange, tr.Range)
		}
		if tr.Domain.Dx() != 4 || tr.Domain.Dy() != 4 || !tr.Domain.In(8, 8) {
			t.Errorf("Transform %d: invalid domain %v", k, tr.Domain)
		}
		if tr.Scale < lo || tr.Scale > hi {
			t.Errorf("Transform %d: scale %v outside clamp range", k, tr.Scale)
		}

		dAvg := rectMean(img, tr.Domain)
		rAvg := rectMean(img, tr.Range)
		if diff := math.Abs(tr.Scale*dAvg + tr.Offset - rAvg); diff > enc.MSE[k]+1e-12 {
			t.Errorf("Transform %d: mean mismatch %v exceeds reported MSE %v", k, diff, enc.MSE[k])
		}
	}

	if mean := enc.MeanMSE(); math.Abs(mean-0.09) > 1e-9 {
		t.Errorf("Expected mean MSE 0.09 (range variance), got %v", mean)
	}
}

func TestEncodeMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	img := dyadicImage(rng, 16, 32)
	const ds, rs = 8, 4

	enc, err := Encode(img, Params{DomainSize: ds, RangeSize: rs, Workers: 4})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	n := float64(rs * rs)
	k := 0
	for j := 0; j < 16/rs; j++ {
		for i := 0; i < 32/rs; i++ {
			grid := NewGrid(16/ds, 32/ds)
			for y := 0; y < grid.Rows; y++ {
				for x := 0; x < grid.Cols; x++ {
					var s affine.Sums
					for v := 0; v < rs; v++ {
						for u := 0; u < rs; u++ {
							// Domain pixel (v, u) is the mean of a 2x2 source cell
							py, px := y*ds+2*v, x*ds+2*u
							d := (img.At(py, px) + img.At(py, px+1) + img.At(py+1, px) + img.At(py+1, px+1)) / 4
							r := img.At(j*rs+v, i*rs+u)
							s.D += d
							s.D2 += d * d
							s.R += r
							s.R2 += r * r
							s.DR += d * r
						}
					}
					fit := affine.Fit(n, s, affine.ModeReference)
					grid.Set(y, x, Candidate{Err: fit.MSE, Scale: fit.Scale, Offset: fit.Offset, X: x, Y: y})
				}
			}

			best, _ := grid.LinearArgmin()
			got := enc.List.Transforms[k]
			want := models.Transform{
				Range:  models.Square(i*rs, j*rs, rs),
				Offset: best.Offset,
				Scale:  best.Scale,
				Domain: models.Square(best.X*ds, best.Y*ds, ds),
			}
			if got != want {
				t.Errorf("Range block (%d,%d): expected %+v, got %+v", j, i, want, got)
			}
			k++
		}
	}
}

func TestEncodeScaleInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	lo, hi := -1+models.ScaleEpsilon, 1-models.ScaleEpsilon

	for trial := 0; trial < 10; trial++ {
		img := mat.NewDense(16, 16, nil)
		for y := 0; y < 16; y++ {
			for x := 0; x < 16; x++ {
				img.Set(y, x, rng.Float64())
			}
		}
		for _, mode := range []affine.Mode{affine.ModeReference, affine.ModeLeastSquares} {
			enc, err := Encode(img, Params{DomainSize: 4, RangeSize: 2, Mode: mode})
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			for _, tr := range enc.List.Transforms {
				if tr.Scale < lo || tr.Scale > hi {
					t.Fatalf("Trial %d %v: scale %v outside clamp range", trial, mode, tr.Scale)
				}
			}
		}
	}
}

func TestEncodeDeterministicAcrossWorkers(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	img := dyadicImage(rng, 32, 32)

	serial, err := Encode(img, Params{DomainSize: 8, RangeSize: 4, Workers: 1})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	parallel, err := Encode(img, Params{DomainSize: 8, RangeSize: 4, Workers: 8})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !serial.List.Equal(parallel.List) {
		t.Error("Parallel encode differs from serial encode")
	}
}

func TestEncodeProgress(t *testing.T) {
	img := checkerboard(8, 8, 2, 0, 1)
	calls := 0
	last := 0

	_, err := Encode(img, Params{DomainSize: 4, RangeSize: 2, Progress: func(done, total int) {
		calls++
		last = done
		if total != 16 {
			t.Errorf("Expected total 16, got %d", total)
		}
	}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if calls != 16 || last != 16 {
		t.Errorf("Expected 16 progress calls ending at 16, got %d ending at %d", calls, last)
	}
}

func TestEncodeConfigurationErrors(t *testing.T) {
	tests := []struct {
		name       string
		rows, cols int
		ds, rs     int
	}{
		{"indivisible", 12, 8, 8, 4},
		{"range not power of two", 12, 12, 6, 3},
		{"domain smaller than range", 8, 8, 2, 4},
		{"domain not power of two", 12, 12, 12, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := mat.NewDense(tt.rows, tt.cols, nil)
			_, err := Encode(img, Params{DomainSize: tt.ds, RangeSize: tt.rs})
			if !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("Expected configuration error, got %v", err)
			}
		})
	}
}
