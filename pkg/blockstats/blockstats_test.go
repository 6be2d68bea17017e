package blockstats

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"fracture/internal/models"
)

// dyadicImage creates an image whose values are multiples of 1/256 so that
// every partial sum is exact in float64
func dyadicImage(rows, cols int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = float64(rng.Intn(256)) / 256
	}
	return mat.NewDense(rows, cols, data)
}

// bruteSum sums a cell of img directly from raw pixels
func bruteSum(img *mat.Dense, y0, x0, edge int) float64 {
	sum := 0.0
	for y := y0; y < y0+edge; y++ {
		for x := x0; x < x0+edge; x++ {
			sum += img.At(y, x)
		}
	}
	return sum
}

func TestLog2(t *testing.T) {
	tests := []struct {
		n       int
		want    int
		wantErr bool
	}{
		{1, 0, false},
		{2, 1, false},
		{8, 3, false},
		{256, 8, false},
		{0, 0, true},
		{6, 0, true},
		{-4, 0, true},
	}

	for _, tt := range tests {
		got, err := Log2(tt.n)
		if tt.wantErr {
			if !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("Log2(%d): expected configuration error, got %v", tt.n, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Log2(%d) returned error: %v", tt.n, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Log2(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestBlockSumMatchesBruteForce(t *testing.T) {
	img := dyadicImage(16, 32, 1)

	for level := 0; level <= 4; level++ {
		sums, err := BlockSum(img, level)
		if err != nil {
			t.Fatalf("BlockSum level %d failed: %v", level, err)
		}

		rows, cols := sums.Dims()
		if rows != 16>>level || cols != 32>>level {
			t.Fatalf("Level %d: expected %dx%d, got %dx%d", level, 32>>level, 16>>level, cols, rows)
		}

		edge := 1 << level
		for j := 0; j < rows; j++ {
			for i := 0; i < cols; i++ {
				want := bruteSum(img, j*edge, i*edge, edge)
				if got := sums.At(j, i); got != want {
					t.Errorf("Level %d cell (%d,%d): expected %v, got %v", level, j, i, want, got)
				}
			}
		}
	}
}

func TestBlockSumConservation(t *testing.T) {
	img := dyadicImage(32, 32, 2)
	total := mat.Sum(img)

	for level := 0; level <= 5; level++ {
		sums, err := BlockSum(img, level)
		if err != nil {
			t.Fatalf("BlockSum level %d failed: %v", level, err)
		}
		if got := mat.Sum(sums); got != total {
			t.Errorf("Level %d: block sums total %v, image total %v", level, got, total)
		}
	}
}

func TestBlockAverageIdentityAtLevelZero(t *testing.T) {
	img := dyadicImage(8, 12, 3)

	avg, err := BlockAverage(img, 0)
	if err != nil {
		t.Fatalf("BlockAverage failed: %v", err)
	}
	if !mat.Equal(avg, img) {
		t.Error("BlockAverage at level 0 should equal the input image")
	}

	// The result must be a copy, not an alias
	avg.Set(0, 0, 42)
	if img.At(0, 0) == 42 {
		t.Error("BlockAverage at level 0 aliases the input image")
	}
}

func TestBlockAverage(t *testing.T) {
	img := mat.NewDense(2, 4, []float64{
		1, 3, 0, 0,
		5, 7, 0, 4,
	})

	avg, err := BlockAverage(img, 1)
	if err != nil {
		t.Fatalf("BlockAverage failed: %v", err)
	}

	want := mat.NewDense(1, 2, []float64{4, 1})
	if !mat.Equal(avg, want) {
		t.Errorf("Expected %v, got %v", mat.Formatted(want), mat.Formatted(avg))
	}
}

func TestBlockSumIndivisible(t *testing.T) {
	img := dyadicImage(6, 8, 4)

	_, err := BlockSum(img, 2)
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected configuration error for 8x6 image at level 2, got %v", err)
	}

	_, err = BlockSum(img, -1)
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected configuration error for negative level, got %v", err)
	}
}

func TestTile(t *testing.T) {
	block := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	tiled, err := Tile(block, 4, 6)
	if err != nil {
		t.Fatalf("Tile failed: %v", err)
	}

	want := mat.NewDense(4, 6, []float64{
		1, 2, 1, 2, 1, 2,
		3, 4, 3, 4, 3, 4,
		1, 2, 1, 2, 1, 2,
		3, 4, 3, 4, 3, 4,
	})
	if !mat.Equal(tiled, want) {
		t.Errorf("Unexpected tiling:\n%v", mat.Formatted(tiled))
	}

	if _, err := Tile(block, 3, 4); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected configuration error for partial tile, got %v", err)
	}
}

func TestCrossSum(t *testing.T) {
	img := dyadicImage(8, 8, 5)
	block := dyadicImage(4, 4, 6)

	cross, err := CrossSum(block, img, 2)
	if err != nil {
		t.Fatalf("CrossSum failed: %v", err)
	}

	for j := 0; j < 2; j++ {
		for i := 0; i < 2; i++ {
			want := 0.0
			for v := 0; v < 4; v++ {
				for u := 0; u < 4; u++ {
					want += block.At(v, u) * img.At(j*4+v, i*4+u)
				}
			}
			if got := cross.At(j, i); got != want {
				t.Errorf("Cell (%d,%d): expected %v, got %v", j, i, want, got)
			}
		}
	}

	if _, err := CrossSum(block, img, 1); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("Expected configuration error for mismatched level, got %v", err)
	}
}

func TestAggregate(t *testing.T) {
	img := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	agg, err := Aggregate(img, 1)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if agg.N() != 4 {
		t.Errorf("Expected n = 4, got %v", agg.N())
	}
	if got := agg.Sum.At(0, 0); got != 10 {
		t.Errorf("Expected sum 10, got %v", got)
	}
	if got := agg.Sum2.At(0, 0); got != 30 {
		t.Errorf("Expected sum of squares 30, got %v", got)
	}
}

func TestLevels(t *testing.T) {
	rangeLevel, m, err := Levels(8, 4)
	if err != nil {
		t.Fatalf("Levels failed: %v", err)
	}
	if rangeLevel != 2 || m != 1 {
		t.Errorf("Expected (2, 1), got (%d, %d)", rangeLevel, m)
	}

	for _, sizes := range [][2]int{{4, 8}, {12, 4}, {8, 3}, {0, 0}} {
		if _, _, err := Levels(sizes[0], sizes[1]); !errors.Is(err, models.ErrConfiguration) {
			t.Errorf("Levels(%d, %d): expected configuration error, got %v", sizes[0], sizes[1], err)
		}
	}
}
