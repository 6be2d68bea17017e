// Package imageio loads and saves pixel matrices as raster images (PNG,
// JPEG) or raw float dumps (FL32). Raster samples are normalized to [0,1]
// on load and scaled back to bytes on save.
package imageio

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"fracture/internal/fsutil"
	"fracture/internal/models"
)

// Raster is a multi-channel float image stored as [y][x][channel].
type Raster struct {
	Width    int
	Height   int
	Channels int
	Pix      []float64
}

// NewRaster allocates a zeroed raster
func NewRaster(width, height, channels int) *Raster {
	return &Raster{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float64, width*height*channels),
	}
}

// At returns channel c of pixel (x, y).
func (r *Raster) At(x, y, c int) float64 {
	return r.Pix[(y*r.Width+x)*r.Channels+c]
}

// Set stores v in channel c of pixel (x, y).
func (r *Raster) Set(x, y, c int, v float64) {
	r.Pix[(y*r.Width+x)*r.Channels+c] = v
}

// Channel extracts one channel as a Height x Width matrix.
func (r *Raster) Channel(c int) (*mat.Dense, error) {
	if c < 0 || c >= r.Channels {
		return nil, models.ConfigErrorf("channel %d out of range for %d-channel image", c, r.Channels)
	}
	if r.Width == 0 || r.Height == 0 {
		return nil, models.ConfigErrorf("empty %dx%d image", r.Width, r.Height)
	}
	m := mat.NewDense(r.Height, r.Width, nil)
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			m.Set(y, x, r.At(x, y, c))
		}
	}
	return m, nil
}

// FromMatrix wraps a single-channel matrix as a raster.
func FromMatrix(m *mat.Dense) *Raster {
	rows, cols := m.Dims()
	r := NewRaster(cols, rows, 1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			r.Pix[y*cols+x] = m.At(y, x)
		}
	}
	return r
}

// FromImage converts a decoded image. Gray images become one channel, all
// other color models four RGBA channels.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	switch src := img.(type) {
	case *image.Gray:
		r := NewRaster(b.Dx(), b.Dy(), 1)
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				r.Pix[y*b.Dx()+x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y) / 255
			}
		}
		return r
	case *image.Gray16:
		r := NewRaster(b.Dx(), b.Dy(), 1)
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				r.Pix[y*b.Dx()+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y) / 65535
			}
		}
		return r
	}

	r := NewRaster(b.Dx(), b.Dy(), 4)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			r.Set(x, y, 0, float64(c.R)/255)
			r.Set(x, y, 1, float64(c.G)/255)
			r.Set(x, y, 2, float64(c.B)/255)
			r.Set(x, y, 3, float64(c.A)/255)
		}
	}
	return r
}

// toByte scales a normalized sample to 0..255, truncating the fraction.
// Out-of-range samples saturate.
func toByte(v float64) uint8 {
	v *= 255
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// ToImage converts a one-channel raster to image.Gray and a four-channel
// raster to image.NRGBA. Other channel counts are a configuration error.
func (r *Raster) ToImage() (image.Image, error) {
	rect := image.Rect(0, 0, r.Width, r.Height)
	switch r.Channels {
	case 1:
		img := image.NewGray(rect)
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				img.SetGray(x, y, color.Gray{Y: toByte(r.At(x, y, 0))})
			}
		}
		return img, nil
	case 4:
		img := image.NewNRGBA(rect)
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				img.SetNRGBA(x, y, color.NRGBA{
					R: toByte(r.At(x, y, 0)),
					G: toByte(r.At(x, y, 1)),
					B: toByte(r.At(x, y, 2)),
					A: toByte(r.At(x, y, 3)),
				})
			}
		}
		return img, nil
	}
	return nil, models.ConfigErrorf("cannot store %d-channel image as raster", r.Channels)
}

type fileFormat int

const (
	formatPNG fileFormat = iota
	formatJPEG
	formatFL32
)

func formatOf(path string) (fileFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return formatPNG, nil
	case ".jpg", ".jpeg":
		return formatJPEG, nil
	case ".fl32":
		return formatFL32, nil
	}
	return 0, models.FormatErrorf("unsupported image extension %q", filepath.Ext(path))
}

// Load reads a PNG, JPEG or FL32 file.
func Load(path string) (*Raster, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	defer f.Close()

	var r *Raster
	switch format {
	case formatFL32:
		r, err = ReadFL32(f)
	case formatPNG:
		var img image.Image
		if img, err = png.Decode(f); err == nil {
			r = FromImage(img)
		}
	case formatJPEG:
		var img image.Image
		if img, err = jpeg.Decode(f); err == nil {
			r = FromImage(img)
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return r, nil
}

// LoadGray loads path and returns its first channel, the intensity plane
// used by the encoder.
func LoadGray(path string) (*mat.Dense, error) {
	r, err := Load(path)
	if err != nil {
		return nil, err
	}
	m, err := r.Channel(0)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return m, nil
}

// Save writes r to path in the format selected by the extension. The file
// appears only once it is completely written.
func Save(path string, r *Raster) error {
	format, err := formatOf(path)
	if err != nil {
		return errors.Wrapf(err, "saving %s", path)
	}

	var img image.Image
	if format != formatFL32 {
		if img, err = r.ToImage(); err != nil {
			return errors.Wrapf(err, "saving %s", path)
		}
	}

	err = fsutil.WriteFileAtomic(path, func(w io.Writer) error {
		switch format {
		case formatPNG:
			return png.Encode(w, img)
		case formatJPEG:
			return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
		default:
			return WriteFL32(w, r, BigEndian)
		}
	})
	return errors.Wrapf(err, "saving %s", path)
}

// SaveGray saves a single-channel matrix.
func SaveGray(path string, m *mat.Dense) error {
	return Save(path, FromMatrix(m))
}
