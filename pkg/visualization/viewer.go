// Package visualization turns decoder estimates into viewable images.
package visualization

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"fracture/pkg/imageio"
)

// Window stretches the value range of img linearly onto [lo, hi] and clips
// the result to that interval. A constant image is only clipped.
func Window(img *mat.Dense, lo, hi float64) *mat.Dense {
	a, b := mat.Min(img), mat.Max(img)

	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 {
		if b > a {
			v = (v-a)*(hi-lo)/(b-a) + lo
		}
		return math.Max(lo, math.Min(hi, v))
	}, img)
	return &out
}

// Viewer saves the sequence of decoder estimates as numbered images next to
// a final, optionally windowed, reconstruction.
type Viewer struct {
	// outputDir receives every image
	outputDir string

	// baseName prefixes the file names: <base>_00.png ... <base>_last.png
	baseName string

	// ext selects the image format, including the dot
	ext string
}

// NewViewer creates a viewer writing PNG files
func NewViewer(outputDir, baseName string) *Viewer {
	return &Viewer{
		outputDir: outputDir,
		baseName:  baseName,
		ext:       ".png",
	}
}

// WithFormat returns a copy of the viewer writing files with extension ext
// (".png", ".jpg" or ".fl32").
func (v *Viewer) WithFormat(ext string) *Viewer {
	c := *v
	c.ext = ext
	return &c
}

// FramePath returns the file name used for an iteration
func (v *Viewer) FramePath(iteration int) string {
	return filepath.Join(v.outputDir, fmt.Sprintf("%s_%02d%s", v.baseName, iteration, v.ext))
}

// LastPath returns the file name of the final reconstruction
func (v *Viewer) LastPath() string {
	return filepath.Join(v.outputDir, fmt.Sprintf("%s_last%s", v.baseName, v.ext))
}

// SaveFrame writes one estimate. Its signature matches the decoder's
// snapshot hook.
func (v *Viewer) SaveFrame(iteration int, img *mat.Dense) error {
	if err := os.MkdirAll(v.outputDir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", v.outputDir)
	}
	return imageio.SaveGray(v.FramePath(iteration), img)
}

// SaveFinal writes the final reconstruction, stretched onto [0,1] first when
// window is set.
func (v *Viewer) SaveFinal(img *mat.Dense, window bool) error {
	if err := os.MkdirAll(v.outputDir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", v.outputDir)
	}
	if window {
		img = Window(img, 0, 1)
	}
	return imageio.SaveGray(v.LastPath(), img)
}
