// Package pipeline drives the encode, decode and round-trip runs behind the
// fracture command. All run state lives in a Pipeline value.
package pipeline

import (
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"fracture/internal/models"
	"fracture/pkg/affine"
	"fracture/pkg/config"
	"fracture/pkg/decoder"
	"fracture/pkg/imageio"
	"fracture/pkg/quality"
	"fracture/pkg/search"
	"fracture/pkg/transformlist"
	"fracture/pkg/visualization"
)

// DefaultBaseName prefixes the decoder output files.
const DefaultBaseName = "rcxn"

// Params holds everything a run needs. Paths that a run does not use may be
// left empty.
type Params struct {
	// InputFile is the source image (PNG, JPEG or FL32). Only its first
	// channel is encoded.
	InputFile string

	// TransformFile is where the transform list is written by Encode and
	// read by Decode. A .zst suffix selects zstd compression.
	TransformFile string

	// OutputDir receives the decoded images
	OutputDir string

	// BaseName prefixes the decoded image names: <base>_NN.png, <base>_last.png
	BaseName string

	// Encoder settings
	DomainSize    int
	RangeSize     int
	Mode          affine.Mode
	EncodeWorkers int

	// FitImage resamples a source whose dimensions are not multiples of
	// DomainSize instead of rejecting it
	FitImage bool

	// Decoder settings
	Iterations    int
	Seed          float64
	Tolerance     float64
	DecodeWorkers int

	// Snapshots saves one image per iteration
	Snapshots bool

	// Window stretches the final image onto [0,1] before saving
	Window bool

	// Precision is the number of fractional digits written for scale and
	// offset, -1 for the shortest exact form
	Precision int

	// Verbose enables progress logging
	Verbose bool
}

// ParamsFromConfig builds run parameters from a validated configuration.
func ParamsFromConfig(cfg *config.Config) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := affine.ParseMode(cfg.Encode.Fit)
	if err != nil {
		return nil, err
	}
	return &Params{
		OutputDir:     ".",
		BaseName:      DefaultBaseName,
		DomainSize:    cfg.Encode.DomainSize,
		RangeSize:     cfg.Encode.RangeSize,
		Mode:          mode,
		EncodeWorkers: cfg.Encode.Workers,
		FitImage:      cfg.Encode.FitImage,
		Iterations:    cfg.Decode.Iterations,
		Seed:          cfg.Decode.Seed,
		Tolerance:     cfg.Decode.Tolerance,
		DecodeWorkers: cfg.Decode.Workers,
		Snapshots:     cfg.Output.Snapshots,
		Window:        cfg.Output.Window,
		Precision:     cfg.Output.Precision,
		Verbose:       cfg.Output.Verbose,
	}, nil
}

// Pipeline runs the stages of a compression round trip.
type Pipeline struct {
	params *Params
	logger *log.Logger

	// source is the encoded image after optional resampling
	source   *mat.Dense
	encoding *search.Encoding
	result   *decoder.Result
	metrics  *quality.Metrics
}

// NewPipeline creates a pipeline. Progress goes to stdout when
// params.Verbose is set and is discarded otherwise.
func NewPipeline(params *Params) *Pipeline {
	out := io.Discard
	if params.Verbose {
		out = os.Stdout
	}
	if params.BaseName == "" {
		params.BaseName = DefaultBaseName
	}
	if params.OutputDir == "" {
		params.OutputDir = "."
	}
	return &Pipeline{
		params: params,
		logger: log.New(out, "", 0),
	}
}

// SetLogger replaces the progress logger.
func (p *Pipeline) SetLogger(l *log.Logger) {
	p.logger = l
}

// LoadSource reads the input image and, if enabled, resamples it to a
// multiple of the domain size.
func (p *Pipeline) LoadSource() (*mat.Dense, error) {
	img, err := imageio.LoadGray(p.params.InputFile)
	if err != nil {
		return nil, err
	}
	rows, cols := img.Dims()
	p.logger.Printf("Loaded %s (%dx%d)", p.params.InputFile, cols, rows)

	if p.params.FitImage && (rows%p.params.DomainSize != 0 || cols%p.params.DomainSize != 0) {
		img = imageio.FitToBlocks(img, p.params.DomainSize)
		rows, cols = img.Dims()
		p.logger.Printf("Resampled to %dx%d", cols, rows)
	}

	p.source = img
	return img, nil
}

// Encode loads the source image and searches a transform for every range
// block.
func (p *Pipeline) Encode() (*search.Encoding, error) {
	img, err := p.LoadSource()
	if err != nil {
		return nil, err
	}

	p.logger.Printf("Encoding with %dx%d domains, %dx%d ranges, %s fit",
		p.params.DomainSize, p.params.DomainSize, p.params.RangeSize, p.params.RangeSize, p.params.Mode)

	lastDecile := -1
	enc, err := search.Encode(img, search.Params{
		DomainSize: p.params.DomainSize,
		RangeSize:  p.params.RangeSize,
		Mode:       p.params.Mode,
		Workers:    p.params.EncodeWorkers,
		Progress: func(done, total int) {
			if decile := done * 10 / total; decile != lastDecile {
				lastDecile = decile
				p.logger.Printf("  %3d%% (%d/%d range blocks)", decile*10, done, total)
			}
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", p.params.InputFile)
	}

	p.logger.Printf("Encoded %d transforms, mean block MSE %.6g", enc.List.Len(), enc.MeanMSE())
	p.encoding = enc
	return enc, nil
}

// SaveTransforms writes list to the configured transform file.
func (p *Pipeline) SaveTransforms(list *models.TransformList) error {
	if p.params.TransformFile == "" {
		return models.ConfigErrorf("no transform file configured")
	}
	opts := transformlist.Options{Precision: p.params.Precision}
	if err := transformlist.Save(p.params.TransformFile, list, opts); err != nil {
		return err
	}
	p.logger.Printf("Saved transforms to %s", p.params.TransformFile)
	return nil
}

// LoadTransforms reads the configured transform file.
func (p *Pipeline) LoadTransforms() (*models.TransformList, error) {
	if p.params.TransformFile == "" {
		return nil, models.ConfigErrorf("no transform file configured")
	}
	list, err := transformlist.Load(p.params.TransformFile)
	if err != nil {
		return nil, err
	}
	h := list.Header
	p.logger.Printf("Loaded %d transforms for a %dx%d image from %s",
		list.Len(), h.OrigW, h.OrigH, p.params.TransformFile)
	return list, nil
}

// Decode iterates list to its fixed point, saving every estimate when
// snapshots are enabled and the final image in any case.
func (p *Pipeline) Decode(list *models.TransformList) (*decoder.Result, error) {
	viewer := visualization.NewViewer(p.params.OutputDir, p.params.BaseName)

	dp := decoder.Params{
		Iterations: p.params.Iterations,
		Seed:       p.params.Seed,
		Tolerance:  p.params.Tolerance,
		Workers:    p.params.DecodeWorkers,
	}
	if p.params.Snapshots {
		dp.Snapshot = viewer.SaveFrame
	}

	result, err := decoder.New(dp).Decode(list)
	if err != nil {
		return nil, errors.Wrap(err, "decoding")
	}
	for _, st := range result.Stats {
		p.logger.Printf("Iteration %02d: min %.6f max %.6f avg %.6f delta %.3g",
			st.Iteration, st.Min, st.Max, st.Mean, st.Delta)
	}
	p.logger.Printf("Decoder %s after %d iterations", result.State, result.Iterations)

	if err := viewer.SaveFinal(result.Image, p.params.Window); err != nil {
		return nil, err
	}
	p.logger.Printf("Saved %s", viewer.LastPath())

	p.result = result
	return result, nil
}

// Process runs a full round trip: encode the source, persist the
// transforms if a transform file is configured, decode them again and
// compare the reconstruction with the source.
func (p *Pipeline) Process() error {
	p.logger.Println("Step 1: Encoding source image...")
	enc, err := p.Encode()
	if err != nil {
		return err
	}

	list := enc.List
	if p.params.TransformFile != "" {
		p.logger.Println("Step 2: Saving transforms...")
		if err := p.SaveTransforms(list); err != nil {
			return err
		}
		// Decode what was persisted so the round trip covers the file format.
		if list, err = p.LoadTransforms(); err != nil {
			return err
		}
	}

	p.logger.Println("Step 3: Decoding transforms...")
	result, err := p.Decode(list)
	if err != nil {
		return err
	}

	p.logger.Println("Step 4: Calculating quality metrics...")
	m, err := quality.Compare(p.source, result.Image)
	if err != nil {
		return err
	}
	p.metrics = &m
	p.logger.Printf("RMSE %.6f  PSNR %.2f dB  SSIM %.4f  correlation %.4f  entropy diff %.4f",
		m.RMSE, m.PSNR, m.SSIM, m.Correlation, m.EntropyDiff)
	return nil
}

// GetMetrics returns the quality metrics of the last Process run, or nil.
func (p *Pipeline) GetMetrics() *quality.Metrics {
	return p.metrics
}

// Source returns the image encoded by the last run, or nil.
func (p *Pipeline) Source() *mat.Dense {
	return p.source
}

// Inspect loads an image file and returns per-channel statistics.
func Inspect(path string) (*imageio.Raster, []imageio.ChannelStats, error) {
	r, err := imageio.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Stats(), nil
}
