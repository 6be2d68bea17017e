package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"

	"fracture/pkg/config"
	"fracture/pkg/pipeline"
)

const usage = `Usage: fracture <command> [flags]

Commands:
  encode       encode -input into the transform list -transforms
  decode       decode -transforms into <output-dir>/<base>_NN.png and <base>_last.png
  roundtrip    encode, save, reload and decode, then report reconstruction quality
  stats        print per-channel statistics of -input (PNG, JPEG or FL32)
  init-config  write a default configuration file to -config

Flags:
`

// options holds the command line. Flags that are not given explicitly do
// not override the configuration file.
type options struct {
	configPath string
	input      string
	transforms string
	outputDir  string
	baseName   string

	domainSize int
	rangeSize  int
	fit        string
	fitImage   bool
	workers    int
	iterations int
	seed       float64
	tolerance  float64
	snapshots  bool
	window     bool
	precision  int
	quiet      bool
}

func newFlagSet(opts *options, output io.Writer) *flag.FlagSet {
	defaults := config.DefaultConfig()

	fs := flag.NewFlagSet("fracture", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, usage)
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.configPath, "config", "fracture.yaml", "YAML configuration file (defaults are used if it does not exist)")
	fs.StringVar(&opts.input, "input", "", "Source image for encode, roundtrip and stats")
	fs.StringVar(&opts.transforms, "transforms", "transforms.txt", "Transform list file (a .zst suffix compresses it)")
	fs.StringVar(&opts.outputDir, "output-dir", ".", "Directory for decoded images")
	fs.StringVar(&opts.baseName, "base", pipeline.DefaultBaseName, "Base name of decoded images")

	fs.IntVar(&opts.domainSize, "d", defaults.Encode.DomainSize, "Domain block size in pixels (power of two)")
	fs.IntVar(&opts.rangeSize, "r", defaults.Encode.RangeSize, "Range block size in pixels (power of two)")
	fs.StringVar(&opts.fit, "fit", defaults.Encode.Fit, "Affine fit formula: reference or leastsquares")
	fs.BoolVar(&opts.fitImage, "fit-image", defaults.Encode.FitImage, "Resample the source to a multiple of the domain size")
	fs.IntVar(&opts.workers, "workers", 0, "Number of worker goroutines for encode and decode (0: all cores)")
	fs.IntVar(&opts.iterations, "iterations", defaults.Decode.Iterations, "Maximum number of decoding iterations")
	fs.Float64Var(&opts.seed, "seed", defaults.Decode.Seed, "Initial value of every pixel when decoding")
	fs.Float64Var(&opts.tolerance, "tolerance", defaults.Decode.Tolerance, "Stop decoding once no pixel changes by more than this (0: never)")
	fs.BoolVar(&opts.snapshots, "snapshots", defaults.Output.Snapshots, "Save an image after every iteration")
	fs.BoolVar(&opts.window, "window", defaults.Output.Window, "Stretch the final image to the full value range")
	fs.IntVar(&opts.precision, "precision", defaults.Output.Precision, "Fractional digits of scale and offset (-1: exact)")
	fs.BoolVar(&opts.quiet, "quiet", !defaults.Output.Verbose, "Suppress progress output")
	return fs
}

// applyOverrides copies every explicitly set flag into cfg.
func applyOverrides(fs *flag.FlagSet, opts *options, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "d":
			cfg.Encode.DomainSize = opts.domainSize
		case "r":
			cfg.Encode.RangeSize = opts.rangeSize
		case "fit":
			cfg.Encode.Fit = opts.fit
		case "fit-image":
			cfg.Encode.FitImage = opts.fitImage
		case "workers":
			cfg.Encode.Workers = opts.workers
			cfg.Decode.Workers = opts.workers
		case "iterations":
			cfg.Decode.Iterations = opts.iterations
		case "seed":
			cfg.Decode.Seed = opts.seed
		case "tolerance":
			cfg.Decode.Tolerance = opts.tolerance
		case "snapshots":
			cfg.Output.Snapshots = opts.snapshots
		case "window":
			cfg.Output.Window = opts.window
		case "precision":
			cfg.Output.Precision = opts.precision
		case "quiet":
			cfg.Output.Verbose = !opts.quiet
		}
	})
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}
	command := args[0]
	switch command {
	case "encode", "decode", "roundtrip", "stats", "init-config":
	default:
		fmt.Fprint(stdout, usage)
		return errors.Errorf("unknown command %q", command)
	}

	opts := &options{}
	fs := newFlagSet(opts, stdout)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	if command == "init-config" {
		if err := config.CreateDefaultConfigFile(opts.configPath); err != nil {
			return errors.Wrapf(err, "init-config %s", opts.configPath)
		}
		fmt.Fprintf(stdout, "Default configuration written to %s\n", opts.configPath)
		return nil
	}

	if command == "stats" {
		return printStats(opts.input, stdout)
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return errors.Wrapf(err, "loading configuration %s", opts.configPath)
	}
	applyOverrides(fs, opts, cfg)

	params, err := pipeline.ParamsFromConfig(cfg)
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	params.InputFile = opts.input
	params.TransformFile = opts.transforms
	params.OutputDir = opts.outputDir
	params.BaseName = opts.baseName

	p := pipeline.NewPipeline(params)
	p.SetLogger(log.New(loggerOutput(params.Verbose, stdout), "", 0))

	startTime := time.Now()
	switch command {
	case "encode":
		if opts.input == "" {
			return errors.New("encode: -input is required")
		}
		enc, err := p.Encode()
		if err != nil {
			return errors.Wrapf(err, "encode %s", opts.input)
		}
		if err := p.SaveTransforms(enc.List); err != nil {
			return errors.Wrapf(err, "encode %s", opts.input)
		}

	case "decode":
		list, err := p.LoadTransforms()
		if err != nil {
			return errors.Wrapf(err, "decode %s", opts.transforms)
		}
		if _, err := p.Decode(list); err != nil {
			return errors.Wrapf(err, "decode %s", opts.transforms)
		}

	case "roundtrip":
		if opts.input == "" {
			return errors.New("roundtrip: -input is required")
		}
		if err := p.Process(); err != nil {
			return errors.Wrapf(err, "roundtrip %s", opts.input)
		}
		m := p.GetMetrics()
		fmt.Fprintf(stdout, "\nReconstruction Quality:\n")
		fmt.Fprintf(stdout, "=======================\n")
		fmt.Fprintf(stdout, "Root Mean Square Error (RMSE): %.6f\n", m.RMSE)
		fmt.Fprintf(stdout, "Peak Signal-to-Noise Ratio (PSNR): %.2f dB\n", m.PSNR)
		fmt.Fprintf(stdout, "Structural Similarity Index (SSIM): %.4f\n", m.SSIM)
		fmt.Fprintf(stdout, "Correlation: %.4f\n", m.Correlation)
		fmt.Fprintf(stdout, "Entropy Difference: %.4f\n", m.EntropyDiff)
	}

	if params.Verbose {
		fmt.Fprintf(stdout, "Completed %s in %.2f seconds\n", command, time.Since(startTime).Seconds())
	}
	return nil
}

func loggerOutput(verbose bool, w io.Writer) io.Writer {
	if verbose {
		return w
	}
	return io.Discard
}

func printStats(path string, w io.Writer) error {
	if path == "" {
		return errors.New("stats: -input is required")
	}
	r, stats, err := pipeline.Inspect(path)
	if err != nil {
		return errors.Wrapf(err, "stats %s", path)
	}

	fmt.Fprintf(w, "%s: %dx%d, %d channel(s)\n", path, r.Width, r.Height, r.Channels)
	for c, st := range stats {
		fmt.Fprintf(w, "channel %d: min %.6g max %.6g avg %.6g stddev %.6g\n",
			c, st.Min, st.Max, st.Mean, st.StdDev)
	}
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Cause(err) == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalf("fracture: %v", err)
	}
}
