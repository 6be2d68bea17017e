// Package config provides configuration loading and management for fracture.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"fracture/internal/fsutil"
	"fracture/internal/models"
	"fracture/pkg/affine"
	"fracture/pkg/blockstats"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Encoder parameters
	Encode struct {
		// DomainSize is the edge of a domain block in pixels, a power of two
		DomainSize int `yaml:"domainSize"`

		// RangeSize is the edge of a range block in pixels, a power of two
		// no larger than DomainSize
		RangeSize int `yaml:"rangeSize"`

		// Fit selects the affine fit formula: "reference" or "leastsquares"
		Fit string `yaml:"fit"`

		// Workers bounds the number of concurrent block searches, 0 for all cores
		Workers int `yaml:"workers"`

		// FitImage resamples the source so its dimensions become multiples
		// of DomainSize instead of rejecting it
		FitImage bool `yaml:"fitImage"`
	} `yaml:"encode"`

	// Decoder parameters
	Decode struct {
		// Iterations is the maximum number of decoding passes
		Iterations int `yaml:"iterations"`

		// Seed is the constant value of the starting canvas
		Seed float64 `yaml:"seed"`

		// Tolerance stops decoding early once the largest per-pixel change
		// falls to or below it. 0 disables early stopping.
		Tolerance float64 `yaml:"tolerance"`

		// Workers bounds the number of concurrent stamping goroutines
		Workers int `yaml:"workers"`
	} `yaml:"decode"`

	// Output parameters
	Output struct {
		// Snapshots saves one image per decoding iteration
		Snapshots bool `yaml:"snapshots"`

		// Window stretches the final image to [0,1] before saving it
		Window bool `yaml:"window"`

		// Precision is the number of fractional digits written for scale
		// and offset, -1 for the shortest exact representation
		Precision int `yaml:"precision"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Encode.DomainSize = 8
	cfg.Encode.RangeSize = 4
	cfg.Encode.Fit = affine.ModeReference.String()
	cfg.Encode.Workers = 0
	cfg.Encode.FitImage = false

	cfg.Decode.Iterations = 10
	cfg.Decode.Seed = 0.5
	cfg.Decode.Tolerance = 0
	cfg.Decode.Workers = 0

	cfg.Output.Snapshots = true
	cfg.Output.Window = true
	cfg.Output.Precision = -1
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks that the configuration describes a runnable encode and
// decode. All failures wrap models.ErrConfiguration.
func (c *Config) Validate() error {
	if _, _, err := blockstats.Levels(c.Encode.DomainSize, c.Encode.RangeSize); err != nil {
		return err
	}
	if _, err := affine.ParseMode(c.Encode.Fit); err != nil {
		return err
	}
	if c.Encode.Workers < 0 || c.Decode.Workers < 0 {
		return models.ConfigErrorf("worker counts must not be negative")
	}
	if c.Decode.Iterations < 1 {
		return models.ConfigErrorf("iterations must be at least 1, got %d", c.Decode.Iterations)
	}
	if c.Decode.Tolerance < 0 {
		return models.ConfigErrorf("tolerance must not be negative, got %v", c.Decode.Tolerance)
	}
	if c.Output.Precision < -1 {
		return models.ConfigErrorf("precision must be -1 or a digit count, got %d", c.Output.Precision)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(models.ErrFormat, "error parsing config file %s: %v", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	err = fsutil.WriteFileAtomic(configPath, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "error writing config file")
	}
	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
