package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"fracture/internal/models"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default configuration is invalid: %v", err)
	}
	if cfg.Encode.DomainSize != 8 || cfg.Encode.RangeSize != 4 {
		t.Errorf("Unexpected default block sizes %d/%d", cfg.Encode.DomainSize, cfg.Encode.RangeSize)
	}
	if cfg.Decode.Iterations != 10 || cfg.Decode.Seed != 0.5 {
		t.Errorf("Unexpected default decode parameters %+v", cfg.Decode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("Expected defaults for a missing file, got %+v", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Encode.DomainSize = 16
	cfg.Encode.Fit = "leastsquares"
	cfg.Decode.Iterations = 25
	cfg.Decode.Tolerance = 1e-6
	cfg.Output.Snapshots = false

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("Round trip mismatch:\nsaved  %+v\nloaded %+v", cfg, loaded)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("decode:\n  iterations: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Decode.Iterations != 3 {
		t.Errorf("Expected 3 iterations, got %d", cfg.Decode.Iterations)
	}
	if cfg.Encode.DomainSize != 8 || cfg.Decode.Seed != 0.5 {
		t.Errorf("Unset fields lost their defaults: %+v", cfg)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("encode: [unterminated\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, models.ErrFormat) {
		t.Errorf("Expected format error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"range not power of two", func(c *Config) { c.Encode.RangeSize = 3 }},
		{"domain smaller than range", func(c *Config) { c.Encode.DomainSize = 2 }},
		{"unknown fit", func(c *Config) { c.Encode.Fit = "cubic" }},
		{"negative workers", func(c *Config) { c.Decode.Workers = -1 }},
		{"zero iterations", func(c *Config) { c.Decode.Iterations = 0 }},
		{"negative tolerance", func(c *Config) { c.Decode.Tolerance = -1 }},
		{"bad precision", func(c *Config) { c.Output.Precision = -2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("Expected configuration error, got %v", err)
			}
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fracture.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("Expected default config, got %+v", cfg)
	}
}
