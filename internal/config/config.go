// Package config holds the settings of the infer command line driver.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/itlab-ai/infer/internal/parallel"
	"github.com/itlab-ai/infer/internal/tensor"
)

// Model formats understood by the driver. FormatAuto detects the format
// from the model's name and contents.
const (
	FormatAuto = ""
	FormatJSON = "json"
	FormatONNX = "onnx"
)

// Config is the YAML document read by `infer run`.
type Config struct {
	// Model is a local path or a gs://bucket/object URI.
	Model  string `yaml:"model"`
	Format string `yaml:"format"`
	// Checksum is the expected hex SHA-256 of the model file.
	Checksum string `yaml:"checksum"`
	Image    string `yaml:"image"`
	// Labels names a text file with one class label per line.
	Labels string `yaml:"labels"`
	TopK   int    `yaml:"top_k"`

	Input    Input    `yaml:"input"`
	Parallel Parallel `yaml:"parallel"`

	LogLevel string `yaml:"log_level"`
	// Dump is where per-layer statistics are written, msgpack encoded.
	Dump string `yaml:"dump"`
}

// Input describes image preprocessing.
type Input struct {
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	Scale  float32 `yaml:"scale"`
	Mean   float32 `yaml:"mean"`
	Std    float32 `yaml:"std"`
}

// Parallel selects the kernel strategy.
type Parallel struct {
	Strategy string `yaml:"strategy"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Format: FormatAuto,
		TopK:   5,
		Input: Input{
			Width:  227,
			Height: 227,
			Scale:  1,
			Std:    1,
		},
		Parallel: Parallel{Strategy: parallel.Sequential.String()},
		LogLevel: "info",
	}
}

// Load reads path on top of Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML document on top of Default. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Format {
	case FormatAuto, FormatJSON, FormatONNX:
	default:
		return errors.Wrapf(tensor.ErrInvalidArgument, "format must be empty, %s or %s, got %q", FormatJSON, FormatONNX, c.Format)
	}
	if c.Checksum != "" && len(c.Checksum) != 64 {
		return errors.Wrapf(tensor.ErrInvalidArgument, "checksum must be 64 hex digits, got %d", len(c.Checksum))
	}
	if c.TopK < 0 {
		return errors.Wrapf(tensor.ErrInvalidArgument, "top_k must not be negative, got %d", c.TopK)
	}
	if c.Input.Width <= 0 || c.Input.Height <= 0 {
		return errors.Wrapf(tensor.ErrInvalidArgument, "input size %dx%d must be positive", c.Input.Width, c.Input.Height)
	}
	if c.Input.Std == 0 {
		return errors.Wrap(tensor.ErrInvalidArgument, "input std must not be zero")
	}
	if _, err := parallel.ParseStrategy(c.Parallel.Strategy); err != nil {
		return errors.Wrap(err, "parallel")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(tensor.ErrInvalidArgument, "log_level: %v", err)
	}
	return nil
}

// Strategy returns the parsed kernel strategy.
func (c *Config) Strategy() parallel.Strategy {
	s, err := parallel.ParseStrategy(c.Parallel.Strategy)
	if err != nil {
		return parallel.Sequential
	}
	return s
}

// Level returns the parsed log level, Info when invalid.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
