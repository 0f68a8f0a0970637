// Package config provides configuration loading and management for tiledpredict.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tiledpredict/pkg/normalize"
	"tiledpredict/pkg/tiling"
)

// Config represents the application configuration
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers limits how many tiles are evaluated concurrently
		NumWorkers int `yaml:"numWorkers" toml:"numWorkers"`

		// MaxRetries bounds the number of refined attempts after the backend runs out of memory
		MaxRetries int `yaml:"maxRetries" toml:"maxRetries"`
	} `yaml:"processing" toml:"processing"`

	// Tiling holds the initial tiling parameters
	Tiling tiling.Params `yaml:"tiling" toml:"tiling"`

	// Axes describes the input image
	Axes struct {
		// Image is the axis string of the input volume, e.g. "ZYX"
		Image string `yaml:"image" toml:"image"`

		// Remove names a unit-size axis to drop before inference, e.g. "Z"
		Remove string `yaml:"remove" toml:"remove"`
	} `yaml:"axes" toml:"axes"`

	// Network describes the model node shapes and backend
	Network struct {
		InputSizes  []int  `yaml:"inputSizes" toml:"inputSizes"`
		InputAxes   string `yaml:"inputAxes" toml:"inputAxes"`
		OutputSizes []int  `yaml:"outputSizes" toml:"outputSizes"`
		OutputAxes  string `yaml:"outputAxes" toml:"outputAxes"`

		// Backend selects the inference backend: "identity", "smooth" or "scale"
		Backend string `yaml:"backend" toml:"backend"`

		// MemoryBudget is the largest tile in bytes the backend accepts; 0 is unlimited
		MemoryBudget uint64 `yaml:"memoryBudget" toml:"memoryBudget"`

		// Sigma is the Gaussian width for the smooth backend
		Sigma float64 `yaml:"sigma" toml:"sigma"`

		// Factor and Channels configure the scale backend
		Factor   float32 `yaml:"factor" toml:"factor"`
		Channels int     `yaml:"channels" toml:"channels"`
	} `yaml:"network" toml:"network"`

	Normalization normalize.Params `yaml:"normalization" toml:"normalization"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose" toml:"verbose"`
	} `yaml:"output" toml:"output"`

	// Log controls where log output goes
	Log struct {
		File    string `yaml:"file" toml:"file"`
		MaxSize int    `yaml:"maxSize" toml:"maxSize"` // megabytes
		MaxAge  int    `yaml:"maxAge" toml:"maxAge"`   // days
	} `yaml:"log" toml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.MaxRetries = 8

	cfg.Tiling = tiling.DefaultParams()

	cfg.Axes.Image = "ZYX"

	cfg.Network.InputSizes = []int{-1, -1, -1, -1, 1}
	cfg.Network.InputAxes = ""
	cfg.Network.OutputSizes = []int{-1, -1, -1, -1, 1}
	cfg.Network.OutputAxes = ""
	cfg.Network.Backend = "identity"
	cfg.Network.Sigma = 1.5
	cfg.Network.Factor = 1
	cfg.Network.Channels = 1

	cfg.Normalization = normalize.DefaultParams()

	cfg.Output.Verbose = true

	cfg.Log.MaxSize = 100
	cfg.Log.MaxAge = 30

	return cfg
}

// Validate checks values that cannot be corrected silently.
func (c *Config) Validate() error {
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("processing.numWorkers must be positive, got %d", c.Processing.NumWorkers)
	}
	if c.Processing.MaxRetries < 0 {
		return fmt.Errorf("processing.maxRetries must not be negative, got %d", c.Processing.MaxRetries)
	}
	if c.Tiling.Tiles < 1 || c.Tiling.BlockMultiple < 1 || c.Tiling.Overlap < 0 || c.Tiling.BatchSize < 0 {
		return fmt.Errorf("invalid tiling parameters %s", c.Tiling)
	}
	if len(c.Network.InputSizes) == 0 || len(c.Network.OutputSizes) == 0 {
		return fmt.Errorf("network input and output sizes are required")
	}
	if c.Normalization.Enabled {
		if err := c.Normalization.Validate(); err != nil {
			return fmt.Errorf("normalization: %w", err)
		}
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by extension.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
