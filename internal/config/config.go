package config

import (
	"errors"
	"fmt"
	"runtime"
	"slices"

	"github.com/spf13/viper"

	"transfer-learning/internal/resnet"
)

// Config captures the runtime knobs for a transfer-learning run.
type Config struct {
	Arch         string  `mapstructure:"arch"`
	Epochs       int     `mapstructure:"epochs"`
	LearningRate float64 `mapstructure:"learning_rate"`
	Momentum     float64 `mapstructure:"momentum"`
	WeightDecay  float64 `mapstructure:"weight_decay"`
	Seed         int64   `mapstructure:"seed"`
	ImageSize    int     `mapstructure:"image_size"`
	BatchSize    int     `mapstructure:"batch_size"`
	NumWorkers   int     `mapstructure:"num_workers"`
	LogEvery     int     `mapstructure:"log_every"`
}

// Overrides captures CLI supplied values. Zero values and nil pointers
// leave the config untouched.
type Overrides struct {
	Arch         string
	Epochs       int
	LearningRate float64
	Momentum     *float64
	WeightDecay  *float64
	Seed         int64
	ImageSize    int
	BatchSize    int
	NumWorkers   int
	LogEvery     int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("arch", "resnet18")
	v.SetDefault("epochs", 1000)
	v.SetDefault("learning_rate", 1e-3)
	v.SetDefault("momentum", 0.0)
	v.SetDefault("weight_decay", 0.0)
	v.SetDefault("seed", 42)
	v.SetDefault("image_size", 224)
	v.SetDefault("batch_size", 32)
	v.SetDefault("num_workers", runtime.NumCPU())
	v.SetDefault("log_every", 50)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads a YAML file layered over the defaults and validates the
// result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.UnmarshalExact(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any set override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Arch != "" {
		c.Arch = o.Arch
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Momentum != nil {
		c.Momentum = *o.Momentum
	}
	if o.WeightDecay != nil {
		c.WeightDecay = *o.WeightDecay
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.ImageSize > 0 {
		c.ImageSize = o.ImageSize
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if !slices.Contains(resnet.Architectures, c.Arch) {
		return fmt.Errorf("arch must be one of %v (got %q)", resnet.Architectures, c.Arch)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.Momentum < 0 {
		return fmt.Errorf("momentum must be >= 0 (got %g)", c.Momentum)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be >= 0 (got %g)", c.WeightDecay)
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("image_size must be > 0 (got %d)", c.ImageSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	return nil
}
