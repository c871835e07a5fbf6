package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PoolConfig contains all configuration for a scheduler run.
type PoolConfig struct {
	Pool    PoolSettings  `mapstructure:"pool"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PoolSettings controls worker count and shutdown polling.
type PoolSettings struct {
	// ThreadCount of 0 picks max(1, cores-1).
	ThreadCount  int           `mapstructure:"thread_count"`
	WaitInterval time.Duration `mapstructure:"wait_interval"`
}

// LoadPool loads the pool configuration from the given path.
// If configPath is empty, it looks for fanout.yaml in the config/ directory.
// Environment variables with FANOUT_ prefix override config file values.
func LoadPool(configPath string) (*PoolConfig, error) {
	v := viper.New()

	v.SetDefault("pool.thread_count", 1)
	v.SetDefault("pool.wait_interval", 100*time.Millisecond)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("fanout")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("FANOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg PoolConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *PoolConfig) Validate() error {
	if c.Pool.ThreadCount < 0 {
		return fmt.Errorf("pool.thread_count must be >= 0, got %d", c.Pool.ThreadCount)
	}
	if c.Pool.WaitInterval <= 0 {
		return fmt.Errorf("pool.wait_interval must be positive, got %s", c.Pool.WaitInterval)
	}
	return nil
}
