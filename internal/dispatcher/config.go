package dispatcher

import (
	"time"

	"github.com/tracklane/tracklane/internal/config"
)

// Config controls dispatch intervals and batch sizes.
type Config struct {
	RunInterval  time.Duration
	BatchSize    int
	DrainTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:  2 * time.Second,
		BatchSize:    100,
		DrainTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaults.DrainTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.OutboxInterval,
		BatchSize:   cfg.OutboxBatchSize,
	}.withDefaults()
}
