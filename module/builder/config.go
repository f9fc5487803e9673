package builder

import (
	"time"
)

type Config struct {
	minInterval time.Duration
	clock       func() time.Time
}

func defaultConfig() Config {
	return Config{
		minInterval: time.Millisecond,
		clock:       time.Now,
	}
}

// WithMinInterval sets the minimum time between a block and its parent.
func WithMinInterval(minInterval time.Duration) func(*Config) {
	return func(cfg *Config) {
		cfg.minInterval = minInterval
	}
}

// WithClock replaces the clock block timestamps are taken from.
func WithClock(clock func() time.Time) func(*Config) {
	return func(cfg *Config) {
		cfg.clock = clock
	}
}
