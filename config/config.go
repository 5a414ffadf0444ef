// Package config carries the runtime-tunable settings for the export
// pipeline: the large-selection threshold, the worker pool size and the
// fetch retry policy.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds pipeline settings.
type Config struct {
	// Selections above this count are split in to batches of this size.
	LargeSelectionThreshold int `toml:"large_selection_threshold"`
	// The size of the retrieval worker pool.
	MaxWorkers int `toml:"max_workers"`
	// Fetch attempts per URL.
	MaxAttempts int `toml:"max_attempts"`
	// Per-attempt fetch timeout.
	FetchTimeout duration `toml:"fetch_timeout"`
	// Base delay between fetch attempts.
	RetryDelay duration `toml:"retry_delay"`
}

// duration adds TOML decoding to time.Duration.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {

	v, err := time.ParseDuration(string(text))

	if err != nil {
		return err
	}

	*d = duration(v)
	return nil
}

// Default returns the production settings.
func Default() *Config {

	return &Config{
		LargeSelectionThreshold: 500,
		MaxWorkers:              5,
		MaxAttempts:             3,
		FetchTimeout:            duration(15 * time.Second),
		RetryDelay:              duration(2 * time.Second),
	}
}

// Load reads overrides from an optional TOML file and from the environment,
// on top of the defaults. An empty path skips the file.
func Load(path string) (*Config, error) {

	cfg := Default()

	if path != "" {

		_, err := toml.DecodeFile(path, cfg)

		if err != nil {
			return nil, fmt.Errorf("Failed to decode config file '%s', %w", path, err)
		}
	}

	if v := os.Getenv("MEMORIES_BATCH_SIZE"); v != "" {

		n, err := strconv.Atoi(v)

		if err == nil && n > 0 {
			cfg.LargeSelectionThreshold = n
		}
	}

	if cfg.LargeSelectionThreshold <= 0 {
		return nil, fmt.Errorf("Invalid large selection threshold %d", cfg.LargeSelectionThreshold)
	}

	if cfg.MaxWorkers <= 0 {
		return nil, fmt.Errorf("Invalid worker count %d", cfg.MaxWorkers)
	}

	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("Invalid attempt count %d", cfg.MaxAttempts)
	}

	if cfg.Timeout() <= 0 {
		return nil, fmt.Errorf("Invalid fetch timeout %v", cfg.Timeout())
	}

	if cfg.Delay() <= 0 {
		return nil, fmt.Errorf("Invalid retry delay %v", cfg.Delay())
	}

	return cfg, nil
}

// Timeout returns the per-attempt fetch timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.FetchTimeout)
}

// Delay returns the base retry delay.
func (c *Config) Delay() time.Duration {
	return time.Duration(c.RetryDelay)
}
