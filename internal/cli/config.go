package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rippledb/ripple"
)

// FileConfig mirrors the recognized knobs of a ripple.yaml config file.
// Zero values leave the corresponding default untouched.
type FileConfig struct {
	MaxReaders        int `yaml:"max_readers"`
	ReadTimeoutMS     int `yaml:"read_timeout_ms"`
	BusyRetries       int `yaml:"busy_retries"`
	BusyBackoffMS     int `yaml:"busy_backoff_ms"`
	BusyTimeoutMS     int `yaml:"busy_timeout_ms"`
	StmtCacheCapacity int `yaml:"stmt_cache_capacity"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// Options converts the file config into ripple options, skipping unset
// fields.
func (c *FileConfig) Options() []ripple.Option {
	var opts []ripple.Option
	if c.MaxReaders > 0 {
		opts = append(opts, ripple.WithMaxReaders(c.MaxReaders))
	}
	if c.ReadTimeoutMS > 0 {
		opts = append(opts, ripple.WithReadTimeout(time.Duration(c.ReadTimeoutMS)*time.Millisecond))
	}
	if c.BusyRetries > 0 || c.BusyBackoffMS > 0 {
		retries := c.BusyRetries
		if retries == 0 {
			retries = ripple.DefaultBusyRetries
		}
		backoff := ripple.DefaultBusyBackoff
		if c.BusyBackoffMS > 0 {
			backoff = time.Duration(c.BusyBackoffMS) * time.Millisecond
		}
		opts = append(opts, ripple.WithBusyRetry(retries, backoff))
	}
	if c.BusyTimeoutMS > 0 {
		opts = append(opts, ripple.WithBusyTimeout(time.Duration(c.BusyTimeoutMS)*time.Millisecond))
	}
	if c.StmtCacheCapacity > 0 {
		opts = append(opts, ripple.WithStmtCacheCapacity(c.StmtCacheCapacity))
	}
	return opts
}
