// Package config loads optional tuning parameters for the timing
// daemon. Everything here has a sensible default; the JSON file exists
// for track-side adjustment without rebuilding.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lapline-data/lapline/internal/laps"
	"github.com/lapline-data/lapline/internal/publish"
)

// TuningConfig represents the root configuration for tuning parameters.
// All fields are pointers so a partial JSON file only overrides what it
// names; the Get* methods fall back to defaults for nil fields.
type TuningConfig struct {
	// Crossing detection params
	DebounceWindow *string `json:"debounce_window,omitempty"` // duration string like "3s"

	// Broker params
	PublishTimeout *string `json:"publish_timeout,omitempty"` // duration string like "5s"
	FetchTimeout   *string `json:"fetch_timeout,omitempty"`
	StatusInterval *string `json:"status_interval,omitempty"`
	RetryInterval  *string `json:"retry_interval,omitempty"`

	// Serial params
	BaudRate *int `json:"baud_rate,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file is
// validated to ensure it has a .json extension and is under the max
// file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, field := range map[string]*string{
		"debounce_window": c.DebounceWindow,
		"publish_timeout": c.PublishTimeout,
		"fetch_timeout":   c.FetchTimeout,
		"status_interval": c.StatusInterval,
		"retry_interval":  c.RetryInterval,
	} {
		if field == nil || *field == "" {
			continue
		}
		d, err := time.ParseDuration(*field)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}

	return nil
}

func (c *TuningConfig) duration(field *string, fallback time.Duration) time.Duration {
	if field == nil || *field == "" {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil {
		return fallback
	}
	return d
}

// GetDebounceWindow returns the crossing debounce window.
func (c *TuningConfig) GetDebounceWindow() time.Duration {
	return c.duration(c.DebounceWindow, laps.DefaultDwell)
}

// GetPublishTimeout returns the broker acknowledgement deadline for
// configuration writes.
func (c *TuningConfig) GetPublishTimeout() time.Duration {
	return c.duration(c.PublishTimeout, 5*time.Second)
}

// GetFetchTimeout returns the bounded wait for reading retained
// configuration back from the broker.
func (c *TuningConfig) GetFetchTimeout() time.Duration {
	return c.duration(c.FetchTimeout, 2*time.Second)
}

// GetStatusInterval returns the minimum spacing between retained
// receiver status publishes.
func (c *TuningConfig) GetStatusInterval() time.Duration {
	return c.duration(c.StatusInterval, publish.DefaultStatusInterval)
}

// GetRetryInterval returns the broker reconnect interval.
func (c *TuningConfig) GetRetryInterval() time.Duration {
	return c.duration(c.RetryInterval, 5*time.Second)
}

// GetBaudRate returns the GPS serial baud rate.
func (c *TuningConfig) GetBaudRate() int {
	if c.BaudRate != nil {
		return *c.BaudRate
	}
	return 9600
}
