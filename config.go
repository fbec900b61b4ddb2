package heapview

import (
	"github.com/hazyhaar/heapview/internal/config"
)

// Config is the top-level heapview configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls the Chrome connection.
type BrowserConfig = config.BrowserConfig

// TargetConfig is the page to profile.
type TargetConfig = config.TargetConfig

// ProfilerConfig tunes capture and views.
type ProfilerConfig = config.ProfilerConfig

// StoreConfig locates the capture store.
type StoreConfig = config.StoreConfig

// SinkConfig defines an event output.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *Config {
	return config.Default()
}
