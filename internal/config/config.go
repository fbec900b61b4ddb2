// CLAUDE:SUMMARY Defines heapview config structs and parses YAML configuration files with defaults.
// Package config handles heapview configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level heapview configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Target   TargetConfig   `yaml:"target"`
	Profiler ProfilerConfig `yaml:"profiler"`
	Store    StoreConfig    `yaml:"store"`
	Sinks    []SinkConfig   `yaml:"sinks"`
	HTTP     HTTPConfig     `yaml:"http"`
	MCP      MCPConfig      `yaml:"mcp"`
}

// BrowserConfig controls the Chrome connection.
type BrowserConfig struct {
	Remote   string `yaml:"remote"`   // DevTools websocket URL; empty launches Chrome
	Headless *bool  `yaml:"headless"` // default true
	Stealth  bool   `yaml:"stealth"`
	Bin      string `yaml:"bin"`
}

// IsHeadless reports the effective headless setting.
func (b BrowserConfig) IsHeadless() bool { return b.Headless == nil || *b.Headless }

// TargetConfig is the page to profile.
type TargetConfig struct {
	URL      string        `yaml:"url"`
	LoadWait time.Duration `yaml:"load_wait"`
}

// ProfilerConfig tunes capture and views.
type ProfilerConfig struct {
	RecordAllocationStacks bool          `yaml:"record_allocation_stacks"`
	SearchDelay            time.Duration `yaml:"search_delay"`
	OverviewInterval       time.Duration `yaml:"overview_interval"`
	ChunkSettle            time.Duration `yaml:"chunk_settle"`
	EventBuffer            int           `yaml:"event_buffer"`
}

// StoreConfig locates the temporary capture store.
type StoreConfig struct {
	Path       string `yaml:"path"` // empty keeps captures in memory
	FlushBytes int    `yaml:"flush_bytes"`
	CacheKiB   int    `yaml:"cache_kib"` // SQLite page cache; 0 keeps the default
}

// SinkConfig defines an event output.
type SinkConfig struct {
	Type    string        `yaml:"type"` // stdout | webhook
	URL     string        `yaml:"url"`  // for webhook
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
}

// HTTPConfig enables the JSON API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MCPConfig enables the MCP tool server on stdio.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration of an empty file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Target.URL == "" {
		c.Target.URL = "about:blank"
	}
	if c.Target.LoadWait <= 0 {
		c.Target.LoadWait = 2 * time.Second
	}
	if c.Profiler.SearchDelay <= 0 {
		c.Profiler.SearchDelay = 100 * time.Millisecond
	}
	if c.Profiler.OverviewInterval <= 0 {
		c.Profiler.OverviewInterval = 10 * time.Millisecond
	}
	if c.Profiler.ChunkSettle <= 0 {
		c.Profiler.ChunkSettle = 50 * time.Millisecond
	}
	if c.Profiler.EventBuffer <= 0 {
		c.Profiler.EventBuffer = 1024
	}
	if c.Store.FlushBytes <= 0 {
		c.Store.FlushBytes = 1 << 20
	}
	if c.MCP.Name == "" {
		c.MCP.Name = "heapview"
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "" {
			c.Sinks[i].Type = "stdout"
		}
		if c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
		if c.Sinks[i].Backoff <= 0 {
			c.Sinks[i].Backoff = time.Second
		}
	}
}

func (c *Config) validate() error {
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
