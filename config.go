package goswcache

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls the worker. The cache name is injected here rather than
// read from package state so two workers with different generations can
// coexist in one process.
type Config struct {
	// CacheName names the current cache generation, e.g. "cache-v1.0.0".
	// Activation deletes every store whose name differs from it.
	CacheName string

	// Origin is the base URL relative manifest entries are resolved against.
	Origin string

	// Exclude lists URL prefixes that are never stored on a cache miss.
	Exclude []string

	// DebounceWindow is how long a detected document update is held before
	// evicting and broadcasting, so rapid repeated navigations coalesce into
	// a single eviction.
	DebounceWindow time.Duration

	// RevalidateTimeout bounds the background refetch of a document.
	RevalidateTimeout time.Duration
}

// UnmarshalYAML decodes the config from YAML, accepting durations in
// time.ParseDuration form ("5s", "250ms").
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		CacheName         string   `yaml:"cache_name"`
		Origin            string   `yaml:"origin"`
		Exclude           []string `yaml:"exclude"`
		DebounceWindow    string   `yaml:"debounce_window"`
		RevalidateTimeout string   `yaml:"revalidate_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.CacheName = raw.CacheName
	c.Origin = raw.Origin
	c.Exclude = raw.Exclude

	if raw.DebounceWindow != "" {
		d, err := time.ParseDuration(raw.DebounceWindow)
		if err != nil {
			return fmt.Errorf("debounce_window: %w", err)
		}
		c.DebounceWindow = d
	}
	if raw.RevalidateTimeout != "" {
		d, err := time.ParseDuration(raw.RevalidateTimeout)
		if err != nil {
			return fmt.Errorf("revalidate_timeout: %w", err)
		}
		c.RevalidateTimeout = d
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		CacheName:         "cache-v0",
		DebounceWindow:    5 * time.Second,
		RevalidateTimeout: 30 * time.Second,
	}
}

// LoadConfig reads a YAML config file and fills in defaults.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.CacheName == "" {
		return Config{}, fmt.Errorf("cache_name is required")
	}
	if cfg.DebounceWindow == 0 {
		cfg.DebounceWindow = 5 * time.Second
	}
	if cfg.RevalidateTimeout == 0 {
		cfg.RevalidateTimeout = 30 * time.Second
	}
	cfg.Origin = strings.TrimRight(cfg.Origin, "/")
	return cfg, nil
}

func (c Config) excluded(url string) bool {
	for _, p := range c.Exclude {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}
