// Package config holds the tunables shared by patchgraph and session:
// cache sizing, the file-load dedup window, parent-chain enumeration
// limits, subscription bookkeeping, and presence rate limiting. It
// mirrors the functional-options style the teacher uses for StateStore
// construction, plus an optional YAML file loader for the same fields.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable with a non-zero default so a zero-value
// Config is never accidentally used — always start from Default().
type Config struct {
	// MaxCacheEntries bounds the patch graph's value cache by entry count.
	MaxCacheEntries int `yaml:"maxCacheEntries"`
	// MaxCacheBytes records an estimated byte budget for the value cache.
	// The patch graph does not read it: its value cache is bounded by
	// MaxCacheEntries alone, and cached documents' sizes are not counted.
	MaxCacheBytes int64 `yaml:"maxCacheBytes"`
	// ReachabilityCacheEntries bounds the single-head reachability cache.
	ReachabilityCacheEntries int `yaml:"reachabilityCacheEntries"`
	// MergeCacheEntries bounds the multi-head merge cache.
	MergeCacheEntries int `yaml:"mergeCacheEntries"`
	// FileDedupMS is the window within which two byte-identical
	// file-origin patches collapse into one during replay.
	FileDedupMS int64 `yaml:"fileDedupMs"`
	// ChainLimit bounds GetParentChains enumeration.
	ChainLimit int `yaml:"chainLimit"`
	// SubscriptionTTL prunes cursor-presence entries older than this.
	SubscriptionTTL time.Duration `yaml:"subscriptionTtl"`
	// PresenceRatePerSecond caps cursor-presence publishes per second.
	PresenceRatePerSecond float64 `yaml:"presenceRatePerSecond"`
	// PresenceBurst is the token-bucket burst size for presence publishes.
	PresenceBurst int `yaml:"presenceBurst"`
}

// Default returns patchflow's out-of-the-box tuning, matching the
// defaults named in the specification (100 cache entries, 10MB,
// FILE_DEDUP_MS=3000, chain limit 1000).
func Default() Config {
	return Config{
		MaxCacheEntries:          100,
		MaxCacheBytes:            10_000_000,
		ReachabilityCacheEntries: 256,
		MergeCacheEntries:        256,
		FileDedupMS:              3000,
		ChainLimit:               1000,
		SubscriptionTTL:          60 * time.Second,
		PresenceRatePerSecond:    20,
		PresenceBurst:            5,
	}
}

// Option mutates a Config in place; use with Apply.
type Option func(*Config)

// Apply runs every option over Default() and returns the result.
func Apply(opts ...Option) Config {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithMaxCacheEntries overrides the value cache's entry bound.
func WithMaxCacheEntries(n int) Option {
	return func(c *Config) { c.MaxCacheEntries = n }
}

// WithMaxCacheBytes overrides MaxCacheBytes (not read by the patch graph;
// see the field's comment).
func WithMaxCacheBytes(n int64) Option {
	return func(c *Config) { c.MaxCacheBytes = n }
}

// WithFileDedupMS overrides the file-load dedup window.
func WithFileDedupMS(ms int64) Option {
	return func(c *Config) { c.FileDedupMS = ms }
}

// WithChainLimit overrides the parent-chain enumeration limit.
func WithChainLimit(n int) Option {
	return func(c *Config) { c.ChainLimit = n }
}

// WithSubscriptionTTL overrides the cursor-presence pruning window.
func WithSubscriptionTTL(d time.Duration) Option {
	return func(c *Config) { c.SubscriptionTTL = d }
}

// WithPresenceRate overrides the presence-publish token bucket.
func WithPresenceRate(perSecond float64, burst int) Option {
	return func(c *Config) {
		c.PresenceRatePerSecond = perSecond
		c.PresenceBurst = burst
	}
}

// LoadFile reads a YAML config file, starting from Default() so an
// omitted field keeps its default rather than zeroing out.
func LoadFile(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}
