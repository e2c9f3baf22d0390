// Package config loads livewatch.yaml.
//
// Values act as defaults for `livewatch run`; CLI flags always override.
package config

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/justapithecus/livewatch/types"
)

// Config represents a livewatch.yaml file.
type Config struct {
	Account    AccountConfig              `yaml:"account"`
	Endpoints  EndpointsConfig            `yaml:"endpoints"`
	League     string                     `yaml:"league"`
	Groups     []GroupConfig              `yaml:"groups"`
	Supervisor SupervisorConfig           `yaml:"supervisor"`
	Limits     LimitsConfig               `yaml:"limits"`
	Budget     BudgetConfig               `yaml:"budget"`
	RateLimit  RateLimitConfig            `yaml:"rate_limit"`
	Fetch      FetchConfig                `yaml:"fetch"`
	Queue      QueueConfig                `yaml:"queue"`
	Action     ActionConfig               `yaml:"action"`
	Proxies    map[string]ProxyPoolConfig `yaml:"proxies"`
	Proxy      ProxySelection             `yaml:"proxy"`
	Adapter    AdapterConfig              `yaml:"adapter"`
	Archive    ArchiveConfig              `yaml:"archive"`
	Log        LogConfig                  `yaml:"log"`
}

// AccountConfig holds the session credential and browser-emulation headers.
type AccountConfig struct {
	Session    string            `yaml:"session"`
	CookieName string            `yaml:"cookie_name"`
	UserAgent  string            `yaml:"user_agent"`
	Headers    map[string]string `yaml:"headers"`
}

// EndpointsConfig holds the trade service URLs.
type EndpointsConfig struct {
	// Stream is the live websocket base; "/{league}/{query}" is appended.
	Stream string `yaml:"stream"`
	// Fetch is the result fetch base; "/{ids}?query=" is appended.
	Fetch string `yaml:"fetch"`
	// Action receives claim POSTs.
	Action string `yaml:"action"`
	// Referer is the search page base; "/{league}/{query}" is appended.
	Referer string `yaml:"referer"`
}

// GroupConfig is a named set of searches that can be toggled together.
type GroupConfig struct {
	Name     string         `yaml:"name"`
	Enabled  *bool          `yaml:"enabled"`
	League   string         `yaml:"league"`
	Searches []SearchConfig `yaml:"searches"`
}

// SearchConfig is one saved live search.
type SearchConfig struct {
	Name    string `yaml:"name"`
	Query   string `yaml:"query"`
	League  string `yaml:"league"`
	Enabled *bool  `yaml:"enabled"`
}

// SupervisorConfig holds reconcile loop settings.
type SupervisorConfig struct {
	Interval     Duration `yaml:"interval"`
	MaxListeners int      `yaml:"max_listeners"`
}

// LimitsConfig holds per-listener attempt gates.
type LimitsConfig struct {
	AuthCooldown  Duration `yaml:"auth_cooldown"`
	ErrorCooldown Duration `yaml:"error_cooldown"`
	Throttle      Duration `yaml:"throttle"`
	HourlyCap     int      `yaml:"hourly_cap"`
	LifetimeCap   int      `yaml:"lifetime_cap"`
}

// BudgetConfig holds the global attempt budget.
type BudgetConfig struct {
	Grace         Duration `yaml:"grace"`
	GraceCeiling  int      `yaml:"grace_ceiling"`
	SteadyCeiling int      `yaml:"steady_ceiling"`
	SteadyWindow  Duration `yaml:"steady_window"`
}

// RateLimitConfig tunes the governor.
type RateLimitConfig struct {
	SafeFraction      float64 `yaml:"safe_fraction"`
	EmergencyFraction float64 `yaml:"emergency_fraction"`
	Scope             string  `yaml:"scope"`
}

// FetchConfig tunes the fetch pipeline.
type FetchConfig struct {
	BatchSize int      `yaml:"batch_size"`
	Timeout   Duration `yaml:"timeout"`
}

// QueueConfig sizes the result queue.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// ActionConfig tunes the claim pipeline.
type ActionConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Auto         bool     `yaml:"auto"`
	LockTimeout  Duration `yaml:"lock_timeout"`
	ExpiryBuffer Duration `yaml:"expiry_buffer"`
	Timeout      Duration `yaml:"timeout"`
}

// ProxyPoolConfig is a proxy pool definition within the config file.
// Name is derived from the map key, not stored in the struct.
type ProxyPoolConfig struct {
	Strategy  types.ProxyStrategy   `yaml:"strategy"`
	Endpoints []types.ProxyEndpoint `yaml:"endpoints"`
	Sticky    *types.ProxySticky    `yaml:"sticky,omitempty"`
}

// ProxySelection names the pools used per traffic class.
type ProxySelection struct {
	// Stream pins each listener to one endpoint of this pool.
	Stream string `yaml:"stream"`
	// HTTP rotates fetch and action requests through this pool.
	HTTP string `yaml:"http"`
}

// AdapterConfig configures downstream event publishing.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Codec   string            `yaml:"codec,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ArchiveConfig configures the claim archive.
type ArchiveConfig struct {
	Backend     string `yaml:"backend"`
	Dataset     string `yaml:"dataset"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// ProxyPools converts the map-keyed proxy pool config into a slice sorted
// by name.
func (c *Config) ProxyPools() []types.ProxyPool {
	if len(c.Proxies) == 0 {
		return nil
	}

	names := make([]string, 0, len(c.Proxies))
	for name := range c.Proxies {
		names = append(names, name)
	}
	sort.Strings(names)

	pools := make([]types.ProxyPool, 0, len(names))
	for _, name := range names {
		pc := c.Proxies[name]
		pools = append(pools, types.ProxyPool{
			Name:      name,
			Strategy:  pc.Strategy,
			Endpoints: pc.Endpoints,
			Sticky:    pc.Sticky,
		})
	}
	return pools
}
