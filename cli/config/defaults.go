package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/justapithecus/livewatch/action"
	"github.com/justapithecus/livewatch/budget"
	"github.com/justapithecus/livewatch/fetch"
	"github.com/justapithecus/livewatch/listener"
	"github.com/justapithecus/livewatch/log"
	"github.com/justapithecus/livewatch/queue"
	"github.com/justapithecus/livewatch/ratelimit"
	"github.com/justapithecus/livewatch/supervisor"
	"github.com/justapithecus/livewatch/types"
)

// Default trade service endpoints.
const (
	DefaultStreamURL  = "wss://www.pathofexile.com/api/trade/live"
	DefaultFetchURL   = "https://www.pathofexile.com/api/trade/fetch"
	DefaultActionURL  = "https://www.pathofexile.com/api/trade/whisper"
	DefaultRefererURL = "https://www.pathofexile.com/trade/search"
	DefaultLeague     = "Standard"
)

// Archive backends.
const (
	ArchiveNone = "none"
	ArchiveFS   = "fs"
	ArchiveS3   = "s3"
)

// Adapter types.
const (
	AdapterNone    = ""
	AdapterWebhook = "webhook"
	AdapterRedis   = "redis"
)

func setDuration(d *Duration, v time.Duration) {
	if d.Duration <= 0 {
		d.Duration = v
	}
}

func setInt(p *int, v int) {
	if *p <= 0 {
		*p = v
	}
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

// ApplyDefaults fills unset values in place.
func (c *Config) ApplyDefaults() {
	setString(&c.Account.CookieName, fetch.DefaultCookieName)
	setString(&c.Account.UserAgent, types.UserAgent)

	setString(&c.Endpoints.Stream, DefaultStreamURL)
	setString(&c.Endpoints.Fetch, DefaultFetchURL)
	setString(&c.Endpoints.Action, DefaultActionURL)
	setString(&c.Endpoints.Referer, DefaultRefererURL)
	setString(&c.League, DefaultLeague)

	setDuration(&c.Supervisor.Interval, supervisor.DefaultInterval)
	setInt(&c.Supervisor.MaxListeners, supervisor.MaxListeners)

	lim := listener.DefaultLimits()
	setDuration(&c.Limits.AuthCooldown, lim.AuthCooldown)
	setDuration(&c.Limits.ErrorCooldown, lim.ErrorCooldown)
	setDuration(&c.Limits.Throttle, lim.Throttle)
	setInt(&c.Limits.HourlyCap, lim.HourlyCap)
	setInt(&c.Limits.LifetimeCap, lim.LifetimeCap)

	bud := budget.DefaultConfig()
	setDuration(&c.Budget.Grace, bud.Grace)
	setInt(&c.Budget.GraceCeiling, bud.GraceCeiling)
	setInt(&c.Budget.SteadyCeiling, bud.SteadyCeiling)
	setDuration(&c.Budget.SteadyWindow, bud.SteadyWindow)

	rl := ratelimit.DefaultConfig()
	if c.RateLimit.SafeFraction <= 0 {
		c.RateLimit.SafeFraction = rl.SafeFraction
	}
	if c.RateLimit.EmergencyFraction <= 0 {
		c.RateLimit.EmergencyFraction = rl.EmergencyFraction
	}
	setString(&c.RateLimit.Scope, fetch.DefaultScope)

	setInt(&c.Fetch.BatchSize, fetch.DefaultBatchSize)
	setDuration(&c.Fetch.Timeout, fetch.DefaultTimeout)
	setInt(&c.Queue.Capacity, queue.DefaultCapacity)

	setDuration(&c.Action.LockTimeout, action.DefaultLockTimeout)
	setDuration(&c.Action.ExpiryBuffer, action.DefaultExpiryBuffer)
	setDuration(&c.Action.Timeout, fetch.DefaultTimeout)

	setString(&c.Archive.Backend, ArchiveNone)
	setString(&c.Log.Level, "info")
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: %q must be an absolute %v URL", field, raw, schemes)
}

// Validate reports every hard configuration error. Call after
// ApplyDefaults.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(checkURL("endpoints.stream", c.Endpoints.Stream, "ws", "wss"))
	add(checkURL("endpoints.fetch", c.Endpoints.Fetch, "http", "https"))
	add(checkURL("endpoints.referer", c.Endpoints.Referer, "http", "https"))
	if c.Action.Enabled {
		add(checkURL("endpoints.action", c.Endpoints.Action, "http", "https"))
	}

	for gi, g := range c.Groups {
		for si, s := range g.Searches {
			if s.Query == "" {
				errs = append(errs, fmt.Errorf("groups[%d].searches[%d]: query is required", gi, si))
			}
		}
	}

	if c.Supervisor.MaxListeners > supervisor.MaxListeners {
		errs = append(errs, fmt.Errorf("supervisor.max_listeners: %d exceeds the hard cap of %d", c.Supervisor.MaxListeners, supervisor.MaxListeners))
	}
	if c.Fetch.BatchSize > fetch.DefaultBatchSize {
		errs = append(errs, fmt.Errorf("fetch.batch_size: %d exceeds the service limit of %d", c.Fetch.BatchSize, fetch.DefaultBatchSize))
	}
	if f := c.RateLimit.SafeFraction; f > 1 {
		errs = append(errs, fmt.Errorf("rate_limit.safe_fraction: %v must be in (0, 1]", f))
	}
	if f := c.RateLimit.EmergencyFraction; f > 1 {
		errs = append(errs, fmt.Errorf("rate_limit.emergency_fraction: %v must be in (0, 1]", f))
	}

	for _, pool := range c.ProxyPools() {
		if err := pool.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("proxies.%s: %w", pool.Name, err))
		}
	}
	for field, name := range map[string]string{"proxy.stream": c.Proxy.Stream, "proxy.http": c.Proxy.HTTP} {
		if _, ok := c.Proxies[name]; name != "" && !ok {
			errs = append(errs, fmt.Errorf("%s: unknown pool %q", field, name))
		}
	}

	switch c.Adapter.Type {
	case AdapterNone:
	case AdapterWebhook, AdapterRedis:
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url: required for %s adapter", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type: unknown type %q (want webhook or redis)", c.Adapter.Type))
	}

	switch c.Archive.Backend {
	case ArchiveNone:
	case ArchiveFS, ArchiveS3:
		if c.Archive.Path == "" {
			errs = append(errs, fmt.Errorf("archive.path: required for %s backend", c.Archive.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend: unknown backend %q (want none, fs or s3)", c.Archive.Backend))
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// Warnings returns soft issues worth surfacing at startup.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Account.Session == "" {
		warnings = append(warnings, "account.session is empty; listeners will not connect")
	}
	all := c.Searches()
	desired, dropped := supervisor.Desired(all, c.Supervisor.MaxListeners)
	if dup := len(all) - len(desired) - dropped; dup > 0 {
		warnings = append(warnings, fmt.Sprintf("%d duplicate searches ignored", dup))
	}
	if dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d searches exceed the listener cap of %d and will not run", dropped, c.Supervisor.MaxListeners))
	}
	for _, pool := range c.ProxyPools() {
		warnings = append(warnings, pool.Warnings()...)
	}
	return warnings
}

func enabled(p *bool) bool { return p == nil || *p }

// Searches returns every enabled search as a listener config, in file
// order. Duplicates are kept; the supervisor dedupes by key.
func (c *Config) Searches() []types.ListenerConfig {
	var out []types.ListenerConfig
	for _, g := range c.Groups {
		if !enabled(g.Enabled) {
			continue
		}
		for _, s := range g.Searches {
			if !enabled(s.Enabled) || s.Query == "" {
				continue
			}
			league := s.League
			if league == "" {
				league = g.League
			}
			if league == "" {
				league = c.League
			}
			name := s.Name
			if name == "" {
				name = s.Query
			}
			out = append(out, types.ListenerConfig{
				Key:   types.ListenerKey{League: league, QueryID: s.Query},
				Name:  name,
				Group: g.Name,
			})
		}
	}
	return out
}

// Desired implements supervisor.ConfigSource.
func (c *Config) Desired() []types.ListenerConfig {
	return c.Searches()
}

// ListenerLimits converts the limits section.
func (c *Config) ListenerLimits() listener.Limits {
	return listener.Limits{
		AuthCooldown:  c.Limits.AuthCooldown.Duration,
		ErrorCooldown: c.Limits.ErrorCooldown.Duration,
		Throttle:      c.Limits.Throttle.Duration,
		HourlyCap:     c.Limits.HourlyCap,
		LifetimeCap:   c.Limits.LifetimeCap,
	}
}

// BudgetConfig converts the budget section.
func (c *Config) BudgetConfig() budget.Config {
	return budget.Config{
		Grace:         c.Budget.Grace.Duration,
		GraceCeiling:  c.Budget.GraceCeiling,
		SteadyCeiling: c.Budget.SteadyCeiling,
		SteadyWindow:  c.Budget.SteadyWindow.Duration,
	}
}

// GovernorConfig converts the rate_limit section.
func (c *Config) GovernorConfig() ratelimit.Config {
	return ratelimit.Config{
		SafeFraction:      c.RateLimit.SafeFraction,
		EmergencyFraction: c.RateLimit.EmergencyFraction,
	}
}
