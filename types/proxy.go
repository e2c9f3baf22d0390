package types

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ProxyProtocol is the allowed proxy protocol.
type ProxyProtocol string

const (
	ProxyProtocolHTTP   ProxyProtocol = "http"
	ProxyProtocolHTTPS  ProxyProtocol = "https"
	ProxyProtocolSOCKS5 ProxyProtocol = "socks5"
)

// ProxyStrategy is the proxy selection strategy for pools.
type ProxyStrategy string

const (
	ProxyStrategyRoundRobin ProxyStrategy = "round_robin"
	ProxyStrategyRandom     ProxyStrategy = "random"
	ProxyStrategySticky     ProxyStrategy = "sticky"
)

// ProxyEndpoint is an outbound proxy the stream and fetch clients can dial through.
type ProxyEndpoint struct {
	// Protocol is the proxy protocol.
	Protocol ProxyProtocol `json:"protocol" yaml:"protocol"`
	// Host is the proxy host.
	Host string `json:"host" yaml:"host"`
	// Port is the proxy port (1-65535).
	Port int `json:"port" yaml:"port"`
	// Username is the optional username for authentication.
	Username *string `json:"username,omitempty" yaml:"username,omitempty"`
	// Password is the optional password for authentication.
	Password *string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Validate validates a proxy endpoint.
func (p *ProxyEndpoint) Validate() error {
	switch p.Protocol {
	case ProxyProtocolHTTP, ProxyProtocolHTTPS, ProxyProtocolSOCKS5:
		// valid
	default:
		return fmt.Errorf("invalid protocol %q: must be http, https, or socks5", p.Protocol)
	}

	if p.Host == "" {
		return fmt.Errorf("host is required")
	}

	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", p.Port)
	}

	hasUsername := p.Username != nil && *p.Username != ""
	hasPassword := p.Password != nil && *p.Password != ""
	if hasUsername != hasPassword {
		return fmt.Errorf("username and password must be provided together")
	}

	return nil
}

// URL returns the endpoint as a proxy URL suitable for http.Transport.Proxy
// and websocket.Dialer.Proxy.
func (p *ProxyEndpoint) URL() *url.URL {
	u := &url.URL{
		Scheme: string(p.Protocol),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if p.Username != nil && *p.Username != "" && p.Password != nil {
		u.User = url.UserPassword(*p.Username, *p.Password)
	}
	return u
}

// Redact returns a copy of the endpoint without the password.
func (p *ProxyEndpoint) Redact() ProxyEndpointRedacted {
	return ProxyEndpointRedacted{
		Protocol: p.Protocol,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
	}
}

// ProxyEndpointRedacted is a proxy endpoint without password, safe to log.
type ProxyEndpointRedacted struct {
	Protocol ProxyProtocol `json:"protocol"`
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Username *string       `json:"username,omitempty"`
}

// ProxySticky is sticky configuration for a proxy pool.
// Sticky keys are listener keys: a listener keeps its endpoint across reconnects.
type ProxySticky struct {
	// TTLMs is the optional TTL in milliseconds for sticky entries.
	TTLMs *int64 `json:"ttl_ms,omitempty" yaml:"ttl_ms,omitempty"`
}

// ProxyPool defines a pool and rotation policy.
type ProxyPool struct {
	// Name is the pool name (unique identifier).
	Name string `json:"name" yaml:"name"`
	// Strategy is the selection strategy.
	Strategy ProxyStrategy `json:"strategy" yaml:"strategy"`
	// Endpoints is the list of available endpoints (must have at least one).
	Endpoints []ProxyEndpoint `json:"endpoints" yaml:"endpoints"`
	// Sticky is the optional sticky configuration.
	Sticky *ProxySticky `json:"sticky,omitempty" yaml:"sticky,omitempty"`
}

// Validate validates a proxy pool.
func (p *ProxyPool) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pool name is required")
	}

	switch p.Strategy {
	case ProxyStrategyRoundRobin, ProxyStrategyRandom, ProxyStrategySticky:
		// valid
	default:
		return fmt.Errorf("invalid strategy %q: must be round_robin, random, or sticky", p.Strategy)
	}

	if len(p.Endpoints) == 0 {
		return fmt.Errorf("pool must have at least one endpoint")
	}

	for i, ep := range p.Endpoints {
		if err := ep.Validate(); err != nil {
			return fmt.Errorf("endpoints[%d]: %w", i, err)
		}
	}

	if p.Sticky != nil && p.Sticky.TTLMs != nil && *p.Sticky.TTLMs <= 0 {
		return fmt.Errorf("sticky TTL must be positive")
	}

	return nil
}

// LargePoolThreshold is the number of endpoints above which round_robin
// is discouraged in favor of random.
const LargePoolThreshold = 50

// Warnings returns soft, non-fatal issues that should be surfaced to users.
func (p *ProxyPool) Warnings() []string {
	var warnings []string

	if p.Strategy == ProxyStrategyRoundRobin && len(p.Endpoints) > LargePoolThreshold {
		warnings = append(warnings, fmt.Sprintf("pool %q has %d endpoints with round_robin strategy; consider random for large pools", p.Name, len(p.Endpoints)))
	}

	if p.Strategy == ProxyStrategySticky && len(p.Endpoints) == 1 {
		warnings = append(warnings, fmt.Sprintf("pool %q uses sticky strategy with a single endpoint; every listener shares it", p.Name))
	}

	return warnings
}
