package types

import (
	"testing"
)

func strPtr(s string) *string { return &s }

func TestProxyEndpoint_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ep      ProxyEndpoint
		wantErr bool
	}{
		{"valid http", ProxyEndpoint{Protocol: ProxyProtocolHTTP, Host: "p.example.com", Port: 8080}, false},
		{"bad protocol", ProxyEndpoint{Protocol: "ftp", Host: "p.example.com", Port: 8080}, true},
		{"missing host", ProxyEndpoint{Protocol: ProxyProtocolHTTP, Port: 8080}, true},
		{"port zero", ProxyEndpoint{Protocol: ProxyProtocolHTTP, Host: "p.example.com", Port: 0}, true},
		{"username without password", ProxyEndpoint{Protocol: ProxyProtocolHTTP, Host: "p.example.com", Port: 8080, Username: strPtr("u")}, true},
		{"auth pair", ProxyEndpoint{Protocol: ProxyProtocolSOCKS5, Host: "p.example.com", Port: 1080, Username: strPtr("u"), Password: strPtr("p")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ep.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProxyEndpoint_URL(t *testing.T) {
	ep := ProxyEndpoint{
		Protocol: ProxyProtocolSOCKS5,
		Host:     "proxy.example.com",
		Port:     1080,
		Username: strPtr("user"),
		Password: strPtr("secret"),
	}

	u := ep.URL()
	if u.Scheme != "socks5" {
		t.Errorf("scheme = %q, want socks5", u.Scheme)
	}
	if u.Host != "proxy.example.com:1080" {
		t.Errorf("host = %q, want proxy.example.com:1080", u.Host)
	}
	if pw, ok := u.User.Password(); !ok || pw != "secret" {
		t.Errorf("password not carried in URL")
	}

	redacted := ep.Redact()
	if redacted.Host != ep.Host || redacted.Username == nil {
		t.Errorf("redacted endpoint lost fields: %+v", redacted)
	}
}

func TestProxyPool_Warnings_LargeRoundRobin(t *testing.T) {
	endpoints := make([]ProxyEndpoint, LargePoolThreshold+1)
	for i := range endpoints {
		endpoints[i] = ProxyEndpoint{
			Protocol: ProxyProtocolHTTP,
			Host:     "proxy.example.com",
			Port:     8080 + i,
		}
	}

	pool := &ProxyPool{
		Name:      "large-pool",
		Strategy:  ProxyStrategyRoundRobin,
		Endpoints: endpoints,
	}

	if len(pool.Warnings()) != 1 {
		t.Errorf("expected warning for large round_robin pool, got %v", pool.Warnings())
	}
}

func TestProxyPool_Warnings_LargeRandom(t *testing.T) {
	endpoints := make([]ProxyEndpoint, LargePoolThreshold+1)
	for i := range endpoints {
		endpoints[i] = ProxyEndpoint{
			Protocol: ProxyProtocolHTTP,
			Host:     "proxy.example.com",
			Port:     8080 + i,
		}
	}

	pool := &ProxyPool{
		Name:      "large-pool",
		Strategy:  ProxyStrategyRandom,
		Endpoints: endpoints,
	}

	if warnings := pool.Warnings(); len(warnings) != 0 {
		t.Errorf("expected 0 warnings for large random pool, got %d", len(warnings))
	}
}

func TestProxyPool_Warnings_SingleSticky(t *testing.T) {
	pool := &ProxyPool{
		Name:     "sticky-pool",
		Strategy: ProxyStrategySticky,
		Endpoints: []ProxyEndpoint{
			{Protocol: ProxyProtocolHTTP, Host: "proxy.example.com", Port: 8080},
		},
	}

	if warnings := pool.Warnings(); len(warnings) != 1 {
		t.Errorf("expected 1 warning for single-endpoint sticky pool, got %d", len(warnings))
	}
}

func TestProxyPool_Validate(t *testing.T) {
	ttl := int64(0)
	pool := &ProxyPool{
		Name:      "p",
		Strategy:  ProxyStrategySticky,
		Endpoints: []ProxyEndpoint{{Protocol: ProxyProtocolHTTP, Host: "h", Port: 1}},
		Sticky:    &ProxySticky{TTLMs: &ttl},
	}
	if err := pool.Validate(); err == nil {
		t.Error("expected error for non-positive sticky TTL")
	}

	pool.Sticky = nil
	if err := pool.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	pool.Endpoints = nil
	if err := pool.Validate(); err == nil {
		t.Error("expected error for empty pool")
	}
}
