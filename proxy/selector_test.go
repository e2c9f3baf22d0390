package proxy

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/justapithecus/livewatch/clock"
	"github.com/justapithecus/livewatch/types"
)

func endpoints(hosts ...string) []types.ProxyEndpoint {
	out := make([]types.ProxyEndpoint, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, types.ProxyEndpoint{Protocol: types.ProxyProtocolHTTP, Host: h, Port: 8080})
	}
	return out
}

func newSelector(t *testing.T, clk clock.Clock, pool types.ProxyPool) *Selector {
	t.Helper()
	s := NewSelector(clk, nil)
	if err := s.RegisterPool(pool); err != nil {
		t.Fatalf("RegisterPool: %v", err)
	}
	return s
}

func TestSelector_RoundRobin(t *testing.T) {
	s := newSelector(t, nil, types.ProxyPool{
		Name:      "pool",
		Strategy:  types.ProxyStrategyRoundRobin,
		Endpoints: endpoints("p1", "p2", "p3"),
	})

	want := []string{"p1", "p2", "p3", "p1", "p2"}
	for i, w := range want {
		ep, err := s.Select(SelectRequest{Pool: "pool", Commit: true})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if ep.Host != w {
			t.Errorf("select %d = %q, want %q", i, ep.Host, w)
		}
	}
}

func TestSelector_PeekDoesNotAdvance(t *testing.T) {
	s := newSelector(t, nil, types.ProxyPool{
		Name:      "pool",
		Strategy:  types.ProxyStrategyRoundRobin,
		Endpoints: endpoints("p1", "p2"),
	})
	for range 3 {
		ep, err := s.Select(SelectRequest{Pool: "pool"})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if ep.Host != "p1" {
			t.Fatalf("peek = %q, want p1", ep.Host)
		}
	}
	stats, err := s.Stats("pool")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.RoundRobinIndex != 0 {
		t.Errorf("rr index = %d, want 0", stats.RoundRobinIndex)
	}
}

func TestSelector_Random(t *testing.T) {
	s := newSelector(t, nil, types.ProxyPool{
		Name:      "pool",
		Strategy:  types.ProxyStrategyRandom,
		Endpoints: endpoints("p1", "p2", "p3"),
	})
	valid := map[string]bool{"p1": true, "p2": true, "p3": true}
	for range 20 {
		ep, err := s.Select(SelectRequest{Pool: "pool", Commit: true})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if !valid[ep.Host] {
			t.Fatalf("unexpected host %q", ep.Host)
		}
	}
}

func TestSelector_StickyPerKeyWithTTL(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	ttl := int64(60_000)
	s := newSelector(t, clk, types.ProxyPool{
		Name:      "pool",
		Strategy:  types.ProxyStrategySticky,
		Endpoints: endpoints("p1", "p2"),
		Sticky:    &types.ProxySticky{TTLMs: &ttl},
	})

	pick := func(key string) string {
		t.Helper()
		ep, err := s.Select(SelectRequest{Pool: "pool", StickyKey: key, Commit: true})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		return ep.Host
	}

	a := pick("Standard/a")
	b := pick("Standard/b")
	if a == b {
		t.Errorf("new keys should spread across endpoints, both got %q", a)
	}
	for range 5 {
		if got := pick("Standard/a"); got != a {
			t.Fatalf("sticky key moved from %q to %q", a, got)
		}
	}

	clk.Advance(2 * time.Minute)
	if n := s.CleanExpiredSticky(); n != 2 {
		t.Errorf("cleaned = %d, want 2", n)
	}
	stats, _ := s.Stats("pool")
	if stats.StickyEntries != 0 {
		t.Errorf("sticky entries = %d, want 0", stats.StickyEntries)
	}
}

func TestSelector_StickyRequiresKey(t *testing.T) {
	s := newSelector(t, nil, types.ProxyPool{
		Name:      "pool",
		Strategy:  types.ProxyStrategySticky,
		Endpoints: endpoints("p1"),
	})
	if _, err := s.Select(SelectRequest{Pool: "pool", Commit: true}); err == nil {
		t.Fatal("expected error without sticky key")
	}
}

func TestSelector_Errors(t *testing.T) {
	s := NewSelector(nil, nil)
	if _, err := s.Select(SelectRequest{Pool: "missing"}); err == nil {
		t.Error("expected error for unknown pool")
	}
	if err := s.RegisterPool(types.ProxyPool{Name: "bad", Strategy: types.ProxyStrategyRandom}); err == nil {
		t.Error("expected validation error for empty pool")
	}
	if _, err := s.Stats("missing"); err == nil {
		t.Error("expected error for unknown pool stats")
	}
}

func TestForListener_PinsEndpoint(t *testing.T) {
	s := newSelector(t, nil, types.ProxyPool{
		Name:      "pool",
		Strategy:  types.ProxyStrategyRoundRobin,
		Endpoints: endpoints("p1", "p2", "p3"),
	})
	key := types.ListenerKey{League: "Standard", QueryID: "abc"}
	fn := s.ForListener("pool", key)
	req := httptest.NewRequest("GET", "wss://stream.example.com/live", nil)

	first, err := fn(req)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	for range 3 {
		u, err := fn(req)
		if err != nil {
			t.Fatalf("proxy: %v", err)
		}
		if u.String() != first.String() {
			t.Fatalf("listener proxy moved from %s to %s", first, u)
		}
	}
	if first.Scheme != "http" || first.Port() != "8080" {
		t.Errorf("url = %s", first)
	}

	if s.ForListener("", key) != nil {
		t.Error("empty pool should mean direct connection")
	}
}

func TestForRequests_Rotates(t *testing.T) {
	s := newSelector(t, nil, types.ProxyPool{
		Name:      "pool",
		Strategy:  types.ProxyStrategyRoundRobin,
		Endpoints: endpoints("p1", "p2"),
	})
	fn := s.ForRequests("pool")
	req := httptest.NewRequest("GET", "https://trade.example.com/fetch/1", nil)

	u1, _ := fn(req)
	u2, _ := fn(req)
	if u1.Hostname() == u2.Hostname() {
		t.Errorf("requests should rotate, both used %s", u1.Hostname())
	}
}
