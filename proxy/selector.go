// Package proxy selects outbound proxies from configured pools.
//
// Stream sessions pin an endpoint per listener key (sticky) so a listener
// reconnects through the same exit; fetch and action requests rotate
// through the pool per request.
package proxy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/justapithecus/livewatch/clock"
	"github.com/justapithecus/livewatch/log"
	"github.com/justapithecus/livewatch/types"
)

// Func is the proxy hook shape of http.Transport and websocket.Dialer.
type Func func(*http.Request) (*url.URL, error)

// Selector manages proxy selection from pools. Safe for concurrent use.
type Selector struct {
	clock  clock.Clock
	logger *log.Logger

	mu    sync.Mutex
	pools map[string]*poolState
}

type poolState struct {
	pool    types.ProxyPool
	rrIndex int64
	sticky  map[string]stickyEntry
}

type stickyEntry struct {
	endpointIdx int
	expiresAt   time.Time // zero means no expiry
}

// NewSelector creates a selector.
func NewSelector(clk clock.Clock, logger *log.Logger) *Selector {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Selector{
		clock:  clk,
		logger: logger.With(map[string]any{"component": "proxy"}),
		pools:  make(map[string]*poolState),
	}
}

// RegisterPool validates and registers pool, logging soft warnings.
func (s *Selector) RegisterPool(pool types.ProxyPool) error {
	if err := pool.Validate(); err != nil {
		return fmt.Errorf("pool validation failed: %w", err)
	}
	for _, w := range pool.Warnings() {
		s.logger.Warn(w, map[string]any{"pool": pool.Name})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[pool.Name] = &poolState{
		pool:   pool,
		sticky: make(map[string]stickyEntry),
	}
	return nil
}

// SelectRequest contains parameters for endpoint selection.
type SelectRequest struct {
	// Pool is the pool name to select from.
	Pool string
	// StrategyOverride optionally overrides the pool's strategy.
	StrategyOverride types.ProxyStrategy
	// StickyKey is required for sticky selection.
	StickyKey string
	// Commit advances rotation state. When false, Select only peeks.
	Commit bool
}

// Select picks an endpoint from the named pool.
func (s *Selector) Select(req SelectRequest) (*types.ProxyEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.pools[req.Pool]
	if !ok {
		return nil, fmt.Errorf("pool %q not found", req.Pool)
	}

	strategy := state.pool.Strategy
	if req.StrategyOverride != "" {
		strategy = req.StrategyOverride
	}

	var idx int
	var err error
	switch strategy {
	case types.ProxyStrategyRoundRobin:
		idx = state.roundRobin(req.Commit)
	case types.ProxyStrategyRandom:
		idx, err = state.random()
	case types.ProxyStrategySticky:
		idx, err = state.stick(req.StickyKey, s.clock.Now(), req.Commit)
	default:
		err = fmt.Errorf("unknown strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}

	ep := state.pool.Endpoints[idx]
	return &ep, nil
}

func (p *poolState) roundRobin(commit bool) int {
	idx := int(p.rrIndex % int64(len(p.pool.Endpoints)))
	if commit {
		p.rrIndex++
	}
	return idx
}

func (p *poolState) random() (int, error) {
	n := len(p.pool.Endpoints)
	if n == 1 {
		return 0, nil
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random selection failed: %w", err)
	}
	return int(v.Int64()), nil
}

func (p *poolState) stick(key string, now time.Time, commit bool) (int, error) {
	if key == "" {
		return 0, errors.New("sticky selection requires a sticky key")
	}
	if e, ok := p.sticky[key]; ok {
		if e.expiresAt.IsZero() || e.expiresAt.After(now) {
			return e.endpointIdx, nil
		}
		delete(p.sticky, key)
	}

	// New assignments spread by round-robin so listeners fan out evenly.
	idx := p.roundRobin(commit)
	if commit {
		e := stickyEntry{endpointIdx: idx}
		if p.pool.Sticky != nil && p.pool.Sticky.TTLMs != nil {
			e.expiresAt = now.Add(time.Duration(*p.pool.Sticky.TTLMs) * time.Millisecond)
		}
		p.sticky[key] = e
	}
	return idx, nil
}

// ForListener returns a proxy hook that pins key to one endpoint of pool.
// An empty pool name returns nil (direct connection).
func (s *Selector) ForListener(pool string, key types.ListenerKey) Func {
	if s == nil || pool == "" {
		return nil
	}
	return func(*http.Request) (*url.URL, error) {
		ep, err := s.Select(SelectRequest{
			Pool:             pool,
			StrategyOverride: types.ProxyStrategySticky,
			StickyKey:        key.String(),
			Commit:           true,
		})
		if err != nil {
			return nil, err
		}
		return ep.URL(), nil
	}
}

// ForRequests returns a proxy hook that selects per request using the
// pool's own strategy, with sticky pools keyed by request host.
func (s *Selector) ForRequests(pool string) Func {
	if s == nil || pool == "" {
		return nil
	}
	return func(r *http.Request) (*url.URL, error) {
		ep, err := s.Select(SelectRequest{Pool: pool, StickyKey: r.URL.Host, Commit: true})
		if err != nil {
			return nil, err
		}
		return ep.URL(), nil
	}
}

// PoolStats reports a pool's rotation state.
type PoolStats struct {
	RoundRobinIndex int64
	StickyEntries   int
}

// Stats returns statistics for a pool.
func (s *Selector) Stats(pool string) (PoolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.pools[pool]
	if !ok {
		return PoolStats{}, fmt.Errorf("pool %q not found", pool)
	}
	return PoolStats{RoundRobinIndex: state.rrIndex, StickyEntries: len(state.sticky)}, nil
}

// CleanExpiredSticky removes expired sticky entries from all pools.
func (s *Selector) CleanExpiredSticky() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for _, state := range s.pools {
		for key, e := range state.sticky {
			if !e.expiresAt.IsZero() && !e.expiresAt.After(now) {
				delete(state.sticky, key)
				removed++
			}
		}
	}
	return removed
}
