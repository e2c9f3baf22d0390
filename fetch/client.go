// Package fetch turns notified item ids into queued result records.
//
// Client is the HTTP collaborator for the trade service fetch endpoint.
// Pipeline splits notified batches into API-sized sub-batches, paces every
// request through the rate governor and pushes decoded records into the
// result queue.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/justapithecus/livewatch/iox"
	"github.com/justapithecus/livewatch/types"
)

// DefaultTimeout is the per-request timeout of the fetch client.
const DefaultTimeout = 10 * time.Second

// DefaultCookieName carries the session credential.
const DefaultCookieName = "POESESSID"

// maxBodyBytes caps a fetch response body.
const maxBodyBytes = 4 << 20

var (
	// ErrUnavailable is returned for a 503: the remaining sub-batches of
	// the cycle are abandoned.
	ErrUnavailable = errors.New("fetch service temporarily unavailable")
	// ErrGone is returned for 400/404: the items sold or were delisted.
	ErrGone = errors.New("fetch resource gone")
	// ErrOverLimit is returned by Refresh after an over-quota response.
	ErrOverLimit = errors.New("fetch over rate limit")
	// ErrNoToken is returned by Refresh when the result carries no token.
	ErrNoToken = errors.New("fetch result has no token")
)

// StatusError is returned for unexpected non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Response is the part of a fetch response the core reads.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Doer performs one fetch request for ids of a query.
type Doer interface {
	Fetch(ctx context.Context, queryID string, ids []string) (*Response, error)
}

// ClientConfig configures Client.
type ClientConfig struct {
	// BaseURL is the fetch endpoint; ids are appended as a path segment.
	BaseURL string
	// Session is the session credential forwarded as a cookie.
	Session string
	// CookieName defaults to DefaultCookieName.
	CookieName string
	// UserAgent defaults to types.UserAgent.
	UserAgent string
	// Header is added to every request (browser-emulation fields).
	Header map[string]string
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	// Proxy picks the outbound proxy per request; nil means direct.
	Proxy func(*http.Request) (*url.URL, error)
}

// Client is the production Doer.
type Client struct {
	cfg    ClientConfig
	client *http.Client
}

// NewClient creates a fetch client. BaseURL is required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("fetch client requires a base URL")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("fetch client base URL: %w", err)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = types.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != nil {
		transport.Proxy = cfg.Proxy
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}, nil
}

// Fetch issues GET {BaseURL}/{id,id,...}?query={queryID}. Non-2xx
// statuses are returned in the Response, not as errors.
func (c *Client) Fetch(ctx context.Context, queryID string, ids []string) (*Response, error) {
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = url.PathEscape(id)
	}
	target := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.Join(escaped, ",")
	if queryID != "" {
		target += "?query=" + url.QueryEscape(queryID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range c.cfg.Header {
		req.Header.Set(k, v)
	}
	if c.cfg.Session != "" {
		req.AddCookie(&http.Cookie{Name: c.cfg.CookieName, Value: c.cfg.Session})
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// classify maps a status to the package sentinels. nil means 2xx.
func classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusServiceUnavailable:
		return ErrUnavailable
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return ErrGone
	case status == http.StatusTooManyRequests:
		return ErrOverLimit
	default:
		return &StatusError{Code: status}
	}
}
