package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/justapithecus/livewatch/iox"
	"github.com/justapithecus/livewatch/types"
)

// Outcome classifies the response to a dispatched claim.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeBadRequest  Outcome = "bad_request"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeOther       Outcome = "other"
	// OutcomeUnknown marks a claim that was sent but got no response.
	OutcomeUnknown     Outcome = "unknown"
)

// Recoverable reports whether the runner discards the record and advances.
func (o Outcome) Recoverable() bool {
	return o == OutcomeNotFound || o == OutcomeBadRequest || o == OutcomeUnavailable
}

// ClassifyStatus maps an HTTP status to an Outcome.
func ClassifyStatus(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusNotFound:
		return OutcomeNotFound
	case status == http.StatusBadRequest:
		return OutcomeBadRequest
	case status == http.StatusServiceUnavailable:
		return OutcomeUnavailable
	default:
		return OutcomeOther
	}
}

// Invoker sends the claim for a token. An error means the request could
// not be completed. A *SentError means it reached the server and may have
// taken effect; any other error means nothing was sent.
type Invoker interface {
	Invoke(ctx context.Context, token string) (Outcome, error)
}

// SentError is returned when the claim request was written but the
// response never arrived.
type SentError struct {
	Err error
}

func (e *SentError) Error() string {
	return fmt.Sprintf("claim sent, response lost: %v", e.Err)
}

func (e *SentError) Unwrap() error { return e.Err }

// IsSent reports whether err is a failure after the claim was sent.
func IsSent(err error) bool {
	var sent *SentError
	return errors.As(err, &sent)
}

// HTTPConfig configures HTTPInvoker.
type HTTPConfig struct {
	// URL receives a JSON POST {"token": ...}. Required.
	URL string
	// Session is forwarded as a cookie named CookieName.
	Session    string
	CookieName string
	UserAgent  string
	Header     map[string]string
	Timeout    time.Duration
	// Referer returns the referer for each request; optional.
	Referer func() string
	// Proxy picks the outbound proxy per request; nil means direct.
	Proxy func(*http.Request) (*url.URL, error)
}

// HTTPInvoker is the production Invoker.
type HTTPInvoker struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPInvoker creates an invoker. URL is required.
func NewHTTPInvoker(cfg HTTPConfig) (*HTTPInvoker, error) {
	if cfg.URL == "" {
		return nil, errors.New("action invoker requires a URL")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "POESESSID"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = types.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != nil {
		transport.Proxy = cfg.Proxy
	}
	return &HTTPInvoker{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}, nil
}

// Invoke posts the token and classifies the response status.
func (h *HTTPInvoker) Invoke(ctx context.Context, token string) (Outcome, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return OutcomeOther, fmt.Errorf("marshal claim: %w", err)
	}

	var wrote atomic.Bool
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				wrote.Store(true)
			}
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return OutcomeOther, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", h.cfg.UserAgent)
	for k, v := range h.cfg.Header {
		req.Header.Set(k, v)
	}
	if h.cfg.Referer != nil {
		if ref := h.cfg.Referer(); ref != "" {
			req.Header.Set("Referer", ref)
		}
	}
	if h.cfg.Session != "" {
		req.AddCookie(&http.Cookie{Name: h.cfg.CookieName, Value: h.cfg.Session})
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if wrote.Load() {
			return OutcomeUnknown, &SentError{Err: err}
		}
		return OutcomeOther, fmt.Errorf("request failed: %w", err)
	}
	iox.DrainClose(resp.Body)

	return ClassifyStatus(resp.StatusCode), nil
}

// Close releases idle connections.
func (h *HTTPInvoker) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
