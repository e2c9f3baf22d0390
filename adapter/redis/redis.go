// Package redis publishes events on a Redis pub/sub channel.
//
// Payloads are JSON by default or msgpack when configured. Failed
// publishes are retried with exponential backoff.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/livewatch/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "livewatch:events"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Codec names a payload encoding.
type Codec string

const (
	CodecJSON    Codec = "json"
	CodecMsgpack Codec = "msgpack"
)

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: livewatch:events).
	Channel string
	// Codec is the payload encoding (default json).
	Codec Codec
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3 when nil).
	Retries *int
}

// Adapter publishes events via Redis PUBLISH.
type Adapter struct {
	config  Config
	retries int
	encode  func(*adapter.Event) ([]byte, error)
	client  *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	retries := DefaultRetries
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}
	if retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", retries)
	}

	var encode func(*adapter.Event) ([]byte, error)
	switch cfg.Codec {
	case "", CodecJSON:
		cfg.Codec = CodecJSON
		encode = func(e *adapter.Event) ([]byte, error) { return json.Marshal(e) }
	case CodecMsgpack:
		encode = func(e *adapter.Event) ([]byte, error) { return msgpack.Marshal(e) }
	default:
		return nil, fmt.Errorf("redis adapter: unknown codec %q (want json or msgpack)", cfg.Codec)
	}

	return &Adapter{
		config:  cfg,
		retries: retries,
		encode:  encode,
		client:  goredis.NewClient(opts),
	}, nil
}

// Publish encodes the event and PUBLISHes it to the configured channel.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	body, err := a.encode(event)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	var lastErr error
	attempts := 1 + a.retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		lastErr = a.client.Publish(publishCtx, a.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
