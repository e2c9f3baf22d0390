// Package runtime wires every livewatch component into one Engine.
//
// The Engine owns the supervisor loop, the shared fetch and claim
// pipelines, downstream adapters and the claim archive. Observers read
// state through Observe; operators act through the command methods.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/livewatch/action"
	"github.com/justapithecus/livewatch/adapter"
	"github.com/justapithecus/livewatch/adapter/redis"
	"github.com/justapithecus/livewatch/adapter/webhook"
	"github.com/justapithecus/livewatch/budget"
	"github.com/justapithecus/livewatch/cli/config"
	"github.com/justapithecus/livewatch/clock"
	"github.com/justapithecus/livewatch/fetch"
	"github.com/justapithecus/livewatch/listener"
	"github.com/justapithecus/livewatch/lode"
	"github.com/justapithecus/livewatch/log"
	"github.com/justapithecus/livewatch/metrics"
	"github.com/justapithecus/livewatch/proxy"
	"github.com/justapithecus/livewatch/queue"
	"github.com/justapithecus/livewatch/ratelimit"
	"github.com/justapithecus/livewatch/supervisor"
	"github.com/justapithecus/livewatch/transport"
	"github.com/justapithecus/livewatch/types"
)

// DefaultShutdownTimeout bounds listener teardown and adapter drain.
const DefaultShutdownTimeout = 5 * time.Second

// Options override collaborators. Zero values build the real ones from
// config.
type Options struct {
	Clock  clock.Clock
	Logger *log.Logger

	// Dialer returns the stream dialer for a listener.
	Dialer func(key types.ListenerKey) transport.Dialer
	// Fetcher replaces the HTTP fetch client.
	Fetcher fetch.Doer
	// Invoker replaces the HTTP claim invoker.
	Invoker action.Invoker
	// Adapter replaces the configured downstream adapter.
	Adapter adapter.Adapter
	// Archive replaces the configured claim archive.
	Archive *lode.Archive
	// Predicate gates claims on external context. Nil always allows.
	Predicate action.ContextPredicate
}

// Engine is one running livewatch process.
type Engine struct {
	cfg       *config.Config
	sessionID string
	clock     clock.Clock
	logger    *log.Logger

	metrics    *metrics.Collector
	budget     *budget.Budget
	governor   *ratelimit.Governor
	queue      *queue.Queue
	lock       *action.Lock
	pipeline   *fetch.Pipeline
	runner     *action.Runner
	supervisor *supervisor.Supervisor
	selector   *proxy.Selector
	events     *adapter.Async
	archive    *lode.Archive
	closers    []io.Closer

	dialer  func(key types.ListenerKey) transport.Dialer
	referer atomic.Pointer[string]

	startedAt time.Time

	mu             sync.Mutex
	runCtx         context.Context
	actionsEnabled bool
	actionsAuto    bool

	bg       sync.WaitGroup
	shutdown sync.Once
}

// New builds an Engine from cfg. cfg must have defaults applied and be
// valid.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	e := &Engine{
		cfg:       cfg,
		sessionID: uuid.New().String(),
		clock:     clk,
		metrics:   metrics.NewCollector(),
		startedAt: clk.Now(),
		runCtx:    context.Background(),

		actionsEnabled: cfg.Action.Enabled,
		actionsAuto:    cfg.Action.Auto,
	}
	e.logger = logger.With(map[string]any{"session_id": e.sessionID})

	e.selector = proxy.NewSelector(clk, e.logger)
	for _, pool := range cfg.ProxyPools() {
		if err := e.selector.RegisterPool(pool); err != nil {
			return nil, fmt.Errorf("proxies.%s: %w", pool.Name, err)
		}
	}

	e.budget = budget.New(cfg.BudgetConfig(), clk)
	e.governor = ratelimit.NewGovernor(cfg.GovernorConfig(), clk, e.logger)
	e.queue = queue.New(cfg.Queue.Capacity)
	e.lock = action.NewLock(cfg.Action.LockTimeout.Duration, clk)

	header := make(map[string]string, len(cfg.Account.Headers))
	for k, v := range cfg.Account.Headers {
		header[k] = v
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		client, err := fetch.NewClient(fetch.ClientConfig{
			BaseURL:    cfg.Endpoints.Fetch,
			Session:    cfg.Account.Session,
			CookieName: cfg.Account.CookieName,
			UserAgent:  cfg.Account.UserAgent,
			Header:     header,
			Timeout:    cfg.Fetch.Timeout.Duration,
			Proxy:      e.selector.ForRequests(cfg.Proxy.HTTP),
		})
		if err != nil {
			return nil, fmt.Errorf("fetch client: %w", err)
		}
		e.closers = append(e.closers, client)
		fetcher = client
	}
	e.pipeline = fetch.NewPipeline(fetch.Config{
		BatchSize: cfg.Fetch.BatchSize,
		Scope:     cfg.RateLimit.Scope,
		OnResults: e.onResults,
	}, fetcher, e.governor, e.queue, clk, e.logger, e.metrics)

	invoker := opts.Invoker
	if invoker == nil {
		h, err := action.NewHTTPInvoker(action.HTTPConfig{
			URL:        cfg.Endpoints.Action,
			Session:    cfg.Account.Session,
			CookieName: cfg.Account.CookieName,
			UserAgent:  cfg.Account.UserAgent,
			Header:     header,
			Timeout:    cfg.Action.Timeout.Duration,
			Referer:    e.Referer,
			Proxy:      e.selector.ForRequests(cfg.Proxy.HTTP),
		})
		if err != nil {
			return nil, fmt.Errorf("action invoker: %w", err)
		}
		e.closers = append(e.closers, h)
		invoker = h
	}
	predicate := opts.Predicate
	if predicate == nil {
		predicate = action.PredicateFunc(func() bool { return true })
	}
	e.runner = action.NewRunner(action.Config{
		Enabled:      cfg.Action.Enabled,
		Auto:         cfg.Action.Auto,
		ExpiryBuffer: cfg.Action.ExpiryBuffer.Duration,
		OnDispatch:   e.onDispatch,
	}, e.queue, e.lock, invoker, e.pipeline, predicate, clk, e.logger, e.metrics)

	downstream := opts.Adapter
	if downstream == nil {
		a, err := buildAdapter(cfg.Adapter, e.selector.ForRequests(cfg.Proxy.HTTP))
		if err != nil {
			return nil, err
		}
		downstream = a
	}
	e.events = adapter.NewAsync(downstream, cfg.Adapter.Timeout.Duration, e.logger)

	e.archive = opts.Archive
	if e.archive == nil {
		a, err := OpenArchive(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		e.archive = a
	}

	e.dialer = opts.Dialer
	if e.dialer == nil {
		e.dialer = func(key types.ListenerKey) transport.Dialer {
			return transport.NewWebsocketDialer(transport.Options{
				Proxy: e.selector.ForListener(cfg.Proxy.Stream, key),
			})
		}
	}

	e.supervisor = supervisor.New(supervisor.Config{
		Interval:     cfg.Supervisor.Interval.Duration,
		MaxListeners: cfg.Supervisor.MaxListeners,
		OnHalt:       e.onHalt,
	}, cfg, e.newListener, e.budget, clk, e.logger)

	return e, nil
}

func buildAdapter(ac config.AdapterConfig, proxyFn proxy.Func) (adapter.Adapter, error) {
	switch ac.Type {
	case config.AdapterWebhook:
		a, err := webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
			Retries: ac.Retries,
			Proxy:   proxyFn,
		})
		if err != nil {
			return nil, fmt.Errorf("adapter: %w", err)
		}
		return a, nil
	case config.AdapterRedis:
		a, err := redis.New(redis.Config{
			URL:     ac.URL,
			Channel: ac.Channel,
			Codec:   redis.Codec(ac.Codec),
			Timeout: ac.Timeout.Duration,
			Retries: ac.Retries,
		})
		if err != nil {
			return nil, fmt.Errorf("adapter: %w", err)
		}
		return a, nil
	}
	return nil, nil
}

// OpenArchive opens the configured claim archive. It returns nil for the
// "none" backend.
func OpenArchive(ctx context.Context, ac config.ArchiveConfig) (*lode.Archive, error) {
	switch ac.Backend {
	case config.ArchiveFS:
		a, err := lode.NewFS(ac.Dataset, ac.Path)
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		return a, nil
	case config.ArchiveS3:
		bucket, prefix := lode.ParseS3Path(ac.Path)
		a, err := lode.NewS3(ctx, ac.Dataset, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       ac.Region,
			Endpoint:     ac.Endpoint,
			UsePathStyle: ac.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		return a, nil
	}
	return nil, nil
}

// SessionID identifies this process in events and archive records.
func (e *Engine) SessionID() string { return e.sessionID }

// Metrics returns the process-wide collector.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Referer returns the search page of the most recently active listener.
func (e *Engine) Referer() string {
	if p := e.referer.Load(); p != nil {
		return *p
	}
	return ""
}

func (e *Engine) context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCtx
}

func (e *Engine) newListener(cfg types.ListenerConfig) supervisor.Listener {
	header := make(http.Header, len(e.cfg.Account.Headers)+1)
	for k, v := range e.cfg.Account.Headers {
		header.Set(k, v)
	}
	header.Set("User-Agent", e.cfg.Account.UserAgent)

	return listener.New(cfg, listener.Options{
		StreamURL:  e.cfg.Endpoints.Stream,
		Session:    e.cfg.Account.Session,
		CookieName: e.cfg.Account.CookieName,
		Header:     header,
		Limits:     e.cfg.ListenerLimits(),
	}, listener.Deps{
		Dialer:   e.dialer(cfg.Key),
		Budget:   e.budget,
		Handler:  e.handle,
		OnActive: e.onActive,
		Clock:    e.clock,
		Logger:   e.logger,
		Metrics:  e.metrics,
	})
}

// handle runs on a listener's ordered worker.
func (e *Engine) handle(ctx context.Context, key types.ListenerKey, ids []string) {
	res, err := e.pipeline.Process(ctx, key, ids)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("fetch cycle aborted", map[string]any{
			"listener": key.String(),
			"error":    err.Error(),
			"enqueued": res.Enqueued,
		})
	}
}

func (e *Engine) onActive(cfg types.ListenerConfig) {
	ref := strings.TrimRight(e.cfg.Endpoints.Referer, "/") + "/" + cfg.Key.League + "/" + cfg.Key.QueryID
	e.referer.Store(&ref)
}

// onResults starts an automatic claim run. Runs are serialized by the
// runner; an overlapping trigger returns busy.
func (e *Engine) onResults(key types.ListenerKey, enqueued int) {
	if enabled, auto := e.actionSwitches(); !enabled || !auto {
		return
	}
	ctx := e.context()
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		res := e.runner.Run(ctx, action.TriggerAutomatic)
		e.logger.Debug("automatic claim run", map[string]any{
			"listener": key.String(),
			"enqueued": enqueued,
			"outcome":  string(res.Outcome),
		})
	}()
}

func (e *Engine) onDispatch(_ context.Context, d action.Dispatch) {
	rec := d.Record
	if d.Outcome == action.OutcomeSuccess {
		e.events.Publish(&adapter.Event{
			ContractVersion: adapter.ContractVersion,
			EventType:       adapter.EventItemClaimed,
			SessionID:       e.sessionID,
			Timestamp:       d.At.UTC().Format(time.RFC3339),
			League:          rec.Listener.League,
			QueryID:         rec.Listener.QueryID,
			RecordID:        rec.ID,
			ItemName:        rec.ItemName,
			TypeLine:        rec.TypeLine,
			Price:           rec.Price.String(),
			Seller:          rec.Seller,
			Trigger:         string(d.Trigger),
		})
	}
	e.writeArchive(lode.NewClaimRecord(e.sessionID, rec, string(d.Outcome), string(d.Trigger), d.At))
}

func (e *Engine) onHalt(_ context.Context, snap budget.Snapshot) {
	e.metrics.IncEmergencyHalt()
	at := snap.HaltedAt
	if at.IsZero() {
		at = e.clock.Now()
	}
	e.events.Publish(&adapter.Event{
		ContractVersion: adapter.ContractVersion,
		EventType:       adapter.EventEmergencyHalt,
		SessionID:       e.sessionID,
		Timestamp:       at.UTC().Format(time.RFC3339),
		Reason:          snap.Reason,
		TotalAttempts:   snap.TotalAttempts,
	})
	e.writeArchive(lode.NewHaltRecord(e.sessionID, snap.Reason, snap.TotalAttempts, at))
}

// writeArchive stores r in the background. Failures are logged and
// counted, never fatal.
func (e *Engine) writeArchive(r lode.ClaimRecord) {
	if e.archive == nil {
		return
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := e.archive.Write(ctx, r); err != nil {
			e.metrics.IncArchiveWriteFailure()
			e.logger.Warn("archive write failed", map[string]any{
				"backend": e.archive.Backend(),
				"kind":    r.RecordKind,
				"error":   err.Error(),
			})
			return
		}
		e.metrics.IncArchiveWriteSuccess()
	}()
}

// Run starts the supervisor loop and blocks until ctx ends, then shuts
// down.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()

	enabled, auto := e.actionSwitches()
	e.logger.Info("engine started", map[string]any{
		"searches": len(e.cfg.Desired()),
		"action":   enabled,
		"auto":     auto,
	})

	err := e.supervisor.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if serr := e.Shutdown(shutdownCtx); serr != nil {
		e.logger.Warn("shutdown incomplete", map[string]any{"error": serr.Error()})
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Tick runs one supervisor pass on the engine context.
func (e *Engine) Tick() supervisor.TickResult {
	return e.supervisor.Tick(e.context())
}

// Shutdown stops every listener, waits for background work bounded by
// ctx, and closes adapters and clients. Safe to call more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error
	e.shutdown.Do(func() {
		if err := e.supervisor.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("listeners: %w", err))
		}

		done := make(chan struct{})
		go func() {
			e.bg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("background work: %w", ctx.Err()))
		}

		if err := e.events.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("adapter: %w", err))
		}
		if e.archive != nil {
			if err := e.archive.Close(); err != nil {
				errs = append(errs, fmt.Errorf("archive: %w", err))
			}
		}
		for _, c := range e.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		e.logger.Info("engine stopped", map[string]any{"uptime": e.clock.Now().Sub(e.startedAt).String()})
	})
	return errors.Join(errs...)
}
