// Package listener owns one live-search stream session.
//
// A Listener moves Idle → Connecting → Running → Disconnected/Errored →
// CoolingDown → Idle. Start evaluates the attempt gates and admits the
// attempt atomically under the listener lock; a refused start is a no-op.
// Notification batches are handed to an ordered worker so the receive
// loop never waits on fetch pacing.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/livewatch/budget"
	"github.com/justapithecus/livewatch/clock"
	"github.com/justapithecus/livewatch/log"
	"github.com/justapithecus/livewatch/metrics"
	"github.com/justapithecus/livewatch/transport"
	"github.com/justapithecus/livewatch/types"
)

// ErrMissingCredential is recorded when no session credential is configured.
var ErrMissingCredential = errors.New("session credential missing")

// Handler processes one notification batch. Batches of a listener are
// delivered one at a time in arrival order.
type Handler func(ctx context.Context, key types.ListenerKey, ids []string)

// Options configures a Listener.
type Options struct {
	// StreamURL is the live endpoint; "/{league}/{query}" is appended.
	StreamURL string
	// Session is the credential forwarded as a cookie.
	Session    string
	CookieName string
	// Header is forwarded on the handshake (browser-emulation fields).
	Header http.Header
	Limits Limits
	// CloseGrace bounds the close handshake on Stop.
	CloseGrace time.Duration
}

// Deps are the collaborators of a Listener. Budget, Dialer and Handler
// are required.
type Deps struct {
	Dialer  transport.Dialer
	Budget  *budget.Budget
	Handler Handler
	// OnActive is called when a session is established.
	OnActive func(cfg types.ListenerConfig)
	Clock    clock.Clock
	Logger   *log.Logger
	Metrics  *metrics.Collector
}

// Listener runs one stream session at a time for its config.
type Listener struct {
	cfg  types.ListenerConfig
	opts Options
	deps Deps

	logger atomic.Pointer[log.Logger]

	mu            sync.Mutex
	phase         types.Phase
	lastAttempt   time.Time
	lastErrorTime time.Time
	lastError     string
	authError     bool
	attempts      int
	hourly        hourlyCounter
	notifications int64
	stopped       bool
	session       transport.Session
	cancel        context.CancelFunc

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an idle Listener.
func New(cfg types.ListenerConfig, opts Options, deps Deps) *Listener {
	opts.Limits = opts.Limits.withDefaults()
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = transport.DefaultCloseGrace
	}
	if opts.CookieName == "" {
		opts.CookieName = "POESESSID"
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = log.Nop()
	}

	l := &Listener{
		cfg:   cfg,
		opts:  opts,
		deps:  deps,
		phase: types.PhaseIdle,
		done:  make(chan struct{}),
	}
	l.logger.Store(deps.Logger.With(map[string]any{
		"component": "listener",
		"listener":  cfg.Key.String(),
	}))
	return l
}

// Config returns the listener's config.
func (l *Listener) Config() types.ListenerConfig { return l.cfg }

// Key returns the listener's identity.
func (l *Listener) Key() types.ListenerKey { return l.cfg.Key }

func (l *Listener) log() *log.Logger { return l.logger.Load() }

// CanStart evaluates the gates without side effects. The global budget
// only refuses while halted: an attempt over the ceiling must reach Start
// so that Admit can trip the emergency halt.
func (l *Listener) CanStart() (bool, Gate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	gate := l.gateLocked(l.deps.Clock.Now())
	if gate == GateNone && l.deps.Budget.Halted() {
		gate = GateBudget
	}
	return gate == GateNone, gate
}

// gateLocked checks every gate except the global budget.
func (l *Listener) gateLocked(now time.Time) Gate {
	switch {
	case l.stopped:
		return GateStopped
	case l.cfg.Validate() != nil || l.opts.Session == "":
		return GateIdentity
	case l.phase.IsActive():
		return GateActive
	case l.cooldownLocked(now) > 0:
		return GateCooldown
	case !l.lastAttempt.IsZero() && now.Sub(l.lastAttempt) < l.opts.Limits.Throttle:
		return GateThrottle
	case l.hourly.at(now).count >= l.opts.Limits.HourlyCap:
		return GateHourly
	case l.attempts >= l.opts.Limits.LifetimeCap:
		return GateLifetime
	}
	return GateNone
}

func (l *Listener) cooldownLocked(now time.Time) time.Duration {
	if l.lastErrorTime.IsZero() {
		return 0
	}
	cooldown := l.opts.Limits.ErrorCooldown
	if l.authError {
		cooldown = l.opts.Limits.AuthCooldown
	}
	return max(0, cooldown-now.Sub(l.lastErrorTime))
}

// Start admits and launches a connection attempt if every gate passes.
// It returns whether an attempt was started. A missing identity or
// credential records the error and leaves the listener idle.
func (l *Listener) Start(ctx context.Context) (bool, Gate) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.deps.Clock.Now()
	gate := l.gateLocked(now)
	if gate == GateIdentity {
		err := l.cfg.Validate()
		if err == nil {
			err = ErrMissingCredential
		}
		l.phase = types.PhaseIdle
		l.lastError = err.Error()
		return false, gate
	}
	if gate != GateNone {
		return false, gate
	}
	if err := l.deps.Budget.Admit(); err != nil {
		return false, GateBudget
	}

	l.lastAttempt = now
	l.attempts++
	l.hourly = l.hourly.at(now)
	l.hourly.count++
	l.phase = types.PhaseConnecting

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.deps.Metrics.IncConnectAttempt()
	l.log().Info("connecting", map[string]any{"attempt": l.attempts})

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(runCtx)
	}()
	return true, GateNone
}

func (l *Listener) streamURI() string {
	return strings.TrimRight(l.opts.StreamURL, "/") + "/" +
		url.PathEscape(l.cfg.Key.League) + "/" + url.PathEscape(l.cfg.Key.QueryID)
}

func (l *Listener) handshakeHeader() http.Header {
	header := l.opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Cookie", (&http.Cookie{Name: l.opts.CookieName, Value: l.opts.Session}).String())
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", types.UserAgent)
	}
	return header
}

func (l *Listener) run(ctx context.Context) {
	sess, err := l.deps.Dialer.Connect(ctx, l.streamURI(), l.handshakeHeader())
	if err != nil {
		l.fail(ctx, types.PhaseErrored, err)
		return
	}

	l.mu.Lock()
	if l.stopped || ctx.Err() != nil {
		l.mu.Unlock()
		_ = sess.Close(l.opts.CloseGrace)
		return
	}
	l.session = sess
	l.phase = types.PhaseRunning
	l.authError = false
	l.lastError = ""
	l.mu.Unlock()

	l.deps.Metrics.IncConnectSuccess()
	l.log().Info("stream running", nil)
	if l.deps.OnActive != nil {
		l.deps.OnActive(l.cfg)
	}

	batches := newWorkQueue()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.drain(ctx, batches)
	}()
	defer batches.close()

	for {
		payload, err := sess.Receive(ctx)
		if err != nil {
			l.fail(ctx, types.PhaseDisconnected, err)
			return
		}
		l.deps.Metrics.IncFrameReceived()

		msg, ok, err := decodeMessage(payload)
		if err != nil {
			l.deps.Metrics.IncFrameDecodeError()
			l.log().Warn("skipping malformed frame", map[string]any{"error": err.Error()})
			continue
		}
		if !ok {
			continue
		}
		if msg.authRejected() {
			l.fail(ctx, types.PhaseErrored, transport.ErrUnauthorized)
			return
		}
		if len(msg.New) > 0 {
			l.mu.Lock()
			l.notifications += int64(len(msg.New))
			l.mu.Unlock()
			l.deps.Metrics.AddItemsNotified(len(msg.New))
			batches.push(msg.New)
		}
	}
}

// drain delivers batches to the handler in arrival order.
func (l *Listener) drain(ctx context.Context, q *workQueue) {
	for {
		batch, ok := q.pop(ctx)
		if !ok {
			return
		}
		l.deps.Handler(ctx, l.cfg.Key, batch)
	}
}

// fail records a connect or session failure. Late failures after Stop or
// after the context was cancelled are ignored.
func (l *Listener) fail(ctx context.Context, phase types.Phase, err error) {
	l.mu.Lock()
	if l.stopped || ctx.Err() != nil {
		l.mu.Unlock()
		return
	}
	wasRunning := l.phase == types.PhaseRunning
	auth := transport.IsAuthFailure(err)
	l.phase = phase
	l.lastErrorTime = l.deps.Clock.Now()
	l.lastError = err.Error()
	l.authError = auth
	sess := l.session
	l.session = nil
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		_ = sess.Close(l.opts.CloseGrace)
	}

	if wasRunning {
		l.deps.Metrics.IncDisconnect()
	} else {
		l.deps.Metrics.IncConnectFailure(auth)
	}
	l.log().Warn("stream failed", map[string]any{
		"phase": string(phase),
		"auth":  auth,
		"error": err.Error(),
	})
}

// Stop tears the listener down without blocking: it flips the state,
// silences the logger, cancels in-flight work and closes the session in
// the background with a bounded grace. Done closes when teardown ends.
// A stopped listener cannot be restarted.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.phase = types.PhaseIdle
		sess := l.session
		l.session = nil
		cancel := l.cancel
		l.mu.Unlock()

		l.logger.Store(log.Nop())
		if cancel != nil {
			cancel()
		}

		go func() {
			if sess != nil {
				_ = sess.Close(l.opts.CloseGrace)
			}
			l.wg.Wait()
			close(l.done)
		}()
	})
}

// Done is closed once a stopped listener finished teardown.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Stopped reports whether Stop was called.
func (l *Listener) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Snapshot returns a read-only view of the listener state.
func (l *Listener) Snapshot() types.ListenerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.deps.Clock.Now()
	phase := l.phase
	cooldown := time.Duration(0)
	if phase == types.PhaseErrored || phase == types.PhaseDisconnected {
		cooldown = l.cooldownLocked(now)
		if cooldown > 0 {
			phase = types.PhaseCoolingDown
		} else {
			phase = types.PhaseIdle
		}
	}
	return types.ListenerSnapshot{
		Config:            l.cfg,
		Phase:             phase,
		LastAttempt:       l.lastAttempt,
		LastErrorTime:     l.lastErrorTime,
		LastError:         l.lastError,
		AuthError:         l.authError,
		AttemptCount:      l.attempts,
		HourlyCount:       l.hourly.at(now).count,
		CooldownRemaining: cooldown,
		NotificationsSeen: l.notifications,
	}
}

// String implements fmt.Stringer for log output.
func (l *Listener) String() string {
	return fmt.Sprintf("listener(%s)", l.cfg.Key)
}
