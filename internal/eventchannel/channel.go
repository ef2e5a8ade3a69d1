// Package eventchannel maintains the dashboard's single persistent
// subscription to the push transport. It owns connection state only: inbound
// payloads pass through undecoded beyond the envelope, and all business
// interpretation happens downstream in the notification router.
package eventchannel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rollcall/internal/events"
)

var (
	connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rollcall_eventchannel_connected",
		Help: "1 while the push transport subscription is established",
	})
	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_eventchannel_reconnects_total",
		Help: "Reconnect attempts after a lost subscription",
	})
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_eventchannel_events_total",
		Help: "Inbound push events by envelope type",
	}, []string{"type"})
)

// State is the connection state of the channel.
type State string

const (
	StateOffline      State = "offline"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Reconnection policy defaults.
const (
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffCap  = 30 * time.Second
	DefaultMaxAttempts = 5
)

// Config holds transport and reconnection policy.
type Config struct {
	// URL of the push transport (NATS).
	URL string
	// ProbeURL is the backend liveness endpoint checked before the first
	// connection attempt and before every retry. Empty disables probing.
	ProbeURL     string
	ProbeTimeout time.Duration

	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
}

func (c *Config) applyDefaults() {
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// Callbacks are invoked from the channel's consume goroutine. The generic
// OnEvent fires for every decodable envelope, including unknown types; the
// semantic callbacks fire only for their matching type. Nil callbacks are
// skipped.
type Callbacks struct {
	OnEvent       func(events.Envelope)
	OnRedeemed    func(events.CredentialRedeemed, time.Time)
	OnLifecycle   func(events.IssuerLifecycle, time.Time)
	OnSystemAlert func(events.SystemAlert, time.Time)
	OnStateChange func(State)
}

// Dialer establishes a subscriber connection. onClosed must be invoked when
// the connection is lost so the channel can begin its retry cycle.
type Dialer func(url string, onClosed func()) (events.Subscriber, error)

// NATSDialer is the production dialer. The client's own reconnect machinery
// stays disabled so this package remains the single authority on retry
// policy.
func NATSDialer(url string, onClosed func()) (events.Subscriber, error) {
	return events.NewNATSSubscriber(url,
		nats.ClosedHandler(func(*nats.Conn) { onClosed() }),
	)
}

// Channel is a reconnecting push transport client, modeled as an explicit
// state machine: Connecting -> Connected -> Disconnected, with Disconnected
// either retrying under backoff or settling into Offline once the attempt cap
// is exceeded. Offline is left only by an explicit Connect call.
type Channel struct {
	cfg       Config
	dial      Dialer
	prober    *Prober
	callbacks Callbacks
	logger    *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu         sync.Mutex
	state      State
	generation uint64
	cancelRun  context.CancelFunc
}

// Option configures the Channel.
type Option func(*Channel)

// WithDialer overrides the transport dialer. Used in tests.
func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dial = d }
}

// New creates a channel in the Offline state. Nothing connects until
// Connect is called.
func New(cfg Config, callbacks Callbacks, logger *slog.Logger, opts ...Option) *Channel {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:       cfg,
		dial:      NATSDialer,
		prober:    NewProber(cfg.ProbeURL, cfg.ProbeTimeout),
		callbacks: callbacks,
		logger:    logger,
		baseCtx:   ctx,
		stop:      cancel,
		state:     StateOffline,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts (or restarts) the connection loop. Any loop already running
// is superseded: its generation goes stale and it exits without touching
// state. This is also the only way out of Offline.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.baseCtx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	if c.cancelRun != nil {
		c.cancelRun()
	}
	runCtx, cancel := context.WithCancel(c.baseCtx)
	c.cancelRun = cancel
	c.mu.Unlock()

	go c.run(runCtx, gen)
}

// Close tears the channel down permanently.
func (c *Channel) Close() {
	c.stop()
	c.setState(c.currentGeneration(), StateOffline)
}

func (c *Channel) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// run is the connection loop for one generation. Exactly one run loop is
// live per channel; superseded loops detect their stale generation on the
// next state transition and bail out.
func (c *Channel) run(ctx context.Context, gen uint64) {
	// A backend that is simply down gets one cheap probe, not a retry
	// storm: unreachable before the first attempt means straight to
	// Offline.
	if !c.prober.Reachable(ctx) {
		c.logger.Warn("event backend unreachable, staying offline", "probe_url", c.cfg.ProbeURL)
		c.setState(gen, StateOffline)
		return
	}

	attempt := 0
	delay := c.cfg.BackoffBase
	for {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			reconnectsTotal.Inc()
			if !c.sleep(ctx, delay) {
				return
			}
			delay = nextDelay(delay, c.cfg.BackoffCap)
			// Re-probe before every handshake; a dead backend costs a
			// cheap GET instead of a socket timeout.
			if !c.prober.Reachable(ctx) {
				if c.failAttempt(gen, &attempt) {
					return
				}
				continue
			}
		}

		if !c.setState(gen, StateConnecting) {
			return
		}
		lost := make(chan struct{})
		var lostOnce sync.Once
		sub, err := c.dial(c.cfg.URL, func() {
			lostOnce.Do(func() { close(lost) })
		})
		if err != nil {
			c.logger.Warn("transport connect failed", "error", err, "attempt", attempt)
			if c.failAttempt(gen, &attempt) {
				return
			}
			continue
		}

		msgs, cancelSub, err := sub.Subscribe(events.TopicWildcard)
		if err != nil {
			_ = sub.Close()
			c.logger.Warn("transport subscribe failed", "error", err, "attempt", attempt)
			if c.failAttempt(gen, &attempt) {
				return
			}
			continue
		}

		if !c.setState(gen, StateConnected) {
			cancelSub()
			_ = sub.Close()
			return
		}
		connectedGauge.Set(1)
		attempt = 0
		delay = c.cfg.BackoffBase

		c.consume(ctx, msgs, lost)

		cancelSub()
		_ = sub.Close()
		connectedGauge.Set(0)

		if ctx.Err() != nil {
			return
		}
		if !c.setState(gen, StateDisconnected) {
			return
		}
		attempt = 1
	}
}

// failAttempt records a failed connection attempt. It returns true when the
// loop should stop, either because the attempt cap is exceeded (Offline) or
// the generation went stale.
func (c *Channel) failAttempt(gen uint64, attempt *int) bool {
	*attempt++
	if *attempt > c.cfg.MaxAttempts {
		c.logger.Warn("reconnect attempts exhausted, going offline", "attempts", c.cfg.MaxAttempts)
		c.setState(gen, StateOffline)
		return true
	}
	return !c.setState(gen, StateDisconnected)
}

// consume pumps inbound payloads until the connection is lost or the loop is
// cancelled.
func (c *Channel) consume(ctx context.Context, msgs <-chan []byte, lost <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-lost:
			return
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			c.dispatch(raw)
		}
	}
}

// dispatch decodes the envelope and fans out to callbacks. Unknown types are
// a no-op beyond the generic callback; undecodable payloads are logged and
// dropped.
func (c *Channel) dispatch(raw []byte) {
	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("discarding undecodable push event", "error", err)
		return
	}
	eventsReceived.WithLabelValues(env.Type).Inc()

	if c.callbacks.OnEvent != nil {
		c.callbacks.OnEvent(env)
	}

	switch env.Type {
	case events.TypeCredentialRedeemed:
		if c.callbacks.OnRedeemed == nil {
			return
		}
		var payload events.CredentialRedeemed
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.logger.Warn("discarding malformed redemption event", "error", err)
			return
		}
		c.callbacks.OnRedeemed(payload, env.Timestamp)
	case events.TypeIssuerLifecycle:
		if c.callbacks.OnLifecycle == nil {
			return
		}
		var payload events.IssuerLifecycle
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.logger.Warn("discarding malformed lifecycle event", "error", err)
			return
		}
		c.callbacks.OnLifecycle(payload, env.Timestamp)
	case events.TypeSystemAlert:
		if c.callbacks.OnSystemAlert == nil {
			return
		}
		var payload events.SystemAlert
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.logger.Warn("discarding malformed system alert", "error", err)
			return
		}
		c.callbacks.OnSystemAlert(payload, env.Timestamp)
	default:
		c.logger.Debug("ignoring unknown event type", "type", env.Type)
	}
}

// setState transitions to s if gen is still the live generation. Returns
// false when the generation is stale, signalling the caller to exit.
func (c *Channel) setState(gen uint64, s State) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return false
	}
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed && c.callbacks.OnStateChange != nil {
		c.callbacks.OnStateChange(s)
	}
	return true
}

func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextDelay doubles the backoff delay up to the cap.
func nextDelay(current, cap time.Duration) time.Duration {
	next := current * 2
	if next > cap {
		return cap
	}
	return next
}
