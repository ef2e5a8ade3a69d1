// Package issuer owns the rotating current/next credential pair, the
// rotation loop, and the bounded issuance history shown on the station
// dashboard.
package issuer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rollcall/internal/credential"
	"rollcall/internal/events"
)

var (
	rotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_credential_rotations_total",
		Help: "Total number of credential rotations performed by this station",
	})
	credentialsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_credentials_issued_total",
		Help: "Total number of credentials minted (current and pre-issued next)",
	})
)

// DefaultHistoryCapacity bounds the issuance history ring.
const DefaultHistoryCapacity = 10

// EntryStatus tracks the lifecycle of a history entry.
type EntryStatus string

const (
	StatusActive  EntryStatus = "active"
	StatusExpired EntryStatus = "expired"
	StatusStopped EntryStatus = "stopped"
)

// HistoryEntry records one issuance for the dashboard history view.
type HistoryEntry struct {
	Credential  credential.Credential
	GeneratedAt time.Time
	Status      EntryStatus
}

// Config holds issuer policy.
type Config struct {
	BoundaryTag     string
	Station         string
	TTL             time.Duration
	HistoryCapacity int
}

// Issuer mints a current and a pre-computed next credential and rotates on a
// timer. The pre-issued next means the display never shows an expired code
// even under scheduler jitter; a next credential is inert until promoted.
type Issuer struct {
	mu sync.Mutex

	cfg     Config
	clock   func() time.Time
	logger  *slog.Logger
	publish events.Publisher

	current credential.Credential
	next    credential.Credential
	history *ring
	running bool

	// generation invalidates in-flight rotation timers after Stop. A timer
	// callback that loaded an older generation must not mutate state.
	generation uint64
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source. Tests use this to drive rotation
// deterministically.
func WithClock(clock func() time.Time) Option {
	return func(i *Issuer) { i.clock = clock }
}

// WithPublisher sets the event bus publisher for lifecycle events.
func WithPublisher(p events.Publisher) Option {
	return func(i *Issuer) { i.publish = p }
}

// New creates a stopped issuer. Call Start to mint the first pair.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Issuer {
	if cfg.TTL <= 0 {
		cfg.TTL = credential.DefaultTTL
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	iss := &Issuer{
		cfg:     cfg,
		clock:   time.Now,
		logger:  logger,
		publish: events.NoopPublisher{},
		history: newRing(cfg.HistoryCapacity),
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss
}

// Start mints the initial current/next pair and reports whether this call
// performed the stopped->running transition. Concurrent calls are safe:
// exactly one returns true, and only that caller should spawn the rotation
// loop. Starting a running issuer is otherwise a no-op.
func (i *Issuer) Start(ctx context.Context) (bool, error) {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return false, nil
	}
	now := i.clock()
	cur, err := credential.Issue(i.cfg.BoundaryTag, i.cfg.Station, now, i.cfg.TTL)
	if err != nil {
		i.mu.Unlock()
		return false, err
	}
	nxt, err := credential.Issue(i.cfg.BoundaryTag, i.cfg.Station, now, i.cfg.TTL)
	if err != nil {
		i.mu.Unlock()
		return false, err
	}
	i.current = cur
	i.next = nxt
	i.running = true
	i.history.append(HistoryEntry{Credential: cur, GeneratedAt: now, Status: StatusActive})
	credentialsIssuedTotal.Add(2)
	i.mu.Unlock()

	i.logger.Info("issuer started",
		"boundary", i.cfg.BoundaryTag,
		"credential_id", cur.ID,
		"ttl", i.cfg.TTL,
	)
	i.emitLifecycle(ctx, events.LifecycleStarted, cur.ID)
	return true, nil
}

// Rotate promotes the pre-issued next credential to current and immediately
// issues a fresh next. The promoted credential keeps its pre-issued ID (the
// forward preview observers already saw) but its validity window is stamped
// at promotion; until then it carried no redemption rights. The superseded
// history entry transitions to expired.
func (i *Issuer) Rotate(ctx context.Context) error {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return nil
	}
	now := i.clock()
	nxt, err := credential.Issue(i.cfg.BoundaryTag, i.cfg.Station, now, i.cfg.TTL)
	if err != nil {
		i.mu.Unlock()
		return err
	}
	i.history.markActive(StatusExpired)
	i.current = credential.Credential{
		ID:          i.next.ID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(i.cfg.TTL),
		Checksum:    credential.Checksum(i.next.ID, now),
		BoundaryTag: i.next.BoundaryTag,
		Issuer:      i.next.Issuer,
	}
	i.next = nxt
	i.history.append(HistoryEntry{Credential: i.current, GeneratedAt: now, Status: StatusActive})
	promoted := i.current.ID
	rotationsTotal.Inc()
	credentialsIssuedTotal.Inc()
	i.mu.Unlock()

	i.logger.Debug("credential rotated", "credential_id", promoted)
	i.emitLifecycle(ctx, events.LifecycleRotated, promoted)
	return nil
}

// Stop halts rotation and marks all active history entries stopped. Any
// in-flight rotation timer becomes a no-op via the generation check.
func (i *Issuer) Stop(ctx context.Context) {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	i.running = false
	i.generation++
	i.history.markActive(StatusStopped)
	last := i.current.ID
	i.mu.Unlock()

	i.logger.Info("issuer stopped", "credential_id", last)
	i.emitLifecycle(ctx, events.LifecycleStopped, last)
}

// Run drives rotation until ctx is cancelled or the issuer is stopped. A
// current credential already past expiry (e.g. after a host suspend across a
// rotation boundary) is rotated immediately rather than displayed stale.
func (i *Issuer) Run(ctx context.Context) error {
	for {
		i.mu.Lock()
		if !i.running {
			i.mu.Unlock()
			return nil
		}
		gen := i.generation
		remaining := i.current.Remaining(i.clock())
		i.mu.Unlock()

		if remaining > 0 {
			timer := time.NewTimer(remaining)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		i.mu.Lock()
		stale := !i.running || i.generation != gen
		i.mu.Unlock()
		if stale {
			return nil
		}
		if err := i.Rotate(ctx); err != nil {
			return err
		}
	}
}

// Running reports whether the issuer is actively rotating.
func (i *Issuer) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}

// Current returns the credential holders may redeem right now.
func (i *Issuer) Current() credential.Credential {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

// Next returns the pre-issued preview credential. It carries no redemption
// rights until promoted.
func (i *Issuer) Next() credential.Credential {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.next
}

// Remaining returns the active credential's time left, clamped to zero.
func (i *Issuer) Remaining() time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current.Remaining(i.clock())
}

// History returns a snapshot of the issuance ring, oldest first.
func (i *Issuer) History() []HistoryEntry {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.history.snapshot()
}

func (i *Issuer) emitLifecycle(ctx context.Context, action, credentialID string) {
	env, err := events.NewEnvelope(events.TypeIssuerLifecycle, events.IssuerLifecycle{
		Action:       action,
		CredentialID: credentialID,
		BoundaryTag:  i.cfg.BoundaryTag,
		Station:      i.cfg.Station,
	}, i.clock())
	if err != nil {
		i.logger.Warn("building lifecycle event failed", "error", err)
		return
	}
	topic, ok := events.TopicFor(env.Type)
	if !ok {
		i.logger.Warn("no publish subject for event type", "type", env.Type)
		return
	}
	if err := i.publish.Publish(ctx, topic, env); err != nil {
		// Best effort: lifecycle events inform dashboards, they never gate
		// issuance.
		i.logger.Warn("publishing lifecycle event failed", "action", action, "error", err)
	}
}
