// Package notification classifies inbound push events into categorized,
// prioritized, deduplicated records and drives the bounded dashboard feed.
// Records meeting the escalation threshold are additionally forwarded to a
// durable store, best-effort, behind a circuit breaker.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rollcall/internal/events"
)

var (
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_notifications_total",
		Help: "Notifications appended to the feed by category",
	}, []string{"category"})
	dedupedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_notifications_deduped_total",
		Help: "Notifications dropped by the dedup window",
	})
	escalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_notification_escalations_total",
		Help: "Durable escalation attempts by outcome",
	}, []string{"outcome"})
)

// Policy defaults.
const (
	DefaultDedupWindow     = 5 * time.Second
	DefaultFeedCapacity    = 50
	DefaultRetention       = 24 * time.Hour
	DefaultEscalateTimeout = 5 * time.Second
)

// Config holds feed and escalation policy.
type Config struct {
	// DedupWindow collapses records with an identical (message, category)
	// pair arriving within it. Absorbs transport-level redelivery.
	DedupWindow time.Duration
	// FeedCapacity bounds the feed; oldest non-persistent records are
	// evicted first. Persistent records are exempt from bounding.
	FeedCapacity int
	// Retention drops non-persistent records older than this on each
	// insertion.
	Retention time.Duration
	// EscalateThreshold is the minimum priority forwarded to durable
	// storage. Presence records escalate regardless.
	EscalateThreshold Priority
	EscalateTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.FeedCapacity <= 0 {
		c.FeedCapacity = DefaultFeedCapacity
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.EscalateThreshold == "" {
		c.EscalateThreshold = PriorityHigh
	}
	if c.EscalateTimeout <= 0 {
		c.EscalateTimeout = DefaultEscalateTimeout
	}
}

// Observer receives every record appended to the feed.
type Observer func(Record)

// Router owns the notification feed.
type Router struct {
	cfg    Config
	store  EscalationStore
	logger *slog.Logger
	clock  func() time.Time

	breaker *CircuitBreaker

	mu        sync.Mutex
	feed      []Record // oldest first
	lastSeen  map[dedupKey]time.Time
	observers []Observer
}

type dedupKey struct {
	message  string
	category Category
}

// Option configures the Router.
type Option func(*Router)

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Router) { r.clock = clock }
}

// WithBreaker overrides the escalation circuit breaker.
func WithBreaker(cb *CircuitBreaker) Option {
	return func(r *Router) { r.breaker = cb }
}

// NewRouter creates a router. store may be nil, disabling escalation.
func NewRouter(cfg Config, store EscalationStore, logger *slog.Logger, opts ...Option) *Router {
	cfg.applyDefaults()
	r := &Router{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		clock:    time.Now,
		breaker:  NewCircuitBreaker(5, time.Minute),
		lastSeen: make(map[dedupKey]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers an observer for appended records. Not safe to call
// concurrently with event handling; register observers before wiring the
// router to the event channel.
func (r *Router) Subscribe(obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
}

// HandleRedeemed classifies a redemption event. Wire to the event channel's
// OnRedeemed callback.
func (r *Router) HandleRedeemed(payload events.CredentialRedeemed, at time.Time) {
	message := fmt.Sprintf("%s checked in", payload.Holder)
	if payload.BoundaryTag != "" {
		message = fmt.Sprintf("%s checked in at %s", payload.Holder, payload.BoundaryTag)
	}
	r.push(Record{
		Category:  redemptionClass.Category,
		Priority:  redemptionClass.Priority,
		Message:   message,
		Timestamp: at,
		ActionRef: payload.CredentialID,
	})
}

// HandleLifecycle classifies an issuer lifecycle event.
func (r *Router) HandleLifecycle(payload events.IssuerLifecycle, at time.Time) {
	class, ok := lifecycleClasses[payload.Action]
	if !ok {
		r.logger.Debug("ignoring unknown lifecycle action", "action", payload.Action)
		return
	}
	message := fmt.Sprintf("issuer %s", payload.Action)
	if payload.BoundaryTag != "" {
		message = fmt.Sprintf("issuer %s for %s", payload.Action, payload.BoundaryTag)
	}
	r.push(Record{
		Category:  class.Category,
		Priority:  class.Priority,
		Message:   message,
		Timestamp: at,
		ActionRef: payload.CredentialID,
	})
}

// HandleSystemAlert classifies a system alert. Urgent alerts are persistent:
// they survive bounding and retention until explicitly cleared.
func (r *Router) HandleSystemAlert(payload events.SystemAlert, at time.Time) {
	class, ok := alertClasses[payload.Severity]
	if !ok {
		class = defaultAlertClass
	}
	r.push(Record{
		Category:   class.Category,
		Priority:   class.Priority,
		Message:    payload.Message,
		Timestamp:  at,
		Persistent: class.Priority == PriorityUrgent,
	})
}

// RecordSignIn appends a station sign-in notification.
func (r *Router) RecordSignIn(station string, at time.Time) {
	r.push(Record{
		Category:  signInClass.Category,
		Priority:  signInClass.Priority,
		Message:   fmt.Sprintf("station %s signed in", station),
		Timestamp: at,
	})
}

// push runs dedup, retention, bounding, observer fan-out, and escalation for
// one record. Returns true if the record was appended.
func (r *Router) push(record Record) bool {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := r.clock()
	if record.Timestamp.IsZero() {
		record.Timestamp = now
	}

	r.mu.Lock()
	key := dedupKey{record.Message, record.Category}
	if seen, ok := r.lastSeen[key]; ok && now.Sub(seen) < r.cfg.DedupWindow {
		r.mu.Unlock()
		dedupedTotal.Inc()
		return false
	}
	r.lastSeen[key] = now

	r.evictExpiredLocked(now)
	r.feed = append(r.feed, record)
	r.evictOverflowLocked()
	observers := r.observers
	r.mu.Unlock()

	notificationsTotal.WithLabelValues(string(record.Category)).Inc()

	for _, obs := range observers {
		obs(record)
	}
	if r.shouldEscalate(record) {
		go r.escalate(record)
	}
	return true
}

// evictExpiredLocked drops non-persistent records older than the retention
// window, and prunes stale dedup entries so the map stays bounded.
func (r *Router) evictExpiredLocked(now time.Time) {
	cutoff := now.Add(-r.cfg.Retention)
	kept := r.feed[:0]
	for _, rec := range r.feed {
		if rec.Persistent || rec.Timestamp.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	r.feed = kept

	for key, seen := range r.lastSeen {
		if now.Sub(seen) >= r.cfg.DedupWindow {
			delete(r.lastSeen, key)
		}
	}
}

// evictOverflowLocked enforces the feed capacity by removing the oldest
// non-persistent records. Persistent records never count against eviction
// and may push the feed past capacity until cleared.
func (r *Router) evictOverflowLocked() {
	over := len(r.feed) - r.cfg.FeedCapacity
	if over <= 0 {
		return
	}
	kept := r.feed[:0]
	for _, rec := range r.feed {
		if over > 0 && !rec.Persistent {
			over--
			continue
		}
		kept = append(kept, rec)
	}
	r.feed = kept
}

func (r *Router) shouldEscalate(record Record) bool {
	if r.store == nil {
		return false
	}
	return record.Priority.AtLeast(r.cfg.EscalateThreshold) || record.Category == CategoryPresence
}

// escalate forwards one record to durable storage. Fire-and-forget: failures
// open the breaker and are logged, never surfaced to the feed path.
func (r *Router) escalate(record Record) {
	if !r.breaker.Allow() {
		escalationsTotal.WithLabelValues("skipped").Inc()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.EscalateTimeout)
	defer cancel()

	if err := r.store.Save(ctx, record); err != nil {
		r.breaker.RecordFailure()
		escalationsTotal.WithLabelValues("failed").Inc()
		r.logger.Warn("notification escalation failed", "id", record.ID, "error", err)
		return
	}
	r.breaker.RecordSuccess()
	escalationsTotal.WithLabelValues("saved").Inc()
}

// Feed returns the current records, newest first.
func (r *Router) Feed() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.feed))
	for i, rec := range r.feed {
		out[len(r.feed)-1-i] = rec
	}
	return out
}

// UnreadCount returns the number of unread records.
func (r *Router) UnreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.feed {
		if !rec.Read {
			n++
		}
	}
	return n
}

// MarkRead marks one record read. Returns false if the ID is not in the
// feed.
func (r *Router) MarkRead(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.feed {
		if r.feed[i].ID == id {
			r.feed[i].Read = true
			return true
		}
	}
	return false
}

// MarkAllRead marks every record read.
func (r *Router) MarkAllRead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.feed {
		r.feed[i].Read = true
	}
}

// Clear empties the feed, persistent records included. This is the explicit
// user action that removes persistent records.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feed = nil
}
