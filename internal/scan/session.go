// Package scan implements the client-side state machine that gates
// camera-based credential capture behind a geofence proof and a settle delay.
//
// Every asynchronous continuation (location fix, settle timer, capture frame)
// re-validates the session state and generation at the moment it executes, so
// a callback scheduled before a boundary exit or refresh can never mutate
// state afterwards.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rollcall/internal/geo"
)

// State enumerates the scan session lifecycle.
type State string

const (
	StateAcquiringLocation State = "acquiring_location"
	StateLocationDenied    State = "location_denied"
	StateLocationError     State = "location_error"
	StateOutside           State = "outside"
	StateInsideSettling    State = "inside_settling"
	StateInsideArmed       State = "inside_armed"
	StateCapturing         State = "capturing"
	StateSucceeded         State = "succeeded"
	StateFailed            State = "failed"
)

// DefaultSettleDelay is the pause between entering the boundary and arming
// capture, absorbing transient position flicker and device warm-up.
const DefaultSettleDelay = time.Second

// DefaultFixTimeout bounds the one-shot location fix request.
const DefaultFixTimeout = 10 * time.Second

// ErrPermissionDenied is returned by a Locator when the holder refused the
// location permission prompt.
var ErrPermissionDenied = errors.New("location permission denied")

// ErrDeviceBusy is returned when a session is started while another session
// still holds the capture device.
var ErrDeviceBusy = errors.New("capture device held by another session")

// Locator produces a one-shot, high-accuracy position fix. Implementations
// must not serve cached fixes.
type Locator interface {
	Fix(ctx context.Context) (geo.Point, error)
}

// Submitter receives the captured payload together with the location proof.
// In production wiring this is the redemption protocol.
type Submitter interface {
	Submit(ctx context.Context, payload []byte, fix geo.Point, distanceMeters float64) error
}

// DeviceLatch enforces exclusive ownership of the capture device. One latch
// exists per holder device; a queue is deliberately not used because only one
// session is ever meaningful at a time.
type DeviceLatch struct {
	held atomic.Bool
}

// TryAcquire claims the device, reporting false if already held.
func (l *DeviceLatch) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release returns the device.
func (l *DeviceLatch) Release() {
	l.held.Store(false)
}

// Config holds session policy.
type Config struct {
	Boundary    geo.Boundary
	SettleDelay time.Duration
	FixTimeout  time.Duration
}

// Session is a single scan attempt. Sessions are discarded after use; Reset
// reuses one only from a terminal state.
type Session struct {
	mu sync.Mutex

	cfg       Config
	locator   Locator
	submitter Submitter
	latch     *DeviceLatch
	logger    *slog.Logger
	observer  func(State)

	state State
	// generation invalidates in-flight fix requests, settle timers, and
	// capture callbacks. Bumped on every refresh, disarm, and stop.
	generation uint64
	active     bool
	fix        geo.Point
	distance   float64
	hasFix     bool
}

// Option configures a Session.
type Option func(*Session)

// WithObserver registers a state transition callback. Invoked outside the
// session lock.
func WithObserver(fn func(State)) Option {
	return func(s *Session) { s.observer = fn }
}

// New creates an idle session. Call Start to begin acquiring a location.
func New(cfg Config, locator Locator, submitter Submitter, latch *DeviceLatch, logger *slog.Logger, opts ...Option) *Session {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.FixTimeout <= 0 {
		cfg.FixTimeout = DefaultFixTimeout
	}
	s := &Session{
		cfg:       cfg,
		locator:   locator,
		submitter: submitter,
		latch:     latch,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Distance returns the last computed distance to the boundary center and
// whether a fix has been obtained.
func (s *Session) Distance() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.distance, s.hasFix
}

// Start claims the capture device and begins acquiring a location fix.
func (s *Session) Start(ctx context.Context) error {
	if !s.latch.TryAcquire() {
		return ErrDeviceBusy
	}
	s.mu.Lock()
	s.active = true
	s.generation++
	gen := s.generation
	s.setStateLocked(StateAcquiringLocation)
	s.mu.Unlock()

	go s.acquireFix(ctx, gen)
	return nil
}

// Refresh discards any in-flight work and re-enters AcquiringLocation.
// Allowed from any state.
func (s *Session) Refresh(ctx context.Context) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	s.hasFix = false
	s.setStateLocked(StateAcquiringLocation)
	s.mu.Unlock()

	go s.acquireFix(ctx, gen)
}

// Reset exits a terminal state. When the last fix is still inside the
// boundary the session re-enters InsideSettling (never Capturing directly);
// otherwise it re-acquires a location.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	if !s.active || (s.state != StateSucceeded && s.state != StateFailed) {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	if s.hasFix && s.distance <= s.cfg.Boundary.RadiusMeters {
		s.enterSettlingLocked(gen)
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateAcquiringLocation)
	s.mu.Unlock()

	go s.acquireFix(ctx, gen)
}

// Stop deactivates the session and releases the capture device. Any pending
// callback becomes a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.generation++
	s.mu.Unlock()
	s.latch.Release()
}

// acquireFix runs the one-shot location request and feeds the result back
// into the state machine.
func (s *Session) acquireFix(ctx context.Context, gen uint64) {
	fixCtx, cancel := context.WithTimeout(ctx, s.cfg.FixTimeout)
	defer cancel()

	fix, err := s.locator.Fix(fixCtx)
	s.handleFix(gen, fix, err)
}

func (s *Session) handleFix(gen uint64, fix geo.Point, err error) {
	s.mu.Lock()
	if !s.active || s.generation != gen || s.state != StateAcquiringLocation {
		// Stale continuation: a refresh or stop happened while the fix was
		// in flight.
		s.mu.Unlock()
		return
	}
	if err != nil {
		next := StateLocationError
		if errors.Is(err, ErrPermissionDenied) {
			next = StateLocationDenied
		}
		s.setStateLocked(next)
		s.mu.Unlock()
		s.logger.Warn("location fix failed", "error", err)
		return
	}

	s.fix = fix
	s.distance = s.cfg.Boundary.Distance(fix)
	s.hasFix = true
	if s.distance > s.cfg.Boundary.RadiusMeters {
		s.setStateLocked(StateOutside)
		s.mu.Unlock()
		return
	}
	s.enterSettlingLocked(gen)
	s.mu.Unlock()
}

// enterSettlingLocked starts the settle delay. Capture input is ignored until
// the timer arms the session; the timer callback re-checks the generation.
func (s *Session) enterSettlingLocked(gen uint64) {
	s.setStateLocked(StateInsideSettling)
	time.AfterFunc(s.cfg.SettleDelay, func() {
		s.arm(gen)
	})
}

func (s *Session) arm(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.generation != gen || s.state != StateInsideSettling {
		return
	}
	s.setStateLocked(StateInsideArmed)
}

// HandleFrame feeds a captured frame into the session. Frames are ignored
// unless the session is armed; the first non-empty frame disarms the session
// (capture is single-shot) and is handed to the submitter. Reports whether
// the frame was consumed.
func (s *Session) HandleFrame(ctx context.Context, payload []byte) bool {
	if len(payload) == 0 {
		return false
	}

	s.mu.Lock()
	// The armed check happens here, at callback execution time, not at
	// scheduling time. This resolves the race between a capture firing and a
	// boundary exit in favor of disarming.
	if !s.active || s.state != StateInsideArmed {
		s.mu.Unlock()
		return false
	}
	gen := s.generation
	fix, distance := s.fix, s.distance
	s.setStateLocked(StateCapturing)
	s.mu.Unlock()

	err := s.submitter.Submit(ctx, payload, fix, distance)

	s.mu.Lock()
	if !s.active || s.generation != gen || s.state != StateCapturing {
		// The session moved on (refresh, boundary exit, stop) while the
		// submission was in flight; its outcome no longer applies.
		s.mu.Unlock()
		return true
	}
	if err != nil {
		s.setStateLocked(StateFailed)
	} else {
		s.setStateLocked(StateSucceeded)
	}
	s.mu.Unlock()
	return true
}

// UpdateFix re-evaluates the boundary with a new position report. Exiting the
// boundary disarms capture immediately, even with a frame mid-flight.
func (s *Session) UpdateFix(fix geo.Point) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case StateInsideSettling, StateInsideArmed, StateCapturing, StateOutside:
	default:
		s.mu.Unlock()
		return
	}

	s.fix = fix
	s.distance = s.cfg.Boundary.Distance(fix)
	s.hasFix = true

	inside := s.distance <= s.cfg.Boundary.RadiusMeters
	if !inside {
		// Invalidate pending settle timers and in-flight captures.
		s.generation++
		s.setStateLocked(StateOutside)
		s.mu.Unlock()
		return
	}
	if s.state == StateOutside {
		s.generation++
		s.enterSettlingLocked(s.generation)
	}
	s.mu.Unlock()
}

// setStateLocked transitions state and notifies the observer. Callers hold
// the lock; the observer runs on a fresh goroutine to keep it out of the
// critical section.
func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.state = next
	if s.observer != nil {
		observer := s.observer
		go observer(next)
	}
}
