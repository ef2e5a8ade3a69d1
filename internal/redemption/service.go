// Package redemption validates captured credentials and executes the single
// redemption request against the attendance store, translating store
// failures into holder-facing outcomes.
//
// Validation here is a fast-fail UX optimization; the authoritative
// idempotency check always happens at the store. The two are deliberately
// not collapsed.
package redemption

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rollcall/internal/credential"
	"rollcall/internal/events"
	"rollcall/internal/geo"
	dErrors "rollcall/pkg/domain-errors"
)

var (
	redemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_redemptions_total",
		Help: "Redemption attempts by outcome",
	}, []string{"outcome"})
	redeemDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rollcall_redeem_duration_ms",
		Help:    "Latency of store redemption submissions in milliseconds",
		Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
)

// DefaultSubmitTimeout bounds the store round-trip so a holder never hangs
// on a dead backend.
const DefaultSubmitTimeout = 10 * time.Second

// Result is the holder-facing outcome of a successful (or idempotently
// repeated) redemption.
type Result struct {
	CredentialID    string    `json:"credential_id"`
	RecordedAt      time.Time `json:"recorded_at"`
	DistanceMeters  float64   `json:"distance_meters"`
	AlreadyRedeemed bool      `json:"already_redeemed"`
}

// Config holds protocol policy.
type Config struct {
	Boundary      geo.Boundary
	SubmitTimeout time.Duration
}

// Service is the redemption protocol.
type Service struct {
	cfg     Config
	store   Store
	publish events.Publisher
	logger  *slog.Logger
	clock   func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithPublisher sets the event bus publisher for redemption events.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publish = p }
}

// NewService creates the redemption protocol over the given store.
func NewService(cfg Config, store Store, logger *slog.Logger, opts ...Option) *Service {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	s := &Service{
		cfg:     cfg,
		store:   store,
		publish: events.NoopPublisher{},
		logger:  logger,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process runs the full holder-side pipeline on a captured frame: structural
// validation, checksum, freshness, defensive range check, then the store
// submission. Non-retryable failures (malformed, expired) surface their
// specific code so the UI can show the right remediation; transport failures
// surface store_unavailable and leave the retry decision to the caller.
func (s *Service) Process(ctx context.Context, raw []byte, holder string, fix geo.Point, distanceMeters float64) (Result, error) {
	payload, err := credential.DecodePayload(raw)
	if err != nil {
		redemptionsTotal.WithLabelValues("malformed").Inc()
		return Result{}, err
	}
	if err := payload.VerifyChecksum(); err != nil {
		redemptionsTotal.WithLabelValues("malformed").Inc()
		return Result{}, err
	}
	if err := payload.ValidateFreshness(s.clock()); err != nil {
		redemptionsTotal.WithLabelValues("expired").Inc()
		return Result{}, err
	}
	return s.Redeem(ctx, payload, holder, fix, distanceMeters)
}

// Redeem submits a validated payload to the attendance store. Safe to retry;
// the store enforces (credential, holder) uniqueness. A store-reported
// conflict is the idempotent success path, not an error.
func (s *Service) Redeem(ctx context.Context, payload credential.Payload, holder string, fix geo.Point, distanceMeters float64) (Result, error) {
	if holder == "" {
		return Result{}, dErrors.New(dErrors.CodeBadRequest, "holder identity missing")
	}
	// Defensive: the scan session already gated on the boundary, but a
	// malfunctioning client could submit from anywhere.
	if distanceMeters > s.cfg.Boundary.RadiusMeters {
		redemptionsTotal.WithLabelValues("out_of_range").Inc()
		return Result{}, dErrors.Newf(dErrors.CodeOutOfRange, "%.0fm outside the %s boundary", distanceMeters-s.cfg.Boundary.RadiusMeters, s.cfg.Boundary.Name)
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	start := time.Now()
	record, err := s.store.Append(submitCtx, Record{
		CredentialID:   payload.ID,
		Holder:         holder,
		DistanceMeters: distanceMeters,
		RecordedAt:     s.clock(),
		Status:         RecordStatusPresent,
	})
	redeemDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)

	switch {
	case errors.Is(err, ErrDuplicate):
		redemptionsTotal.WithLabelValues("already_redeemed").Inc()
		s.logger.Debug("redemption replayed", "credential_id", payload.ID, "holder", holder)
		return Result{
			CredentialID:    payload.ID,
			DistanceMeters:  distanceMeters,
			AlreadyRedeemed: true,
		}, nil
	case err != nil:
		redemptionsTotal.WithLabelValues("store_unavailable").Inc()
		return Result{}, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "attendance store unavailable, try again")
	}

	redemptionsTotal.WithLabelValues("redeemed").Inc()
	s.logger.Info("credential redeemed",
		"credential_id", record.CredentialID,
		"holder", record.Holder,
		"distance_m", record.DistanceMeters,
	)
	s.emitRedeemed(ctx, record, payload.BoundaryTag)

	return Result{
		CredentialID:   record.CredentialID,
		RecordedAt:     record.RecordedAt,
		DistanceMeters: record.DistanceMeters,
	}, nil
}

func (s *Service) emitRedeemed(ctx context.Context, record Record, boundaryTag string) {
	env, err := events.NewEnvelope(events.TypeCredentialRedeemed, events.CredentialRedeemed{
		CredentialID:   record.CredentialID,
		Holder:         record.Holder,
		DistanceMeters: record.DistanceMeters,
		RecordedAt:     record.RecordedAt,
		BoundaryTag:    boundaryTag,
	}, s.clock())
	if err != nil {
		s.logger.Warn("building redemption event failed", "error", err)
		return
	}
	topic, ok := events.TopicFor(env.Type)
	if !ok {
		s.logger.Warn("no publish subject for event type", "type", env.Type)
		return
	}
	// Fire and forget: dashboards are informed best-effort, the record is
	// already durable.
	if err := s.publish.Publish(ctx, topic, env); err != nil {
		s.logger.Warn("publishing redemption event failed", "credential_id", record.CredentialID, "error", err)
	}
}

// HolderSubmitter binds a holder identity to the protocol so a scan session
// can hand frames straight in.
type HolderSubmitter struct {
	Service *Service
	Holder  string
}

// Submit satisfies the scan session's submitter contract.
func (h HolderSubmitter) Submit(ctx context.Context, payload []byte, fix geo.Point, distanceMeters float64) error {
	_, err := h.Service.Process(ctx, payload, h.Holder, fix, distanceMeters)
	return err
}
