package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/geo"
	"rollcall/internal/notification"
	"rollcall/internal/platform/metrics"
	"rollcall/internal/platform/middleware"
	"rollcall/internal/redemption"
)

// RedemptionService is the slice of the redemption protocol the transport
// needs.
type RedemptionService interface {
	Process(ctx context.Context, raw []byte, holder string, fix geo.Point, distanceMeters float64) (redemption.Result, error)
}

// NotificationFeed is the slice of the notification router the transport
// needs.
type NotificationFeed interface {
	Feed() []notification.Record
	UnreadCount() int
	MarkRead(id uuid.UUID) bool
	MarkAllRead()
	Clear()
	RecordSignIn(station string, at time.Time)
}

// Handler holds the wired dependencies for all routes.
type Handler struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	boundary      geo.Boundary
	issuer        issuerControl
	redemption    RedemptionService
	notifications NotificationFeed
	validator     middleware.TokenValidator
	channelState  func() string
	runCtx        context.Context
}

// Option configures the Handler.
type Option func(*Handler)

// WithChannelState wires the event channel's connection state into the
// health endpoint.
func WithChannelState(state func() string) Option {
	return func(h *Handler) { h.channelState = state }
}

// NewHandler creates the HTTP handler set. runCtx bounds background work the
// handlers spawn (the issuer rotation loop); cancel it on shutdown.
func NewHandler(
	runCtx context.Context,
	boundary geo.Boundary,
	iss issuerControl,
	redemptionSvc RedemptionService,
	notifications NotificationFeed,
	validator middleware.TokenValidator,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Handler {
	h := &Handler{
		logger:        logger,
		metrics:       m,
		boundary:      boundary,
		issuer:        iss,
		redemption:    redemptionSvc,
		notifications: notifications,
		validator:     validator,
		runCtx:        runCtx,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes wires all endpoints with the shared middleware chain. Issuer
// control requires station authentication; redemption and the notification
// feed are open to holders and dashboards.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)
	r.Use(middleware.Latency(h.metrics))

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/redeem", h.handleRedeem)

	r.Route("/issuer", func(r chi.Router) {
		r.Use(middleware.RequireStationAuth(h.validator, h.logger))
		r.Post("/start", h.handleIssuerStart)
		r.Post("/stop", h.handleIssuerStop)
		r.Get("/current", h.handleIssuerCurrent)
		r.Get("/history", h.handleIssuerHistory)
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.handleListNotifications)
		r.Post("/{id}/read", h.handleMarkNotificationRead)
		r.Post("/read-all", h.handleMarkAllNotificationsRead)
		r.Delete("/", h.handleClearNotifications)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"issuer_running": h.issuer.Running(),
	}
	if h.channelState != nil {
		body["event_channel"] = h.channelState()
	}
	WriteJSON(w, http.StatusOK, body)
}
