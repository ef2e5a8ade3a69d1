package httptransport

import (
	"context"
	"net/http"
	"time"

	"rollcall/internal/credential"
	"rollcall/internal/credential/issuer"
	"rollcall/internal/platform/middleware"
	dErrors "rollcall/pkg/domain-errors"
)

// credentialView is the API shape of a credential, matching the capture
// payload field names.
type credentialView struct {
	ID          string `json:"id"`
	IssuedAt    int64  `json:"issued_at"`
	ExpiresAt   int64  `json:"expires_at"`
	Checksum    string `json:"checksum"`
	BoundaryTag string `json:"boundary_tag"`
	Issuer      string `json:"issuer,omitempty"`
}

func toCredentialView(c credential.Credential) credentialView {
	return credentialView{
		ID:          c.ID,
		IssuedAt:    c.IssuedAt.Unix(),
		ExpiresAt:   c.ExpiresAt.Unix(),
		Checksum:    c.Checksum,
		BoundaryTag: c.BoundaryTag,
		Issuer:      c.Issuer,
	}
}

type issuerStateResponse struct {
	Running          bool           `json:"running"`
	Current          credentialView `json:"current"`
	Next             credentialView `json:"next"`
	RemainingSeconds int64          `json:"remaining_seconds"`
}

type historyEntryView struct {
	Credential  credentialView `json:"credential"`
	GeneratedAt time.Time      `json:"generated_at"`
	Status      string         `json:"status"`
}

// handleIssuerStart starts the issuer and its rotation loop. Idempotent: a
// running issuer reports its current state.
func (h *Handler) handleIssuerStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	station := middleware.GetStation(ctx)

	started, err := h.issuer.Start(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "issuer start failed",
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "issuer start failed"))
		return
	}
	// The issuer decides the stopped->running transition under its own lock,
	// so concurrent start requests spawn at most one rotation loop.
	if started {
		// Rotation runs until Stop; the loop exits on its own once the
		// issuer is no longer running.
		go func() {
			if err := h.issuer.Run(h.runCtx); err != nil && h.runCtx.Err() == nil {
				h.logger.Error("issuer rotation loop failed", "error", err)
			}
		}()
		h.notifySignIn(station)
	}

	WriteJSON(w, http.StatusOK, h.issuerState())
}

func (h *Handler) handleIssuerStop(w http.ResponseWriter, r *http.Request) {
	h.issuer.Stop(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleIssuerCurrent returns the live current/next pair and countdown.
func (h *Handler) handleIssuerCurrent(w http.ResponseWriter, r *http.Request) {
	if !h.issuer.Running() {
		WriteError(w, dErrors.New(dErrors.CodeNotFound, "issuer is not running"))
		return
	}
	WriteJSON(w, http.StatusOK, h.issuerState())
}

func (h *Handler) handleIssuerHistory(w http.ResponseWriter, r *http.Request) {
	entries := h.issuer.History()
	views := make([]historyEntryView, len(entries))
	for i, e := range entries {
		views[i] = historyEntryView{
			Credential:  toCredentialView(e.Credential),
			GeneratedAt: e.GeneratedAt,
			Status:      string(e.Status),
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"history": views})
}

func (h *Handler) issuerState() issuerStateResponse {
	return issuerStateResponse{
		Running:          h.issuer.Running(),
		Current:          toCredentialView(h.issuer.Current()),
		Next:             toCredentialView(h.issuer.Next()),
		RemainingSeconds: int64(h.issuer.Remaining() / time.Second),
	}
}

// notifySignIn records the station sign-in on the notification feed.
func (h *Handler) notifySignIn(station string) {
	if h.notifications == nil || station == "" {
		return
	}
	h.notifications.RecordSignIn(station, time.Now())
}

// issuerControl is the slice of the issuer the transport needs. Satisfied by
// *issuer.Issuer.
type issuerControl interface {
	Start(ctx context.Context) (bool, error)
	Stop(ctx context.Context)
	Run(ctx context.Context) error
	Running() bool
	Current() credential.Credential
	Next() credential.Credential
	Remaining() time.Duration
	History() []issuer.HistoryEntry
}
