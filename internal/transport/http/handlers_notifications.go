package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	dErrors "rollcall/pkg/domain-errors"
)

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"notifications": h.notifications.Feed(),
		"unread":        h.notifications.UnreadCount(),
	})
}

func (h *Handler) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid notification id"))
		return
	}
	if !h.notifications.MarkRead(id) {
		WriteError(w, dErrors.New(dErrors.CodeNotFound, "notification not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	h.notifications.MarkAllRead()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	h.notifications.Clear()
	w.WriteHeader(http.StatusNoContent)
}
