package httptransport

import (
	"encoding/json"
	"net/http"

	"rollcall/internal/geo"
	"rollcall/internal/platform/middleware"
	dErrors "rollcall/pkg/domain-errors"
)

// redeemRequest carries the captured credential payload, the holder
// identity, and the observed position fix.
type redeemRequest struct {
	Payload json.RawMessage `json:"payload"`
	Holder  string          `json:"holder"`
	Fix     struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"fix"`
}

// handleRedeem validates and submits one redemption. The distance is
// computed server-side from the reported fix; an idempotent replay returns
// 200 with already_redeemed set rather than an error.
func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid redeem request",
			"request_id", requestID,
			"error", err.Error(),
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if len(req.Payload) == 0 {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "credential payload missing"))
		return
	}

	fix := geo.Point{Latitude: req.Fix.Latitude, Longitude: req.Fix.Longitude}
	distance := h.boundary.Distance(fix)

	result, err := h.redemption.Process(ctx, req.Payload, req.Holder, fix, distance)
	if err != nil {
		if dErrors.Retryable(err) || dErrors.Is(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "redemption failed",
				"request_id", requestID,
				"error", err.Error(),
			)
		} else {
			h.logger.WarnContext(ctx, "redemption rejected",
				"request_id", requestID,
				"error", err.Error(),
			)
		}
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
