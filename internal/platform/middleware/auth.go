package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// TokenValidator validates station bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*StationClaims, error)
}

// StationClaims identifies the issuing station a token was minted for.
type StationClaims struct {
	Station string
}

type contextKeyStation struct{}

// ContextKeyStation is exported for use in handlers.
var ContextKeyStation = contextKeyStation{}

// GetStation retrieves the authenticated station from the context.
func GetStation(ctx context.Context) string {
	station, ok := ctx.Value(ContextKeyStation).(string)
	if !ok {
		return ""
	}
	return station
}

// RequireStationAuth guards issuer control endpoints: only a station holding
// a valid bearer token may start, stop, or inspect the issuer.
func RequireStationAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyStation, claims.Station)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
