package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/storefront/apiserver/internal/services"
)

const readyTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz returns a readiness check that pings the database.
func Readyz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, Envelope{
				Success: false,
				Error:   &ErrorBody{Code: services.CodeInternal, Message: "database unavailable"},
			})
			return
		}
		writeData(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
