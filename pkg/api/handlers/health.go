package handlers

import (
	"context"
	"net/http"
	"time"
)

// ServiceStatus is the part of the authentication server the probes read.
type ServiceStatus interface {
	Listening() bool
	ActiveConnections() int32
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	service ServiceStatus
	store   Store
}

// NewHealthHandler creates a new health handler. Either argument may be nil.
func NewHealthHandler(service ServiceStatus, store Store) *HealthHandler {
	return &HealthHandler{service: service, store: store}
}

// Liveness handles GET /health. It succeeds while the process serves HTTP.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "gridauth",
	}))
}

// Readiness handles GET /health/ready.
//
// Ready means the authentication listener is bound and, when a store is
// configured, the database answers a ping within two seconds.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("service not initialized"))
		return
	}
	if !h.service.Listening() {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("authentication listener not bound"))
		return
	}

	data := map[string]any{
		"active_connections": h.service.ActiveConnections(),
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		start := time.Now()
		if err := h.store.Healthcheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("store: "+err.Error()))
			return
		}
		data["store_latency"] = time.Since(start).String()
	}

	writeJSON(w, http.StatusOK, healthyResponse(data))
}
