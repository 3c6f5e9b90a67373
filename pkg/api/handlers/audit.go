package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/marmos91/gridauth/pkg/store"
)

// MaxListLimit caps the limit query parameter.
const MaxListLimit = 1000

// Store is the persistence the API reads from.
type Store interface {
	Healthcheck(ctx context.Context) error
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]*store.SessionRecord, error)
	ListIdentityMappings(ctx context.Context, subject string) ([]*store.IdentityMapping, error)
}

// AuditHandler serves the session audit trail and the stored mappings.
type AuditHandler struct {
	store Store
}

// NewAuditHandler creates an AuditHandler. A nil store makes every endpoint
// answer 503.
func NewAuditHandler(s Store) *AuditHandler {
	return &AuditHandler{store: s}
}

// ListSessions handles GET /api/v1/sessions.
func (h *AuditHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		ServiceUnavailable(w, "session store not configured")
		return
	}

	filter := store.SessionFilter{
		Outcome: r.URL.Query().Get("outcome"),
		Subject: r.URL.Query().Get("subject"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxListLimit {
			BadRequest(w, "limit must be an integer between 1 and "+strconv.Itoa(MaxListLimit))
			return
		}
		filter.Limit = limit
	}

	records, err := h.store.ListSessions(r.Context(), filter)
	if err != nil {
		InternalServerError(w, "Failed to list sessions")
		return
	}
	if records == nil {
		records = []*store.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, okResponse(records))
}

// ListIdentityMappings handles GET /api/v1/identity-mappings.
func (h *AuditHandler) ListIdentityMappings(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		ServiceUnavailable(w, "session store not configured")
		return
	}

	mappings, err := h.store.ListIdentityMappings(r.Context(), r.URL.Query().Get("subject"))
	if err != nil {
		InternalServerError(w, "Failed to list identity mappings")
		return
	}
	if mappings == nil {
		mappings = []*store.IdentityMapping{}
	}
	writeJSON(w, http.StatusOK, okResponse(mappings))
}
