package main

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/fleetgrid-labs/fleetgrid-go/internal/auditexport"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/auth"
	"github.com/fleetgrid-labs/fleetgrid-go/internal/platform/auditlog"
)

type auditAPI struct {
	api *contractsAPI
	db  *sql.DB
}

// registerAudit exposes the contract audit trail to fleet managers: a JSON
// listing for review and an NDJSON stream for compliance export.
func (api *contractsAPI) registerAudit(mux *http.ServeMux, db *sql.DB) {
	a := &auditAPI{api: api, db: db}
	mux.HandleFunc("GET /audit/events", a.handleListEvents)
	mux.HandleFunc("GET /audit/export", a.handleExport)
}

type auditEventResponse struct {
	EventID         int64          `json:"event_id"`
	OccurredAt      time.Time      `json:"occurred_at"`
	Actor           string         `json:"actor"`
	Action          string         `json:"action"`
	ResourceType    string         `json:"resource_type"`
	ResourceID      string         `json:"resource_id"`
	RequestID       string         `json:"request_id,omitempty"`
	Payload         map[string]any `json:"payload"`
	IntegritySHA256 string         `json:"integrity_sha256"`
}

func (a *auditAPI) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter, ok := a.auditFilter(w, r)
	if !ok {
		return
	}

	events, err := auditlog.List(r.Context(), a.db, filter)
	if err != nil {
		a.api.logger.Error("audit list failed", "error", err)
		a.api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]auditEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, auditEventResponse{
			EventID:         ev.EventID,
			OccurredAt:      ev.OccurredAt,
			Actor:           ev.Actor,
			Action:          ev.Action,
			ResourceType:    ev.ResourceType,
			ResourceID:      ev.ResourceID,
			RequestID:       ev.RequestID,
			Payload:         ev.Payload,
			IntegritySHA256: ev.IntegritySHA256,
		})
	}
	a.api.writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (a *auditAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, ok := a.auditFilter(w, r)
	if !ok {
		return
	}
	// Export pulls a larger window than the review listing.
	if strings.TrimSpace(r.URL.Query().Get("limit")) == "" {
		filter.Limit = 10000
	}

	events, err := auditlog.List(r.Context(), a.db, filter)
	if err != nil {
		a.api.logger.Error("audit export failed", "error", err)
		a.api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	exporter := auditexport.NewNDJSONExporter(w)
	for _, ev := range events {
		if err := exporter.Export(r.Context(), ev); err != nil {
			return
		}
	}
}

func (a *auditAPI) auditFilter(w http.ResponseWriter, r *http.Request) (auditlog.Filter, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || !identity.IsFleetManager() {
		a.api.writeError(w, r, http.StatusForbidden, "forbidden")
		return auditlog.Filter{}, false
	}
	if a.db == nil {
		a.api.writeError(w, r, http.StatusServiceUnavailable, "audit_unavailable")
		return auditlog.Filter{}, false
	}

	filter := auditlog.Filter{
		ResourceID: strings.TrimSpace(r.URL.Query().Get("resource_id")),
		Action:     strings.TrimSpace(r.URL.Query().Get("action")),
		Limit:      queryInt(r, "limit", 0),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.api.writeError(w, r, http.StatusBadRequest, "invalid_since")
			return auditlog.Filter{}, false
		}
		filter.Since = &since
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("until")); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.api.writeError(w, r, http.StatusBadRequest, "invalid_until")
			return auditlog.Filter{}, false
		}
		filter.Until = &until
	}
	return filter, true
}
