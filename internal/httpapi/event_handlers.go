package httpapi

import (
	"net/http"
	"strings"
	"time"

	"authgrid.org/internal/events"
)

type ingestEventRequest struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Source        string         `json:"source"`
	OccurredAt    *time.Time     `json:"occurred_at"`
	CorrelationID string         `json:"correlation_id"`
	SchemaVersion string         `json:"schema_version"`
	Payload       map[string]any `json:"payload"`
	Context       map[string]any `json:"context"`
}

func (a *API) handleEventsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.ingestEvent(w, r)
	case http.MethodGet:
		a.listEvents(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleEventResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/events/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		ev, err := a.deps.Events.Get(r.Context(), id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	case len(parts) == 2 && parts[1] == "replay":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		ev, err := a.deps.Events.Replay(r.Context(), id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingestEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	env := events.Envelope{
		EventID:       req.EventID,
		EventType:     req.EventType,
		Source:        req.Source,
		CorrelationID: req.CorrelationID,
		SchemaVersion: req.SchemaVersion,
		Payload:       req.Payload,
		Context:       req.Context,
	}
	if req.OccurredAt != nil {
		env.OccurredAt = *req.OccurredAt
	}
	ev, err := a.deps.Events.Ingest(r.Context(), env)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/events/"+ev.EventID)
	writeJSON(w, http.StatusAccepted, ev)
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.deps.Events.List(r.Context(), events.Filter{
		EventType:     r.URL.Query().Get("event_type"),
		Source:        r.URL.Query().Get("source"),
		DeliveryState: events.DeliveryState(r.URL.Query().Get("delivery_state")),
		Limit:         limit,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
