// Package httpapi exposes the authorization, audit and event services over
// HTTP. Handlers translate wire requests into service calls and map domain
// errors onto status codes; all business rules live in the services.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"authgrid.org/internal/entity"
	"authgrid.org/internal/events"
	"authgrid.org/internal/ledger"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/rbac"
)

// ReadyProbe reports whether backing stores are reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries the services the API fronts.
type Deps struct {
	Entities *entity.Service
	RBAC     *rbac.Service
	Audit    *ledger.Service
	Events   *events.Dispatcher
	Ready    ReadyProbe
}

// Config carries API-level settings.
type Config struct {
	Version        string
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	deps Deps
	cfg  Config
}

func New(deps Deps, cfg Config) *API {
	a := &API{
		mux:  http.NewServeMux(),
		deps: deps,
		cfg:  cfg,
	}

	a.mux.HandleFunc("/healthz", a.healthz)
	a.mux.HandleFunc("/readyz", a.ready)
	a.mux.HandleFunc("/v1/info", a.info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/entities", a.handleEntitiesCollection)
	a.mux.HandleFunc("/v1/entities/", a.handleEntityResource)
	a.mux.HandleFunc("/v1/roles", a.handleRolesCollection)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/assignments", a.handleAssignmentsCollection)
	a.mux.HandleFunc("/v1/assignments/", a.handleAssignmentResource)
	a.mux.HandleFunc("/v1/authorize", a.handleAuthorize)
	a.mux.HandleFunc("/v1/audit", a.handleAuditList)
	a.mux.HandleFunc("/v1/audit/verify", a.handleAuditVerify)
	a.mux.HandleFunc("/v1/events", a.handleEventsCollection)
	a.mux.HandleFunc("/v1/events/", a.handleEventResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	if a.cfg.RateLimitRPS > 0 {
		h = RateLimit(h, a.cfg.RateLimitBurst, a.cfg.RateLimitRPS)
	}
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authgrid-api",
		"version": a.cfg.Version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "authgrid-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parseLimit(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

// handleDomainError maps service sentinels onto HTTP status codes. Conflicts
// on entity creation carry the id of the already-existing record.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *entity.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":       conflict.Error(),
			"existing_id": conflict.ExistingID,
		})
		return
	}
	switch {
	case errors.Is(err, entity.ErrInvalidInput),
		errors.Is(err, rbac.ErrInvalidInput),
		errors.Is(err, ledger.ErrInvalidInput),
		errors.Is(err, events.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrScopeViolation):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, entity.ErrConflict),
		errors.Is(err, rbac.ErrConflict),
		errors.Is(err, events.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, entity.ErrNotFound),
		errors.Is(err, rbac.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, events.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
