package httpapi

import (
	"net/http"
	"strings"
	"time"

	"authgrid.org/internal/entity"
	"authgrid.org/internal/rbac"
)

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ScopeTypes  []string `json:"scope_types"`
	Permissions []string `json:"permissions"`
}

type updateRoleRequest struct {
	Description *string   `json:"description"`
	ScopeTypes  *[]string `json:"scope_types"`
	Permissions *[]string `json:"permissions"`
}

type assignRoleRequest struct {
	PrincipalID   string     `json:"principal_id"`
	PrincipalType string     `json:"principal_type"`
	EntityID      string     `json:"entity_id"`
	RoleID        string     `json:"role_id"`
	EffectiveAt   *time.Time `json:"effective_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

type authorizeRequest struct {
	PrincipalID   string `json:"principal_id"`
	PrincipalType string `json:"principal_type"`
	Action        string `json:"action"`
	EntityID      string `json:"entity_id"`
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRole(w, r)
	case http.MethodGet:
		roles, err := a.deps.RBAC.ListRoles(r.Context())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		role, err := a.deps.RBAC.GetRole(r.Context(), id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPatch:
		a.updateRole(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	perms, err := a.deps.RBAC.ListPermissions(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": perms})
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.deps.RBAC.CreateRole(r.Context(), rbac.CreateRoleInput{
		Name:        req.Name,
		Description: req.Description,
		ScopeTypes:  toEntityTypes(req.ScopeTypes),
		Permissions: req.Permissions,
	}, ActorFromContext(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request, id string) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	upd := rbac.RoleUpdate{
		Description: req.Description,
		Permissions: req.Permissions,
	}
	if req.ScopeTypes != nil {
		types := toEntityTypes(*req.ScopeTypes)
		upd.ScopeTypes = &types
	}
	role, err := a.deps.RBAC.UpdateRole(r.Context(), id, upd, ActorFromContext(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleAssignmentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.assignRole(w, r)
	case http.MethodGet:
		a.listAssignments(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAssignmentResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/assignments/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.deps.RBAC.Revoke(r.Context(), id, ActorFromContext(r.Context())); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in := rbac.AssignInput{
		PrincipalID:   req.PrincipalID,
		PrincipalType: req.PrincipalType,
		EntityID:      req.EntityID,
		RoleID:        req.RoleID,
		ExpiresAt:     req.ExpiresAt,
	}
	if req.EffectiveAt != nil {
		in.EffectiveAt = *req.EffectiveAt
	}
	assignment, err := a.deps.RBAC.Assign(r.Context(), in, ActorFromContext(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/assignments/"+assignment.ID)
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) listAssignments(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.deps.RBAC.ListAssignments(r.Context(), rbac.AssignmentFilter{
		PrincipalID:   r.URL.Query().Get("principal_id"),
		PrincipalType: r.URL.Query().Get("principal_type"),
		RoleID:        r.URL.Query().Get("role_id"),
		EntityID:      r.URL.Query().Get("entity_id"),
		Limit:         limit,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	allowed, err := a.deps.RBAC.Authorize(r.Context(), req.PrincipalID, req.PrincipalType, req.Action, req.EntityID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":      allowed,
		"principal_id": strings.TrimSpace(req.PrincipalID),
		"action":       strings.TrimSpace(req.Action),
	})
}

func toEntityTypes(raw []string) []entity.Type {
	out := make([]entity.Type, 0, len(raw))
	for _, s := range raw {
		out = append(out, entity.Type(s))
	}
	return out
}
