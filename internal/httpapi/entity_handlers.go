package httpapi

import (
	"net/http"
	"strings"

	"authgrid.org/internal/entity"
)

type createEntityRequest struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	ParentID   string         `json:"parent_id"`
	Attributes map[string]any `json:"attributes"`
}

type updateEntityRequest struct {
	Name       *string        `json:"name"`
	Status     *string        `json:"status"`
	ParentID   *string        `json:"parent_id"`
	Attributes map[string]any `json:"attributes"`
}

func (a *API) handleEntitiesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createEntity(w, r)
	case http.MethodGet:
		a.listEntities(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleEntityResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/entities/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getEntity(w, r, id)
		case http.MethodPatch:
			a.updateEntity(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
		}
	case len(parts) == 2 && parts[1] == "archive":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.archiveEntity(w, r, id)
	case len(parts) == 2 && parts[1] == "children":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.entityChildren(w, r, id)
	case len(parts) == 2 && parts[1] == "ancestors":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.entityAncestors(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	e, err := a.deps.Entities.Create(r.Context(), entity.CreateInput{
		Name:       req.Name,
		Type:       entity.Type(req.Type),
		ParentID:   req.ParentID,
		Attributes: req.Attributes,
	}, ActorFromContext(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/entities/"+e.ID)
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) getEntity(w http.ResponseWriter, r *http.Request, id string) {
	e, err := a.deps.Entities.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) listEntities(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.deps.Entities.List(r.Context(), entity.Filter{
		Type:     entity.Type(r.URL.Query().Get("type")),
		Status:   entity.Status(r.URL.Query().Get("status")),
		ParentID: r.URL.Query().Get("parent_id"),
		Limit:    limit,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) updateEntity(w http.ResponseWriter, r *http.Request, id string) {
	var req updateEntityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	upd := entity.Update{
		Name:       req.Name,
		ParentID:   req.ParentID,
		Attributes: req.Attributes,
	}
	if req.Status != nil {
		status := entity.Status(*req.Status)
		upd.Status = &status
	}
	e, err := a.deps.Entities.Update(r.Context(), id, upd, ActorFromContext(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) archiveEntity(w http.ResponseWriter, r *http.Request, id string) {
	e, err := a.deps.Entities.Archive(r.Context(), id, ActorFromContext(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) entityChildren(w http.ResponseWriter, r *http.Request, id string) {
	items, err := a.deps.Entities.Children(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) entityAncestors(w http.ResponseWriter, r *http.Request, id string) {
	items, err := a.deps.Entities.Ancestors(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
