package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"authgrid.org/internal/ledger"
)

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	startSeq, err := parseSequence(r.URL.Query().Get("start_seq"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "start_seq must be a non-negative integer")
		return
	}
	endSeq, err := parseSequence(r.URL.Query().Get("end_seq"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "end_seq must be a non-negative integer")
		return
	}
	items, err := a.deps.Audit.List(r.Context(), ledger.Filter{
		ActorID:  r.URL.Query().Get("actor_id"),
		EntityID: r.URL.Query().Get("entity_id"),
		Action:   r.URL.Query().Get("action"),
		StartSeq: startSeq,
		EndSeq:   endSeq,
		Limit:    limit,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	start, err := parseSequence(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "start must be a non-negative integer")
		return
	}
	end, err := parseSequence(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "end must be a non-negative integer")
		return
	}
	result, err := a.deps.Audit.Verify(r.Context(), start, end)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseSequence(raw string) (uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
