package automation

import (
	"context"
	"fmt"

	"authgrid.org/internal/entity"
	"authgrid.org/internal/events"
	"authgrid.org/internal/ledger"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/rbac"
)

// automationActor attributes audit entries produced by automations.
var automationActor = ledger.Actor{ID: "automation", Type: "service"}

// Routes builds the static event-type table. Handlers for collaborator
// systems (document cascade) are thin stubs at this boundary.
func Routes(entities *entity.Service, rbacSvc *rbac.Service) map[string]Handler {
	cacheInvalidation := &CacheInvalidationHandler{rbac: rbacSvc}
	return map[string]Handler{
		"entity.archived":         &CascadeArchiveHandler{entities: entities},
		"role.updated":            cacheInvalidation,
		"role.assignment.changed": cacheInvalidation,
		"document.verified":       &DocumentCascadeHandler{},
	}
}

// CascadeArchiveHandler archives the direct children of an archived entity.
// Each child archive publishes its own entity.archived event, so deep trees
// cascade one level at a time.
type CascadeArchiveHandler struct {
	entities *entity.Service
}

func (h *CascadeArchiveHandler) Name() string { return "CascadeArchive" }

func (h *CascadeArchiveHandler) Handle(ctx context.Context, invocationID string, ev events.Envelope) error {
	entityID, _ := ev.Payload["entity_id"].(string)
	if entityID == "" {
		return fmt.Errorf("automation: %s: payload missing entity_id", invocationID)
	}
	children, err := h.entities.Children(ctx, entityID)
	if err != nil {
		return err
	}
	archived := 0
	for _, child := range children {
		if child.Status == entity.StatusArchived {
			continue
		}
		if _, err := h.entities.Archive(ctx, child.ID, automationActor); err != nil {
			return fmt.Errorf("archive child %s: %w", child.ID, err)
		}
		archived++
	}
	if archived > 0 {
		obs.LogEvent("cascade_archive", map[string]any{
			"invocation_id": invocationID,
			"parent_id":     entityID,
			"archived":      archived,
		})
	}
	return nil
}

// CacheInvalidationHandler drops cached permission sets after role or
// assignment changes.
type CacheInvalidationHandler struct {
	rbac *rbac.Service
}

func (h *CacheInvalidationHandler) Name() string { return "CacheInvalidation" }

func (h *CacheInvalidationHandler) Handle(ctx context.Context, invocationID string, ev events.Envelope) error {
	return h.rbac.InvalidateCache(ctx)
}

// DocumentCascadeHandler is the boundary to the document service. The
// downstream workflow lives outside this system; the handler records the
// invocation for it.
type DocumentCascadeHandler struct{}

func (h *DocumentCascadeHandler) Name() string { return "DocumentCascade" }

func (h *DocumentCascadeHandler) Handle(ctx context.Context, invocationID string, ev events.Envelope) error {
	obs.LogEvent("document_cascade", map[string]any{
		"invocation_id": invocationID,
		"document_id":   ev.Payload["document_id"],
	})
	return nil
}
