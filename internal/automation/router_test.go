package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"authgrid.org/internal/entity"
	"authgrid.org/internal/events"
	"authgrid.org/internal/ledger"
)

type recordingHandler struct {
	name        string
	invocations []string
	err         error
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Handle(ctx context.Context, invocationID string, ev events.Envelope) error {
	h.invocations = append(h.invocations, invocationID)
	return h.err
}

func TestDispatchDerivesInvocationID(t *testing.T) {
	h := &recordingHandler{name: "CacheInvalidation"}
	r := NewRouter(map[string]Handler{"role.updated": h})

	ev := events.Envelope{EventID: "evt-1", EventType: "role.updated"}
	r.Dispatch(context.Background(), ev)
	r.Dispatch(context.Background(), ev)

	if len(h.invocations) != 2 {
		t.Fatalf("invocations = %v", h.invocations)
	}
	// Replay-safe: the same event always yields the same invocation id.
	if h.invocations[0] != "CacheInvalidation-evt-1" || h.invocations[1] != h.invocations[0] {
		t.Fatalf("invocations = %v", h.invocations)
	}
}

func TestDispatchUnregisteredTypeIsNoOp(t *testing.T) {
	h := &recordingHandler{name: "CacheInvalidation"}
	r := NewRouter(map[string]Handler{"role.updated": h})

	r.Dispatch(context.Background(), events.Envelope{EventID: "evt-1", EventType: "something.else"})
	if len(h.invocations) != 0 {
		t.Fatalf("unregistered type invoked handler: %v", h.invocations)
	}
}

func TestDispatchSwallowsHandlerErrors(t *testing.T) {
	h := &recordingHandler{name: "Failing", err: errors.New("boom")}
	r := NewRouter(map[string]Handler{"role.updated": h})

	// Must not panic or propagate.
	r.Dispatch(context.Background(), events.Envelope{EventID: "evt-1", EventType: "role.updated"})
	if len(h.invocations) != 1 {
		t.Fatalf("handler not invoked")
	}
}

func TestDisabledRouterSkips(t *testing.T) {
	h := &recordingHandler{name: "CacheInvalidation"}
	r := NewRouter(map[string]Handler{"role.updated": h})
	r.Disable()

	r.Dispatch(context.Background(), events.Envelope{EventID: "evt-1", EventType: "role.updated"})
	if len(h.invocations) != 0 {
		t.Fatalf("disabled router invoked handler: %v", h.invocations)
	}
}

func TestCascadeArchiveHandlerArchivesChildren(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	audit, err := ledger.NewService(ledger.NewInMemory(), ledger.WithClock(clock))
	if err != nil {
		t.Fatalf("ledger.NewService: %v", err)
	}
	entities, err := entity.NewService(entity.NewInMemory(), audit, entity.WithClock(clock))
	if err != nil {
		t.Fatalf("entity.NewService: %v", err)
	}
	ctx := context.Background()
	actor := ledger.Actor{ID: "tester", Type: "user"}

	parent, err := entities.Create(ctx, entity.CreateInput{Name: "issuer", Type: entity.TypeIssuer}, actor)
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	childA, _ := entities.Create(ctx, entity.CreateInput{Name: "spv-a", Type: entity.TypeSPV, ParentID: parent.ID}, actor)
	childB, _ := entities.Create(ctx, entity.CreateInput{Name: "spv-b", Type: entity.TypeSPV, ParentID: parent.ID}, actor)

	h := &CascadeArchiveHandler{entities: entities}
	err = h.Handle(ctx, "CascadeArchive-evt-1", events.Envelope{
		EventID:   "evt-1",
		EventType: "entity.archived",
		Payload:   map[string]any{"entity_id": parent.ID},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	for _, id := range []string{childA.ID, childB.ID} {
		got, err := entities.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Status != entity.StatusArchived {
			t.Fatalf("child %s status = %s, want archived", id, got.Status)
		}
	}

	// Re-invocation with the same event is harmless.
	if err := h.Handle(ctx, "CascadeArchive-evt-1", events.Envelope{
		EventID: "evt-1", EventType: "entity.archived",
		Payload: map[string]any{"entity_id": parent.ID},
	}); err != nil {
		t.Fatalf("replayed handle: %v", err)
	}
}
