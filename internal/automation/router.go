package automation

import (
	"context"

	"authgrid.org/internal/events"
	"authgrid.org/internal/obs"
)

// Handler is one registered automation. Handle receives a deterministic
// invocation id derived from (handler name, event id) so a replayed event
// re-invokes with the same id.
type Handler interface {
	Name() string
	Handle(ctx context.Context, invocationID string, ev events.Envelope) error
}

// Router maps event types to automation handlers. The table is fixed at
// construction; there is no runtime registration.
type Router struct {
	routes   map[string]Handler
	disabled bool
}

// NewRouter builds a router over a static route table.
func NewRouter(routes map[string]Handler) *Router {
	if routes == nil {
		routes = map[string]Handler{}
	}
	return &Router{routes: routes}
}

// Disable turns dispatching off. Events still flow and keep their delivery
// state; dispatch is skipped and logged.
func (r *Router) Disable() {
	r.disabled = true
}

// Dispatch routes one event to its handler. An unregistered event type is a
// no-op. Handler errors are swallowed and logged; they never affect the
// event's own delivery state.
func (r *Router) Dispatch(ctx context.Context, ev events.Envelope) {
	handler, ok := r.routes[ev.EventType]
	if !ok {
		return
	}
	if r.disabled {
		obs.LogEvent("automation_skipped", map[string]any{
			"event_id":   ev.EventID,
			"event_type": ev.EventType,
			"handler":    handler.Name(),
		})
		obs.ObserveAutomationDispatch(handler.Name(), "skipped")
		return
	}

	invocationID := handler.Name() + "-" + ev.EventID
	if err := handler.Handle(ctx, invocationID, ev); err != nil {
		obs.LogEvent("automation_failed", map[string]any{
			"invocation_id": invocationID,
			"event_type":    ev.EventType,
			"error":         err.Error(),
		})
		obs.ObserveAutomationDispatch(handler.Name(), "error")
		return
	}
	obs.ObserveAutomationDispatch(handler.Name(), "ok")
}

// Run consumes envelopes from a queue and dispatches each until ctx ends.
func (r *Router) Run(ctx context.Context, queue events.Queue) {
	for {
		ev, ack, err := queue.Receive(ctx)
		if err != nil {
			return
		}
		r.Dispatch(ctx, ev)
		if ack != nil {
			ack()
		}
	}
}
