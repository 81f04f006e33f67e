// Package deliver invokes a target's callback once the engine has admitted
// an event. The per-dispatch timeout comes in through the context.
package deliver

import (
	"context"
	"fmt"

	"github.com/certhook/certhook/pkg/model"
	"github.com/certhook/certhook/pkg/target"
)

type Sink interface {
	Deliver(ctx context.Context, event *model.WebhookEvent, t *target.Target) error
}

// Router picks the sink matching a target's callback type. Callback types
// are validated at config load, so an unroutable target is a wiring bug.
type Router struct {
	sinks map[string]Sink
}

func NewRouter() *Router {
	return &Router{sinks: make(map[string]Sink)}
}

func (r *Router) Register(callbackType string, sink Sink) {
	r.sinks[callbackType] = sink
}

func (r *Router) Deliver(ctx context.Context, event *model.WebhookEvent, t *target.Target) error {
	sink, ok := r.sinks[t.Callback.Type]
	if !ok {
		return fmt.Errorf("no delivery sink registered for callback type %q", t.Callback.Type)
	}
	return sink.Deliver(ctx, event, t)
}
