package binding

import (
	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/danmuck/ubind/internal/value"
)

// Event is a named channel for pushing events to the remote runtime. It keeps
// no local state.
type Event struct {
	ctx   *Context
	owner string
	name  string
}

// Name is "owner.name", or the bare name for context-level events.
func (e *Event) Name() string {
	if e.owner == "" {
		return e.name
	}
	return e.owner + "." + e.name
}

func (e *Event) Emit(args ...value.Value) error {
	return e.ctx.publish(wire.EmitEvent{Channel: e.Name(), Args: args})
}
