package binding

import (
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/ubind/internal/observability"
	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/danmuck/ubind/internal/value"
	"github.com/rs/zerolog/log"
)

// PropertyKind names a metadata slot on a remote variable.
type PropertyKind string

const (
	PropRangeMin PropertyKind = "rangemin"
	PropRangeMax PropertyKind = "rangemax"
	PropSpeedMin PropertyKind = "speedmin"
	PropSpeedMax PropertyKind = "speedmax"
	PropDelta    PropertyKind = "delta"
	PropBlend    PropertyKind = "blend"
	PropConstant PropertyKind = "constant"
)

func (p PropertyKind) valid() bool {
	switch p {
	case PropRangeMin, PropRangeMax, PropSpeedMin, PropSpeedMax, PropDelta, PropBlend, PropConstant:
		return true
	default:
		return false
	}
}

// Variable is a local proxy for a variable hosted by the remote runtime.
// A Variable is bound exactly once.
type Variable struct {
	mu       sync.RWMutex
	ctx      *Context
	owner    string
	local    string
	full     string
	bound    bool
	released bool
}

func NewVariable() *Variable { return &Variable{} }

// newReference is an unowned proxy for a name, handed to notify callbacks
// when no bound proxy exists for it.
func newReference(ctx *Context, full string) *Variable {
	return &Variable{ctx: ctx, full: full, bound: true}
}

// Bind attaches v to owner under localName and announces it.
func (v *Variable) Bind(owner *Object, localName string) error {
	full := owner.name + "." + localName
	v.mu.Lock()
	if v.bound {
		existing := v.full
		v.mu.Unlock()
		return &DuplicateBindingError{Variable: existing, Requested: full}
	}
	v.ctx = owner.ctx
	v.owner = owner.name
	v.local = localName
	v.full = full
	v.bound = true
	v.mu.Unlock()

	owner.ctx.registerVariable(v, full)
	observability.RecordRegistration("variable")
	log.Debug().Str("variable", full).Msg("binding.Variable.Bind")
	return owner.ctx.publish(wire.RegisterVariable{Owner: owner.name, LocalName: localName})
}

// FullName is "owner.local", empty while unbound.
func (v *Variable) FullName() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.full
}

func (v *Variable) LocalName() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.local
}

func (v *Variable) IsBound() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.bound && !v.released
}

func (v *Variable) ownerName() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.owner
}

func (v *Variable) release() {
	v.mu.Lock()
	v.released = true
	v.mu.Unlock()
}

func (v *Variable) target() (*Context, string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.bound || v.released {
		return nil, "", ErrNotBound
	}
	return v.ctx, v.full, nil
}

// Value returns the last value seen locally for this variable's name.
func (v *Variable) Value() value.Value {
	ctx, full, err := v.target()
	if err != nil {
		return value.Void()
	}
	return ctx.loadValue(full)
}

// Set pushes x to the remote runtime without waiting for an acknowledgement.
func (v *Variable) Set(x value.Value) error {
	ctx, full, err := v.target()
	if err != nil {
		return err
	}
	ctx.storeValue(full, x)
	return ctx.publish(wire.SetVariable{Variable: full, Value: x})
}

// RequestValue asks for the current value; the answer arrives through
// OnRequest callbacks.
func (v *Variable) RequestValue() error {
	ctx, full, err := v.target()
	if err != nil {
		return err
	}
	return ctx.publish(wire.RequestVariable{Variable: full})
}

// Fetch requests the current value and returns a future for the reply. A
// non-positive timeout fails with ErrTimeoutRequired unless the context
// allows legacy blocking fetches, which wait until answered or closed.
func (v *Variable) Fetch(timeout time.Duration) *Future {
	ctx, full, err := v.target()
	if err != nil {
		return failedFuture(err)
	}
	return ctx.request(full, timeout, func(id uint64) wire.Envelope {
		return wire.Envelope{ID: id, Message: wire.FetchVariable{Variable: full}}
	})
}

// SyncValue blocks on Fetch.
func (v *Variable) SyncValue(timeout time.Duration) (value.Value, error) {
	return v.Fetch(timeout).Wait()
}

// Property reads one metadata slot of the remote variable.
func (v *Variable) Property(kind PropertyKind, timeout time.Duration) (value.Value, error) {
	if !kind.valid() {
		return value.Void(), fmt.Errorf("%w: %s", ErrUnknownProperty, kind)
	}
	ctx, full, err := v.target()
	if err != nil {
		return value.Void(), err
	}
	return ctx.request(full, timeout, func(id uint64) wire.Envelope {
		return wire.Envelope{ID: id, Message: wire.GetProperty{Variable: full, Property: string(kind)}}
	}).Wait()
}

func (v *Variable) SetProperty(kind PropertyKind, x value.Value) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %s", ErrUnknownProperty, kind)
	}
	ctx, full, err := v.target()
	if err != nil {
		return err
	}
	return ctx.publish(wire.SetProperty{Variable: full, Property: string(kind), Value: x})
}

// Unnotify drops every callback watching this variable.
func (v *Variable) Unnotify() int {
	ctx, full, err := v.target()
	if err != nil {
		return 0
	}
	return ctx.notify.Unnotify(full)
}

// request sends the envelope built for a fresh id and resolves the returned
// future with the correlated reply.
func (c *Context) request(variable string, timeout time.Duration, build func(id uint64) wire.Envelope) *Future {
	if timeout <= 0 && !c.opts.LegacyBlockingSync {
		return failedFuture(ErrTimeoutRequired)
	}
	id := c.nextID()
	reply := c.replies.add(id)
	if c.isClosed() {
		c.replies.resolve(id, value.Void(), ErrClosed)
		return reply
	}
	if err := c.send(build(id)); err != nil {
		c.replies.resolve(id, value.Void(), err)
		return reply
	}
	if timeout <= 0 {
		// No cancellation in legacy mode: only a reply or Close ends the wait.
		return reply
	}
	go func() {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-reply.Done():
		case <-t.C:
			if c.replies.resolve(id, value.Void(), fmt.Errorf("%w: %s after %s", ErrSyncTimeout, variable, timeout)) {
				log.Warn().Str("variable", variable).Dur("timeout", timeout).Msg("binding.Context.request timed out")
			}
		}
	}()
	return reply
}
