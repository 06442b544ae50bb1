// Package binding exposes local objects, functions, variables and events to a
// remote runtime and routes the runtime's change, request, timer and invoke
// messages back to them.
package binding

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ubind/internal/observability"
	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/danmuck/ubind/internal/signature"
	"github.com/danmuck/ubind/internal/value"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Transport carries outbound envelopes to the remote runtime.
type Transport interface {
	Send(env wire.Envelope) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(env wire.Envelope) error

func (f TransportFunc) Send(env wire.Envelope) error { return f(env) }

type Options struct {
	// ID names the context in logs. Empty gets a generated id.
	ID      string
	Dialect signature.Dialect
	// Workers bounds how many dispatch keys run at once.
	Workers int
	// SyncTimeout is used by callers that do not pass their own timeout.
	SyncTimeout time.Duration
	// LegacyBlockingSync lets a zero timeout block until the runtime answers.
	LegacyBlockingSync bool
	// LocalClock drives timers locally instead of waiting for TimerTick.
	LocalClock bool
}

func DefaultOptions() Options {
	return Options{
		Dialect:     signature.DialectTyped,
		Workers:     8,
		SyncTimeout: 2 * time.Second,
	}
}

// Context owns every registry for one connection to the remote runtime.
type Context struct {
	id        string
	opts      Options
	registry  *Registry
	transport Transport
	describer *signature.Describer

	functions *functionTable
	notify    *NotifyRegistry
	timers    *Scheduler
	dispatch  *dispatcher
	replies   *replyTable

	mu        sync.RWMutex
	objects   map[string]*Object
	variables map[string]*Variable
	values    map[string]value.Value
	events    map[string]*Event

	currentMu sync.RWMutex
	// building holds objects whose factories are running, innermost last.
	building []*Object

	seq       atomic.Uint64
	destroyed atomic.Int64
	closeOnce sync.Once
	done      chan struct{}
}

// NewContext builds a context. reg may be nil when the runtime never asks
// for instances; transport may be nil to discard outbound traffic.
func NewContext(reg *Registry, transport Transport, opts Options) *Context {
	if opts.ID == "" {
		opts.ID = "ctx-" + uuid.Must(uuid.NewV7()).String()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	if reg == nil {
		reg = NewRegistry()
	}
	c := &Context{
		id:        opts.ID,
		opts:      opts,
		registry:  reg,
		transport: transport,
		describer: signature.NewDescriber(),
		dispatch:  newDispatcher(opts.Workers),
		replies:   newReplyTable(),
		objects:   make(map[string]*Object),
		variables: make(map[string]*Variable),
		values:    make(map[string]value.Value),
		events:    make(map[string]*Event),
		done:      make(chan struct{}),
	}
	c.describer.Register(reflect.TypeOf((*Variable)(nil)), signature.KindVarRef)
	c.functions = newFunctionTable(c)
	c.notify = newNotifyRegistry(c)
	c.timers = newScheduler(c)
	log.Debug().Str("ctx", c.id).Str("dialect", opts.Dialect.String()).Msg("binding.NewContext")
	return c
}

func (c *Context) ID() string { return c.id }

func (c *Context) Options() Options { return c.opts }

func (c *Context) Registry() *Registry { return c.registry }

func (c *Context) Notify() *NotifyRegistry { return c.notify }

func (c *Context) Scheduler() *Scheduler { return c.timers }

// Current returns the innermost object under construction, if any.
func (c *Context) Current() *Object {
	c.currentMu.RLock()
	defer c.currentMu.RUnlock()
	if len(c.building) == 0 {
		return nil
	}
	return c.building[len(c.building)-1]
}

// Destroyed counts objects torn down by Destroy.
func (c *Context) Destroyed() int64 { return c.destroyed.Load() }

func (c *Context) Object(name string) (*Object, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.objects[name]
	return o, ok
}

// Objects lists live object names, sorted.
func (c *Context) Objects() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.objects))
	for name := range c.objects {
		out = append(out, name)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// NewObject creates an object without a factory, for code that binds members
// by hand.
func (c *Context) NewObject(name string) (*Object, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	o := newObject(c, name, "")
	if err := c.adopt(o); err != nil {
		return nil, err
	}
	return o, nil
}

func (c *Context) adopt(o *Object) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.objects[o.name]; exists {
		return fmt.Errorf("%w: %s", ErrObjectExists, o.name)
	}
	c.objects[o.name] = o
	return nil
}

// construct runs build with o as the current object. A factory may build
// further objects; each one is current while its own factory runs.
func (c *Context) construct(o *Object, build func(*Object) error) (err error) {
	c.pushCurrent(o)
	defer c.popCurrent(o)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return build(o)
}

func (c *Context) pushCurrent(o *Object) {
	c.currentMu.Lock()
	c.building = append(c.building, o)
	c.currentMu.Unlock()
}

// popCurrent removes o, which need not be on top when constructions run on
// several goroutines.
func (c *Context) popCurrent(o *Object) {
	c.currentMu.Lock()
	defer c.currentMu.Unlock()
	for i := len(c.building) - 1; i >= 0; i-- {
		if c.building[i] == o {
			c.building = append(c.building[:i], c.building[i+1:]...)
			return
		}
	}
}

// Invoke calls a bound function with args converted to its parameter kinds.
func (c *Context) Invoke(owner, method string, args []value.Value) (value.Value, error) {
	return c.functions.invoke(owner, method, args)
}

// Event returns the ownerless event channel called name.
func (c *Context) Event(name string) *Event {
	return c.event("", name)
}

func (c *Context) event(owner, name string) *Event {
	full := name
	if owner != "" {
		full = owner + "." + name
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.events[full]; ok {
		return e
	}
	e := &Event{ctx: c, owner: owner, name: name}
	c.events[full] = e
	observability.RecordRegistration("event")
	return e
}

// Destroy tears down everything owner registered and runs its OnDestroy hooks.
func (c *Context) Destroy(owner string) error {
	c.mu.Lock()
	o, ok := c.objects[owner]
	if ok {
		delete(c.objects, owner)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, owner)
	}
	c.teardown(o)
	o.runDestroyHooks()
	c.destroyed.Add(1)
	observability.RecordObjectDestroyed()
	log.Info().Str("ctx", c.id).Str("object", owner).Msg("binding.Context.Destroy")
	return nil
}

// teardown removes o's functions, notify bindings, timers, variables and events.
func (c *Context) teardown(o *Object) {
	c.functions.removeOwner(o.name)
	c.notify.removeOwner(o.name)
	c.timers.removeOwner(o.name)

	c.mu.Lock()
	for name, v := range c.variables {
		if v.ownerName() == o.name {
			delete(c.variables, name)
			v.release()
		}
	}
	for name, e := range c.events {
		if e.owner == o.name {
			delete(c.events, name)
		}
	}
	c.mu.Unlock()
}

func (c *Context) registerVariable(v *Variable, full string) {
	c.mu.Lock()
	prev := c.variables[full]
	c.variables[full] = v
	c.mu.Unlock()
	if prev != nil && prev != v {
		log.Debug().Str("variable", full).Msg("binding.Context replaced variable proxy")
	}
}

// variableRef returns the proxy bound under full, or an unowned reference
// carrying the cached value.
func (c *Context) variableRef(full string) *Variable {
	c.mu.RLock()
	v, ok := c.variables[full]
	c.mu.RUnlock()
	if ok {
		return v
	}
	return newReference(c, full)
}

func (c *Context) storeValue(full string, x value.Value) {
	c.mu.Lock()
	c.values[full] = x
	c.mu.Unlock()
}

func (c *Context) loadValue(full string) value.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[full]
}

func (c *Context) nextID() uint64 { return c.seq.Add(1) }

func (c *Context) publish(msg wire.Message) error {
	return c.send(wire.Envelope{ID: c.nextID(), Message: msg})
}

func (c *Context) reply(id uint64, msg wire.Message, failed bool) error {
	return c.send(wire.Envelope{ID: id, Response: true, Error: failed, Message: msg})
}

func (c *Context) send(env wire.Envelope) error {
	if c.isClosed() {
		return ErrClosed
	}
	if c.transport == nil {
		log.Trace().Str("ctx", c.id).Uint64("id", env.ID).Msg("binding.Context.send discarded")
		return nil
	}
	if err := c.transport.Send(env); err != nil {
		log.Error().Err(err).Str("ctx", c.id).Uint64("id", env.ID).Msg("binding.Context.send failed")
		return err
	}
	return nil
}

// Drain waits until every queued inbound dispatch has run.
func (c *Context) Drain() { c.dispatch.drain() }

func (c *Context) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed when the context closes.
func (c *Context) Done() <-chan struct{} { return c.done }

// Close fails pending fetches with ErrClosed, stops local timers and
// finishes queued dispatches. It is safe to call more than once.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		// Callbacks blocked on a fetch must wake before the drain.
		c.replies.failAll(ErrClosed)
		c.timers.stopClocks()
		c.dispatch.close()
		log.Debug().Str("ctx", c.id).Msg("binding.Context.Close")
	})
	return nil
}
