package binding

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/danmuck/ubind/internal/observability"
	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/danmuck/ubind/internal/signature"
	"github.com/danmuck/ubind/internal/value"
	"github.com/rs/zerolog/log"
)

type boundFunction struct {
	owner  string
	method string
	desc   signature.Descriptor
	member member
}

type functionTable struct {
	ctx   *Context
	mu    sync.RWMutex
	funcs map[string]*boundFunction
}

func newFunctionTable(ctx *Context) *functionTable {
	return &functionTable{ctx: ctx, funcs: make(map[string]*boundFunction)}
}

func functionKey(owner, method string) string { return owner + "." + method }

// BindFunction binds the single member called method.
func (o *Object) BindFunction(method string) error {
	return o.bindFunction(method, nil)
}

// BindFunctionWith binds the overload of method whose parameters are params.
func (o *Object) BindFunctionWith(method string, params []signature.Kind) error {
	if params == nil {
		params = []signature.Kind{}
	}
	return o.bindFunction(method, params)
}

func (o *Object) bindFunction(method string, params []signature.Kind) error {
	m, err := o.resolve(method, params)
	if err != nil {
		return err
	}
	desc, err := signature.Validate(signature.BindFunction, o.ctx.opts.Dialect, method, m.shape.Params, m.shape.Return)
	if err != nil {
		return err
	}
	changed := o.ctx.functions.put(&boundFunction{owner: o.name, method: method, desc: desc, member: m})
	if !changed {
		return nil
	}
	observability.RecordRegistration("function")
	log.Debug().Str("owner", o.name).Str("method", method).Str("sig", desc.Signature).Msg("binding.Object.BindFunction")
	return o.ctx.publish(wire.RegisterFunction{
		Owner:      o.name,
		Method:     method,
		Signature:  desc.Signature,
		ReturnType: desc.Return.String(),
		Arity:      uint8(desc.Arity()),
	})
}

// put stores f, reporting false when an identical binding already exists.
func (t *functionTable) put(f *boundFunction) bool {
	key := functionKey(f.owner, f.method)
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.funcs[key]
	t.funcs[key] = f
	return !ok || prev.desc.Signature != f.desc.Signature
}

func (t *functionTable) get(owner, method string) (*boundFunction, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.funcs[functionKey(owner, method)]
	return f, ok
}

// Descriptor returns the validated descriptor of a bound function.
func (c *Context) Descriptor(owner, method string) (signature.Descriptor, bool) {
	f, ok := c.functions.get(owner, method)
	if !ok {
		return signature.Descriptor{}, false
	}
	return f.desc, true
}

func (t *functionTable) removeOwner(owner string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key, f := range t.funcs {
		if f.owner == owner {
			delete(t.funcs, key)
			n++
		}
	}
	return n
}

func (t *functionTable) invoke(owner, method string, args []value.Value) (value.Value, error) {
	start := time.Now()
	f, ok := t.get(owner, method)
	if !ok {
		observability.RecordDispatch("invoke", "unknown", time.Since(start))
		return value.Void(), fmt.Errorf("%w: %s", ErrUnknownFunction, functionKey(owner, method))
	}
	if len(args) != f.desc.Arity() {
		observability.RecordDispatch("invoke", "bad_args", time.Since(start))
		return value.Void(), fmt.Errorf("%w: %s takes %d arguments, got %d", ErrBadArguments, functionKey(owner, method), f.desc.Arity(), len(args))
	}
	fnType := f.member.fn.Type()
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		rv, err := toGo(arg, f.desc.Params[i], fnType.In(i))
		if err != nil {
			observability.RecordDispatch("invoke", "bad_args", time.Since(start))
			return value.Void(), fmt.Errorf("%s argument %d: %w", functionKey(owner, method), i, err)
		}
		in[i] = rv
	}
	out, err := f.member.call(in)
	if err != nil {
		cbErr := &CallbackInvocationError{Site: "function", Owner: owner, Method: method, Panic: isPanic(err), Err: err}
		observability.RecordCallbackFailure("function", cbErr.Panic)
		observability.RecordDispatch("invoke", "error", time.Since(start))
		log.Error().Err(cbErr).Msg("binding.Context.Invoke")
		return value.Void(), cbErr
	}
	observability.RecordDispatch("invoke", "ok", time.Since(start))
	if f.desc.Return == signature.KindVoid {
		return value.Void(), nil
	}
	return fromGo(out, f.desc.Return), nil
}
