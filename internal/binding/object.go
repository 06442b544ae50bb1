package binding

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/danmuck/ubind/internal/signature"
	"github.com/rs/zerolog/log"
)

// Object is a bound instance. Its name is the identity the remote runtime
// addresses it by.
type Object struct {
	ctx    *Context
	name   string
	class  string
	cloner *classEntry

	mu        sync.Mutex
	members   map[string][]member
	onDestroy []func()
}

// member is one declared callable with its cached kind shape.
type member struct {
	fn    reflect.Value
	shape signature.Shape
}

func (m member) signature() string {
	return signature.Canonical(m.shape.Params, m.shape.Return)
}

func newObject(ctx *Context, name, class string) *Object {
	return &Object{
		ctx:     ctx,
		name:    name,
		class:   class,
		members: make(map[string][]member),
	}
}

func (o *Object) Name() string { return o.name }

// Class is the registry name the object was built from, empty for NewObject.
func (o *Object) Class() string { return o.class }

func (o *Object) Context() *Context { return o.ctx }

// Declare adds fn as a callable member called name. Declaring a name again
// with a different parameter list adds an overload; the same parameter list
// replaces the earlier declaration.
func (o *Object) Declare(name string, fn any) error {
	rv := reflect.ValueOf(fn)
	if !rv.IsValid() || rv.Kind() != reflect.Func || rv.IsNil() {
		return &signature.SignatureError{Method: name, Index: -1, Type: fmt.Sprintf("%T", fn), Reason: "not a function"}
	}
	shape, err := o.ctx.describer.Describe(name, rv.Type())
	if err != nil {
		return err
	}
	m := member{fn: rv, shape: shape}

	o.mu.Lock()
	defer o.mu.Unlock()
	overloads := o.members[name]
	for i, existing := range overloads {
		if sameParams(existing.shape.Params, shape.Params) {
			overloads[i] = m
			return nil
		}
	}
	o.members[name] = append(overloads, m)
	log.Trace().Str("object", o.name).Str("member", name).Str("sig", m.signature()).Msg("binding.Object.Declare")
	return nil
}

// Members lists declared member names, sorted.
func (o *Object) Members() []string {
	o.mu.Lock()
	out := make([]string, 0, len(o.members))
	for n := range o.members {
		out = append(out, n)
	}
	o.mu.Unlock()
	sort.Strings(out)
	return out
}

// resolve picks the overload of method. A nil params list requires the name
// to be unambiguous.
func (o *Object) resolve(method string, params []signature.Kind) (member, error) {
	o.mu.Lock()
	overloads := append([]member(nil), o.members[method]...)
	o.mu.Unlock()

	if params != nil {
		for _, m := range overloads {
			if sameParams(m.shape.Params, params) {
				return m, nil
			}
		}
		return member{}, &ConstructionError{
			Object: o.name,
			Method: method,
			Err:    fmt.Errorf("%w: %s(%s)", ErrMethodNotFound, method, kindList(params)),
		}
	}
	switch len(overloads) {
	case 0:
		return member{}, &ConstructionError{Object: o.name, Method: method, Err: fmt.Errorf("%w: %s", ErrMethodNotFound, method)}
	case 1:
		return overloads[0], nil
	default:
		candidates := make([]string, len(overloads))
		for i, m := range overloads {
			candidates[i] = m.signature()
		}
		return member{}, &AmbiguousMethodError{Owner: o.name, Method: method, Candidates: candidates}
	}
}

// OnDestroy registers fn to run when the remote runtime destroys the object.
func (o *Object) OnDestroy(fn func()) {
	o.mu.Lock()
	o.onDestroy = append(o.onDestroy, fn)
	o.mu.Unlock()
}

func (o *Object) runDestroyHooks() {
	o.mu.Lock()
	hooks := o.onDestroy
	o.onDestroy = nil
	o.mu.Unlock()
	for _, fn := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("object", o.name).Interface("panic", r).Msg("binding.Object destroy hook panicked")
				}
			}()
			fn()
		}()
	}
}

// Clone builds a new instance of the same class under name.
func (o *Object) Clone(name string) (*Object, error) {
	if o.cloner == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotClonable, o.name)
	}
	return o.ctx.build(o.cloner, name)
}

// Event returns the event channel name in this object's namespace.
func (o *Object) Event(name string) *Event {
	return o.ctx.event(o.name, name)
}

// BindVar binds v under localName on this object.
func (o *Object) BindVar(v *Variable, localName string) error {
	return v.Bind(o, localName)
}

func sameParams(a, b []signature.Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
