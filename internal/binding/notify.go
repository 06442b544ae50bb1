package binding

import (
	"errors"
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

type NotifyKind = wire.NotifyKind

const (
	OnChange  = wire.OnChange
	OnRequest = wire.OnRequest
)

// Target names the variable a notification watches: a *Variable or a VarName.
type Target interface {
	FullName() string
}

// VarName targets a variable by its full "owner.local" name.
type VarName string

func (n VarName) FullName() string { return string(n) }

type notifyBinding struct {
	owner  string
	method string
	desc   signature.Descriptor
	member member
}

type notifyKey struct {
	variable string
	kind     NotifyKind
}

// DispatchReport summarizes one fan-out over a variable's bindings.
type DispatchReport struct {
	Variable string
	Kind     NotifyKind
	Invoked  int
	// Dropped counts OnChange bindings removed because the value kind changed.
	Dropped int
	Errors  []error
}

// Err joins every callback failure, nil when all succeeded.
func (r DispatchReport) Err() error { return errors.Join(r.Errors...) }

// NotifyRegistry holds ordered change/request callbacks per variable.
type NotifyRegistry struct {
	ctx      *Context
	mu       sync.RWMutex
	bindings map[notifyKey][]*notifyBinding
	lastKind map[string]value.Kind
	// locks live only while a dispatch holds or waits on them.
	locks map[string]*varLock
}

type varLock struct {
	mu   sync.Mutex
	refs int
}

func newNotifyRegistry(ctx *Context) *NotifyRegistry {
	return &NotifyRegistry{
		ctx:      ctx,
		bindings: make(map[notifyKey][]*notifyBinding),
		lastKind: make(map[string]value.Kind),
		locks:    make(map[string]*varLock),
	}
}

// NotifyChange calls method whenever the target variable changes.
func (o *Object) NotifyChange(target Target, method string) error {
	return o.notify(target, OnChange, method, nil)
}

// NotifyChangeWith picks the overload of method with params.
func (o *Object) NotifyChangeWith(target Target, method string, params []signature.Kind) error {
	return o.notify(target, OnChange, method, nonNil(params))
}

// NotifyOnRequest calls method when an asynchronous RequestValue completes.
func (o *Object) NotifyOnRequest(target Target, method string) error {
	return o.notify(target, OnRequest, method, nil)
}

func (o *Object) NotifyOnRequestWith(target Target, method string, params []signature.Kind) error {
	return o.notify(target, OnRequest, method, nonNil(params))
}

func nonNil(params []signature.Kind) []signature.Kind {
	if params == nil {
		return []signature.Kind{}
	}
	return params
}

func (o *Object) notify(target Target, kind NotifyKind, method string, params []signature.Kind) error {
	variable := target.FullName()
	if variable == "" {
		return fmt.Errorf("%w: notify target for %s.%s", ErrNotBound, o.name, method)
	}
	m, err := o.resolve(method, params)
	if err != nil {
		return err
	}
	desc, err := signature.Validate(signature.BindNotify, o.ctx.opts.Dialect, method, m.shape.Params, m.shape.Return)
	if err != nil {
		return err
	}
	o.ctx.notify.add(notifyKey{variable: variable, kind: kind}, &notifyBinding{
		owner:  o.name,
		method: method,
		desc:   desc,
		member: m,
	})
	observability.RecordRegistration("notify")
	log.Debug().Str("owner", o.name).Str("method", method).Str("variable", variable).Stringer("kind", kind).Msg("binding.Object.Notify")
	return o.ctx.publish(wire.RegisterNotify{
		Kind:     kind,
		Variable: variable,
		Owner:    o.name,
		Method:   method,
		Arity:    uint8(desc.Arity()),
	})
}

func (r *NotifyRegistry) add(key notifyKey, b *notifyBinding) {
	r.mu.Lock()
	r.bindings[key] = append(r.bindings[key], b)
	r.mu.Unlock()
}

// Count reports how many callbacks are registered for variable and kind.
func (r *NotifyRegistry) Count(variable string, kind NotifyKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings[notifyKey{variable: variable, kind: kind}])
}

// Unnotify removes every change and request callback on variable.
func (r *NotifyRegistry) Unnotify(variable string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.bindings[notifyKey{variable, OnChange}]) + len(r.bindings[notifyKey{variable, OnRequest}])
	delete(r.bindings, notifyKey{variable, OnChange})
	delete(r.bindings, notifyKey{variable, OnRequest})
	delete(r.lastKind, variable)
	log.Debug().Str("variable", variable).Int("removed", n).Msg("binding.NotifyRegistry.Unnotify")
	return n
}

func (r *NotifyRegistry) removeOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, list := range r.bindings {
		kept := list[:0:0]
		for _, b := range list {
			if b.owner != owner {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			delete(r.bindings, key)
		} else {
			r.bindings[key] = kept
		}
	}
}

// acquire locks variable's dispatch lock. Pair with release.
func (r *NotifyRegistry) acquire(variable string) *varLock {
	r.mu.Lock()
	l, ok := r.locks[variable]
	if !ok {
		l = &varLock{}
		r.locks[variable] = l
	}
	l.refs++
	r.mu.Unlock()
	l.mu.Lock()
	return l
}

func (r *NotifyRegistry) release(variable string, l *varLock) {
	l.mu.Unlock()
	r.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, variable)
	}
	r.mu.Unlock()
}

// observe records current's kind for variable. When it differs from the
// last non-void kind seen, every OnChange binding of variable is dropped and
// the count returned.
func (r *NotifyRegistry) observe(variable string, current value.Value) int {
	if current.IsVoid() {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, seen := r.lastKind[variable]
	r.lastKind[variable] = current.Kind()
	if !seen || prev == current.Kind() {
		return 0
	}
	key := notifyKey{variable, OnChange}
	dropped := len(r.bindings[key])
	delete(r.bindings, key)
	return dropped
}

// Dispatch runs the kind callbacks of variable in registration order. Each
// callback is isolated: a failure is recorded in the report and the loop
// continues. Dispatches for one variable never overlap.
//
// A dispatch whose value kind differs from the previous one drops all
// OnChange bindings of the variable; an OnChange dispatch that triggers the
// drop invokes nothing.
func (r *NotifyRegistry) Dispatch(variable string, kind NotifyKind, current value.Value) DispatchReport {
	start := time.Now()
	site := "notify_" + kind.String()
	l := r.acquire(variable)
	defer r.release(variable, l)

	report := DispatchReport{Variable: variable, Kind: kind}
	r.ctx.storeValue(variable, current)

	if dropped := r.observe(variable, current); dropped > 0 {
		report.Dropped = dropped
		observability.RecordNotifyDropped(dropped)
		log.Warn().Str("variable", variable).Int("dropped", dropped).Stringer("kind", current.Kind()).
			Msg("binding.NotifyRegistry.Dispatch value kind changed, change callbacks dropped")
	}
	if kind == OnChange && report.Dropped > 0 {
		observability.RecordDispatch(site, "dropped", time.Since(start))
		return report
	}

	r.mu.RLock()
	list := append([]*notifyBinding(nil), r.bindings[notifyKey{variable, kind}]...)
	r.mu.RUnlock()
	if len(list) == 0 {
		observability.RecordDispatch(site, "empty", time.Since(start))
		return report
	}

	ref := r.ctx.variableRef(variable)
	for _, b := range list {
		var in []reflect.Value
		if b.desc.Arity() == 1 {
			in = []reflect.Value{reflect.ValueOf(ref)}
		}
		report.Invoked++
		out, err := b.member.call(in)
		if err != nil {
			cbErr := &CallbackInvocationError{
				Site:   site,
				Owner:  b.owner,
				Method: b.method,
				Target: variable,
				Panic:  isPanic(err),
				Err:    err,
			}
			report.Errors = append(report.Errors, cbErr)
			observability.RecordCallbackFailure(site, cbErr.Panic)
			log.Error().Err(cbErr).Msg("binding.NotifyRegistry.Dispatch callback failed")
			continue
		}
		if st := status(out); st != 0 {
			log.Debug().Str("variable", variable).Str("method", b.method).Int64("status", st).Msg("binding.NotifyRegistry.Dispatch status")
		}
	}
	outcome := "ok"
	if len(report.Errors) > 0 {
		outcome = "error"
	}
	observability.RecordDispatch(site, outcome, time.Since(start))
	return report
}
