package binding

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMethodNotFound  = errors.New("binding: method not found")
	ErrUnknownClass    = errors.New("binding: unknown class")
	ErrUnknownObject   = errors.New("binding: unknown object")
	ErrObjectExists    = errors.New("binding: object already exists")
	ErrUnknownFunction = errors.New("binding: unknown function")
	ErrUnknownTimer    = errors.New("binding: unknown timer")
	ErrUnknownProperty = errors.New("binding: unknown property")
	ErrBadArguments    = errors.New("binding: bad arguments")
	ErrNotBound        = errors.New("binding: variable not bound")
	ErrNotClonable     = errors.New("binding: object has no cloner")
	ErrTimeoutRequired = errors.New("binding: timeout required")
	ErrSyncTimeout     = errors.New("binding: sync timed out")
	ErrClosed          = errors.New("binding: context closed")
)

// AmbiguousMethodError is returned when a name resolves to several overloads
// and no parameter list was given to pick one.
type AmbiguousMethodError struct {
	Owner      string
	Method     string
	Candidates []string
}

func (e *AmbiguousMethodError) Error() string {
	return fmt.Sprintf(
		"binding: several methods named %q on %s (%s), specify the arguments to avoid ambiguities",
		e.Method,
		e.Owner,
		strings.Join(e.Candidates, ", "),
	)
}

// ConstructionError wraps any failure while building or binding an object.
type ConstructionError struct {
	Class  string
	Object string
	Method string
	Err    error
}

func (e *ConstructionError) Error() string {
	var b strings.Builder
	b.WriteString("binding: construct")
	if e.Class != "" {
		fmt.Fprintf(&b, " class=%s", e.Class)
	}
	if e.Object != "" {
		fmt.Fprintf(&b, " object=%s", e.Object)
	}
	if e.Method != "" {
		fmt.Fprintf(&b, " method=%s", e.Method)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// CallbackInvocationError reports a callback that returned an error or panicked.
type CallbackInvocationError struct {
	Site   string
	Owner  string
	Method string
	Target string
	Panic  bool
	Err    error
}

func (e *CallbackInvocationError) Error() string {
	what := "failed"
	if e.Panic {
		what = "panicked"
	}
	target := ""
	if e.Target != "" {
		target = " target=" + e.Target
	}
	return fmt.Sprintf("binding: %s callback %s.%s%s %s: %v", e.Site, e.Owner, e.Method, target, what, e.Err)
}

func (e *CallbackInvocationError) Unwrap() error { return e.Err }

// DuplicateBindingError is returned when a Variable is bound a second time.
type DuplicateBindingError struct {
	Variable  string
	Requested string
}

func (e *DuplicateBindingError) Error() string {
	return fmt.Sprintf("binding: variable %s is already bound (requested %s)", e.Variable, e.Requested)
}
