package signature

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/danmuck/ubind/internal/value"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Shape is the kind-level view of a Go func type.
type Shape struct {
	Params []Kind
	Return Kind
	// Fallible is set when the func's last result is an error.
	Fallible bool
}

// Describer maps Go func types to kind tags. Results are cached per
// reflect.Type, so reflection runs once per callable shape.
type Describer struct {
	mu     sync.RWMutex
	extra  map[reflect.Type]Kind
	shapes sync.Map // reflect.Type -> describeResult
}

type describeResult struct {
	shape Shape
	err   error
}

func NewDescriber() *Describer {
	return &Describer{extra: make(map[reflect.Type]Kind)}
}

// Register maps an additional Go type to k. It must run before the type is
// first described.
func (d *Describer) Register(t reflect.Type, k Kind) {
	d.mu.Lock()
	d.extra[t] = k
	d.mu.Unlock()
}

// KindOf returns the kind tag for one Go type.
func (d *Describer) KindOf(t reflect.Type) (Kind, bool) {
	d.mu.RLock()
	k, ok := d.extra[t]
	d.mu.RUnlock()
	if ok {
		return k, true
	}
	switch t {
	case reflect.TypeOf(value.Value{}):
		return KindValue, true
	case reflect.TypeOf(value.Binary{}):
		return KindBinary, true
	case reflect.TypeOf(value.Dictionary{}):
		return KindDictionary, true
	case reflect.TypeOf(value.Image{}):
		return KindImage, true
	case reflect.TypeOf(value.List{}):
		return KindList, true
	case reflect.TypeOf(value.Sound{}):
		return KindSound, true
	}
	switch t.Kind() {
	case reflect.Bool:
		return KindBool, true
	case reflect.Int8:
		return KindByte, true
	case reflect.Uint16:
		return KindChar, true
	case reflect.Int16:
		return KindShort, true
	case reflect.Int, reflect.Int32:
		return KindInt, true
	case reflect.Int64:
		return KindLong, true
	case reflect.Float32:
		return KindFloat, true
	case reflect.Float64:
		return KindDouble, true
	case reflect.String:
		return KindString, true
	}
	return KindVoid, false
}

// Describe derives the shape of fn's type. method is used in errors only.
func (d *Describer) Describe(method string, fn reflect.Type) (Shape, error) {
	if cached, ok := d.shapes.Load(fn); ok {
		res := cached.(describeResult)
		return res.shape, rename(res.err, method)
	}
	shape, err := d.describe(fn)
	d.shapes.Store(fn, describeResult{shape: shape, err: err})
	return shape, rename(err, method)
}

func (d *Describer) describe(fn reflect.Type) (Shape, error) {
	if fn.Kind() != reflect.Func {
		return Shape{}, &SignatureError{Index: -1, Type: fn.String(), Reason: "not a function"}
	}
	if fn.IsVariadic() {
		return Shape{}, &SignatureError{Index: -1, Type: fn.String(), Reason: "variadic functions cannot be bound"}
	}
	shape := Shape{Params: make([]Kind, fn.NumIn())}
	for i := 0; i < fn.NumIn(); i++ {
		k, ok := d.KindOf(fn.In(i))
		if !ok {
			return Shape{}, &SignatureError{Index: i, Type: fn.In(i).String(), Reason: "no exchangeable kind for go type"}
		}
		shape.Params[i] = k
	}

	outs := fn.NumOut()
	if outs > 0 && fn.Out(outs-1) == errorType {
		shape.Fallible = true
		outs--
	}
	switch outs {
	case 0:
		shape.Return = KindVoid
	case 1:
		k, ok := d.KindOf(fn.Out(0))
		if !ok {
			return Shape{}, &SignatureError{Index: -1, Type: fn.Out(0).String(), Reason: "no exchangeable kind for go return type"}
		}
		shape.Return = k
	default:
		return Shape{}, &SignatureError{Index: -1, Type: fn.String(), Reason: fmt.Sprintf("%d results, want at most one plus error", outs)}
	}
	return shape, nil
}

func rename(err error, method string) error {
	if err == nil {
		return nil
	}
	se, ok := err.(*SignatureError)
	if !ok {
		return err
	}
	out := *se
	out.Method = method
	return &out
}
