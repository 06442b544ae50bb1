package binding

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/danmuck/ubind/internal/signature"
	"github.com/danmuck/ubind/internal/value"
)

func kindList(ks []signature.Kind) string {
	parts := make([]string, len(ks))
	for i, k := range ks {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}

// toGo converts v to the Go parameter type t tagged with kind k.
func toGo(v value.Value, k signature.Kind, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch k {
	case signature.KindValue:
		out.Set(reflect.ValueOf(v))
	case signature.KindBool:
		out.SetBool(v.Bool())
	case signature.KindByte, signature.KindShort, signature.KindInt, signature.KindLong:
		out.SetInt(v.Int())
	case signature.KindChar:
		out.SetUint(uint64(v.Int()))
	case signature.KindFloat, signature.KindDouble:
		out.SetFloat(v.Float())
	case signature.KindString:
		out.SetString(v.Str())
	case signature.KindBinary:
		b, ok := v.Binary()
		if !ok {
			return out, kindMismatch(v, k)
		}
		out.Set(reflect.ValueOf(b))
	case signature.KindImage:
		img, ok := v.Image()
		if !ok {
			return out, kindMismatch(v, k)
		}
		out.Set(reflect.ValueOf(img))
	case signature.KindSound:
		snd, ok := v.Sound()
		if !ok {
			return out, kindMismatch(v, k)
		}
		out.Set(reflect.ValueOf(snd))
	case signature.KindList:
		l, ok := v.List()
		if !ok {
			return out, kindMismatch(v, k)
		}
		out.Set(reflect.ValueOf(l))
	case signature.KindDictionary:
		d, ok := v.Dictionary()
		if !ok {
			return out, kindMismatch(v, k)
		}
		out.Set(reflect.ValueOf(d))
	default:
		return out, fmt.Errorf("%w: cannot pass %s", ErrBadArguments, k)
	}
	return out, nil
}

func kindMismatch(v value.Value, k signature.Kind) error {
	return fmt.Errorf("%w: got %s want %s", ErrBadArguments, v.Kind(), k)
}

// fromGo wraps a callable's result of kind k.
func fromGo(rv reflect.Value, k signature.Kind) value.Value {
	switch k {
	case signature.KindValue:
		return rv.Interface().(value.Value)
	case signature.KindBool:
		return value.Bool(rv.Bool())
	case signature.KindByte, signature.KindShort, signature.KindInt, signature.KindLong:
		return value.Int(rv.Int())
	case signature.KindChar:
		return value.Int(int64(rv.Uint()))
	case signature.KindFloat, signature.KindDouble:
		return value.Float(rv.Float())
	case signature.KindString:
		return value.String(rv.String())
	case signature.KindBinary:
		return value.FromBinary(rv.Interface().(value.Binary))
	case signature.KindImage:
		return value.FromImage(rv.Interface().(value.Image))
	case signature.KindSound:
		return value.FromSound(rv.Interface().(value.Sound))
	case signature.KindList:
		return value.FromList(rv.Interface().(value.List))
	case signature.KindDictionary:
		return value.FromDictionary(rv.Interface().(value.Dictionary))
	default:
		return value.Void()
	}
}

// panicError marks an error recovered from a callback panic.
type panicError struct {
	value any
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func isPanic(err error) bool {
	var p *panicError
	return errors.As(err, &p)
}

// call invokes m with already converted arguments. Panics and a trailing
// error result both come back as err.
func (m member) call(in []reflect.Value) (result reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	out := m.fn.Call(in)
	if m.shape.Fallible {
		last := out[len(out)-1]
		if !last.IsNil() {
			return reflect.Value{}, last.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return reflect.Value{}, nil
}

// status reads an int callback result; zero when the callable returns nothing.
func status(rv reflect.Value) int64 {
	if !rv.IsValid() {
		return 0
	}
	return rv.Int()
}
