package binding

import (
	"reflect"
	"sync"
	"testing"

	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/danmuck/ubind/internal/signature"
	"github.com/danmuck/ubind/internal/testutil/testlog"
	"github.com/danmuck/ubind/internal/value"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	envs []wire.Envelope
	hook func(env wire.Envelope)
}

func (r *recorder) Send(env wire.Envelope) error {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(env)
	}
	return nil
}

func (r *recorder) all() []wire.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Envelope(nil), r.envs...)
}

// ofType returns recorded envelopes carrying a T.
func ofType[T wire.Message](r *recorder) []wire.Envelope {
	var out []wire.Envelope
	for _, env := range r.all() {
		if _, ok := env.Message.(T); ok {
			out = append(out, env)
		}
	}
	return out
}

func newTestContext(t *testing.T, opts Options) (*Context, *recorder) {
	t.Helper()
	testlog.Start(t)
	rec := &recorder{}
	ctx := NewContext(NewRegistry(), rec, opts)
	t.Cleanup(func() { _ = ctx.Close() })
	return ctx, rec
}

func typedOptions() Options {
	opts := DefaultOptions()
	opts.Dialect = signature.DialectTyped
	return opts
}

func genericOptions() Options {
	opts := DefaultOptions()
	opts.Dialect = signature.DialectGeneric
	return opts
}

func mustObject(t *testing.T, ctx *Context, name string) *Object {
	t.Helper()
	o, err := ctx.NewObject(name)
	require.NoError(t, err)
	return o
}

var valueType = reflect.TypeOf(value.Value{})

// valueFunc builds func(value.Value x arity) value.Value returning its arity.
func valueFunc(arity int) any {
	in := make([]reflect.Type, arity)
	for i := range in {
		in[i] = valueType
	}
	ft := reflect.FuncOf(in, []reflect.Type{valueType}, false)
	return reflect.MakeFunc(ft, func(args []reflect.Value) []reflect.Value {
		return []reflect.Value{reflect.ValueOf(value.Int(int64(len(args))))}
	}).Interface()
}
