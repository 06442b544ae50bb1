package binding

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/danmuck/ubind/internal/signature"
	"github.com/danmuck/ubind/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifySignatureRejected(t *testing.T) {
	ctx, rec := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	require.NoError(t, o.Declare("two", func(a, b *Variable) int { return 0 }))
	require.NoError(t, o.Declare("plain", func(v value.Value) int { return 0 }))
	require.NoError(t, o.Declare("noStatus", func(v *Variable) {}))

	var se *signature.SignatureError
	require.ErrorAs(t, o.NotifyChange(VarName("Foo.x"), "two"), &se)
	assert.Equal(t, signature.BindNotify, se.Bind)
	require.ErrorAs(t, o.NotifyChange(VarName("Foo.x"), "plain"), &se)
	assert.Equal(t, 0, se.Index)
	require.ErrorAs(t, o.NotifyOnRequest(VarName("Foo.x"), "noStatus"), &se)

	assert.Empty(t, ofType[wire.RegisterNotify](rec))
	assert.Zero(t, ctx.Notify().Count("Foo.x", OnChange))
}

func TestNotifyRequiresBoundTarget(t *testing.T) {
	ctx, _ := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	require.NoError(t, o.Declare("cb", func() int { return 0 }))
	assert.ErrorIs(t, o.NotifyChange(NewVariable(), "cb"), ErrNotBound)
}

func TestDispatchOrderAndArity(t *testing.T) {
	ctx, rec := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	x := NewVariable()
	require.NoError(t, o.BindVar(x, "x"))

	var mu sync.Mutex
	var calls []string
	var seen *Variable
	require.NoError(t, o.Declare("m1", func() int {
		mu.Lock()
		calls = append(calls, "m1")
		mu.Unlock()
		return 0
	}))
	require.NoError(t, o.Declare("m2", func(v *Variable) int {
		mu.Lock()
		calls = append(calls, "m2")
		seen = v
		mu.Unlock()
		return 0
	}))
	require.NoError(t, o.NotifyChange(x, "m1"))
	require.NoError(t, o.NotifyChange(VarName("Foo.x"), "m2"))

	report := ctx.Notify().Dispatch("Foo.x", OnChange, value.Float(4))
	assert.Equal(t, 2, report.Invoked)
	assert.NoError(t, report.Err())
	assert.Equal(t, []string{"m1", "m2"}, calls)
	require.Same(t, x, seen)
	assert.Equal(t, 4.0, seen.Value().Float())

	regs := ofType[wire.RegisterNotify](rec)
	require.Len(t, regs, 2)
	assert.Equal(t, uint8(0), regs[0].Message.(wire.RegisterNotify).Arity)
	assert.Equal(t, uint8(1), regs[1].Message.(wire.RegisterNotify).Arity)
	assert.Equal(t, wire.OnChange, regs[1].Message.(wire.RegisterNotify).Kind)
}

func TestDispatchPassesReferenceForUnboundName(t *testing.T) {
	ctx, _ := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	var got *Variable
	require.NoError(t, o.Declare("cb", func(v *Variable) int { got = v; return 0 }))
	require.NoError(t, o.NotifyOnRequest(VarName("Remote.y"), "cb"))

	report := ctx.Notify().Dispatch("Remote.y", OnRequest, value.String("hi"))
	assert.Equal(t, 1, report.Invoked)
	require.NotNil(t, got)
	assert.Equal(t, "Remote.y", got.FullName())
	assert.Equal(t, "hi", got.Value().Str())
	assert.Zero(t, ctx.Notify().Dispatch("Remote.y", OnChange, value.String("hi")).Invoked)
}

func TestUnnotifyStopsDispatch(t *testing.T) {
	ctx, _ := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	x := NewVariable()
	require.NoError(t, o.BindVar(x, "x"))
	calls := 0
	require.NoError(t, o.Declare("cb", func() int { calls++; return 0 }))
	require.NoError(t, o.NotifyChange(x, "cb"))
	require.NoError(t, o.NotifyOnRequest(x, "cb"))

	assert.Equal(t, 2, x.Unnotify())
	report := ctx.Notify().Dispatch("Foo.x", OnChange, value.Float(1))
	assert.Zero(t, report.Invoked)
	assert.Zero(t, calls)
	assert.Zero(t, ctx.Notify().Unnotify("Foo.x"))
}

func TestCallbackFailureIsolated(t *testing.T) {
	ctx, _ := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	counter := 0
	require.NoError(t, o.Declare("explode", func() int { panic("callback exploded") }))
	require.NoError(t, o.Declare("fail", func() (int, error) { return 0, errors.New("refused") }))
	require.NoError(t, o.Declare("count", func() int { counter++; return 0 }))
	for _, m := range []string{"explode", "fail", "count"} {
		require.NoError(t, o.NotifyChange(VarName("Foo.x"), m))
	}

	report := ctx.Notify().Dispatch("Foo.x", OnChange, value.Float(1))
	assert.Equal(t, 3, report.Invoked)
	assert.Equal(t, 1, counter)
	require.Len(t, report.Errors, 2)

	var cb *CallbackInvocationError
	require.ErrorAs(t, report.Errors[0], &cb)
	assert.True(t, cb.Panic)
	assert.Equal(t, "explode", cb.Method)
	assert.Equal(t, "Foo.x", cb.Target)
	require.ErrorAs(t, report.Errors[1], &cb)
	assert.False(t, cb.Panic)
	assert.Error(t, report.Err())
}

// The value kind of a variable changing drops its change callbacks. This pins
// the behavior: the type-changing dispatch invokes nothing and later
// dispatches find no bindings.
func TestValueKindChangeDropsChangeBindings(t *testing.T) {
	ctx, _ := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	x := NewVariable()
	require.NoError(t, o.BindVar(x, "x"))
	changes, requests := 0, 0
	require.NoError(t, o.Declare("onChange", func() int { changes++; return 0 }))
	require.NoError(t, o.Declare("onRequest", func() int { requests++; return 0 }))
	require.NoError(t, o.NotifyChange(x, "onChange"))
	require.NoError(t, o.NotifyOnRequest(x, "onRequest"))

	first := ctx.Notify().Dispatch("Foo.x", OnChange, value.Float(1))
	assert.Equal(t, 1, first.Invoked)
	assert.Equal(t, 1, ctx.Notify().Dispatch("Foo.x", OnChange, value.Float(2)).Invoked)
	assert.Equal(t, 2, changes)

	switched := ctx.Notify().Dispatch("Foo.x", OnChange, value.String("two"))
	assert.Equal(t, 1, switched.Dropped)
	assert.Zero(t, switched.Invoked)
	assert.Zero(t, ctx.Notify().Count("Foo.x", OnChange))

	assert.Zero(t, ctx.Notify().Dispatch("Foo.x", OnChange, value.String("three")).Invoked)
	assert.Equal(t, 2, changes)
	assert.Equal(t, "three", x.Value().Str())

	// Request callbacks survive the drop.
	assert.Equal(t, 1, ctx.Notify().Dispatch("Foo.x", OnRequest, value.String("four")).Invoked)
	assert.Equal(t, 1, requests)
}

func TestVoidValueDoesNotCountAsKindChange(t *testing.T) {
	ctx, _ := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	calls := 0
	require.NoError(t, o.Declare("cb", func() int { calls++; return 0 }))
	require.NoError(t, o.NotifyChange(VarName("Foo.x"), "cb"))

	ctx.Notify().Dispatch("Foo.x", OnChange, value.Float(1))
	ctx.Notify().Dispatch("Foo.x", OnChange, value.Void())
	report := ctx.Notify().Dispatch("Foo.x", OnChange, value.Float(3))
	assert.Zero(t, report.Dropped)
	assert.Equal(t, 3, calls)
}

func TestDispatchSerializedPerVariable(t *testing.T) {
	ctx, _ := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	var mu sync.Mutex
	inFlight, maxInFlight, calls := 0, 0, 0
	require.NoError(t, o.Declare("cb", func() int {
		mu.Lock()
		inFlight++
		calls++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		mu.Lock()
		inFlight--
		mu.Unlock()
		return 0
	}))
	require.NoError(t, o.NotifyChange(VarName("Foo.x"), "cb"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx.Notify().Dispatch("Foo.x", OnChange, value.Float(float64(i)))
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, calls)
	assert.Equal(t, 1, maxInFlight)
	assert.Zero(t, dispatchLocks(ctx.Notify()), "idle variables keep no lock")
}

func dispatchLocks(r *NotifyRegistry) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.locks)
}

func TestDispatchLocksReleasedPerName(t *testing.T) {
	ctx, _ := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	require.NoError(t, o.Declare("cb", func() int { return 0 }))
	for i := 0; i < 100; i++ {
		name := VarName(fmt.Sprintf("Foo.v%d", i))
		require.NoError(t, o.NotifyChange(name, "cb"))
		require.NoError(t, ctx.Deliver(wire.Envelope{Message: wire.VariableChanged{Variable: string(name), Value: value.Float(1)}}))
	}
	ctx.Drain()
	for i := 0; i < 100; i++ {
		assert.Equal(t, 1, ctx.Notify().Unnotify(fmt.Sprintf("Foo.v%d", i)))
	}
	assert.Zero(t, dispatchLocks(ctx.Notify()))
}
