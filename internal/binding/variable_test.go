package binding

import (
	"testing"
	"time"

	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/danmuck/ubind/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// answerFetches makes rec reply to fetches and property reads on ctx.
func answerFetches(ctx *Context, rec *recorder, v value.Value) {
	rec.hook = func(env wire.Envelope) {
		switch m := env.Message.(type) {
		case wire.FetchVariable:
			go func() {
				_ = ctx.Deliver(wire.Envelope{ID: env.ID, Response: true, Message: wire.VariableValue{Variable: m.Variable, Value: v}})
			}()
		case wire.GetProperty:
			go func() {
				_ = ctx.Deliver(wire.Envelope{ID: env.ID, Response: true, Message: wire.PropertyValue{Variable: m.Variable, Property: m.Property, Value: v}})
			}()
		}
	}
}

func TestBindOnce(t *testing.T) {
	ctx, rec := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	x := NewVariable()
	assert.False(t, x.IsBound())
	assert.ErrorIs(t, x.Set(value.Float(1)), ErrNotBound)

	require.NoError(t, o.BindVar(x, "x"))
	assert.True(t, x.IsBound())
	assert.Equal(t, "Foo.x", x.FullName())
	assert.Equal(t, "x", x.LocalName())

	var dup *DuplicateBindingError
	require.ErrorAs(t, x.Bind(o, "y"), &dup)
	assert.Equal(t, "Foo.x", dup.Variable)
	assert.Equal(t, "Foo.y", dup.Requested)
	assert.Equal(t, "Foo.x", x.FullName())

	regs := ofType[wire.RegisterVariable](rec)
	require.Len(t, regs, 1)
	assert.Equal(t, wire.RegisterVariable{Owner: "Foo", LocalName: "x"}, regs[0].Message)
}

func TestRebindSameNameReplaces(t *testing.T) {
	ctx, _ := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	first, second := NewVariable(), NewVariable()
	require.NoError(t, o.BindVar(first, "x"))
	require.NoError(t, o.BindVar(second, "x"))

	var got *Variable
	require.NoError(t, o.Declare("cb", func(v *Variable) int { got = v; return 0 }))
	require.NoError(t, o.NotifyChange(VarName("Foo.x"), "cb"))
	ctx.Notify().Dispatch("Foo.x", OnChange, value.Float(9))
	assert.Same(t, second, got)
	assert.Equal(t, 9.0, first.Value().Float())
}

func TestSetRequestAndProperties(t *testing.T) {
	ctx, rec := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	x := NewVariable()
	require.NoError(t, o.BindVar(x, "x"))

	require.NoError(t, x.Set(value.String("hello")))
	assert.Equal(t, "hello", x.Value().Str())
	require.NoError(t, x.RequestValue())
	require.NoError(t, x.SetProperty(PropRangeMax, value.Float(10)))
	assert.ErrorIs(t, x.SetProperty("volume", value.Float(1)), ErrUnknownProperty)

	sets := ofType[wire.SetVariable](rec)
	require.Len(t, sets, 1)
	assert.Equal(t, "Foo.x", sets[0].Message.(wire.SetVariable).Variable)
	assert.Len(t, ofType[wire.RequestVariable](rec), 1)
	props := ofType[wire.SetProperty](rec)
	require.Len(t, props, 1)
	assert.Equal(t, "rangemax", props[0].Message.(wire.SetProperty).Property)
}

func TestSyncValue(t *testing.T) {
	ctx, rec := newTestContext(t, typedOptions())
	answerFetches(ctx, rec, value.Float(42))
	o := mustObject(t, ctx, "Foo")
	x := NewVariable()
	require.NoError(t, o.BindVar(x, "x"))

	got, err := x.SyncValue(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.Float())
	assert.Equal(t, 42.0, x.Value().Float())

	prop, err := x.Property(PropDelta, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42.0, prop.Float())
	_, err = x.Property("volume", time.Second)
	assert.ErrorIs(t, err, ErrUnknownProperty)

	fetches := ofType[wire.FetchVariable](rec)
	require.Len(t, fetches, 1)
	assert.NotZero(t, fetches[0].ID)
}

func TestSyncValueTimeouts(t *testing.T) {
	ctx, _ := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	x := NewVariable()
	require.NoError(t, o.BindVar(x, "x"))

	_, err := x.SyncValue(0)
	assert.ErrorIs(t, err, ErrTimeoutRequired)

	_, err = x.SyncValue(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrSyncTimeout)
	assert.Zero(t, ctx.replies.size())

	_, err = NewVariable().SyncValue(time.Second)
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestLegacyBlockingSync(t *testing.T) {
	opts := typedOptions()
	opts.LegacyBlockingSync = true
	ctx, rec := newTestContext(t, opts)
	answerFetches(ctx, rec, value.String("late"))
	o := mustObject(t, ctx, "Foo")
	x := NewVariable()
	require.NoError(t, o.BindVar(x, "x"))

	got, err := x.SyncValue(0)
	require.NoError(t, err)
	assert.Equal(t, "late", got.Str())

	rec.hook = nil
	pending := x.Fetch(0)
	select {
	case <-pending.Done():
		t.Fatalf("legacy fetch resolved without a reply")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, ctx.Close())
	_, err = pending.Wait()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRemoteRejectsFetch(t *testing.T) {
	ctx, rec := newTestContext(t, typedOptions())
	rec.hook = func(env wire.Envelope) {
		if m, ok := env.Message.(wire.FetchVariable); ok {
			go func() {
				_ = ctx.Deliver(wire.Envelope{ID: env.ID, Response: true, Error: true, Message: wire.VariableValue{Variable: m.Variable}})
			}()
		}
	}
	o := mustObject(t, ctx, "Foo")
	x := NewVariable()
	require.NoError(t, o.BindVar(x, "x"))
	require.NoError(t, x.Set(value.Float(3)))

	_, err := x.SyncValue(time.Second)
	require.Error(t, err)
	assert.Equal(t, 3.0, x.Value().Float())
}

func TestEventEmit(t *testing.T) {
	ctx, rec := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	e := o.Event("hit")
	assert.Same(t, e, o.Event("hit"))
	assert.Equal(t, "Foo.hit", e.Name())
	require.NoError(t, e.Emit(value.Float(1), value.String("a")))
	require.NoError(t, ctx.Event("global").Emit())

	emits := ofType[wire.EmitEvent](rec)
	require.Len(t, emits, 2)
	first := emits[0].Message.(wire.EmitEvent)
	assert.Equal(t, "Foo.hit", first.Channel)
	assert.Len(t, first.Args, 2)
	assert.Equal(t, "global", emits[1].Message.(wire.EmitEvent).Channel)
}
