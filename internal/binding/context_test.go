package binding

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/danmuck/ubind/internal/testutil/testlog"
	"github.com/danmuck/ubind/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeFunctionMessage(t *testing.T) {
	ctx, rec := newTestContext(t, genericOptions())
	calls := 0
	ctx.Registry().Register("Foo", func(o *Object) error {
		if err := o.Declare("add", func(v value.Value) value.Value {
			calls++
			return value.Float(v.Float() + 10)
		}); err != nil {
			return err
		}
		return o.BindFunction("add")
	})
	_, err := ctx.Registry().Instantiate(ctx, "Foo", "")
	require.NoError(t, err)
	desc, ok := ctx.Descriptor("Foo", "add")
	require.True(t, ok)
	require.Equal(t, 1, desc.Arity())

	require.NoError(t, ctx.Deliver(wire.Envelope{ID: 77, Message: wire.InvokeFunction{
		Owner:  "Foo",
		Method: "add",
		Args:   []value.Value{value.Float(5)},
	}}))
	ctx.Drain()
	assert.Equal(t, 1, calls)

	results := ofType[wire.FunctionResult](rec)
	require.Len(t, results, 1)
	env := results[0]
	assert.Equal(t, uint64(77), env.ID)
	assert.True(t, env.Response)
	assert.False(t, env.Error)
	res := env.Message.(wire.FunctionResult)
	assert.Equal(t, 15.0, res.Value.Float())
	assert.Empty(t, res.Error)

	require.NoError(t, ctx.Deliver(wire.Envelope{ID: 78, Message: wire.InvokeFunction{Owner: "Foo", Method: "missing"}}))
	ctx.Drain()
	results = ofType[wire.FunctionResult](rec)
	require.Len(t, results, 2)
	assert.True(t, results[1].Error)
	assert.Contains(t, results[1].Message.(wire.FunctionResult).Error, "unknown function")
}

func TestInboundInstantiateAndDestroy(t *testing.T) {
	ctx, rec := newTestContext(t, typedOptions())
	var hooks atomic.Int32
	ctx.Registry().Register("Foo", func(o *Object) error {
		x := NewVariable()
		if err := o.BindVar(x, "x"); err != nil {
			return err
		}
		if err := o.Declare("tick", func() int { return 0 }); err != nil {
			return err
		}
		if err := o.Declare("changed", func() int { return 0 }); err != nil {
			return err
		}
		if err := o.SetUpdate(100, "tick"); err != nil {
			return err
		}
		if err := o.NotifyChange(x, "changed"); err != nil {
			return err
		}
		if err := o.BindFunction("tick"); err != nil {
			return err
		}
		o.OnDestroy(func() { hooks.Add(1) })
		o.OnDestroy(func() { panic("hook failure is contained") })
		return nil
	})

	require.NoError(t, ctx.Deliver(wire.Envelope{ID: 5, Message: wire.Instantiate{ClassName: "Foo", RequestedName: "foo1"}}))
	require.NoError(t, ctx.Deliver(wire.Envelope{ID: 6, Message: wire.Instantiate{ClassName: "Nope"}}))
	ctx.Drain()

	results := ofType[wire.InstantiateResult](rec)
	require.Len(t, results, 2)
	byID := map[uint64]wire.Envelope{}
	for _, env := range results {
		byID[env.ID] = env
	}
	assert.Equal(t, "foo1", byID[5].Message.(wire.InstantiateResult).ObjectName)
	assert.False(t, byID[5].Error)
	assert.True(t, byID[6].Error)
	assert.Contains(t, byID[6].Message.(wire.InstantiateResult).Error, "unknown class")

	o, ok := ctx.Object("foo1")
	require.True(t, ok)
	x := ctx.variableRef("foo1.x")
	require.True(t, x.IsBound())
	require.Len(t, ctx.Scheduler().Handles("foo1"), 1)

	require.NoError(t, ctx.Deliver(wire.Envelope{Message: wire.Destroy{Object: "foo1"}}))
	ctx.Drain()
	_, ok = ctx.Object("foo1")
	assert.False(t, ok)
	assert.EqualValues(t, 1, ctx.Destroyed())
	assert.EqualValues(t, 1, hooks.Load())
	assert.Empty(t, ctx.Scheduler().Handles("foo1"))
	assert.Zero(t, ctx.Notify().Count("foo1.x", OnChange))
	_, bound := ctx.Descriptor("foo1", "tick")
	assert.False(t, bound)
	assert.False(t, x.IsBound())
	assert.ErrorIs(t, x.Set(value.Float(1)), ErrNotBound)
	assert.Equal(t, "foo1", o.Name())

	assert.ErrorIs(t, ctx.Destroy("foo1"), ErrUnknownObject)
}

func TestInboundVariableMessages(t *testing.T) {
	ctx, _ := newTestContext(t, typedOptions())
	o := mustObject(t, ctx, "Foo")
	x := NewVariable()
	require.NoError(t, o.BindVar(x, "x"))
	var mu sync.Mutex
	var changes, requests []float64
	require.NoError(t, o.Declare("onChange", func(v *Variable) int {
		mu.Lock()
		changes = append(changes, v.Value().Float())
		mu.Unlock()
		return 0
	}))
	require.NoError(t, o.Declare("onRequest", func(v *Variable) int {
		mu.Lock()
		requests = append(requests, v.Value().Float())
		mu.Unlock()
		return 0
	}))
	require.NoError(t, o.NotifyChange(x, "onChange"))
	require.NoError(t, o.NotifyOnRequest(x, "onRequest"))

	for i := 0; i < 5; i++ {
		require.NoError(t, ctx.Deliver(wire.Envelope{Message: wire.VariableChanged{Variable: "Foo.x", Value: value.Float(float64(i))}}))
	}
	require.NoError(t, ctx.Deliver(wire.Envelope{Message: wire.VariableRequested{Variable: "Foo.x", Value: value.Float(99)}}))
	ctx.Drain()

	assert.Equal(t, []float64{0, 1, 2, 3, 4}, changes)
	assert.Equal(t, []float64{99}, requests)
	assert.Equal(t, 99.0, x.Value().Float())
}

func TestDeliverRejects(t *testing.T) {
	ctx, _ := newTestContext(t, typedOptions())
	assert.Error(t, ctx.Deliver(wire.Envelope{}))
	assert.Error(t, ctx.Deliver(wire.Envelope{Message: wire.SetVariable{Variable: "x"}}))
	require.NoError(t, ctx.Close())
	assert.ErrorIs(t, ctx.Deliver(wire.Envelope{Message: wire.TimerTick{HandleID: "h"}}), ErrClosed)
	_, err := ctx.NewObject("late")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcherKeysRunConcurrently(t *testing.T) {
	testlog.Start(t)
	d := newDispatcher(2)
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	for _, key := range []string{"a", "b"} {
		require.NoError(t, d.submit(key, func() {
			started.Done()
			<-release
		}))
	}
	waited := make(chan struct{})
	go func() {
		started.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatalf("independent keys did not run concurrently")
	}
	close(release)
	d.close()
	assert.ErrorIs(t, d.submit("a", func() {}), ErrClosed)
}

func TestDispatcherFIFOPerKey(t *testing.T) {
	testlog.Start(t)
	d := newDispatcher(4)
	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, d.submit("k", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, d.submit("k", func() { panic("contained") }))
	d.drain()
	require.Len(t, order, 50)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestCloseWakesCallbackBlockedOnFetch(t *testing.T) {
	cases := map[string]struct {
		legacy  bool
		timeout time.Duration
	}{
		"legacy blocking": {legacy: true, timeout: 0},
		"long timeout":    {timeout: time.Minute},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			opts := typedOptions()
			opts.LegacyBlockingSync = tc.legacy
			ctx, _ := newTestContext(t, opts)
			o := mustObject(t, ctx, "Foo")
			x := NewVariable()
			require.NoError(t, o.BindVar(x, "x"))

			entered := make(chan struct{})
			fetched := make(chan error, 1)
			require.NoError(t, o.Declare("cb", func(v *Variable) int {
				close(entered)
				_, err := x.SyncValue(tc.timeout)
				fetched <- err
				return 0
			}))
			require.NoError(t, o.NotifyChange(x, "cb"))
			require.NoError(t, ctx.Deliver(wire.Envelope{Message: wire.VariableChanged{Variable: "Foo.x", Value: value.Float(1)}}))

			select {
			case <-entered:
			case <-time.After(2 * time.Second):
				t.Fatalf("callback never ran")
			}
			closed := make(chan struct{})
			go func() {
				_ = ctx.Close()
				close(closed)
			}()
			select {
			case <-closed:
			case <-time.After(2 * time.Second):
				t.Fatalf("Close blocked on a callback waiting for a fetch")
			}
			assert.ErrorIs(t, <-fetched, ErrClosed)
			assert.Zero(t, ctx.replies.size())
		})
	}
}

func TestFetchAfterCloseFailsFast(t *testing.T) {
	opts := typedOptions()
	opts.LegacyBlockingSync = true
	ctx, rec := newTestContext(t, opts)
	o := mustObject(t, ctx, "Foo")
	x := NewVariable()
	require.NoError(t, o.BindVar(x, "x"))
	require.NoError(t, ctx.Close())

	for _, timeout := range []time.Duration{0, time.Second} {
		f := x.Fetch(timeout)
		select {
		case <-f.Done():
		case <-time.After(time.Second):
			t.Fatalf("fetch with timeout %s waited on a closed context", timeout)
		}
		_, err := f.Wait()
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.Zero(t, ctx.replies.size())
	assert.Empty(t, ofType[wire.FetchVariable](rec))
}
