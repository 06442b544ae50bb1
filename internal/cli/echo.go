package cli

import (
	"sync/atomic"

	"github.com/danmuck/ubind/internal/binding"
	"github.com/danmuck/ubind/internal/value"
	"github.com/rs/zerolog/log"
)

// EchoClass is the built-in class every served context can instantiate.
const EchoClass = "ubind.builtin.Echo"

// RegisterEcho adds Echo: echo(v) returns v and stores it in the variable
// "last", calls() counts invocations, and each remote change to "last" is
// re-emitted on the "heard" event.
func RegisterEcho(reg *binding.Registry) string {
	return reg.RegisterQualified(EchoClass, func(o *binding.Object) error {
		var calls atomic.Int64
		last := binding.NewVariable()
		heard := o.Event("heard")

		if err := o.BindVar(last, "last"); err != nil {
			return err
		}
		if err := o.Declare("echo", func(v value.Value) value.Value {
			calls.Add(1)
			if err := last.Set(v); err != nil {
				log.Warn().Err(err).Str("object", o.Name()).Msg("cli.Echo.echo push failed")
			}
			return v
		}); err != nil {
			return err
		}
		if err := o.Declare("calls", func() int { return int(calls.Load()) }); err != nil {
			return err
		}
		if err := o.Declare("relay", func(v *binding.Variable) int {
			if err := heard.Emit(v.Value()); err != nil {
				log.Warn().Err(err).Str("object", o.Name()).Msg("cli.Echo.relay emit failed")
				return 1
			}
			return 0
		}); err != nil {
			return err
		}
		for _, fn := range []string{"echo", "calls"} {
			if err := o.BindFunction(fn); err != nil {
				return err
			}
		}
		return o.NotifyChange(last, "relay")
	})
}
