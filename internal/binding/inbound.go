package binding

import (
	"fmt"
	"time"

	"github.com/danmuck/ubind/internal/observability"
	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/danmuck/ubind/internal/value"
	"github.com/rs/zerolog/log"
)

// Deliver routes one inbound envelope. Replies resolve pending fetches
// directly; everything else is queued on the dispatcher keyed by the
// variable, timer, function or object it targets. Dispatch failures are
// logged and answered, never returned here.
func (c *Context) Deliver(env wire.Envelope) error {
	if c.isClosed() {
		return ErrClosed
	}
	switch m := env.Message.(type) {
	case wire.VariableValue:
		if !env.Error {
			c.storeValue(m.Variable, m.Value)
		}
		c.resolveReply(env, m.Variable, m.Value)
		return nil
	case wire.PropertyValue:
		c.resolveReply(env, m.Variable+"->"+m.Property, m.Value)
		return nil
	case wire.VariableChanged:
		return c.dispatch.submit("var:"+m.Variable, func() {
			c.notify.Dispatch(m.Variable, OnChange, m.Value)
		})
	case wire.VariableRequested:
		return c.dispatch.submit("var:"+m.Variable, func() {
			c.notify.Dispatch(m.Variable, OnRequest, m.Value)
		})
	case wire.TimerTick:
		return c.dispatch.submit("timer:"+m.HandleID, func() {
			if err := c.timers.Tick(m.HandleID); err != nil {
				log.Debug().Err(err).Str("handle", m.HandleID).Msg("binding.Context.Deliver tick")
			}
		})
	case wire.InvokeFunction:
		return c.dispatch.submit("fn:"+functionKey(m.Owner, m.Method), func() {
			c.answerInvoke(env.ID, m)
		})
	case wire.Instantiate:
		key := m.RequestedName
		if key == "" {
			key = m.ClassName
		}
		return c.dispatch.submit("obj:"+key, func() {
			c.answerInstantiate(env.ID, m)
		})
	case wire.Destroy:
		return c.dispatch.submit("obj:"+m.Object, func() {
			if err := c.Destroy(m.Object); err != nil {
				log.Warn().Err(err).Msg("binding.Context.Deliver destroy")
			}
		})
	case nil:
		return fmt.Errorf("binding: nil inbound message")
	default:
		return fmt.Errorf("binding: unsupported inbound message %T", env.Message)
	}
}

func (c *Context) resolveReply(env wire.Envelope, what string, v value.Value) {
	var err error
	if env.Error {
		err = fmt.Errorf("binding: remote runtime rejected request for %s", what)
	}
	if !c.replies.resolve(env.ID, v, err) {
		log.Debug().Uint64("id", env.ID).Str("subject", what).Msg("binding.Context.Deliver reply without waiter")
	}
}

func (c *Context) answerInvoke(id uint64, m wire.InvokeFunction) {
	start := time.Now()
	result, err := c.Invoke(m.Owner, m.Method, m.Args)
	res := wire.FunctionResult{Owner: m.Owner, Method: m.Method, Value: result}
	if err != nil {
		res.Error = err.Error()
	}
	if sendErr := c.reply(id, res, err != nil); sendErr != nil {
		log.Error().Err(sendErr).Str("owner", m.Owner).Str("method", m.Method).Msg("binding.Context.answerInvoke")
	}
	log.Trace().Str("owner", m.Owner).Str("method", m.Method).Dur("took", time.Since(start)).Msg("binding.Context.answerInvoke")
}

func (c *Context) answerInstantiate(id uint64, m wire.Instantiate) {
	start := time.Now()
	o, err := c.registry.Instantiate(c, m.ClassName, m.RequestedName)
	res := wire.InstantiateResult{ClassName: m.ClassName}
	outcome := "ok"
	if err != nil {
		res.Error = err.Error()
		outcome = "error"
	} else {
		res.ObjectName = o.Name()
	}
	observability.RecordDispatch("instantiate", outcome, time.Since(start))
	if sendErr := c.reply(id, res, err != nil); sendErr != nil {
		log.Error().Err(sendErr).Str("class", m.ClassName).Msg("binding.Context.answerInstantiate")
	}
}
