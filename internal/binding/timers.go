package binding

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ubind/internal/observability"
	"github.com/danmuck/ubind/internal/protocol/wire"
	"github.com/danmuck/ubind/internal/signature"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TimerHandle identifies a registered periodic callback.
type TimerHandle struct {
	ID           string
	PeriodMillis uint32
	Owner        string
	Method       string

	// gen tells apart registrations that reuse an id, such as the update slot.
	gen uint64
}

type timerEntry struct {
	handle TimerHandle
	member member

	// mu serializes invocations of this handle.
	mu      sync.Mutex
	queued  atomic.Bool
	stop    chan struct{}
	stopped sync.Once
}

func (e *timerEntry) halt() {
	e.stopped.Do(func() { close(e.stop) })
}

// Scheduler holds periodic callbacks. Ticks come from the remote runtime, or
// from a local ticker per handle when the context runs with LocalClock.
type Scheduler struct {
	ctx    *Context
	mu     sync.RWMutex
	timers map[string]*timerEntry
	gen    atomic.Uint64
}

func newScheduler(ctx *Context) *Scheduler {
	return &Scheduler{ctx: ctx, timers: make(map[string]*timerEntry)}
}

func updateSlotID(owner string) string { return "update:" + owner }

// SetUpdate installs method as the owner's single default periodic callback,
// replacing any earlier one. Every update slot shares the id
// "update:<owner>"; a handle taken before a replacement no longer cancels.
func (o *Object) SetUpdate(periodMillis uint32, method string) error {
	_, err := o.ctx.timers.register(o, periodMillis, method, updateSlotID(o.name))
	return err
}

// SetTimer installs an independent periodic callback and returns its handle.
func (o *Object) SetTimer(periodMillis uint32, method string) (TimerHandle, error) {
	return o.ctx.timers.register(o, periodMillis, method, uuid.Must(uuid.NewV7()).String())
}

func (s *Scheduler) register(o *Object, periodMillis uint32, method, id string) (TimerHandle, error) {
	if periodMillis == 0 {
		return TimerHandle{}, &ConstructionError{Object: o.name, Method: method, Err: fmt.Errorf("timer period must be positive")}
	}
	m, err := o.resolve(method, nil)
	var amb *AmbiguousMethodError
	if errors.As(err, &amb) {
		m, err = o.resolve(method, []signature.Kind{})
	}
	if err != nil {
		return TimerHandle{}, err
	}
	if _, err := signature.Validate(signature.BindTimer, o.ctx.opts.Dialect, method, m.shape.Params, m.shape.Return); err != nil {
		return TimerHandle{}, err
	}
	h := TimerHandle{ID: id, PeriodMillis: periodMillis, Owner: o.name, Method: method, gen: s.gen.Add(1)}
	e := &timerEntry{handle: h, member: m, stop: make(chan struct{})}

	s.mu.Lock()
	prev := s.timers[id]
	s.timers[id] = e
	s.mu.Unlock()
	if prev != nil {
		prev.halt()
	}

	observability.RecordRegistration("timer")
	log.Debug().Str("owner", o.name).Str("method", method).Str("handle", id).Uint32("period_ms", periodMillis).Msg("binding.Scheduler.register")
	if err := s.ctx.publish(wire.RegisterTimer{PeriodMillis: periodMillis, Owner: o.name, Method: method, HandleID: id}); err != nil {
		return h, err
	}
	if s.ctx.opts.LocalClock {
		go s.clock(e)
	}
	return h, nil
}

// Handles lists the live handles owned by owner.
func (s *Scheduler) Handles(owner string) []TimerHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TimerHandle
	for _, e := range s.timers {
		if e.handle.Owner == owner {
			out = append(out, e.handle)
		}
	}
	return out
}

// Cancel removes h. It returns false if h is unknown, already cancelled or
// replaced by a later registration under the same id.
func (s *Scheduler) Cancel(h TimerHandle) bool {
	s.mu.Lock()
	e, ok := s.timers[h.ID]
	ok = ok && e.handle.gen == h.gen
	if ok {
		delete(s.timers, h.ID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.halt()
	if err := s.ctx.publish(wire.UnregisterTimer{HandleID: h.ID}); err != nil {
		log.Warn().Err(err).Str("handle", h.ID).Msg("binding.Scheduler.Cancel unregister not sent")
	}
	return true
}

// Tick runs the callback behind id. Ticks of one handle never overlap.
func (s *Scheduler) Tick(id string) error {
	start := time.Now()
	s.mu.RLock()
	e, ok := s.timers[id]
	s.mu.RUnlock()
	if !ok {
		observability.RecordDispatch("timer", "unknown", time.Since(start))
		return fmt.Errorf("%w: %s", ErrUnknownTimer, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out, err := e.member.call(nil)
	if err != nil {
		cbErr := &CallbackInvocationError{
			Site:   "timer",
			Owner:  e.handle.Owner,
			Method: e.handle.Method,
			Target: id,
			Panic:  isPanic(err),
			Err:    err,
		}
		observability.RecordCallbackFailure("timer", cbErr.Panic)
		observability.RecordDispatch("timer", "error", time.Since(start))
		log.Error().Err(cbErr).Msg("binding.Scheduler.Tick")
		return cbErr
	}
	observability.RecordDispatch("timer", "ok", time.Since(start))
	if st := status(out); st != 0 {
		log.Trace().Str("handle", id).Int64("status", st).Msg("binding.Scheduler.Tick status")
	}
	return nil
}

// clock feeds local ticks for e through the dispatcher. A tick is skipped
// while the previous one is still queued.
func (s *Scheduler) clock(e *timerEntry) {
	t := time.NewTicker(time.Duration(e.handle.PeriodMillis) * time.Millisecond)
	defer t.Stop()
	id := e.handle.ID
	for {
		select {
		case <-e.stop:
			return
		case <-s.ctx.done:
			return
		case <-t.C:
			if !e.queued.CompareAndSwap(false, true) {
				continue
			}
			err := s.ctx.dispatch.submit("timer:"+id, func() {
				e.queued.Store(false)
				_ = s.Tick(id)
			})
			if err != nil {
				return
			}
		}
	}
}

func (s *Scheduler) removeOwner(owner string) {
	s.mu.Lock()
	var removed []*timerEntry
	for id, e := range s.timers {
		if e.handle.Owner == owner {
			delete(s.timers, id)
			removed = append(removed, e)
		}
	}
	s.mu.Unlock()
	for _, e := range removed {
		e.halt()
	}
}

func (s *Scheduler) stopClocks() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.timers {
		e.halt()
	}
}
