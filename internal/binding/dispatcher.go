package binding

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// dispatcher runs submitted work FIFO per key. Different keys run
// concurrently, bounded by the worker count.
type dispatcher struct {
	mu      sync.Mutex
	idle    *sync.Cond
	queues  map[string][]func()
	pending int
	closed  bool
	sem     chan struct{}
}

func newDispatcher(workers int) *dispatcher {
	if workers <= 0 {
		workers = 1
	}
	d := &dispatcher{
		queues: make(map[string][]func()),
		sem:    make(chan struct{}, workers),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) submit(key string, fn func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	q, running := d.queues[key]
	d.queues[key] = append(q, fn)
	d.pending++
	if !running {
		go d.run(key)
	}
	return nil
}

func (d *dispatcher) run(key string) {
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		fn := q[0]
		q[0] = nil
		d.queues[key] = q[1:]
		d.mu.Unlock()

		d.sem <- struct{}{}
		d.execute(key, fn)
		<-d.sem

		d.mu.Lock()
		d.pending--
		if d.pending == 0 {
			d.idle.Broadcast()
		}
		d.mu.Unlock()
	}
}

func (d *dispatcher) execute(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("key", key).Interface("panic", r).Msg("binding.dispatcher task panicked")
		}
	}()
	fn()
}

// drain blocks until every submitted task has finished.
func (d *dispatcher) drain() {
	d.mu.Lock()
	for d.pending > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// close rejects new work and waits for queued work to finish.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.drain()
}
