package binding

import (
	"sync"

	"github.com/danmuck/ubind/internal/value"
)

// Future is the eventual answer to a fetch.
type Future struct {
	done chan struct{}
	once sync.Once
	val  value.Value
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func failedFuture(err error) *Future {
	f := newFuture()
	f.complete(value.Void(), err)
	return f
}

func (f *Future) complete(v value.Value, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves.
func (f *Future) Wait() (value.Value, error) {
	<-f.done
	return f.val, f.err
}

// replyTable tracks outbound requests waiting on a correlated reply.
type replyTable struct {
	mu      sync.Mutex
	pending map[uint64]*Future
}

func newReplyTable() *replyTable {
	return &replyTable{pending: make(map[uint64]*Future)}
}

func (t *replyTable) add(id uint64) *Future {
	f := newFuture()
	t.mu.Lock()
	t.pending[id] = f
	t.mu.Unlock()
	return f
}

// resolve completes the future for id; false when nothing was waiting.
func (t *replyTable) resolve(id uint64, v value.Value, err error) bool {
	t.mu.Lock()
	f, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if ok {
		f.complete(v, err)
	}
	return ok
}

func (t *replyTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *replyTable) failAll(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[uint64]*Future)
	t.mu.Unlock()
	for _, f := range pending {
		f.complete(value.Void(), err)
	}
}
