package arbor

import "sync"

// MainQueue is a ports.Dispatcher that holds posted work until the owning goroutine
// drains it. Pass it to WithDispatcher so the finish phase of InitializeAsync runs on
// the thread that drives Update.
type MainQueue struct {
	mu      sync.Mutex
	pending []func()
	ready   chan struct{}
}

// NewMainQueue creates an empty queue.
func NewMainQueue() *MainQueue {
	return &MainQueue{ready: make(chan struct{}, 1)}
}

// Post enqueues fn. Safe for concurrent use.
func (q *MainQueue) Post(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready fires after Post when the queue was idle.
func (q *MainQueue) Ready() <-chan struct{} { return q.ready }

// Drain runs every queued function on the calling goroutine and reports how many ran.
// Work posted while draining runs in the same call.
func (q *MainQueue) Drain() int {
	n := 0
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
		}
		n += len(batch)
	}
}

// Len reports how many functions are waiting.
func (q *MainQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
