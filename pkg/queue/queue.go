// Package queue implements the per-agent event queue: a FIFO of demands
// pushed by mailboxes on a sender's goroutine and popped by a dispatcher
// worker, grounded on the bounded-queue mailbox worker shape used across
// the retrieved actor-style examples (push/pop over a guarded slice with
// a condition variable for blocking consumers).
package queue

import (
	"sync"
	"time"

	"github.com/cuemby/actorkit/pkg/message"
)

// HandlerFunc is a resolved event handler: it observes an envelope and
// returns a result (meaningful only for synchronous-request demands) or
// an error.
type HandlerFunc func(env *message.Envelope) (any, error)

// Demand is a fully resolved delivery tuple: mailbox, type, envelope and
// handler reference, as specified for the event queue's FIFO entries.
type Demand struct {
	MboxID     string
	Type       message.TypeIndex
	Envelope   *message.Envelope
	Handler    HandlerFunc
	ThreadSafe bool

	// Resolve is non-nil for synchronous-request demands; it forwards the
	// handler's result/error to the caller's future.
	Resolve func(result any, err error)

	// Release is called exactly once after the demand has been processed
	// (handled, dropped for lack of a handler, or errored) to decrement
	// the owning message-limit counter, if any.
	Release func()

	EnqueuedAt time.Time
}

// Queue is an unbounded FIFO of demands belonging to one agent; it has no
// capacity limit, and caps on pending demands come from message-limit
// policies on the mailboxes instead.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Demand
	closed bool
}

// New returns an empty queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues d on the sender's goroutine. Never blocks.
func (q *Queue) Push(d Demand) {
	d.EnqueuedAt = time.Now()

	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()

	q.cond.Signal()
}

// Pop blocks until a demand is available or the queue is closed, in
// which case it returns (Demand{}, false).
func (q *Queue) Pop() (Demand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Demand{}, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, true
}

// TryPop pops the next demand without blocking, for cooperative
// single-threaded drain loops.
func (q *Queue) TryPop() (Demand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Demand{}, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, true
}

// Peek returns the head demand without removing it, for dispatchers that
// need to inspect a property of the next demand (such as ThreadSafe)
// before deciding whether a claim may proceed.
func (q *Queue) Peek() (Demand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Demand{}, false
	}
	return q.items[0], true
}

// Len returns the current number of pending demands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close unblocks every pending and future Pop call. Items already queued
// remain drainable via TryPop.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
