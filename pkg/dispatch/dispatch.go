// Package dispatch implements the dispatcher family: the thread-scheduling
// strategies that decide which goroutine(s) drain which agent's event
// queue. Grounded on spec.md §4.4, the teacher's pkg/scheduler
// ticker/stopCh idiom, and pkg/worker's per-entity goroutine pattern,
// generalized from worker nodes to agent cores and built on
// golang.org/x/sync/errgroup for pool lifetime management.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/actorkit/pkg/agent"
	"github.com/cuemby/actorkit/pkg/log"
)

// Kind names a dispatcher strategy, matching the variant set named in
// spec.md §4.4.
type Kind string

const (
	OneThreadKind               Kind = "one_thread"
	ActiveObjectKind            Kind = "active_object"
	ActiveGroupKind             Kind = "active_group"
	ThreadPoolKind              Kind = "thread_pool"
	AdvancedThreadPoolKind      Kind = "advanced_thread_pool"
	SingleThreadedNotMTSafeKind Kind = "single_threaded_not_mt_safe"
)

// Dispatcher binds agent cores to whatever goroutine(s) it owns and
// drains their queues until Shutdown.
type Dispatcher interface {
	Kind() Kind
	Name() string
	BindAgent(c *agent.Core) error
	Start() error
	Shutdown(ctx context.Context) error
}

// readySet deduplicates pending-ready notifications from agent.Core's
// BindReady callback so a burst of sends doesn't queue the same core
// once per message; one pending mark is enough to guarantee the worker
// loop drains the core down to empty.
type readySet struct {
	mu      sync.Mutex
	pending map[*agent.Core]bool
	order   []*agent.Core
	notify  chan struct{}
}

func newReadySet() *readySet {
	return &readySet{pending: make(map[*agent.Core]bool), notify: make(chan struct{}, 1)}
}

func (r *readySet) mark(c *agent.Core) {
	r.mu.Lock()
	if !r.pending[c] {
		r.pending[c] = true
		r.order = append(r.order, c)
	}
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// pendingCount reports how many distinct cores are currently marked
// ready, for dispatcher-level diagnostics.
func (r *readySet) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// drainNext pops the next ready core in FIFO order, or (nil, false) if
// none are pending.
func (r *readySet) drainNext() (*agent.Core, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return nil, false
	}
	c := r.order[0]
	r.order = r.order[1:]
	delete(r.pending, c)
	return c, true
}

func namedLogger(kind Kind, name string) zerolog.Logger {
	return log.WithDispatcher(fmt.Sprintf("%s:%s", kind, name))
}
