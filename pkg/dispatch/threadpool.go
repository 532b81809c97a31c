package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/actorkit/pkg/agent"
)

// FifoMode selects how ThreadPool orders demands relative to each other.
type FifoMode int

const (
	// CooperativeFIFO lets any free worker pick up any ready agent's next
	// demand, in the global order agents became ready, but never runs two
	// demands of the same agent concurrently.
	CooperativeFIFO FifoMode = iota
	// IndividualFIFO pins each agent to one worker for its lifetime, so an
	// agent's own demands process strictly in order on one goroutine while
	// different agents still spread across the pool.
	IndividualFIFO
)

// ThreadPool runs N worker goroutines pulling from a dispatcher-wide
// ready queue, matching so_5's thread_pool dispatcher. Grounded on the
// teacher's pkg/scheduler ticker/stopCh loop, generalized to N workers via
// errgroup.
type ThreadPool struct {
	name    string
	workers int
	mode    FifoMode
	log     zerolog.Logger

	ready *readySet

	mu     sync.Mutex
	busy   map[*agent.Core]bool
	pinned map[*agent.Core]int

	grp    *errgroup.Group
	cancel context.CancelFunc
}

// NewThreadPool constructs a named ThreadPool dispatcher with the given
// worker count and FIFO mode.
func NewThreadPool(name string, workers int, mode FifoMode) *ThreadPool {
	if workers < 1 {
		workers = 1
	}
	return &ThreadPool{
		name:    name,
		workers: workers,
		mode:    mode,
		log:     namedLogger(ThreadPoolKind, name),
		ready:   newReadySet(),
		busy:    make(map[*agent.Core]bool),
		pinned:  make(map[*agent.Core]int),
	}
}

func (d *ThreadPool) Kind() Kind   { return ThreadPoolKind }
func (d *ThreadPool) Name() string { return d.name }

// BindAgent registers c; under IndividualFIFO it is pinned to a worker
// slot chosen round-robin at bind time.
func (d *ThreadPool) BindAgent(c *agent.Core) error {
	d.mu.Lock()
	if d.mode == IndividualFIFO {
		d.pinned[c] = len(d.pinned) % d.workers
	}
	d.mu.Unlock()

	c.BindReady(func() { d.ready.mark(c) })
	return nil
}

// Start launches the worker pool.
func (d *ThreadPool) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	grp, _ := errgroup.WithContext(ctx)
	d.grp = grp

	for i := 0; i < d.workers; i++ {
		slot := i
		grp.Go(func() error { return d.work(ctx, slot) })
	}
	return nil
}

func (d *ThreadPool) work(ctx context.Context, slot int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.ready.notify:
			for {
				c, ok := d.claim(slot)
				if !ok {
					break
				}
				if d.mode == IndividualFIFO {
					for c.RunDemand() {
					}
					d.release(c)
				} else {
					// CooperativeFIFO: one demand per scheduling turn, so a
					// long queue on one agent can't starve the others
					// waiting behind it in the ready order.
					c.RunDemand()
					d.release(c)
					if c.Queue().Len() > 0 {
						d.ready.mark(c)
					}
				}
			}
		}
	}
}

// claim pops the next ready core this worker slot may run, respecting
// IndividualFIFO pinning and CooperativeFIFO's never-run-same-agent-twice
// rule.
func (d *ThreadPool) claim(slot int) (*agent.Core, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.ready.drainNext()
	if !ok {
		return nil, false
	}
	if d.mode == IndividualFIFO && d.pinned[c] != slot {
		// not this worker's agent; put it back for its owning slot.
		d.ready.mark(c)
		return nil, false
	}
	if d.busy[c] {
		d.ready.mark(c)
		return nil, false
	}
	d.busy[c] = true
	return c, true
}

func (d *ThreadPool) release(c *agent.Core) {
	d.mu.Lock()
	delete(d.busy, c)
	d.mu.Unlock()
}

// Shutdown cancels every worker and waits for the pool to drain.
func (d *ThreadPool) Shutdown(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	waitDone := make(chan error, 1)
	go func() { waitDone <- d.grp.Wait() }()

	select {
	case err := <-waitDone:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadyCount reports how many agents are currently marked ready, for
// dispatcher-level diagnostics.
func (d *ThreadPool) ReadyCount() int { return d.ready.pendingCount() }
