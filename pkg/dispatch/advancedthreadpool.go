package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/actorkit/pkg/agent"
)

// AdvancedThreadPool is ThreadPool's cooperative-FIFO shape extended to
// let demands a handler marked thread-safe (agent.ThreadSafe()) run
// concurrently with other demands of the *same* agent, across workers —
// so_5's adv_thread_pool dispatcher. Non-thread-safe demands still run
// with full mutual exclusion per agent.
type AdvancedThreadPool struct {
	name    string
	workers int
	log     zerolog.Logger

	ready *readySet

	mu        sync.Mutex
	exclusive map[*agent.Core]bool // an exclusive (non-thread-safe) demand is in flight
	running   map[*agent.Core]int  // count of thread-safe demands in flight

	grp    *errgroup.Group
	cancel context.CancelFunc
}

// NewAdvancedThreadPool constructs a named AdvancedThreadPool dispatcher.
func NewAdvancedThreadPool(name string, workers int) *AdvancedThreadPool {
	if workers < 1 {
		workers = 1
	}
	return &AdvancedThreadPool{
		name:      name,
		workers:   workers,
		log:       namedLogger(AdvancedThreadPoolKind, name),
		ready:     newReadySet(),
		exclusive: make(map[*agent.Core]bool),
		running:   make(map[*agent.Core]int),
	}
}

func (d *AdvancedThreadPool) Kind() Kind   { return AdvancedThreadPoolKind }
func (d *AdvancedThreadPool) Name() string { return d.name }

// BindAgent registers c with the pool.
func (d *AdvancedThreadPool) BindAgent(c *agent.Core) error {
	c.BindReady(func() { d.ready.mark(c) })
	return nil
}

// Start launches the worker pool.
func (d *AdvancedThreadPool) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	grp, _ := errgroup.WithContext(ctx)
	d.grp = grp

	for i := 0; i < d.workers; i++ {
		grp.Go(func() error { return d.work(ctx) })
	}
	return nil
}

func (d *AdvancedThreadPool) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.ready.notify:
			for {
				c, ts, ok := d.claimOne()
				if !ok {
					break
				}
				c.RunDemand()
				d.release(c, ts)
				if c.Queue().Len() > 0 {
					d.ready.mark(c)
				}
			}
		}
	}
}

// claimOne admits at most one demand per call. It peeks the head demand's
// ThreadSafe flag before committing to a claim: a thread-safe demand is
// allowed to run alongside others already in flight for the same agent —
// the core is re-marked ready immediately so a second worker can claim the
// next thread-safe demand concurrently — while an exclusive demand must
// wait until nothing, thread-safe or not, is in flight for that agent.
func (d *AdvancedThreadPool) claimOne() (*agent.Core, bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.ready.drainNext()
	if !ok {
		return nil, false, false
	}
	if d.exclusive[c] {
		d.ready.mark(c)
		return nil, false, false
	}

	ts, hasDemand := c.PeekThreadSafe()
	if !hasDemand {
		return nil, false, false
	}

	if ts {
		d.running[c]++
		d.ready.mark(c)
		return c, true, true
	}

	if d.running[c] > 0 {
		d.ready.mark(c)
		return nil, false, false
	}
	d.exclusive[c] = true
	return c, false, true
}

func (d *AdvancedThreadPool) release(c *agent.Core, threadSafe bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if threadSafe {
		d.running[c]--
		if d.running[c] <= 0 {
			delete(d.running, c)
		}
		return
	}
	delete(d.exclusive, c)
}

// Shutdown cancels every worker and waits for the pool to drain.
func (d *AdvancedThreadPool) Shutdown(ctx context.Context) error {
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
func (d *AdvancedThreadPool) ReadyCount() int { return d.ready.pendingCount() }
