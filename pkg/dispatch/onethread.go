package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/actorkit/pkg/agent"
)

// OneThread runs every bound agent's demands on a single goroutine, in
// the order agents become ready, draining each ready agent down to empty
// before moving to the next — so_5's one_thread dispatcher.
type OneThread struct {
	name string
	log  zerolog.Logger

	ready *readySet
	stopCh chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	agents []*agent.Core
}

// NewOneThread constructs a named OneThread dispatcher.
func NewOneThread(name string) *OneThread {
	return &OneThread{
		name:   name,
		log:    namedLogger(OneThreadKind, name),
		ready:  newReadySet(),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (d *OneThread) Kind() Kind   { return OneThreadKind }
func (d *OneThread) Name() string { return d.name }

// BindAgent registers c so its readiness feeds the dispatcher's single
// worker loop.
func (d *OneThread) BindAgent(c *agent.Core) error {
	d.mu.Lock()
	d.agents = append(d.agents, c)
	d.mu.Unlock()

	c.BindReady(func() { d.ready.mark(c) })
	return nil
}

// Start launches the worker goroutine.
func (d *OneThread) Start() error {
	go d.run()
	return nil
}

func (d *OneThread) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stopCh:
			return
		case <-d.ready.notify:
			for {
				c, ok := d.ready.drainNext()
				if !ok {
					break
				}
				for c.RunDemand() {
				}
			}
		}
	}
}

// Shutdown stops the worker loop, waiting up to ctx's deadline for it to
// exit.
func (d *OneThread) Shutdown(ctx context.Context) error {
	close(d.stopCh)
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadyCount reports how many agents are currently marked ready, for
// dispatcher-level diagnostics.
func (d *OneThread) ReadyCount() int { return d.ready.pendingCount() }
