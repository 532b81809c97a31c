package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/actorkit/pkg/agent"
)

// ActiveObject gives every bound agent its own goroutine, blocking on the
// agent's queue between demands — so_5's active_obj dispatcher, grounded
// on the teacher's pkg/worker per-container goroutine idiom.
type ActiveObject struct {
	name string
	log  zerolog.Logger

	mu     sync.Mutex
	agents []*agent.Core

	grp    *errgroup.Group
	cancel context.CancelFunc
}

// NewActiveObject constructs a named ActiveObject dispatcher.
func NewActiveObject(name string) *ActiveObject {
	return &ActiveObject{name: name, log: namedLogger(ActiveObjectKind, name)}
}

func (d *ActiveObject) Kind() Kind   { return ActiveObjectKind }
func (d *ActiveObject) Name() string { return d.name }

// BindAgent registers c; its goroutine is launched on Start.
func (d *ActiveObject) BindAgent(c *agent.Core) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents = append(d.agents, c)
	return nil
}

// Start launches one goroutine per bound agent.
func (d *ActiveObject) Start() error {
	d.mu.Lock()
	agents := append([]*agent.Core(nil), d.agents...)
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	grp, _ := errgroup.WithContext(ctx)
	d.grp = grp

	for _, c := range agents {
		c := c
		grp.Go(func() error {
			for c.RunDemandBlocking() {
				if ctx.Err() != nil {
					return nil
				}
			}
			return nil
		})
	}
	return nil
}

// Shutdown closes every bound agent's queue, unblocking its goroutine,
// and waits for the pool to drain.
func (d *ActiveObject) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	agents := append([]*agent.Core(nil), d.agents...)
	d.mu.Unlock()

	for _, c := range agents {
		c.Queue().Close()
	}
	if d.cancel != nil {
		defer d.cancel()
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
