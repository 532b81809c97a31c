package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/actorkit/pkg/agent"
)

// ActiveGroup runs every agent bound under the same group name on one
// shared goroutine, FIFO across the group's ready agents, while distinct
// groups run fully in parallel — so_5's active_group dispatcher.
type ActiveGroup struct {
	name string
	log  zerolog.Logger

	mu     sync.Mutex
	groups map[string]*groupWorker
}

type groupWorker struct {
	ready  *readySet
	stopCh chan struct{}
	done   chan struct{}
}

// NewActiveGroup constructs a named ActiveGroup dispatcher.
func NewActiveGroup(name string) *ActiveGroup {
	return &ActiveGroup{name: name, log: namedLogger(ActiveGroupKind, name), groups: make(map[string]*groupWorker)}
}

func (d *ActiveGroup) Kind() Kind   { return ActiveGroupKind }
func (d *ActiveGroup) Name() string { return d.name }

// BindAgentToGroup registers c under the named group, creating the
// group's worker goroutine lazily on first use.
func (d *ActiveGroup) BindAgentToGroup(group string, c *agent.Core) error {
	d.mu.Lock()
	gw, ok := d.groups[group]
	if !ok {
		gw = &groupWorker{ready: newReadySet(), stopCh: make(chan struct{}), done: make(chan struct{})}
		d.groups[group] = gw
		go d.runGroup(group, gw)
	}
	d.mu.Unlock()

	c.BindReady(func() { gw.ready.mark(c) })
	return nil
}

// BindAgent satisfies Dispatcher by placing c in the dispatcher's default
// group; callers that need several groups should use BindAgentToGroup.
func (d *ActiveGroup) BindAgent(c *agent.Core) error {
	return d.BindAgentToGroup("default", c)
}

func (d *ActiveGroup) runGroup(group string, gw *groupWorker) {
	defer close(gw.done)
	for {
		select {
		case <-gw.stopCh:
			return
		case <-gw.ready.notify:
			for {
				c, ok := gw.ready.drainNext()
				if !ok {
					break
				}
				for c.RunDemand() {
				}
			}
		}
	}
}

// Start is a no-op: group worker goroutines are launched lazily as groups
// are first bound.
func (d *ActiveGroup) Start() error { return nil }

// ReadyCount reports how many agents are currently marked ready, summed
// across every group.
func (d *ActiveGroup) ReadyCount() int {
	d.mu.Lock()
	groups := make([]*groupWorker, 0, len(d.groups))
	for _, gw := range d.groups {
		groups = append(groups, gw)
	}
	d.mu.Unlock()

	total := 0
	for _, gw := range groups {
		total += gw.ready.pendingCount()
	}
	return total
}

// Shutdown stops every group's worker goroutine.
func (d *ActiveGroup) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	groups := make([]*groupWorker, 0, len(d.groups))
	for _, gw := range d.groups {
		groups = append(groups, gw)
	}
	d.mu.Unlock()

	for _, gw := range groups {
		close(gw.stopCh)
	}
	for _, gw := range groups {
		select {
		case <-gw.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
