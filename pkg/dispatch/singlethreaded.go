package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/actorkit/pkg/agent"
)

// SingleThreadedNotMTSafe drains every bound agent only when its Pump
// method is called, on whatever goroutine the caller chooses — so_5's
// single_threaded_not_mt_safe environment infrastructure, for embedding
// the runtime inside an existing event loop instead of owning a thread.
// It is not safe to call Pump from more than one goroutine at a time.
type SingleThreadedNotMTSafe struct {
	name string
	log  zerolog.Logger

	mu     sync.Mutex
	agents []*agent.Core
}

// NewSingleThreadedNotMTSafe constructs a named dispatcher of this kind.
func NewSingleThreadedNotMTSafe(name string) *SingleThreadedNotMTSafe {
	return &SingleThreadedNotMTSafe{name: name, log: namedLogger(SingleThreadedNotMTSafeKind, name)}
}

func (d *SingleThreadedNotMTSafe) Kind() Kind   { return SingleThreadedNotMTSafeKind }
func (d *SingleThreadedNotMTSafe) Name() string { return d.name }

// BindAgent registers c for future Pump calls.
func (d *SingleThreadedNotMTSafe) BindAgent(c *agent.Core) error {
	d.mu.Lock()
	d.agents = append(d.agents, c)
	d.mu.Unlock()
	return nil
}

// Start is a no-op: this dispatcher owns no goroutine of its own.
func (d *SingleThreadedNotMTSafe) Start() error { return nil }

// Pump runs every bound agent's pending demands to completion, in bind
// order. The caller is responsible for invoking Pump as often as the
// embedding event loop requires.
func (d *SingleThreadedNotMTSafe) Pump() {
	d.mu.Lock()
	agents := append([]*agent.Core(nil), d.agents...)
	d.mu.Unlock()

	for _, c := range agents {
		for c.RunDemand() {
		}
	}
}

// Shutdown is a no-op that always returns nil; there is no background
// goroutine to stop, and ctx is not consulted.
func (d *SingleThreadedNotMTSafe) Shutdown(ctx context.Context) error {
	return nil
}
