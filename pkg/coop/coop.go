// Package coop implements the cooperation lifecycle: atomic registration
// and deregistration of an agent group, with parent/child drain ordering,
// grounded on spec.md §4.5 and so_5's so_5::coop_t registration machinery.
package coop

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/actorkit/pkg/agent"
	"github.com/cuemby/actorkit/pkg/dispatch"
	"github.com/cuemby/actorkit/pkg/kerr"
	"github.com/cuemby/actorkit/pkg/log"
)

// DeregisterReason records why a cooperation was torn down, mirroring
// so_5's dereg_reason taxonomy at the level this runtime actually uses.
type DeregisterReason int

const (
	Normal DeregisterReason = iota
	ParentDeregistered
	RegistrationFailed
	UnhandledException
)

func (r DeregisterReason) String() string {
	switch r {
	case ParentDeregistered:
		return "parent_deregistered"
	case RegistrationFailed:
		return "registration_failed"
	case UnhandledException:
		return "unhandled_exception"
	default:
		return "normal"
	}
}

type boundAgent struct {
	core *agent.Core
	disp dispatch.Dispatcher
}

// Coop is a named, atomically registered group of agents. Agents in a
// coop are bound to their dispatcher together at RegisterCoop time and
// drained together at DeregisterCoop time; a coop may have child coops,
// which are always deregistered before their parent.
type Coop struct {
	name   string
	parent *Coop

	mu       sync.Mutex
	pending  []boundAgent
	children []*Coop
	started  []*agent.Core // agents whose evt_start already ran, for rollback
	registered bool

	onDereg func(reason DeregisterReason)
	broker  *LifecycleBroker
	log     zerolog.Logger
}

// BindBroker attaches the broker lifecycle events are published to; the
// environment owns one broker shared by every coop it registers.
func (c *Coop) BindBroker(b *LifecycleBroker) { c.broker = b }

// New allocates an unregistered cooperation named name, optionally a
// child of parent (nil for a top-level coop).
func New(name string, parent *Coop) *Coop {
	c := &Coop{name: name, parent: parent, log: log.WithCoop(name)}
	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, c)
		parent.mu.Unlock()
	}
	return c
}

// Name returns the cooperation's identifier.
func (c *Coop) Name() string { return c.name }

// AgentCount reports how many agents are currently started under c.
func (c *Coop) AgentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.started)
}

// MakeAgent allocates a core belonging to this coop, bound to disp once
// the coop registers.
func (c *Coop) MakeAgent(id string, disp dispatch.Dispatcher) *agent.Core {
	core := agent.NewCore(id)
	c.mu.Lock()
	c.pending = append(c.pending, boundAgent{core: core, disp: disp})
	c.mu.Unlock()
	return core
}

// BindExceptionNotifier installs the callback invoked with the reason
// once Deregister tears the coop down, whatever that reason is.
func (c *Coop) BindExceptionNotifier(fn func(reason DeregisterReason)) {
	c.onDereg = fn
}

// Register binds every pending agent to its dispatcher, all-or-nothing:
// if any bind or evt_start fails, every agent already started is torn
// down (evt_finish) before the error is returned, matching so_5's
// registration rollback guarantee.
func (c *Coop) Register() error {
	c.mu.Lock()
	pending := append([]boundAgent(nil), c.pending...)
	c.mu.Unlock()

	for _, b := range pending {
		if err := b.disp.BindAgent(b.core); err != nil {
			c.rollback(RegistrationFailed)
			return fmt.Errorf("coop %s: bind agent %s: %w", c.name, b.core.ID(), kerr.ErrCoopRegistrationFailed)
		}
		if err := b.core.RunStart(); err != nil {
			c.rollback(RegistrationFailed)
			return fmt.Errorf("coop %s: evt_start for %s: %w", c.name, b.core.ID(), err)
		}
		c.mu.Lock()
		c.started = append(c.started, b.core)
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.registered = true
	c.mu.Unlock()

	c.log.Info().Int("agents", len(pending)).Msg("cooperation registered")
	if c.broker != nil {
		c.broker.Publish(LifecycleEvent{Coop: c.name, Registered: true})
	}
	return nil
}

func (c *Coop) rollback(reason DeregisterReason) {
	c.mu.Lock()
	started := append([]*agent.Core(nil), c.started...)
	c.started = nil
	c.mu.Unlock()

	for _, core := range started {
		core.UnsubscribeAll()
		if err := core.RunFinish(); err != nil {
			c.log.Warn().Err(err).Str("agent", core.ID()).Msg("evt_finish returned an error")
		}
	}
	c.log.Warn().Str("reason", reason.String()).Msg("cooperation registration rolled back")
}

// Deregister tears the cooperation down: children first (recursively),
// then this coop's own agents, unsubscribing every mailbox binding and
// closing each agent's queue. Safe to call once; a second call is a
// no-op.
func (c *Coop) Deregister(reason DeregisterReason) {
	c.mu.Lock()
	if !c.registered {
		c.mu.Unlock()
		return
	}
	c.registered = false
	children := append([]*Coop(nil), c.children...)
	started := append([]*agent.Core(nil), c.started...)
	c.started = nil
	c.mu.Unlock()

	childReason := reason
	if reason == Normal {
		childReason = ParentDeregistered
	}
	for _, child := range children {
		child.Deregister(childReason)
	}

	for _, core := range started {
		core.UnsubscribeAll()
		if err := core.RunFinish(); err != nil {
			c.log.Warn().Err(err).Str("agent", core.ID()).Msg("evt_finish returned an error")
		}
		core.Queue().Close()
	}

	if c.onDereg != nil {
		c.onDereg(reason)
	}
	if c.broker != nil {
		c.broker.Publish(LifecycleEvent{Coop: c.name, Registered: false, Reason: reason})
	}
	c.log.Info().Str("reason", reason.String()).Msg("cooperation deregistered")
}
