// Package env implements the environment singleton: the root object an
// embedder launches, which owns named dispatchers, mailboxes, the
// cooperation registry, the timer service, and the exception-reaction
// policy. Grounded on spec.md §6/§7 and the teacher's main-lifecycle
// shape (signal-driven graceful stop) minus the CLI binary itself.
package env

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/actorkit/pkg/coop"
	"github.com/cuemby/actorkit/pkg/dispatch"
	"github.com/cuemby/actorkit/pkg/log"
	"github.com/cuemby/actorkit/pkg/mailbox"
	"github.com/cuemby/actorkit/pkg/timer"
)

// Environment is the root object bound to one running instance of the
// runtime. The zero value is not usable; construct with New.
type Environment struct {
	params Params
	log    zerolog.Logger

	dispMu      sync.RWMutex
	dispatchers map[string]dispatch.Dispatcher

	mboxMu    sync.RWMutex
	mailboxes map[string]*mailbox.Mailbox

	coopMu sync.RWMutex
	coops  map[string]*coop.Coop
	broker *coop.LifecycleBroker

	timers timer.Service

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New allocates an environment from params; dispatchers named in
// params.Dispatchers are created but not started until Launch.
func New(params Params) (*Environment, error) {
	e := &Environment{
		params:      params,
		log:         log.WithComponent("env"),
		dispatchers: make(map[string]dispatch.Dispatcher),
		mailboxes:   make(map[string]*mailbox.Mailbox),
		coops:       make(map[string]*coop.Coop),
		broker:      coop.NewLifecycleBroker(64),
		timers:      timer.New(),
		stopCh:      make(chan struct{}),
	}

	for _, spec := range params.Dispatchers {
		d, err := buildDispatcher(spec)
		if err != nil {
			return nil, err
		}
		e.dispatchers[spec.Name] = d
	}
	return e, nil
}

// RegisterDispatcher adds a dispatcher not declared in Params, e.g. one
// built with non-default options (a specific FifoMode).
func (e *Environment) RegisterDispatcher(name string, d dispatch.Dispatcher) {
	e.dispMu.Lock()
	e.dispatchers[name] = d
	e.dispMu.Unlock()
}

// Dispatcher resolves a named dispatcher, returning ErrNamedDispNotFound
// if it was never registered.
func (e *Environment) Dispatcher(name string) (dispatch.Dispatcher, error) {
	e.dispMu.RLock()
	d, ok := e.dispatchers[name]
	e.dispMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dispatcher %q: %w", name, ErrNamedDispNotFound)
	}
	return d, nil
}

// DispatcherAs resolves a named dispatcher and asserts it to T, returning
// ErrDispTypeMismatch if the registered dispatcher is a different kind.
func DispatcherAs[T dispatch.Dispatcher](e *Environment, name string) (T, error) {
	var zero T
	d, err := e.Dispatcher(name)
	if err != nil {
		return zero, err
	}
	t, ok := d.(T)
	if !ok {
		return zero, fmt.Errorf("dispatcher %q: %w", name, ErrDispTypeMismatch)
	}
	return t, nil
}

// CreateMailbox allocates and registers a named mailbox.
func (e *Environment) CreateMailbox(id string, kind mailbox.Kind) *mailbox.Mailbox {
	mbox := mailbox.New(id, kind)
	e.mboxMu.Lock()
	e.mailboxes[id] = mbox
	e.mboxMu.Unlock()
	return mbox
}

// Mailbox resolves a previously created mailbox by id.
func (e *Environment) Mailbox(id string) (*mailbox.Mailbox, bool) {
	e.mboxMu.RLock()
	defer e.mboxMu.RUnlock()
	mbox, ok := e.mailboxes[id]
	return mbox, ok
}

// CreateCoop allocates a cooperation named name, bound to this
// environment's lifecycle broker, optionally a child of parent.
func (e *Environment) CreateCoop(name string, parent *coop.Coop) *coop.Coop {
	c := coop.New(name, parent)
	c.BindBroker(e.broker)
	return c
}

// RegisterCoop registers c's pending agents and tracks c for Stop's drain
// pass.
func (e *Environment) RegisterCoop(c *coop.Coop) error {
	if err := c.Register(); err != nil {
		return err
	}
	e.coopMu.Lock()
	e.coops[c.Name()] = c
	e.coopMu.Unlock()
	return nil
}

// DeregisterCoop tears c down and drops it from the registry.
func (e *Environment) DeregisterCoop(name string, reason coop.DeregisterReason) {
	e.coopMu.Lock()
	c, ok := e.coops[name]
	delete(e.coops, name)
	e.coopMu.Unlock()

	if ok {
		c.Deregister(reason)
	}
}

// Timers returns the environment's timer service.
func (e *Environment) Timers() timer.Service { return e.timers }

// Broker returns the environment's cooperation lifecycle broker, for
// diagnostics that want to observe coop churn.
func (e *Environment) Broker() *coop.LifecycleBroker { return e.broker }

// Launch runs init (which typically creates mailboxes, coops and agents)
// and then starts every registered dispatcher, matching so_5's
// so_5::launch entry point.
func (e *Environment) Launch(init func(*Environment) error) error {
	if init != nil {
		if err := init(e); err != nil {
			return fmt.Errorf("environment init: %w", err)
		}
	}

	e.dispMu.RLock()
	defer e.dispMu.RUnlock()
	for name, d := range e.dispatchers {
		if err := d.Start(); err != nil {
			return fmt.Errorf("start dispatcher %q: %w", name, err)
		}
	}
	return nil
}

// Run blocks until Stop is called.
func (e *Environment) Run() {
	<-e.stopCh
}

// Stop deregisters every tracked cooperation (root coops deregister their
// children first), shuts down every dispatcher, closes the timer service,
// and unblocks Run. Safe to call more than once.
func (e *Environment) Stop(ctx context.Context) error {
	var stopErr error
	e.stopOnce.Do(func() {
		e.coopMu.Lock()
		coops := make([]*coop.Coop, 0, len(e.coops))
		for _, c := range e.coops {
			coops = append(coops, c)
		}
		e.coops = make(map[string]*coop.Coop)
		e.coopMu.Unlock()

		for _, c := range coops {
			c.Deregister(coop.Normal)
		}

		e.dispMu.RLock()
		dispatchers := make([]dispatch.Dispatcher, 0, len(e.dispatchers))
		for _, d := range e.dispatchers {
			dispatchers = append(dispatchers, d)
		}
		e.dispMu.RUnlock()

		for _, d := range dispatchers {
			if err := d.Shutdown(ctx); err != nil && stopErr == nil {
				stopErr = err
			}
		}

		e.timers.Close()
		e.broker.Close()
		close(e.stopCh)
	})
	return stopErr
}

// OnException routes a handler exception through the configured
// ExceptionReaction: abort terminates the process, shutdown triggers an
// asynchronous Stop, and ignore only logs.
func (e *Environment) OnException(err error) {
	e.log.Error().Err(err).Str("reaction", e.params.ExceptionReaction.String()).Msg("agent exception")

	switch e.params.ExceptionReaction {
	case ShutdownOnException:
		go func() { _ = e.Stop(context.Background()) }()
	case IgnoreException:
		// logged above, otherwise no action
	default: // AbortOnException
		os.Exit(1)
	}
}

// Snapshot reports point-in-time counts for the metrics Collector to
// publish, avoiding a direct Prometheus dependency inside this package.
type Snapshot struct {
	CoopCount      int
	CoopAgents     map[string]int
	DispatcherReady map[string]int
}

// Snapshot takes a consistent-enough snapshot of coop and dispatcher
// state for metrics collection.
func (e *Environment) Snapshot() Snapshot {
	e.coopMu.RLock()
	s := Snapshot{CoopCount: len(e.coops), CoopAgents: make(map[string]int, len(e.coops))}
	for name, c := range e.coops {
		s.CoopAgents[name] = c.AgentCount()
	}
	e.coopMu.RUnlock()

	type readyCounter interface{ ReadyCount() int }

	e.dispMu.RLock()
	s.DispatcherReady = make(map[string]int, len(e.dispatchers))
	for name, d := range e.dispatchers {
		if rc, ok := d.(readyCounter); ok {
			s.DispatcherReady[name] = rc.ReadyCount()
		}
	}
	e.dispMu.RUnlock()

	return s
}
