package agent

import (
	"github.com/cuemby/actorkit/pkg/message"
	"github.com/cuemby/actorkit/pkg/queue"
)

type handlerEntry struct {
	fn         queue.HandlerFunc
	threadSafe bool
}

// Option configures a handler registration on State.On.
type Option func(*handlerEntry)

// ThreadSafe marks a handler as safe to run concurrently with other
// thread-safe handlers of the same agent, a hint consumed by
// AdvancedThreadPool.
func ThreadSafe() Option {
	return func(e *handlerEntry) { e.threadSafe = true }
}

// State is a named table of (type -> handler) bindings, analogous to
// so_5's so_5::state_t. Handlers registered on a non-default State never
// fire while another State is current; handlers on the default State also
// fire, as a fallback, for types the current State has no handler for.
type State struct {
	core *Core
	name string

	handlers map[message.TypeIndex]handlerEntry
}

// NewState allocates a state bound to core. The state is inert until c's
// CurrentState is switched to it via Core.SwitchTo.
func NewState(core *Core, name string) *State {
	return &State{core: core, name: name, handlers: make(map[message.TypeIndex]handlerEntry)}
}

// Name returns the state's label, used in logging and diagnostics.
func (s *State) Name() string { return s.name }

// On registers fn to run for envelopes of T while s is the agent's
// current state.
func On[T any](s *State, fn func(payload T) (any, error), opts ...Option) *State {
	typ := message.TypeOf[T]()
	e := handlerEntry{fn: func(env *message.Envelope) (any, error) {
		p, ok := message.Payload[T](env)
		if !ok {
			var zero T
			p = zero
		}
		return fn(p)
	}}
	for _, o := range opts {
		o(&e)
	}
	s.handlers[typ] = e
	return s
}

// OnSignal registers fn to run when a payload-less signal of type T is
// delivered while s is current.
func OnSignal[T message.Signal](s *State, fn func() (any, error), opts ...Option) *State {
	typ := message.TypeOf[T]()
	e := handlerEntry{fn: func(*message.Envelope) (any, error) { return fn() }}
	for _, o := range opts {
		o(&e)
	}
	s.handlers[typ] = e
	return s
}

// JustSwitchTo registers a pure transition arrow for T: receiving it while
// s is current switches the agent straight to next with no other effect,
// mirroring so_5's just_switch_to.
func JustSwitchTo[T any](s *State, next *State) *State {
	typ := message.TypeOf[T]()
	s.handlers[typ] = handlerEntry{fn: func(*message.Envelope) (any, error) {
		s.core.SwitchTo(next)
		return nil, nil
	}}
	return s
}

// JustSwitchToOnSignal is JustSwitchTo for payload-less signal types.
func JustSwitchToOnSignal[T message.Signal](s *State, next *State) *State {
	typ := message.TypeOf[T]()
	s.handlers[typ] = handlerEntry{fn: func(*message.Envelope) (any, error) {
		s.core.SwitchTo(next)
		return nil, nil
	}}
	return s
}

func (s *State) lookup(typ message.TypeIndex) (handlerEntry, bool) {
	e, ok := s.handlers[typ]
	return e, ok
}

// BindDirect subscribes the owning core's direct mailbox to every type
// registered on s, a convenience for the common one-state-one-mailbox
// agent shape; agents subscribing across several mailboxes should call
// Core.Subscribe directly per type instead.
func (s *State) BindDirect() *State {
	for typ := range s.handlers {
		s.core.Subscribe(s.core.direct, typ, nil, false)
	}
	return s
}
