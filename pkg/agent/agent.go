// Package agent implements the agent core and its state machine: the
// message-driven entity that owns a direct mailbox, subscribes to other
// mailboxes, and processes demands one at a time through whichever State
// is current. Grounded on spec.md §4.2, the Roasbeef-substrate actor
// example's core/mailbox split, and the teacher's pkg/worker per-entity
// goroutine idiom (one Core drains one queue, whatever dispatcher strategy
// feeds it).
package agent

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/actorkit/pkg/limit"
	"github.com/cuemby/actorkit/pkg/log"
	"github.com/cuemby/actorkit/pkg/mailbox"
	"github.com/cuemby/actorkit/pkg/message"
	"github.com/cuemby/actorkit/pkg/metrics"
	"github.com/cuemby/actorkit/pkg/queue"
)

// Core is the non-behavioral half of an agent: identity, current state,
// direct mailbox, subscriptions and their limits, and the event queue a
// dispatcher worker drains. Behavior lives entirely in States bound to a
// Core via NewState.
type Core struct {
	id string

	stateMu sync.RWMutex
	def     *State
	current *State

	direct *mailbox.Mailbox
	q      *queue.Queue

	subsMu sync.Mutex
	subs   []subscriptionRef

	onReady     func()
	onException func(err error)
	onStart     func() error
	onFinish    func() error

	log zerolog.Logger
}

type subscriptionRef struct {
	mbox *mailbox.Mailbox
	typ  message.TypeIndex
}

// NewCore allocates an agent core with a fresh direct mailbox and event
// queue. id defaults to a generated UUID when empty, mirroring so_5's
// autoname for unnamed agents.
func NewCore(id string) *Core {
	if id == "" {
		id = uuid.NewString()
	}
	c := &Core{
		id:     id,
		direct: mailbox.New("direct:"+id, mailbox.Direct),
		q:      queue.New(),
		log:    log.WithAgent(id),
	}
	c.def = NewState(c, "default")
	c.current = c.def
	return c
}

// ID returns the agent's stable identifier.
func (c *Core) ID() string { return c.id }

// DirectMbox returns the agent's own single-subscriber mailbox.
func (c *Core) DirectMbox() *mailbox.Mailbox { return c.direct }

// Queue returns the agent's event queue, drained by a dispatcher worker.
func (c *Core) Queue() *queue.Queue { return c.q }

// DefaultState returns the state a freshly constructed Core starts in.
func (c *Core) DefaultState() *State { return c.def }

// CurrentState returns the state c is presently in.
func (c *Core) CurrentState() *State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.current
}

// SwitchTo changes c's current state. Only handlers registered on the new
// state's table will match subsequent demands.
func (c *Core) SwitchTo(next *State) {
	c.stateMu.Lock()
	c.current = next
	c.stateMu.Unlock()
}

// BindReady installs a callback the dispatcher uses to learn when c has
// at least one pending demand; dispatchers that poll the queue directly
// (ActiveObject) may leave this unset.
func (c *Core) BindReady(fn func()) { c.onReady = fn }

// BindExceptionHandler installs the callback invoked when a handler
// returns an error or panics, before the environment's exception-reaction
// policy runs.
func (c *Core) BindExceptionHandler(fn func(err error)) { c.onException = fn }

// BindStart installs the evt_start hook run once during cooperation
// registration, before the agent processes its first demand.
func (c *Core) BindStart(fn func() error) { c.onStart = fn }

// BindFinish installs the evt_finish hook run once during cooperation
// deregistration, after the agent stops accepting new demands.
func (c *Core) BindFinish(fn func() error) { c.onFinish = fn }

// RunStart invokes the evt_start hook, if any.
func (c *Core) RunStart() error {
	if c.onStart == nil {
		return nil
	}
	return c.onStart()
}

// RunFinish invokes the evt_finish hook, if any.
func (c *Core) RunFinish() error {
	if c.onFinish == nil {
		return nil
	}
	return c.onFinish()
}

// Subscribe registers c on mbox for typ with the given filter, matching
// so_5's so_subscribe(mbox).event(...) — the
// subscription itself is state-independent; which State.On entries fire
// depends on whatever state is current when the demand is processed.
func (c *Core) Subscribe(mbox *mailbox.Mailbox, typ message.TypeIndex, filter mailbox.Filter, threadSafe bool) {
	mbox.Subscribe(typ, c, filter, threadSafe)

	c.subsMu.Lock()
	c.subs = append(c.subs, subscriptionRef{mbox: mbox, typ: typ})
	c.subsMu.Unlock()
}

// UnsubscribeAll tears down every subscription c holds, used during
// cooperation deregistration.
func (c *Core) UnsubscribeAll() {
	c.subsMu.Lock()
	refs := append([]subscriptionRef(nil), c.subs...)
	c.subs = nil
	c.subsMu.Unlock()

	for _, r := range refs {
		r.mbox.Unsubscribe(r.typ, c)
	}
}

// Enqueue implements mailbox.Subscriber. It resolves a handler against
// the current state's table and pushes a queue.Demand; if no handler
// matches, the envelope is silently dropped (and release, if any, is
// called immediately) exactly as so_5 drops messages with no matching
// event handler in the receiving state.
func (c *Core) Enqueue(mboxID string, typ message.TypeIndex, env *message.Envelope, threadSafe bool, release func()) error {
	h, ok := c.lookupWithFallback(typ)
	if !ok {
		if release != nil {
			release()
		}
		return nil
	}

	c.q.Push(queue.Demand{
		MboxID:     mboxID,
		Type:       typ,
		Envelope:   env,
		Handler:    h.fn,
		ThreadSafe: threadSafe || h.threadSafe,
		Release:    release,
	})
	metrics.QueueDepth.WithLabelValues(c.id).Set(float64(c.q.Len()))
	if c.onReady != nil {
		c.onReady()
	}
	return nil
}

// EnqueueRequest is the synchronous-request counterpart to Enqueue: it
// looks up a handler the same way, but wires resolve as the demand's
// Resolve callback instead of routing errors through the bound exception
// handler. pkg/svc calls this directly against the single resolved
// service target rather than going through Mailbox.Deliver's fan-out.
func (c *Core) EnqueueRequest(mboxID string, typ message.TypeIndex, env *message.Envelope, resolve func(any, error)) error {
	h, ok := c.lookupWithFallback(typ)
	if !ok {
		resolve(nil, fmt.Errorf("agent %s: no handler registered for %s in state %q", c.id, typ, c.CurrentState().Name()))
		return nil
	}

	c.q.Push(queue.Demand{
		MboxID:     mboxID,
		Type:       typ,
		Envelope:   env,
		Handler:    h.fn,
		ThreadSafe: h.threadSafe,
		Resolve:    resolve,
	})
	metrics.QueueDepth.WithLabelValues(c.id).Set(float64(c.q.Len()))
	if c.onReady != nil {
		c.onReady()
	}
	return nil
}

// lookupWithFallback resolves a handler against the current state's table
// and, if that state has no entry for typ, falls back to the default
// state's table. A handler defined on the current state always shadows one
// defined only on the default state; the default-state entry fires only
// when the current state is silent on typ.
func (c *Core) lookupWithFallback(typ message.TypeIndex) (handlerEntry, bool) {
	st := c.CurrentState()
	if h, ok := st.lookup(typ); ok {
		return h, true
	}
	if st == c.def {
		return handlerEntry{}, false
	}
	return c.def.lookup(typ)
}

// RunDemand pops exactly one demand (if any) and runs its handler,
// recovering from a handler panic and routing both panics and returned
// errors through the bound exception handler. It returns false when the
// queue had nothing to pop.
func (c *Core) RunDemand() bool {
	d, ok := c.q.TryPop()
	if !ok {
		return false
	}
	metrics.QueueDepth.WithLabelValues(c.id).Set(float64(c.q.Len()))
	c.runOne(d)
	return true
}

// RunDemandBlocking pops the next demand, blocking until one is
// available or the queue is closed.
func (c *Core) RunDemandBlocking() bool {
	d, ok := c.q.Pop()
	if !ok {
		return false
	}
	metrics.QueueDepth.WithLabelValues(c.id).Set(float64(c.q.Len()))
	c.runOne(d)
	return true
}

func (c *Core) runOne(d queue.Demand) {
	defer func() {
		if d.Release != nil {
			d.Release()
		}
	}()

	// The handler is looked up again against the state current now, so a
	// transition made by an earlier demand applies to demands already
	// queued behind it; with no handler left for the type, the demand is
	// dropped.
	h, ok := c.lookupWithFallback(d.Type)
	if !ok {
		if d.Resolve != nil {
			d.Resolve(nil, fmt.Errorf("agent %s: no handler registered for %s in state %q", c.id, d.Type, c.CurrentState().Name()))
		}
		return
	}
	d.Handler = h.fn

	result, err := c.invoke(d)

	if d.Resolve != nil {
		d.Resolve(result, err)
		return
	}
	if err != nil && c.onException != nil {
		c.onException(err)
	}
}

func (c *Core) invoke(d queue.Demand) (result any, err error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.HandlerDuration, c.id, d.Type.String())
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s: handler panic for %s: %v", c.id, d.Type, r)
			c.log.Error().Str("mbox", d.MboxID).Str("type", d.Type.String()).Interface("panic", r).Msg("handler panicked")
		}
	}()
	if d.Handler == nil {
		return nil, nil
	}
	return d.Handler(d.Envelope)
}

// PeekThreadSafe reports whether the queue's head demand, if any, was
// resolved as thread-safe, without removing it. AdvancedThreadPool uses
// this to decide whether a claim may run concurrently with others already
// in flight for c, instead of inferring it from its own bookkeeping.
func (c *Core) PeekThreadSafe() (threadSafe bool, ok bool) {
	d, ok := c.q.Peek()
	if !ok {
		return false, false
	}
	return d.ThreadSafe, true
}

// Limiter exposes limit.Policy installation for mailboxes the core owns
// (its direct mailbox); MPMC mailboxes set limits directly since they may
// be shared across many agents.
func (c *Core) Limiter(typ message.TypeIndex, p *limit.Policy) {
	c.direct.SetLimit(typ, p)
}
