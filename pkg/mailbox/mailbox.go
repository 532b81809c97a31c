// Package mailbox implements the subscription table and delivery logic
// shared by every agent: multi-producer/multi-consumer mailboxes and
// single-subscriber direct mailboxes, grounded on spec.md §4.1 and the
// teacher's events.Broker locking discipline (a guarded subscriber map
// with best-effort, non-reentrant delivery).
package mailbox

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/actorkit/pkg/kerr"
	"github.com/cuemby/actorkit/pkg/limit"
	"github.com/cuemby/actorkit/pkg/message"
	"github.com/cuemby/actorkit/pkg/metrics"
)

// Kind distinguishes a fan-out mailbox from a single-subscriber direct
// mailbox bound one-to-one with an agent.
type Kind int

const (
	MPMC Kind = iota
	Direct
)

// Filter decides whether an envelope should be delivered to a particular
// subscription. A nil Filter always matches. Filters run synchronously on
// the sender's goroutine and must not block or call back into the
// mailbox.
type Filter func(env *message.Envelope) bool

// Subscriber is anything that can accept a resolved delivery: agent.Core
// satisfies this without pkg/mailbox importing pkg/agent. release, when
// non-nil, must be called exactly once after the envelope has been
// processed (handled, dropped, or errored); it returns the claimed slot
// to the owning limit.Policy, if any.
type Subscriber interface {
	Enqueue(mboxID string, typ message.TypeIndex, env *message.Envelope, threadSafe bool, release func()) error

	// EnqueueRequest is the synchronous-request counterpart to Enqueue,
	// used by pkg/svc against a single resolved ServiceTarget rather than
	// through Deliver's normal fan-out.
	EnqueueRequest(mboxID string, typ message.TypeIndex, env *message.Envelope, resolve func(result any, err error)) error
}

type subscription struct {
	sub        Subscriber
	filter     Filter
	threadSafe bool
}

// Mailbox is a named, typed delivery point. Zero value is not usable;
// construct with New.
type Mailbox struct {
	id   string
	kind Kind

	mu   sync.RWMutex
	subs map[message.TypeIndex][]subscription

	// limits holds an optional overflow policy per message type, set via
	// SetLimit. Absent entries mean unlimited in-flight demands.
	limitsMu sync.RWMutex
	limits   map[message.TypeIndex]*limit.Policy
}

// New returns an empty mailbox of the given kind.
func New(id string, kind Kind) *Mailbox {
	return &Mailbox{
		id:     id,
		kind:   kind,
		subs:   make(map[message.TypeIndex][]subscription),
		limits: make(map[message.TypeIndex]*limit.Policy),
	}
}

// ID returns the mailbox's stable identifier.
func (m *Mailbox) ID() string { return m.id }

// Kind reports whether m is an MPMC or Direct mailbox.
func (m *Mailbox) Kind() Kind { return m.kind }

// SetLimit installs an overflow policy for typ, replacing any existing
// one. The replaced policy's counter is left as it is: demands admitted
// under it still release their slot to it, and later deliveries count
// against p's own counter.
func (m *Mailbox) SetLimit(typ message.TypeIndex, p *limit.Policy) {
	m.limitsMu.Lock()
	defer m.limitsMu.Unlock()
	m.limits[typ] = p
}

func (m *Mailbox) policyFor(typ message.TypeIndex) *limit.Policy {
	m.limitsMu.RLock()
	defer m.limitsMu.RUnlock()
	return m.limits[typ]
}

// Limit exposes the overflow policy installed for typ, if any, so a
// synchronous-request caller can honor the same limit a normal Deliver
// would.
func (m *Mailbox) Limit(typ message.TypeIndex) *limit.Policy {
	return m.policyFor(typ)
}

// Subscribe registers sub to receive envelopes of typ matching filter
// (nil filter matches everything). A Direct mailbox accepts at most one
// subscription per type; a second Subscribe call replaces the first,
// matching so_5's single-consumer direct mbox semantics.
func (m *Mailbox) Subscribe(typ message.TypeIndex, sub Subscriber, filter Filter, threadSafe bool) {
	m.mu.Lock()
	entry := subscription{sub: sub, filter: filter, threadSafe: threadSafe}
	if m.kind == Direct {
		m.subs[typ] = []subscription{entry}
	} else {
		m.subs[typ] = append(m.subs[typ], entry)
	}
	total := m.totalSubsLocked()
	m.mu.Unlock()

	metrics.MailboxSubscriptions.WithLabelValues(m.id).Set(float64(total))
}

// Unsubscribe removes sub's registration for typ, if present.
func (m *Mailbox) Unsubscribe(typ message.TypeIndex, sub Subscriber) {
	m.mu.Lock()
	list := m.subs[typ]
	for i, s := range list {
		if s.sub == sub {
			m.subs[typ] = append(list[:i], list[i+1:]...)
			break
		}
	}
	total := m.totalSubsLocked()
	m.mu.Unlock()

	metrics.MailboxSubscriptions.WithLabelValues(m.id).Set(float64(total))
}

// totalSubsLocked sums subscriptions across every type; callers must hold
// m.mu.
func (m *Mailbox) totalSubsLocked() int {
	total := 0
	for _, list := range m.subs {
		total += len(list)
	}
	return total
}

// Deliver resolves the subscriber set for typ, applies filters, and
// enqueues the envelope to every match. Mutable envelopes must resolve to
// at most one receiver; a second match is an error (ErrTooManyReceivers)
// rather than a silent duplicate enqueue. Deliver also implements
// limit.Target, so a limit policy's Redirect/Transform reaction can
// redeliver onto this mailbox without pkg/limit importing this package.
func (m *Mailbox) Deliver(typ message.TypeIndex, env *message.Envelope) error {
	m.mu.RLock()
	list := append([]subscription(nil), m.subs[typ]...)
	m.mu.RUnlock()

	matches := make([]subscription, 0, len(list))
	for _, s := range list {
		if s.filter == nil || s.filter(env) {
			matches = append(matches, s)
		}
	}

	if env.Mutability == message.Mutable && len(matches) > 1 {
		return kerr.ErrTooManyReceivers
	}

	if len(matches) == 0 {
		return nil
	}

	if pol := m.policyFor(typ); pol != nil {
		return m.deliverWithLimit(typ, env, matches, pol)
	}

	var firstErr error
	for _, s := range matches {
		if err := s.sub.Enqueue(m.id, typ, env, s.threadSafe, nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Mailbox) deliverWithLimit(typ message.TypeIndex, env *message.Envelope, matches []subscription, pol *limit.Policy) error {
	var firstErr error
	for _, s := range matches {
		if pol.Acquire() {
			released := new(int32)
			release := func() {
				if atomic.CompareAndSwapInt32(released, 0, 1) {
					pol.Release()
				}
			}
			if err := s.sub.Enqueue(m.id, typ, env, s.threadSafe, release); err != nil {
				release()
				if firstErr == nil {
					firstErr = err
				}
			}
			continue
		}

		redirEnv, dest, abort, dropped := pol.Overflow(m.id, typ, env)
		switch {
		case abort:
			if firstErr == nil {
				firstErr = kerr.ErrMsgDeliveryOverflow
			}
		case dropped:
			// silently dropped, per Drop reaction
		case dest != nil:
			if err := dest.Deliver(typ, redirEnv); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ServiceTarget resolves the single handler subscribed to typ for a
// synchronous request, enforcing so_5's rc_no_svc_handlers /
// more-than-one-handler invariants.
func (m *Mailbox) ServiceTarget(typ message.TypeIndex) (Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.subs[typ]
	switch len(list) {
	case 0:
		return nil, kerr.ErrNoSvcHandlers
	case 1:
		return list[0].sub, nil
	default:
		return nil, kerr.ErrMoreThanOneSvcHandler
	}
}

// Send builds an immutable envelope for payload and delivers it to mbox.
func Send[T any](mbox *Mailbox, payload T) error {
	env := message.New(payload, message.Immutable)
	return mbox.Deliver(env.Type, env)
}

// SendMutable builds a uniquely-owned envelope for payload and delivers
// it to mbox; delivery fails with ErrTooManyReceivers if more than one
// subscriber matches.
func SendMutable[T any](mbox *Mailbox, payload T) error {
	env := message.New(payload, message.Mutable)
	return mbox.Deliver(env.Type, env)
}

// SendSignal delivers a payload-less signal of type T to mbox.
func SendSignal[T message.Signal](mbox *Mailbox) error {
	env := message.NewSignal[T]()
	return mbox.Deliver(env.Type, env)
}
