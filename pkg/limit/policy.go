// Package limit implements message-limit policies: a per-(mailbox, type)
// cap on in-flight demands with a configurable overflow reaction, grounded
// on the so_5 message_limits test suite in original_source/.
package limit

import (
	"sync/atomic"

	"github.com/cuemby/actorkit/pkg/message"
	"github.com/cuemby/actorkit/pkg/metrics"
)

// maxRedirectHops bounds a redirect/transform chain so a misconfigured
// cycle of policies cannot loop forever; see DESIGN.md's Open Question
// resolution. Exceeding it falls back to Drop.
const maxRedirectHops = 32

// Reaction names what a policy does once its counter saturates.
type Reaction int

const (
	Drop Reaction = iota
	AbortApp
	Redirect
	Transform
)

func (r Reaction) String() string {
	switch r {
	case Drop:
		return "drop"
	case AbortApp:
		return "abort_app"
	case Redirect:
		return "redirect"
	case Transform:
		return "transform"
	default:
		return "unknown"
	}
}

// Target is the narrow delivery surface a policy redirects or transforms
// onto. *mailbox.Mailbox satisfies this structurally; pkg/limit never
// imports pkg/mailbox.
type Target interface {
	Deliver(typ message.TypeIndex, env *message.Envelope) error
}

// RedirectFunc resolves the destination mailbox for a Redirect policy at
// overflow time, mirroring so_5's limit_then_redirect destination lambda.
type RedirectFunc func() Target

// TransformFunc rewrites an overflowing envelope into a new type/payload
// before redelivering it to dest, mirroring so_5's limit_then_transform.
type TransformFunc func(env *message.Envelope) (dest Target, out *message.Envelope)

// Policy caps in-flight demands of one message type on one mailbox.
type Policy struct {
	Limit      uint64
	Reaction   Reaction
	RedirectTo RedirectFunc
	Transform  TransformFunc

	counter uint64
}

// DropPolicy builds a policy that silently drops envelopes past limit.
func DropPolicy(lim uint64) *Policy {
	return &Policy{Limit: lim, Reaction: Drop}
}

// AbortAppPolicy builds a policy that signals the caller to abort the
// application once limit is exceeded.
func AbortAppPolicy(lim uint64) *Policy {
	return &Policy{Limit: lim, Reaction: AbortApp}
}

// RedirectPolicy builds a policy that redelivers overflow envelopes to
// whatever to() returns at overflow time.
func RedirectPolicy(lim uint64, to RedirectFunc) *Policy {
	return &Policy{Limit: lim, Reaction: Redirect, RedirectTo: to}
}

// TransformPolicy builds a policy that rewrites overflow envelopes before
// redelivering them.
func TransformPolicy(lim uint64, fn TransformFunc) *Policy {
	return &Policy{Limit: lim, Reaction: Transform, Transform: fn}
}

// Acquire attempts to claim one in-flight slot, returning false if the
// limit is already saturated. Safe for concurrent senders.
func (p *Policy) Acquire() bool {
	for {
		cur := atomic.LoadUint64(&p.counter)
		if cur >= p.Limit {
			return false
		}
		if atomic.CompareAndSwapUint64(&p.counter, cur, cur+1) {
			return true
		}
	}
}

// Release returns one in-flight slot after a demand finishes processing.
func (p *Policy) Release() {
	atomic.AddUint64(&p.counter, ^uint64(0))
}

// InFlight reports the current number of claimed slots.
func (p *Policy) InFlight() uint64 {
	return atomic.LoadUint64(&p.counter)
}

// Overflow carries out this policy's configured reaction for an envelope
// that failed Acquire. mboxID labels the drop/hop-exhaustion counters with
// the mailbox the overflow was observed on. dropped is true when the
// reaction is Drop, or when a Redirect/Transform falls back to a drop
// (maxRedirectHops exhausted, or no destination to redeliver to); abort is
// true when the caller must escalate to process-fatal (AbortApp).
func (p *Policy) Overflow(mboxID string, typ message.TypeIndex, env *message.Envelope) (redirected *message.Envelope, dest Target, abort bool, dropped bool) {
	switch p.Reaction {
	case AbortApp:
		return nil, nil, true, false
	case Redirect:
		if env.Hops >= maxRedirectHops {
			metrics.LimitRedirectHopExhaustedTotal.WithLabelValues(mboxID, typ.String()).Inc()
			metrics.LimitDropsTotal.WithLabelValues(mboxID, typ.String()).Inc()
			return nil, nil, false, true
		}
		if p.RedirectTo == nil {
			metrics.LimitDropsTotal.WithLabelValues(mboxID, typ.String()).Inc()
			return nil, nil, false, true
		}
		return env.Redirected(), p.RedirectTo(), false, false
	case Transform:
		if env.Hops >= maxRedirectHops {
			metrics.LimitRedirectHopExhaustedTotal.WithLabelValues(mboxID, typ.String()).Inc()
			metrics.LimitDropsTotal.WithLabelValues(mboxID, typ.String()).Inc()
			return nil, nil, false, true
		}
		if p.Transform == nil {
			metrics.LimitDropsTotal.WithLabelValues(mboxID, typ.String()).Inc()
			return nil, nil, false, true
		}
		d, out := p.Transform(env)
		if d == nil || out == nil {
			metrics.LimitDropsTotal.WithLabelValues(mboxID, typ.String()).Inc()
			return nil, nil, false, true
		}
		out.Hops = env.Hops + 1
		return out, d, false, false
	default: // Drop
		metrics.LimitDropsTotal.WithLabelValues(mboxID, typ.String()).Inc()
		return nil, nil, false, true
	}
}
