// Package svc implements the synchronous-request bridge: a one-shot
// future/promise layered over the normally-asynchronous mailbox send,
// grounded on spec.md §4.7 and so_5's request_future/request_value
// (so_5/rt/h/send_functions.hpp, test/so_5/svc/no_svc_handlers,
// test/so_5/message_limits/redirect_svc/sc_mbox).
package svc

import (
	"context"
	"fmt"

	"github.com/cuemby/actorkit/pkg/kerr"
	"github.com/cuemby/actorkit/pkg/mailbox"
	"github.com/cuemby/actorkit/pkg/message"
	"github.com/cuemby/actorkit/pkg/metrics"
)

type result[R any] struct {
	value R
	err   error
}

// Future is a handle to a pending synchronous request's result.
type Future[R any] struct {
	ch chan result[R]
}

// Get blocks until the request resolves, returning the handler's result
// or whatever error terminated it: ErrNoSvcHandlers if the target mailbox
// has no registered handler for the request type, ErrMoreThanOneSvcHandler
// if more than one does, ErrMsgDeliveryOverflow if a message-limit policy
// dropped or aborted the request, or the handler's own returned error.
func (f *Future[R]) Get() (R, error) {
	r := <-f.ch
	return r.value, r.err
}

// RequestFuture sends payload to mbox as a synchronous request and
// returns immediately with a Future the caller can Get later, mirroring
// so_5's request_future. A message-limit policy installed on the target
// type is honored exactly as Mailbox.Deliver honors it for ordinary sends:
// an overflowing request follows a Redirect/Transform chain to another
// mailbox (bounded by the same hop limit) before falling back to a drop,
// grounding the redirect_svc/sc_mbox worker [one]/[two]/[three] scenario.
func RequestFuture[T any, R any](mbox *mailbox.Mailbox, payload T) *Future[R] {
	f := &Future[R]{ch: make(chan result[R], 1)}

	typ := message.TypeOf[T]()
	originID := mbox.ID()
	env := message.New(payload, message.Immutable)

	cur := mbox
	for {
		pol := cur.Limit(typ)
		if pol == nil || pol.Acquire() {
			target, err := cur.ServiceTarget(typ)
			if err != nil {
				if pol != nil {
					pol.Release()
				}
				metrics.SvcRequestsTotal.WithLabelValues(originID, typ.String(), "no_handler").Inc()
				f.ch <- result[R]{err: err}
				return f
			}

			resolve := func(v any, handlerErr error) {
				if pol != nil {
					pol.Release()
				}
				if handlerErr != nil {
					metrics.SvcRequestsTotal.WithLabelValues(originID, typ.String(), "error").Inc()
					f.ch <- result[R]{err: handlerErr}
					return
				}
				rv, ok := v.(R)
				if !ok {
					metrics.SvcRequestsTotal.WithLabelValues(originID, typ.String(), "error").Inc()
					f.ch <- result[R]{err: fmt.Errorf("service request for %s: handler returned unexpected type", typ)}
					return
				}
				metrics.SvcRequestsTotal.WithLabelValues(originID, typ.String(), "ok").Inc()
				f.ch <- result[R]{value: rv}
			}

			if err := target.EnqueueRequest(cur.ID(), typ, env, resolve); err != nil {
				metrics.SvcRequestsTotal.WithLabelValues(originID, typ.String(), "error").Inc()
				f.ch <- result[R]{err: err}
			}
			return f
		}

		redirEnv, dest, abort, dropped := pol.Overflow(cur.ID(), typ, env)
		switch {
		case abort, dropped:
			metrics.SvcRequestsTotal.WithLabelValues(originID, typ.String(), "overflow").Inc()
			f.ch <- result[R]{err: kerr.ErrMsgDeliveryOverflow}
			return f
		case dest != nil:
			destMbox, ok := dest.(*mailbox.Mailbox)
			if !ok {
				metrics.SvcRequestsTotal.WithLabelValues(originID, typ.String(), "error").Inc()
				f.ch <- result[R]{err: fmt.Errorf("service request for %s: redirect target is not a mailbox", typ)}
				return f
			}
			cur, env = destMbox, redirEnv
		}
	}
}

// RequestValue sends payload to mbox as a synchronous request and blocks
// until the handler resolves it or ctx is done, mirroring so_5's
// request_value / wait_forever vs. a bounded wait.
func RequestValue[T any, R any](ctx context.Context, mbox *mailbox.Mailbox, payload T) (R, error) {
	f := RequestFuture[T, R](mbox, payload)

	select {
	case r := <-f.ch:
		return r.value, r.err
	case <-ctx.Done():
		metrics.SvcRequestTimeoutsTotal.WithLabelValues(mbox.ID(), message.TypeOf[T]().String()).Inc()
		var zero R
		return zero, kerr.ErrServiceRequestTimeout
	}
}
