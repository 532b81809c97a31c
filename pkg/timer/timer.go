// Package timer implements the timer service: best-effort single-shot
// and periodic message delivery, grounded on spec.md §4.8 and the
// teacher's ticker-loop idiom (pkg/scheduler, pkg/env.Collector),
// built on the stdlib wall clock behind a pluggable Service interface.
package timer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/actorkit/pkg/kerr"
	"github.com/cuemby/actorkit/pkg/mailbox"
	"github.com/cuemby/actorkit/pkg/message"
)

// TimerID identifies an outstanding timer for cancellation.
type TimerID string

// Service is the pluggable timer backend contract; the wall-clock service
// returned by New is the only concrete implementation shipped, but callers
// may substitute a test
// double behind this interface.
type Service interface {
	// SingleTimer schedules payload for one delivery to mbox after delay.
	SingleTimer(mbox *mailbox.Mailbox, payload message.Envelope, delay time.Duration) TimerID
	// ScheduleTimer schedules payload for repeated delivery to mbox, first
	// after initialDelay then every period, until Cancel. Mutable
	// envelopes are rejected immediately with ErrMutablePeriodicMsg since a
	// uniquely-owned payload cannot be safely redelivered on each tick.
	ScheduleTimer(mbox *mailbox.Mailbox, payload message.Envelope, initialDelay, period time.Duration) (TimerID, error)
	// Cancel stops a pending or repeating timer; canceling an unknown or
	// already-fired single-shot id is a no-op.
	Cancel(id TimerID)
	// Close cancels every outstanding timer.
	Close()
}

type entry struct {
	timer  *time.Timer
	ticker *time.Ticker
	stopCh chan struct{}
}

// wallClock is the stdlib-backed Service implementation.
type wallClock struct {
	mu      sync.Mutex
	entries map[TimerID]*entry
	closed  bool
}

// New returns the stdlib wall-clock timer service.
func New() Service {
	return &wallClock{entries: make(map[TimerID]*entry)}
}

func (w *wallClock) SingleTimer(mbox *mailbox.Mailbox, payload message.Envelope, delay time.Duration) TimerID {
	id := TimerID(uuid.NewString())
	env := payload

	t := time.AfterFunc(delay, func() {
		_ = mbox.Deliver(env.Type, &env)
		w.mu.Lock()
		delete(w.entries, id)
		w.mu.Unlock()
	})

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		t.Stop()
		return id
	}
	w.entries[id] = &entry{timer: t}
	w.mu.Unlock()

	return id
}

func (w *wallClock) ScheduleTimer(mbox *mailbox.Mailbox, payload message.Envelope, initialDelay, period time.Duration) (TimerID, error) {
	if payload.Mutability == message.Mutable {
		return "", kerr.ErrMutablePeriodicMsg
	}

	id := TimerID(uuid.NewString())
	env := payload
	stopCh := make(chan struct{})

	go func() {
		timer := time.NewTimer(initialDelay)
		defer timer.Stop()

		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		_ = mbox.Deliver(env.Type, &env)

		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				_ = mbox.Deliver(env.Type, &env)
			}
		}
	}()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		close(stopCh)
		return id, nil
	}
	w.entries[id] = &entry{stopCh: stopCh}
	w.mu.Unlock()

	return id, nil
}

func (w *wallClock) Cancel(id TimerID) {
	w.mu.Lock()
	e, ok := w.entries[id]
	if ok {
		delete(w.entries, id)
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.stopCh != nil {
		close(e.stopCh)
	}
}

func (w *wallClock) Close() {
	w.mu.Lock()
	w.closed = true
	entries := w.entries
	w.entries = make(map[TimerID]*entry)
	w.mu.Unlock()

	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.stopCh != nil {
			close(e.stopCh)
		}
	}
}
