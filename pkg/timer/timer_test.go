package timer

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/actorkit/pkg/kerr"
	"github.com/cuemby/actorkit/pkg/mailbox"
	"github.com/cuemby/actorkit/pkg/message"
)

type tick struct{ N int }

type recorder struct {
	ch chan *message.Envelope
}

func (r *recorder) Enqueue(mboxID string, typ message.TypeIndex, env *message.Envelope, threadSafe bool, release func()) error {
	r.ch <- env
	if release != nil {
		release()
	}
	return nil
}

func (r *recorder) EnqueueRequest(mboxID string, typ message.TypeIndex, env *message.Envelope, resolve func(any, error)) error {
	resolve(nil, nil)
	return nil
}

func TestSingleTimerDeliversOnce(t *testing.T) {
	mbox := mailbox.New("mb", mailbox.MPMC)
	r := &recorder{ch: make(chan *message.Envelope, 4)}
	typ := message.TypeOf[tick]()
	mbox.Subscribe(typ, r, nil, false)

	svc := New()
	defer svc.Close()

	env := message.New(tick{N: 1}, message.Immutable)
	svc.SingleTimer(mbox, *env, 20*time.Millisecond)

	select {
	case got := <-r.ch:
		p, ok := message.Payload[tick](got)
		if !ok || p.N != 1 {
			t.Fatalf("unexpected payload: %+v ok=%v", p, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("SingleTimer did not deliver")
	}

	select {
	case <-r.ch:
		t.Fatal("SingleTimer delivered more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduleTimerDeliversPeriodicallyUntilCancel(t *testing.T) {
	mbox := mailbox.New("mb", mailbox.MPMC)
	r := &recorder{ch: make(chan *message.Envelope, 16)}
	typ := message.TypeOf[tick]()
	mbox.Subscribe(typ, r, nil, false)

	svc := New()
	defer svc.Close()

	env := message.New(tick{N: 1}, message.Immutable)
	id, err := svc.ScheduleTimer(mbox, *env, 10*time.Millisecond, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ScheduleTimer error: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-r.ch:
		case <-time.After(time.Second):
			t.Fatalf("expected periodic delivery %d", i)
		}
	}

	svc.Cancel(id)

	// drain anything already in flight, then assert silence.
	drain := time.After(200 * time.Millisecond)
	for {
		select {
		case <-r.ch:
			continue
		case <-drain:
		}
		break
	}

	select {
	case <-r.ch:
		t.Fatal("received a delivery after Cancel")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestScheduleTimerRejectsMutablePayload(t *testing.T) {
	mbox := mailbox.New("mb", mailbox.MPMC)
	svc := New()
	defer svc.Close()

	env := message.New(tick{N: 1}, message.Mutable)
	_, err := svc.ScheduleTimer(mbox, *env, time.Second, time.Second)
	if !errors.Is(err, kerr.ErrMutablePeriodicMsg) {
		t.Fatalf("ScheduleTimer() error = %v, want ErrMutablePeriodicMsg", err)
	}
}

func TestCloseStopsOutstandingTimers(t *testing.T) {
	mbox := mailbox.New("mb", mailbox.MPMC)
	r := &recorder{ch: make(chan *message.Envelope, 4)}
	typ := message.TypeOf[tick]()
	mbox.Subscribe(typ, r, nil, false)

	svc := New()
	env := message.New(tick{N: 1}, message.Immutable)
	svc.SingleTimer(mbox, *env, time.Hour)

	svc.Close()

	select {
	case <-r.ch:
		t.Fatal("closed timer service should not deliver")
	case <-time.After(100 * time.Millisecond):
	}
}
