package queue

import (
	"testing"
	"time"

	"github.com/cuemby/actorkit/pkg/message"
)

func TestPushPopFIFOOrder(t *testing.T) {
	q := New()
	typ := message.TypeOf[int]()

	for i := 0; i < 3; i++ {
		q.Push(Demand{Type: typ, Envelope: &message.Envelope{Type: typ, Payload: i}})
	}

	for i := 0; i < 3; i++ {
		d, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() ok=false, want true at iteration %d", i)
		}
		if got := d.Envelope.Payload.(int); got != i {
			t.Errorf("Pop() order broken: got %d, want %d", got, i)
		}
	}
}

func TestTryPopEmpty(t *testing.T) {
	q := New()
	if _, ok := q.TryPop(); ok {
		t.Fatalf("TryPop() on empty queue should return ok=false")
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New()
	done := make(chan Demand, 1)

	go func() {
		d, ok := q.Pop()
		if !ok {
			return
		}
		done <- d
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(Demand{Type: message.TypeOf[string]()})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop() did not unblock after Push()")
	}
}

func TestCloseUnblocksPop(t *testing.T) {
	q := New()
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Pop() after Close() with no items should return ok=false")
		}
	case <-time.After(time.Second):
		t.Fatal("Close() did not unblock Pop()")
	}
}

func TestLen(t *testing.T) {
	q := New()
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
	q.Push(Demand{})
	q.Push(Demand{})
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	q.TryPop()
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
}
