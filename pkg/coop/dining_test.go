package coop

import (
	"testing"

	"github.com/cuemby/actorkit/pkg/agent"
	"github.com/cuemby/actorkit/pkg/mailbox"
	"github.com/cuemby/actorkit/pkg/message"
)

// The dining-philosophers sample is a named non-goal collaborator (it
// depends on the core but adds no design content), so only the
// mutual-exclusion property a fork must uphold is exercised here, not the
// sample program itself: a fork never reports itself taken to two
// requesters without an intervening put in between.

type takeFork struct{ Who *mailbox.Mailbox }
type forkTaken struct{ Who *mailbox.Mailbox }
type forkBusy struct{ message.SignalMarker }
type putFork struct{ message.SignalMarker }

func newFork(name string) *agent.Core {
	fork := agent.NewCore(name)

	free := fork.DefaultState()
	takenState := agent.NewState(fork, "taken")

	agent.On(free, func(p takeFork) (any, error) {
		fork.SwitchTo(takenState)
		mailbox.Send(p.Who, forkTaken{Who: fork.DirectMbox()})
		return nil, nil
	})
	free.BindDirect()

	agent.On(takenState, func(p takeFork) (any, error) {
		mailbox.SendSignal[forkBusy](p.Who)
		return nil, nil
	})
	agent.JustSwitchToOnSignal[putFork](takenState, free)
	takenState.BindDirect()

	return fork
}

func newRequester(name string) (*agent.Core, chan string) {
	c := agent.NewCore(name)
	results := make(chan string, 8)

	st := c.DefaultState()
	agent.On(st, func(p forkTaken) (any, error) {
		results <- "taken"
		return nil, nil
	})
	agent.OnSignal[forkBusy](st, func() (any, error) {
		results <- "busy"
		return nil, nil
	})
	st.BindDirect()

	return c, results
}

func TestForkMutualExclusion(t *testing.T) {
	fork := newFork("fork")
	philA, resultsA := newRequester("phil-a")
	philB, resultsB := newRequester("phil-b")

	mailbox.Send(fork.DirectMbox(), takeFork{Who: philA.DirectMbox()})
	mailbox.Send(fork.DirectMbox(), takeFork{Who: philB.DirectMbox()})

	if !fork.RunDemand() {
		t.Fatalf("fork should have a pending take request from A")
	}
	if !philA.RunDemand() {
		t.Fatalf("phil-a should have received a reply")
	}
	if !fork.RunDemand() {
		t.Fatalf("fork should have a pending take request from B")
	}
	if !philB.RunDemand() {
		t.Fatalf("phil-b should have received a reply")
	}

	gotA := <-resultsA
	gotB := <-resultsB
	if gotA != "taken" {
		t.Fatalf("phil-a result = %q, want \"taken\"", gotA)
	}
	if gotB != "busy" {
		t.Fatalf("phil-b result = %q, want \"busy\" (mutual exclusion violated)", gotB)
	}
}

func TestForkReleasedAfterPutBecomesTakeableAgain(t *testing.T) {
	fork := newFork("fork")
	philA, resultsA := newRequester("phil-a")
	philB, resultsB := newRequester("phil-b")

	mailbox.Send(fork.DirectMbox(), takeFork{Who: philA.DirectMbox()})
	fork.RunDemand()
	philA.RunDemand()
	if got := <-resultsA; got != "taken" {
		t.Fatalf("phil-a result = %q, want \"taken\"", got)
	}

	mailbox.SendSignal[putFork](fork.DirectMbox())
	if !fork.RunDemand() {
		t.Fatalf("fork should have a pending put signal")
	}

	mailbox.Send(fork.DirectMbox(), takeFork{Who: philB.DirectMbox()})
	fork.RunDemand()
	philB.RunDemand()
	if got := <-resultsB; got != "taken" {
		t.Fatalf("phil-b result = %q, want \"taken\" after the fork was put down", got)
	}
}
