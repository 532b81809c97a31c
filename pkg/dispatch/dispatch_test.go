package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/actorkit/pkg/agent"
	"github.com/cuemby/actorkit/pkg/mailbox"
)

type tick struct{ N int }

func newPingPongCores(t *testing.T) (*agent.Core, *agent.Core, chan int) {
	t.Helper()
	a := agent.NewCore("a")
	b := agent.NewCore("b")
	results := make(chan int, 16)

	aState := a.DefaultState()
	agent.On(aState, func(p tick) (any, error) {
		if p.N < 10 {
			mailbox.Send(b.DirectMbox(), tick{N: p.N + 1})
		} else {
			results <- p.N
		}
		return nil, nil
	})
	aState.BindDirect()

	bState := b.DefaultState()
	agent.On(bState, func(p tick) (any, error) {
		mailbox.Send(a.DirectMbox(), tick{N: p.N + 1})
		return nil, nil
	})
	bState.BindDirect()

	return a, b, results
}

func TestOneThreadPingPong(t *testing.T) {
	a, b, results := newPingPongCores(t)

	d := NewOneThread("main")
	if err := d.BindAgent(a); err != nil {
		t.Fatalf("BindAgent(a) error: %v", err)
	}
	if err := d.BindAgent(b); err != nil {
		t.Fatalf("BindAgent(b) error: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		d.Shutdown(ctx)
	}()

	mailbox.Send(b.DirectMbox(), tick{N: 0})

	select {
	case n := <-results:
		if n != 10 {
			t.Fatalf("final tick = %d, want 10", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ping-pong did not complete on OneThread dispatcher")
	}
}

func TestActiveObjectStartShutdown(t *testing.T) {
	c := agent.NewCore("solo")
	done := make(chan struct{}, 1)
	st := c.DefaultState()
	agent.On(st, func(p tick) (any, error) {
		done <- struct{}{}
		return nil, nil
	})
	st.BindDirect()

	d := NewActiveObject("ao")
	if err := d.BindAgent(c); err != nil {
		t.Fatalf("BindAgent error: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mailbox.Send(c.DirectMbox(), tick{N: 1})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ActiveObject did not process the demand")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

func TestActiveGroupRunsGroupsIndependently(t *testing.T) {
	d := NewActiveGroup("groups")

	c1 := agent.NewCore("g1")
	c2 := agent.NewCore("g2")
	done1 := make(chan struct{}, 1)
	done2 := make(chan struct{}, 1)

	st1 := c1.DefaultState()
	agent.On(st1, func(p tick) (any, error) { done1 <- struct{}{}; return nil, nil })
	st1.BindDirect()

	st2 := c2.DefaultState()
	agent.On(st2, func(p tick) (any, error) { done2 <- struct{}{}; return nil, nil })
	st2.BindDirect()

	if err := d.BindAgentToGroup("group-a", c1); err != nil {
		t.Fatalf("BindAgentToGroup error: %v", err)
	}
	if err := d.BindAgentToGroup("group-b", c2); err != nil {
		t.Fatalf("BindAgentToGroup error: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mailbox.Send(c1.DirectMbox(), tick{N: 1})
	mailbox.Send(c2.DirectMbox(), tick{N: 1})

	for i, ch := range []chan struct{}{done1, done2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("group %d did not process its demand", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

func TestThreadPoolProcessesAllAgents(t *testing.T) {
	d := NewThreadPool("pool", 4, CooperativeFIFO)

	cores := make([]*agent.Core, 5)
	done := make(chan struct{}, len(cores))
	for i := range cores {
		c := agent.NewCore("")
		st := c.DefaultState()
		agent.On(st, func(p tick) (any, error) { done <- struct{}{}; return nil, nil })
		st.BindDirect()
		cores[i] = c
		if err := d.BindAgent(c); err != nil {
			t.Fatalf("BindAgent error: %v", err)
		}
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	for _, c := range cores {
		mailbox.Send(c.DirectMbox(), tick{N: 1})
	}

	for i := 0; i < len(cores); i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("thread pool did not process all agents, got %d/%d", i, len(cores))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

func TestAdvancedThreadPoolProcessesDemand(t *testing.T) {
	d := NewAdvancedThreadPool("adv", 2)

	c := agent.NewCore("adv-agent")
	done := make(chan struct{}, 1)
	st := c.DefaultState()
	agent.On(st, func(p tick) (any, error) { done <- struct{}{}; return nil, nil }, agent.ThreadSafe())
	st.BindDirect()

	if err := d.BindAgent(c); err != nil {
		t.Fatalf("BindAgent error: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mailbox.Send(c.DirectMbox(), tick{N: 1})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AdvancedThreadPool did not process the demand")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

// TestAdvancedThreadPoolRunsThreadSafeDemandsConcurrently grounds the
// dispatcher's defining semantics: two demands of the same agent, both
// marked thread-safe, may be in flight on different workers at once.
func TestAdvancedThreadPoolRunsThreadSafeDemandsConcurrently(t *testing.T) {
	d := NewAdvancedThreadPool("adv-concurrent", 2)

	c := agent.NewCore("adv-concurrent-agent")
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	st := c.DefaultState()
	agent.On(st, func(p tick) (any, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	}, agent.ThreadSafe())
	st.BindDirect()

	if err := d.BindAgent(c); err != nil {
		t.Fatalf("BindAgent error: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mailbox.Send(c.DirectMbox(), tick{N: 1})
	mailbox.Send(c.DirectMbox(), tick{N: 2})

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatalf("only %d/2 thread-safe demands started before timing out, want both running concurrently", i)
		}
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

// TestThreadPoolCooperativeFIFOInterleavesAcrossAgents grounds
// cooperative_fifo's "one demand per scheduling turn" rule: a backlog on
// one agent must not batch-drain ahead of a demand that becomes ready on
// another agent in the meantime.
func TestThreadPoolCooperativeFIFOInterleavesAcrossAgents(t *testing.T) {
	d := NewThreadPool("coop-fair", 1, CooperativeFIFO)

	var mu sync.Mutex
	var order []string

	a := agent.NewCore("a")
	aSt := a.DefaultState()
	agent.On(aSt, func(p tick) (any, error) {
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
		return nil, nil
	})
	aSt.BindDirect()

	b := agent.NewCore("b")
	bSt := b.DefaultState()
	agent.On(bSt, func(p tick) (any, error) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
		return nil, nil
	})
	bSt.BindDirect()

	if err := d.BindAgent(a); err != nil {
		t.Fatalf("BindAgent(a) error: %v", err)
	}
	if err := d.BindAgent(b); err != nil {
		t.Fatalf("BindAgent(b) error: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mailbox.Send(a.DirectMbox(), tick{N: 1})
	mailbox.Send(a.DirectMbox(), tick{N: 2})
	mailbox.Send(a.DirectMbox(), tick{N: 3})
	time.Sleep(10 * time.Millisecond) // let a's first demand be claimed first
	mailbox.Send(b.DirectMbox(), tick{N: 1})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("did not process all 4 demands, got %d so far", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	bIdx := -1
	for i, name := range order {
		if name == "b" {
			bIdx = i
		}
	}
	if bIdx == len(order)-1 {
		t.Fatalf("cooperative FIFO batch-drained a before giving b a turn, order=%v", order)
	}
}

func TestSingleThreadedNotMTSafePump(t *testing.T) {
	d := NewSingleThreadedNotMTSafe("embedded")

	c := agent.NewCore("pumped")
	var processed int
	st := c.DefaultState()
	agent.On(st, func(p tick) (any, error) { processed++; return nil, nil })
	st.BindDirect()

	if err := d.BindAgent(c); err != nil {
		t.Fatalf("BindAgent error: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mailbox.Send(c.DirectMbox(), tick{N: 1})
	mailbox.Send(c.DirectMbox(), tick{N: 2})

	if processed != 0 {
		t.Fatalf("processed = %d before Pump, want 0", processed)
	}
	d.Pump()
	if processed != 2 {
		t.Fatalf("processed = %d after Pump, want 2", processed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}
