package node

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"vcmesh/datamodel/message"
	"vcmesh/fault"
	"vcmesh/swarm/client"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func startNode(t *testing.T, opts Options) *Node {
	t.Helper()
	if opts.Listener == nil {
		opts.Listener = listen(t)
	}
	n, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run(%s): %v", n.ID, err)
		}
	})
	return n
}

func wsURL(n *Node) string {
	return "ws://" + n.ID
}

func clockOf(n *Node, id message.PeerID) uint32 {
	v, _ := n.Engine().Clocks().Get(id)
	return v
}

func waitPeers(t *testing.T, n *Node, count int) {
	t.Helper()
	waitFor(t, 5*time.Second, func() bool { return len(n.ActiveSessions()) == count })
}

// A - B - C: A and C never connect.
func TestNodeChain(t *testing.T) {
	a := startNode(t, Options{})
	c := startNode(t, Options{})
	b := startNode(t, Options{Peers: []string{wsURL(a), wsURL(c)}})

	waitPeers(t, a, 1)
	waitPeers(t, b, 2)
	waitPeers(t, c, 1)

	if _, sent, err := a.SendLocal("from a"); err != nil || sent != 1 {
		t.Fatalf("SendLocal: sent %d, err %v", sent, err)
	}
	waitFor(t, 5*time.Second, func() bool { return clockOf(b, a.ID) == 1 })

	if _, sent, err := b.SendLocal("from b"); err != nil || sent != 2 {
		t.Fatalf("SendLocal: sent %d, err %v", sent, err)
	}
	waitFor(t, 5*time.Second, func() bool { return clockOf(a, b.ID) == 1 })

	// B's message carries A:1, which C never sees: messages travel one hop only.
	waitFor(t, 5*time.Second, func() bool { return c.Engine().Buffer().Len() == 1 })
	if v := clockOf(c, a.ID); v != 0 {
		t.Fatalf("C saw A's message: clock %d", v)
	}
	if v := clockOf(c, b.ID); v != 0 {
		t.Fatalf("C delivered B's message without its dependency: clock %d", v)
	}
	if a.Engine().Buffer().Len() != 0 {
		t.Fatalf("expected nothing pending at A, buffer has %d", a.Engine().Buffer().Len())
	}
}

func TestNodeFaultPolicy(t *testing.T) {
	a := startNode(t, Options{})
	const d = 200 * time.Millisecond
	b := startNode(t, Options{
		Peers:  []string{wsURL(a)},
		Policy: fault.NewPolicy(a.ID, fault.ModeDrop, 0),
	})
	c := startNode(t, Options{
		Peers:  []string{wsURL(a)},
		Policy: fault.NewPolicy(a.ID, fault.ModeDelay, d),
	})

	waitPeers(t, a, 2)
	waitPeers(t, b, 1)
	waitPeers(t, c, 1)

	start := time.Now()
	for _, text := range []string{"one", "two"} {
		if _, _, err := a.SendLocal(text); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, 5*time.Second, func() bool { return clockOf(c, a.ID) == 2 })
	if elapsed := time.Since(start); elapsed < d {
		t.Fatalf("delayed messages arrived after %v", elapsed)
	}
	if v := clockOf(b, a.ID); v != 0 {
		t.Fatalf("dropped messages reached B: clock %d", v)
	}
}

func TestNodeControl(t *testing.T) {
	a := startNode(t, Options{})
	ctl := listen(t)
	b := startNode(t, Options{Peers: []string{wsURL(a)}, ControlListener: ctl})
	waitPeers(t, b, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, ctl.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	sres, err := c.Send(ctx, "via rpc")
	if err != nil {
		t.Fatal(err)
	}
	if sres.Peers != 1 || sres.Clocks.Get(b.ID) != 1 {
		t.Fatalf("unexpected send reply %+v", sres)
	}
	waitFor(t, 5*time.Second, func() bool { return clockOf(a, b.ID) == 1 })

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.PeerID != b.ID || len(st.Peers) != 1 || st.Peers[0] != a.ID || st.Clocks.Get(b.ID) != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestNodeInput(t *testing.T) {
	n := startNode(t, Options{Input: strings.NewReader("first\n\nsecond\n")})

	// Empty lines are skipped.
	waitFor(t, 5*time.Second, func() bool { return clockOf(n, n.ID) == 2 })
	time.Sleep(50 * time.Millisecond)
	if v := clockOf(n, n.ID); v != 2 {
		t.Fatalf("expected own clock 2, got %d", v)
	}
}

func TestNodeConnectFailure(t *testing.T) {
	l := listen(t)
	addr := l.Addr().String()
	l.Close()

	n := startNode(t, Options{Peers: []string{"ws://" + addr}})
	if err := n.Connect(context.Background(), "ws://"+addr); err == nil {
		t.Fatal("expected a dial error")
	}
	if err := n.Connect(context.Background(), "http://"+addr); err == nil {
		t.Fatal("expected an error for a non-websocket URL")
	}
	// The node keeps serving.
	m := startNode(t, Options{Peers: []string{wsURL(n)}})
	waitPeers(t, m, 1)
}
