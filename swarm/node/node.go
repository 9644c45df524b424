package node

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"vcmesh/causal"
	"vcmesh/datamodel/message"
	"vcmesh/fault"
	"vcmesh/helper/timer"
	"vcmesh/net/control"
	"vcmesh/net/transport"
	"vcmesh/swarm/protocol"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

type Options struct {
	// Identity announced to peers. Defaults to the listener address.
	ID message.PeerID

	// Peer connections are accepted here.
	Listener net.Listener

	// Peers dialed on Run, e.g. ws://localhost:3013.
	Peers []string

	Policy     *fault.Policy
	MaxPending int

	// Extra sinks run after the log sink, e.g. the journal.
	Sinks []causal.Sink

	// Local text lines to broadcast. Nil disables console input.
	Input io.Reader

	// How often to log a status line. Zero disables it.
	StatusInterval time.Duration

	// Optional control RPC listener.
	ControlListener net.Listener
}

type Node struct {
	ID message.PeerID

	opts        Options
	engine      *causal.Engine
	registry    *Registry
	broadcaster *Broadcaster
	hub         *transport.Hub

	// Helpers
	sg singleflight.Group
}

func New(opts Options) (*Node, error) {
	if opts.Listener == nil {
		return nil, errors.New("node: no listener")
	}
	id := opts.ID
	if id == "" {
		id = opts.Listener.Addr().String()
	}

	clocks := causal.NewClockStore()
	clocks.Register(id)

	sinks := causal.MultiSink{causal.LogSink{}}
	sinks = append(sinks, opts.Sinks...)

	n := &Node{
		ID:       id,
		opts:     opts,
		engine:   causal.NewEngine(clocks, causal.NewPendingBuffer(opts.MaxPending), sinks),
		registry: NewRegistry(),
	}
	n.broadcaster = NewBroadcaster(id, clocks, n.registry)
	n.hub = transport.NewHub(func(c *transport.Conn) transport.Handler {
		return NewSession(n.ID, c, n.engine, n.opts.Policy, n.registry)
	})

	log.Infof("I am %s, listening on %s, fault policy: %s", n.ID, opts.Listener.Addr(), opts.Policy)
	return n, nil
}

func (n *Node) Engine() *causal.Engine {
	return n.engine
}

// ActiveSessions returns the identities of peers that completed the handshake.
func (n *Node) ActiveSessions() []message.PeerID {
	return n.registry.Peers()
}

func (n *Node) Status() *protocol.StatusReply {
	return &protocol.StatusReply{
		PeerID:  n.ID,
		Clocks:  n.engine.Clocks().Snapshot(),
		Pending: uint64(n.engine.Buffer().Len()),
		Peers:   n.registry.Peers(),
	}
}

// SendLocal stamps text with our next clock value and sends it to every active peer.
func (n *Node) SendLocal(text string) (*message.PeerMessage, int, error) {
	return n.broadcaster.SendLocal(text)
}

// Connect dials a peer. Concurrent calls for the same URL share one attempt.
// Failures are logged and the node keeps running.
func (n *Node) Connect(ctx context.Context, url string) error {
	_, err, _ := n.sg.Do(url, func() (interface{}, error) {
		return n.hub.Dial(ctx, url)
	})
	if err != nil {
		log.Errorf("Node: failed to connect to %s: %v", url, err)
	}
	return err
}

// This is run via the RunWithTicker() helper
func (n *Node) reportStatus(ctx context.Context) error {
	st := n.Status()
	log.WithField("pending", st.Pending).Infof("Node(%s): clocks %s, peers %v", st.PeerID, st.Clocks, st.Peers)
	return nil
}

// readInput broadcasts each line of r until EOF. It is not part of the Run group: a
// blocked read on the console cannot be interrupted.
func (n *Node) readInput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		if _, _, err := n.SendLocal(text); err != nil {
			log.Errorf("Node: failed to send local message: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Errorf("Node: reading input: %v", err)
		return
	}
	log.Debugf("Node: input closed")
}

func (n *Node) registerControl(srv *control.Server) error {
	err := control.Handle(srv, "Node.Status", func(_ *protocol.StatusRequest, res *protocol.StatusReply) error {
		*res = *n.Status()
		return nil
	})
	if err != nil {
		return err
	}
	return control.Handle(srv, "Node.Send", func(req *protocol.SendRequest, res *protocol.SendReply) error {
		msg, sent, err := n.SendLocal(req.Text)
		if err != nil {
			return err
		}
		res.Clocks = msg.Clocks
		res.Peers = uint64(sent)
		return nil
	})
}

func (n *Node) Run(ctx context.Context) error {
	var ctl *control.Server
	if n.opts.ControlListener != nil {
		ctl = control.NewServer(n.opts.ControlListener)
		if err := n.registerControl(ctl); err != nil {
			return err
		}
	}

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return n.hub.Serve(cctx, n.opts.Listener)
	})

	for _, peer := range n.opts.Peers {
		peer := peer
		wg.Go(func() error {
			n.Connect(cctx, peer)
			return nil
		})
	}

	if n.opts.StatusInterval > 0 {
		wg.Go(func() error {
			interval := &timer.Interval{
				Duration: n.opts.StatusInterval,
				Jitter:   time.Millisecond * 0,
			}
			return timer.RunWithTicker(cctx, interval, n.reportStatus)
		})
	}

	if ctl != nil {
		wg.Go(func() error {
			return ctl.Serve(cctx)
		})
	}

	if n.opts.Input != nil {
		go n.readInput(n.opts.Input)
	}

	err := wg.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
