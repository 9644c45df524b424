package node

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"vcmesh/causal"
	"vcmesh/datamodel/message"
	"vcmesh/fault"
	"vcmesh/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

var (
	ErrHandshake    = errors.New("handshake violation")
	ErrUnknownTimer = errors.New("unknown timer token")
)

type State int

const (
	Connecting State = iota
	Handshaking
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Active:
		return "active"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Conn is the part of a transport connection a Session needs.
type Conn interface {
	SendText(string) error
	SendBinary([]byte) error
	Close() error
	RemoteAddr() string
}

type delayedMessage struct {
	token uint64
	msg   *message.PeerMessage
	ready bool
}

// Session runs the protocol of one peer connection: identity exchange, then data frames
// fed through the fault policy into the delivery engine.
type Session struct {
	self     message.PeerID
	conn     Conn
	engine   *causal.Engine
	policy   *fault.Policy
	registry *Registry

	mu        sync.Mutex // protects the fields below
	state     State
	remote    message.PeerID
	delayed   []*delayedMessage
	nextToken uint64

	releaseMu sync.Mutex // keeps delayed messages entering the engine in queue order
}

func NewSession(self message.PeerID, conn Conn, engine *causal.Engine, policy *fault.Policy, registry *Registry) *Session {
	return &Session{
		self:     self,
		conn:     conn,
		engine:   engine,
		policy:   policy,
		registry: registry,
		state:    Connecting,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteID returns the peer's identity, or "" before the handshake completes.
func (s *Session) RemoteID() message.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

func (s *Session) String() string {
	if id := s.RemoteID(); id != "" {
		return id
	}
	return s.conn.RemoteAddr()
}

// Open sends our identity. Both the dialing and the accepting side do this first.
func (s *Session) Open() error {
	s.mu.Lock()
	s.state = Handshaking
	s.mu.Unlock()

	if err := s.conn.SendText(protocol.EncodeIdentity(s.self)); err != nil {
		return fmt.Errorf("sending identity: %w", err)
	}
	log.Debugf("Session(%s): sent identity %s", s.conn.RemoteAddr(), s.self)
	return nil
}

func (s *Session) OnText(text string) error {
	id, err := protocol.DecodeIdentity(text)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != Handshaking {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: identity frame in state %s", ErrHandshake, state)
	}
	if id == s.self {
		s.mu.Unlock()
		return fmt.Errorf("%w: peer claims our own identity %s", ErrHandshake, id)
	}
	s.remote = id
	s.state = Active
	s.mu.Unlock()

	log.Infof("Session(%s): received peer's name, adding %s to client list", s.conn.RemoteAddr(), id)
	s.engine.Clocks().Register(id)
	if s.registry != nil {
		s.registry.Add(s)
	}
	return nil
}

func (s *Session) OnBinary(data []byte) error {
	if st := s.State(); st != Active {
		return fmt.Errorf("%w: data frame in state %s", ErrHandshake, st)
	}

	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		return err
	}

	switch s.policy.Classify(msg.Sender) {
	case fault.Drop:
		log.Debugf("Session(%s): dropping message from %s", s, msg.Sender)
	case fault.Delay:
		s.schedule(msg)
	default:
		s.deliver(msg)
	}
	return nil
}

func (s *Session) OnClose(err error) {
	s.mu.Lock()
	s.state = Closed
	pending := len(s.delayed)
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.Remove(s)
	}

	// Clock entries of the departed peer stay in place.
	log.WithField("delayed", pending).Infof("Session(%s): disconnected: %v", s, err)
}

// Send writes a data frame to an active session.
func (s *Session) Send(data []byte) error {
	if st := s.State(); st != Active {
		return fmt.Errorf("session %s is %s", s, st)
	}
	return s.conn.SendBinary(data)
}

func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) deliver(msg *message.PeerMessage) {
	out, err := s.engine.Deliver(msg)
	if err != nil {
		log.Errorf("Session(%s): message from %s rejected: %v", s, msg.Sender, err)
		return
	}
	log.Debugf("Session(%s): message %s %s", s, msg, out)
}

// schedule parks msg on the delay queue and arms a timer with a fresh token.
// The reader goroutine never waits on the delay.
func (s *Session) schedule(msg *message.PeerMessage) {
	d := s.policy.Duration()

	s.mu.Lock()
	s.nextToken++
	token := s.nextToken
	s.delayed = append(s.delayed, &delayedMessage{token: token, msg: msg})
	s.mu.Unlock()

	log.Infof("Session(%s): faking delay of %v for message from %s (token %d)", s, d, msg.Sender, token)
	time.AfterFunc(d, func() {
		if err := s.fire(token); err != nil {
			log.Errorf("Session(%s): %v, closing", s, err)
			s.Close()
		}
	})
}

// fire marks the entry for token as due and hands every due entry at the head of the
// queue to the engine, oldest first.
func (s *Session) fire(token uint64) error {
	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()

	s.mu.Lock()
	found := false
	for _, d := range s.delayed {
		if d.token == token {
			d.ready = true
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("%w %d", ErrUnknownTimer, token)
	}
	var due []*message.PeerMessage
	for len(s.delayed) > 0 && s.delayed[0].ready {
		due = append(due, s.delayed[0].msg)
		s.delayed = s.delayed[1:]
	}
	s.mu.Unlock()

	for _, msg := range due {
		s.deliver(msg)
	}
	return nil
}
