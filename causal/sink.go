package causal

import (
	"vcmesh/datamodel/message"

	log "github.com/sirupsen/logrus"
)

// Sink receives messages once they are causally delivered. Deliver is called with the
// engine lock held and must not call back into the engine.
type Sink interface {
	Deliver(*message.PeerMessage)
}

type NopSink struct{}

func (NopSink) Deliver(*message.PeerMessage) {}

// LogSink prints delivered messages.
type LogSink struct{}

func (LogSink) Deliver(msg *message.PeerMessage) {
	log.WithField("sender", msg.Sender).Infof("Peer %s with clocks %s got message: %s", msg.Sender, msg.Clocks, msg.Payload)
}

// JournalSink persists delivered messages.
type JournalSink struct {
	Journal message.Journal
}

func (s *JournalSink) Deliver(msg *message.PeerMessage) {
	rec, err := s.Journal.Append(msg)
	if err != nil {
		log.Errorf("JournalSink: failed to record message from %s: %v", msg.Sender, err)
		return
	}
	log.Debugf("JournalSink: recorded message from %s as #%d", msg.Sender, rec.SequenceNumber)
}

// MultiSink hands each message to every sink in order.
type MultiSink []Sink

func (m MultiSink) Deliver(msg *message.PeerMessage) {
	for _, s := range m {
		s.Deliver(msg)
	}
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(*message.PeerMessage)

func (f SinkFunc) Deliver(msg *message.PeerMessage) {
	f(msg)
}
