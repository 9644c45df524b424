package node

import (
	"fmt"
	"sync"

	"vcmesh/causal"
	"vcmesh/datamodel/message"
	"vcmesh/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

// Recipient is a connected peer that can take a data frame.
type Recipient interface {
	RemoteID() message.PeerID
	Send([]byte) error
}

// Recipients yields the peers a local message fans out to.
type Recipients interface {
	Recipients() []Recipient
}

// Broadcaster stamps local text with the next own-clock value and sends it to every
// directly connected peer. Delivery is best-effort: no acknowledgment, no retry.
type Broadcaster struct {
	self   message.PeerID
	clocks *causal.ClockStore
	peers  Recipients

	mu sync.Mutex // frames leave in clock order
}

func NewBroadcaster(self message.PeerID, clocks *causal.ClockStore, peers Recipients) *Broadcaster {
	return &Broadcaster{self: self, clocks: clocks, peers: peers}
}

// SendLocal broadcasts text. It returns the stamped message and how many peers
// accepted the frame.
func (b *Broadcaster) SendLocal(text string) (*message.PeerMessage, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, err := b.clocks.SelfIncrement(b.self)
	if err != nil {
		return nil, 0, err
	}
	msg := &message.PeerMessage{
		Sender:  b.self,
		Clocks:  snap,
		Payload: text,
	}

	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding message: %w", err)
	}

	sent := 0
	for _, r := range b.peers.Recipients() {
		if err := r.Send(data); err != nil {
			log.Warnf("Broadcaster: failed to send to %s: %v", r.RemoteID(), err)
			continue
		}
		sent++
	}
	log.Debugf("Broadcaster: sent %s to %d peer(s)", msg, sent)
	return msg, sent, nil
}
