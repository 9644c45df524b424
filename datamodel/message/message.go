package message

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// PeerID identifies a node. It is the address the node listens on.
type PeerID = string

// VectorClock maps a peer to the number of its messages causally observed.
type VectorClock map[PeerID]uint32

// Get returns the entry for id, or 0 if the id is unknown.
func (vc VectorClock) Get(id PeerID) uint32 {
	return vc[id]
}

func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// String renders the clock with sorted keys, e.g. {a:1 b:0}
func (vc VectorClock) String() string {
	keys := make([]string, 0, len(vc))
	for k := range vc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%s:%d", k, vc[k])
	}
	sb.WriteString("}")
	return sb.String()
}

// PeerMessage is a broadcast message stamped with the sender's clock at send time.
// Once constructed it is never mutated.
type PeerMessage struct {
	Sender  PeerID      `cbor:"1,keyasint,omitempty"` // Originating node
	Clocks  VectorClock `cbor:"2,keyasint,omitempty"` // Sender's clock snapshot
	Payload string      `cbor:"3,keyasint,omitempty"` // Text typed on the sender's console
}

func (m *PeerMessage) String() string {
	return fmt.Sprintf("%s%s %q", m.Sender, m.Clocks, m.Payload)
}

// Record is a delivered message together with its local delivery order.
type Record struct {
	SequenceNumber uint64       `cbor:"1,keyasint"`           // Local delivery sequence
	DeliveredAt    time.Time    `cbor:"2,keyasint,omitempty"` // Time the message was surfaced
	Message        *PeerMessage `cbor:"3,keyasint"`
}

// Journal defines the interface for persisting delivered messages.
type Journal interface {
	// Append stores a delivered message under the next sequence number.
	// It returns the stored Record.
	Append(*PeerMessage) (*Record, error)

	// EnumerateBySeq returns the records whose sequence numbers fall within [start, end).
	EnumerateBySeq(uint64, uint64) ([]*Record, error)

	// GetSeq returns the highest sequence number assigned so far.
	GetSeq() uint64

	Close() error
}

func IsMessageEqual(a *PeerMessage, b *PeerMessage) bool {
	return reflect.DeepEqual(a, b)
}
