// Package protocol defines what travels over a peer connection and over the local
// control connection.
//
// A peer connection carries exactly one identity frame in each direction (a text frame
// holding the sender's PeerID) followed by data frames (binary, CBOR-encoded PeerMessage).
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"vcmesh/datamodel/message"

	"github.com/fxamacker/cbor/v2"
)

var ErrMalformed = errors.New("malformed frame")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Deterministic encoding keeps the clock map in sorted key order on the wire.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 1 << 16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodeIdentity returns the payload of the identity text frame.
func EncodeIdentity(id message.PeerID) string {
	return id
}

// DecodeIdentity validates the payload of an identity text frame.
func DecodeIdentity(text string) (message.PeerID, error) {
	id := strings.TrimSpace(text)
	if id == "" {
		return "", fmt.Errorf("%w: empty identity", ErrMalformed)
	}
	return id, nil
}

// EncodeMessage serializes msg for a binary data frame.
func EncodeMessage(msg *message.PeerMessage) ([]byte, error) {
	return encMode.Marshal(msg)
}

// DecodeMessage parses and validates a binary data frame.
func DecodeMessage(data []byte) (*message.PeerMessage, error) {
	msg := &message.PeerMessage{}
	if err := decMode.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate checks the fields every data frame must carry: a sender and a positive
// clock entry for that sender.
func Validate(msg *message.PeerMessage) error {
	if msg.Sender == "" {
		return fmt.Errorf("%w: missing sender", ErrMalformed)
	}
	if msg.Clocks.Get(msg.Sender) == 0 {
		return fmt.Errorf("%w: clock has no entry for sender %s", ErrMalformed, msg.Sender)
	}
	return nil
}

// Control RPC: Node.Status
type StatusRequest struct{}

type StatusReply struct {
	PeerID  message.PeerID      `cbor:"1,keyasint,omitempty"` // Local node
	Clocks  message.VectorClock `cbor:"2,keyasint,omitempty"` // Current clock snapshot
	Pending uint64              `cbor:"3,keyasint,omitempty"` // Messages waiting in the pending buffer
	Peers   []message.PeerID    `cbor:"4,keyasint,omitempty"` // Peers with an active session
}

// Control RPC: Node.Send
type SendRequest struct {
	Text string `cbor:"1,keyasint,omitempty"` // Text to broadcast
}

type SendReply struct {
	Clocks message.VectorClock `cbor:"1,keyasint,omitempty"` // Clock stamped on the message
	Peers  uint64              `cbor:"2,keyasint,omitempty"` // Sessions that accepted the frame
}
