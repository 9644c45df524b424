package node

import (
	"errors"
	"testing"

	"vcmesh/causal"
	"vcmesh/datamodel/message"
	"vcmesh/swarm/protocol"
)

type fakeRecipient struct {
	id     message.PeerID
	err    error
	frames [][]byte
}

func (r *fakeRecipient) RemoteID() message.PeerID {
	return r.id
}

func (r *fakeRecipient) Send(data []byte) error {
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, data)
	return nil
}

type fixedRecipients []Recipient

func (f fixedRecipients) Recipients() []Recipient {
	return f
}

func TestBroadcasterSendLocal(t *testing.T) {
	clocks := causal.NewClockStore()
	clocks.Register("A")
	clocks.Register("B")

	ok := &fakeRecipient{id: "B"}
	broken := &fakeRecipient{id: "C", err: errors.New("connection reset")}
	b := NewBroadcaster("A", clocks, fixedRecipients{ok, broken})

	for i := uint32(1); i <= 2; i++ {
		msg, sent, err := b.SendLocal("hello")
		if err != nil {
			t.Fatal(err)
		}
		// A failing peer does not stop the others.
		if sent != 1 {
			t.Fatalf("expected 1 successful send, got %d", sent)
		}
		if msg.Clocks.Get("A") != i || msg.Sender != "A" {
			t.Fatalf("unexpected stamp %s", msg)
		}
	}

	if len(ok.frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(ok.frames))
	}
	got, err := protocol.DecodeMessage(ok.frames[1])
	if err != nil {
		t.Fatal(err)
	}
	want := &message.PeerMessage{Sender: "A", Clocks: message.VectorClock{"A": 2, "B": 0}, Payload: "hello"}
	if !message.IsMessageEqual(got, want) {
		t.Fatalf("decoded %s, want %s", got, want)
	}
	if v, _ := clocks.Get("A"); v != 2 {
		t.Fatalf("local clock is %d, want 2", v)
	}
}

func TestBroadcasterUnregistered(t *testing.T) {
	b := NewBroadcaster("A", causal.NewClockStore(), fixedRecipients{})
	if _, _, err := b.SendLocal("x"); !errors.Is(err, causal.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}
