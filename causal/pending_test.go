package causal

import (
	"testing"

	"vcmesh/datamodel/message"
)

func TestPendingBufferTakeFirst(t *testing.T) {
	b := NewPendingBuffer(0)
	for _, p := range []string{"x1", "y1", "x2"} {
		if err := b.Push(&message.PeerMessage{Sender: p[:1], Payload: p}); err != nil {
			t.Fatal(err)
		}
	}

	m, ok := b.TakeFirst(func(m *message.PeerMessage) bool { return m.Sender == "x" })
	if !ok || m.Payload != "x1" {
		t.Fatalf("expected earliest x entry, got %v", m)
	}

	if _, ok := b.TakeFirst(func(*message.PeerMessage) bool { return false }); ok {
		t.Fatal("nothing should match")
	}

	rest := b.Messages()
	if len(rest) != 2 || rest[0].Payload != "y1" || rest[1].Payload != "x2" {
		t.Fatalf("arrival order not preserved: %v", rest)
	}
}
