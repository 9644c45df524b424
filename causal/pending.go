package causal

import (
	"errors"
	"fmt"
	"sync"

	"vcmesh/datamodel/message"
)

var ErrBufferFull = errors.New("pending buffer full")

type pendingEntry struct {
	arrival uint64
	msg     *message.PeerMessage
}

// PendingBuffer holds messages that failed the delivery predicate, in arrival order.
// Entries leave only by being delivered.
type PendingBuffer struct {
	mu       sync.Mutex
	entries  []pendingEntry
	arrivals uint64
	capacity int // 0 means unbounded
}

func NewPendingBuffer(capacity int) *PendingBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &PendingBuffer{capacity: capacity}
}

func (b *PendingBuffer) Push(msg *message.PeerMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capacity > 0 && len(b.entries) >= b.capacity {
		return fmt.Errorf("holding %s: %w (%d entries)", msg.Sender, ErrBufferFull, len(b.entries))
	}
	b.arrivals++
	b.entries = append(b.entries, pendingEntry{arrival: b.arrivals, msg: msg})
	return nil
}

// TakeFirst removes and returns the earliest-arrived message for which ready returns true.
// ready runs under the buffer lock and must not call back into the buffer or the ClockStore.
func (b *PendingBuffer) TakeFirst(ready func(*message.PeerMessage) bool) (*message.PeerMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.entries {
		if !ready(e.msg) {
			continue
		}
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		return e.msg, true
	}
	return nil, false
}

func (b *PendingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Messages returns the buffered messages in arrival order.
func (b *PendingBuffer) Messages() []*message.PeerMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*message.PeerMessage, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e.msg)
	}
	return out
}
