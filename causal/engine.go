package causal

import (
	"sync"

	"vcmesh/datamodel/message"

	log "github.com/sirupsen/logrus"
)

type Outcome int

const (
	Delivered Outcome = iota
	Buffered
	Rejected // only when the pending buffer is bounded and full
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Buffered:
		return "buffered"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Deliverable reports whether msg is the next message from its sender and everything
// the sender knew about other peers is already known locally. Ids missing from local
// count as 0.
func Deliverable(msg *message.PeerMessage, local message.VectorClock) bool {
	for k, v := range msg.Clocks {
		if k == msg.Sender {
			if v != local.Get(k)+1 {
				return false
			}
			continue
		}
		if v > local.Get(k) {
			return false
		}
	}
	// A message that does not carry its sender's entry can never be the successor.
	_, ok := msg.Clocks[msg.Sender]
	return ok
}

// Engine applies the causal delivery rule over a ClockStore and a PendingBuffer.
//
// Deliveries are serialized: the predicate, the merge and the buffer push happen under
// one engine lock, so a message cannot be parked after a concurrent rescan already ran.
// Lock order is engine, ClockStore, PendingBuffer; the store is always released before
// the buffer is taken.
type Engine struct {
	mu     sync.Mutex
	clocks *ClockStore
	buffer *PendingBuffer
	sink   Sink
}

func NewEngine(clocks *ClockStore, buffer *PendingBuffer, sink Sink) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{
		clocks: clocks,
		buffer: buffer,
		sink:   sink,
	}
}

func (e *Engine) Clocks() *ClockStore {
	return e.clocks
}

func (e *Engine) Buffer() *PendingBuffer {
	return e.buffer
}

// Deliver surfaces msg if it is causally ready, otherwise parks it in the pending buffer.
// A successful delivery triggers a rescan of the buffer.
func (e *Engine) Deliver(msg *message.PeerMessage) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !Deliverable(msg, e.clocks.Snapshot()) {
		if err := e.buffer.Push(msg); err != nil {
			log.Errorf("Engine: dropping %s: %v", msg, err)
			return Rejected, err
		}
		log.Debugf("Engine: buffered %s (pending %d)", msg, e.buffer.Len())
		return Buffered, nil
	}

	if e.apply(msg) {
		if n := e.rescan(); n > 0 {
			log.Debugf("Engine: rescan released %d buffered message(s)", n)
		}
	}
	return Delivered, nil
}

// apply merges the clock of an accepted message and hands it to the sink.
func (e *Engine) apply(msg *message.PeerMessage) bool {
	changed := e.clocks.Merge(msg.Clocks)
	e.sink.Deliver(msg)
	return changed
}

// rescan delivers buffered messages until a full pass makes no progress. After each
// delivery it starts again from the head, since an earlier entry may now be ready.
func (e *Engine) rescan() int {
	released := 0
	for {
		snap := e.clocks.Snapshot()
		msg, ok := e.buffer.TakeFirst(func(m *message.PeerMessage) bool {
			return Deliverable(m, snap)
		})
		if !ok {
			return released
		}
		e.apply(msg)
		released++
	}
}
