package core

import "sync"

// Emitter receives the ordered stream events produced while processing one
// request. Implementations must tolerate being called from a single
// goroutine only; the reasoning loop serializes all emissions.
type Emitter interface {
	Emit(event StreamEvent)
}

// OrderedEmitter wraps a sink and enforces the stream contract: strictly
// increasing sequence numbers, at most one done event, and nothing emitted
// after done. The reasoning loop always emits through one of these.
type OrderedEmitter struct {
	mutex sync.Mutex
	sink  Emitter
	seq   int
	done  bool
}

func NewOrderedEmitter(sink Emitter) *OrderedEmitter {
	return &OrderedEmitter{sink: sink}
}

// Emit forwards the event with its assigned sequence number. Events arriving
// after done are dropped.
func (e *OrderedEmitter) Emit(event StreamEvent) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.done {
		return
	}
	if event.Type == EventDone {
		e.done = true
	}

	event.Seq = e.seq
	e.seq++
	e.sink.Emit(event)
}

// CollectEmitter buffers events in memory. The non-streaming chat handler
// and the tests use it.
type CollectEmitter struct {
	mutex  sync.Mutex
	events []StreamEvent
}

func NewCollectEmitter() *CollectEmitter {
	return &CollectEmitter{}
}

func (e *CollectEmitter) Emit(event StreamEvent) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.events = append(e.events, event)
}

// Events returns a snapshot of everything emitted so far.
func (e *CollectEmitter) Events() []StreamEvent {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	snapshot := make([]StreamEvent, len(e.events))
	copy(snapshot, e.events)
	return snapshot
}
