package events

import (
	"sync"

	"basketpool/core/types"
)

// Event represents a structured state change emitted by the pool.
type Event interface {
	EventType() string
}

// Projector is implemented by events that can render their canonical
// string-attribute form.
type Projector interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Project renders the canonical payload for evt. Events without a projection
// are rendered with their type only.
func Project(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if p, ok := evt.(Projector); ok {
		if out := p.Event(); out != nil {
			return out
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, evt := range r.Events() {
		if evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// Reset drops every recorded event.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Buffer holds events until the surrounding operation either commits or is
// abandoned.
type Buffer struct {
	mu      sync.Mutex
	pending []Event
}

func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, evt)
	b.mu.Unlock()
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Truncate drops events buffered after the first n.
func (b *Buffer) Truncate(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n < len(b.pending) {
		b.pending = b.pending[:n]
	}
}

// Flush forwards the buffered events to out in emission order and clears the
// buffer.
func (b *Buffer) Flush(out Emitter) {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	if out == nil {
		return
	}
	for _, evt := range pending {
		out.Emit(evt)
	}
}

// Discard clears the buffer without forwarding.
func (b *Buffer) Discard() {
	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
}

// Multi fans a single emission out to several emitters.
type Multi []Emitter

func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
