// Package events carries the structured state-change notifications the
// basket engines emit for off-chain observers. Events are informational;
// no engine control flow depends on them.
package events

// Event represents a structured state change emitted by an engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (indexers, loggers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding all events. Engines default
// to it so emission stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder is an Emitter that retains every event in order, for tests and
// local tooling.
type Recorder struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	r.Events = append(r.Events, evt)
}

// OfType returns the recorded events matching the supplied type tag.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, evt := range r.Events {
		if evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}
