package pipeline

import (
	"sync"
	"time"
)

// EventType names an event published to a [Sink].
type EventType string

const (
	EventSegmentReceived EventType = "segment-received"
	EventTranscript      EventType = "transcript"
	EventSuggestions     EventType = "suggestions"
	EventStats           EventType = "stats"
	EventError           EventType = "error"
)

// Event is one message to the client side. Data holds a [SegmentReceived],
// [Transcript], *suggest.Suggestions, [Stats], or [ErrorEvent].
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// SegmentReceived acknowledges a delivered segment.
type SegmentReceived struct {
	ID        string    `json:"id"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is a usable transcript fragment.
type Transcript struct {
	SegmentID  string    `json:"segment_id"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMS int64     `json:"duration_ms"`
	Cost       float64   `json:"cost"`
}

// ErrorEvent reports a failure that prevented a transcript or suggestion.
type ErrorEvent struct {
	Message   string `json:"message"`
	SegmentID string `json:"segment_id,omitempty"`
}

// Sink receives pipeline events. Publish is called from several goroutines
// and must not block for long or call back into the [Orchestrator].
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(Event)

// Publish calls f(ev).
func (f SinkFunc) Publish(ev Event) { f(ev) }

// Discard is a [Sink] that drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Recorder is a [Sink] that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends ev.
func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

var _ Sink = (*Recorder)(nil)
