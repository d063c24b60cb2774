package pipeline

import (
	"testing"
	"time"
)

func TestNewLatencies_DefaultWindowSize(t *testing.T) {
	t.Parallel()

	l := NewLatencies(0)
	l.Record(StageTranscription, 10*time.Millisecond)

	snap := l.Snapshot()
	if snap.Transcription.P50 != 10*time.Millisecond {
		t.Errorf("Transcription P50 = %v, want 10ms", snap.Transcription.P50)
	}
}

func TestLatencies_Percentiles(t *testing.T) {
	t.Parallel()

	l := NewLatencies(100)
	for i := 1; i <= 100; i++ {
		l.Record(StageVAD, time.Duration(i)*time.Millisecond)
	}
	l.Record(StageSuggestion, 500*time.Millisecond)

	snap := l.Snapshot()
	if snap.VAD.P50 != 50*time.Millisecond {
		t.Errorf("VAD P50 = %v, want 50ms", snap.VAD.P50)
	}
	if snap.VAD.P95 != 95*time.Millisecond {
		t.Errorf("VAD P95 = %v, want 95ms", snap.VAD.P95)
	}
	if snap.Suggestion.P50 != 500*time.Millisecond || snap.Suggestion.P95 != 500*time.Millisecond {
		t.Errorf("Suggestion = %+v, want 500ms", snap.Suggestion)
	}
	if snap.Segment != (LatencyPercentiles{}) {
		t.Errorf("empty Segment = %+v, want zero", snap.Segment)
	}
}

func TestLatencies_RingBufferOverwritesOldest(t *testing.T) {
	t.Parallel()

	l := NewLatencies(5)
	for i := 1; i <= 5; i++ {
		l.Record(StageSegment, time.Second)
	}
	for i := 1; i <= 5; i++ {
		l.Record(StageSegment, time.Duration(i)*time.Millisecond)
	}

	snap := l.Snapshot()
	if snap.Segment.P95 != 5*time.Millisecond {
		t.Errorf("Segment P95 = %v, want 5ms (old samples evicted)", snap.Segment.P95)
	}
	if snap.Segment.P50 != 3*time.Millisecond {
		t.Errorf("Segment P50 = %v, want 3ms", snap.Segment.P50)
	}
}

func TestLatencies_IgnoresUnknownStage(t *testing.T) {
	t.Parallel()

	l := NewLatencies(3)
	l.Record(Stage(42), time.Second)
	l.Record(Stage(-1), time.Second)
	if snap := l.Snapshot(); snap != (LatencySnapshot{}) {
		t.Errorf("snapshot = %+v, want zero", snap)
	}
}

func TestRecorder_Count(t *testing.T) {
	t.Parallel()

	var r Recorder
	r.Publish(Event{Type: EventTranscript})
	r.Publish(Event{Type: EventStats})
	r.Publish(Event{Type: EventTranscript})
	if got := r.Count(EventTranscript); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
	if got := len(r.Events()); got != 3 {
		t.Errorf("Events = %d, want 3", got)
	}
}
