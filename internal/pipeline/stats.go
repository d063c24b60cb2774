package pipeline

import (
	"github.com/faiq157/custom-ai-translator-suggestion/internal/history"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/queue"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/suggest"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/transcribe"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/vad"
)

// Stats is a read-only projection of the pipeline's constituent services.
// Queue counters are embedded so they appear at the top level when encoded.
type Stats struct {
	State     string `json:"state"`
	MeetingID string `json:"meeting_id,omitempty"`

	queue.Stats

	TranscriptionTotals transcribe.Totals       `json:"transcription_totals"`
	SuggestionTotals    suggest.GeneratorTotals `json:"suggestion_totals"`
	VAD                 vad.Stats               `json:"vad"`
	Batcher             suggest.BatcherStats    `json:"batcher"`
	Session             history.Summary         `json:"session"`
	Latency             LatencySnapshot         `json:"latency"`
}

// Stats rebuilds the current statistics.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	st, meetingID := o.state, o.meetingID
	o.mu.RUnlock()

	return Stats{
		State:               st.String(),
		MeetingID:           meetingID,
		Stats:               o.queue.Stats(),
		TranscriptionTotals: o.deps.Transcriber.Totals(),
		SuggestionTotals:    o.deps.Suggester.Totals(),
		VAD:                 o.deps.Detector.Stats(),
		Batcher:             o.deps.Batcher.Stats(),
		Session:             o.sessionSummary(),
		Latency:             o.latency.Snapshot(),
	}
}
