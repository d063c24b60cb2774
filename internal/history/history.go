// Package history records meetings: their transcript fragments, the
// suggestions produced for them, and the final pipeline summary.
//
// [MemStore] keeps everything in memory; the postgres subpackage persists it.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/suggest"
)

// ErrNotFound is returned when a meeting does not exist.
var ErrNotFound = errors.New("history: meeting not found")

// Meeting is one recording session.
type Meeting struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`

	// EndedAt is zero while the meeting is in progress.
	EndedAt time.Time `json:"ended_at,omitzero"`

	// Summary is set when the meeting ends.
	Summary *Summary `json:"summary,omitempty"`
}

// Active reports whether the meeting has not ended.
func (m Meeting) Active() bool { return m.EndedAt.IsZero() }

// Summary is the final statistics of a meeting.
type Summary struct {
	Segments          int64   `json:"segments"`
	NoVoice           int64   `json:"no_voice"`
	Transcripts       int64   `json:"transcripts"`
	Suggestions       int64   `json:"suggestions"`
	Dropped           int64   `json:"dropped"`
	Errors            int64   `json:"errors"`
	AudioSeconds      float64 `json:"audio_seconds"`
	TranscriptionCost float64 `json:"transcription_cost"`
	SuggestionCost    float64 `json:"suggestion_cost"`
}

// Entry is one transcript fragment.
type Entry struct {
	MeetingID string        `json:"meeting_id"`
	SegmentID string        `json:"segment_id"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Cost      float64       `json:"cost"`
}

// SearchOpts narrows [Store.Search].
type SearchOpts struct {
	// MeetingID restricts results to one meeting when non-empty.
	MeetingID string

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Store persists meeting history.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateMeeting records a new meeting.
	CreateMeeting(ctx context.Context, m Meeting) error

	// EndMeeting marks the meeting finished and stores its summary.
	EndMeeting(ctx context.Context, id string, endedAt time.Time, sum Summary) error

	// GetMeeting returns one meeting or [ErrNotFound].
	GetMeeting(ctx context.Context, id string) (Meeting, error)

	// ListMeetings returns meetings newest first. limit ≤ 0 returns all.
	ListMeetings(ctx context.Context, limit int) ([]Meeting, error)

	// AppendTranscript adds a fragment to its meeting.
	AppendTranscript(ctx context.Context, e Entry) error

	// Transcript returns a meeting's fragments in time order.
	Transcript(ctx context.Context, meetingID string) ([]Entry, error)

	// AppendSuggestions records suggestions produced during a meeting.
	AppendSuggestions(ctx context.Context, meetingID string, s suggest.Suggestions) error

	// Suggestions returns a meeting's suggestions in time order.
	Suggestions(ctx context.Context, meetingID string) ([]suggest.Suggestions, error)

	// Search finds fragments containing every word of query.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
