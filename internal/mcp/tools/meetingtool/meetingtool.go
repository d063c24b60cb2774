// Package meetingtool provides built-in MCP tools that expose recorded
// meetings to external assistants.
//
// Five tools are exported via [NewTools]:
//   - "list_meetings"      — most recent meetings, newest first.
//   - "get_meeting"        — one meeting with its summary.
//   - "get_transcript"     — the transcript of one meeting.
//   - "get_suggestions"    — every suggestion set produced for one meeting.
//   - "search_transcripts" — keyword search across transcripts.
//
// All handlers are safe for concurrent use.
package meetingtool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/history"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/mcp/tools"
)

const (
	defaultListLimit   = 20
	defaultSearchLimit = 10
	maxLimit           = 100
)

type listMeetingsArgs struct {
	Limit int `json:"limit,omitempty"`
}

type meetingIDArgs struct {
	MeetingID string `json:"meeting_id"`
}

type searchArgs struct {
	Query     string `json:"query"`
	MeetingID string `json:"meeting_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// meetingView is the tool-facing shape of a meeting.
type meetingView struct {
	ID        string           `json:"id"`
	Title     string           `json:"title,omitempty"`
	StartedAt string           `json:"started_at"`
	EndedAt   string           `json:"ended_at,omitempty"`
	Active    bool             `json:"active"`
	Summary   *history.Summary `json:"summary,omitempty"`
}

type entryView struct {
	MeetingID string `json:"meeting_id"`
	SegmentID string `json:"segment_id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func viewMeeting(m history.Meeting) meetingView {
	v := meetingView{
		ID:        m.ID,
		Title:     m.Title,
		StartedAt: m.StartedAt.UTC().Format(time.RFC3339),
		Active:    m.Active(),
		Summary:   m.Summary,
	}
	if !m.EndedAt.IsZero() {
		v.EndedAt = m.EndedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func viewEntries(es []history.Entry) []entryView {
	out := make([]entryView, 0, len(es))
	for _, e := range es {
		out = append(out, entryView{
			MeetingID: e.MeetingID,
			SegmentID: e.SegmentID,
			Text:      e.Text,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func clampLimit(n, def int) int {
	switch {
	case n <= 0:
		return def
	case n > maxLimit:
		return maxLimit
	default:
		return n
	}
}

func parse(tool, args string, v any) error {
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return fmt.Errorf("meeting tool: %s: failed to parse arguments: %w", tool, err)
	}
	return nil
}

func encode(tool string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("meeting tool: %s: failed to encode result: %w", tool, err)
	}
	return string(b), nil
}

func lookupErr(tool, id string, err error) error {
	if errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("meeting tool: %s: meeting %q not found", tool, id)
	}
	return fmt.Errorf("meeting tool: %s: %w", tool, err)
}

func makeListMeetingsHandler(store history.Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a listMeetingsArgs
		if err := parse("list_meetings", args, &a); err != nil {
			return "", err
		}
		ms, err := store.ListMeetings(ctx, clampLimit(a.Limit, defaultListLimit))
		if err != nil {
			return "", fmt.Errorf("meeting tool: list_meetings: %w", err)
		}
		views := make([]meetingView, 0, len(ms))
		for _, m := range ms {
			views = append(views, viewMeeting(m))
		}
		return encode("list_meetings", views)
	}
}

func makeGetMeetingHandler(store history.Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a meetingIDArgs
		if err := parse("get_meeting", args, &a); err != nil {
			return "", err
		}
		if a.MeetingID == "" {
			return "", errors.New("meeting tool: get_meeting: meeting_id must not be empty")
		}
		m, err := store.GetMeeting(ctx, a.MeetingID)
		if err != nil {
			return "", lookupErr("get_meeting", a.MeetingID, err)
		}
		return encode("get_meeting", viewMeeting(m))
	}
}

func makeGetTranscriptHandler(store history.Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a meetingIDArgs
		if err := parse("get_transcript", args, &a); err != nil {
			return "", err
		}
		if a.MeetingID == "" {
			return "", errors.New("meeting tool: get_transcript: meeting_id must not be empty")
		}
		if _, err := store.GetMeeting(ctx, a.MeetingID); err != nil {
			return "", lookupErr("get_transcript", a.MeetingID, err)
		}
		es, err := store.Transcript(ctx, a.MeetingID)
		if err != nil {
			return "", fmt.Errorf("meeting tool: get_transcript: %w", err)
		}
		return encode("get_transcript", viewEntries(es))
	}
}

func makeGetSuggestionsHandler(store history.Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a meetingIDArgs
		if err := parse("get_suggestions", args, &a); err != nil {
			return "", err
		}
		if a.MeetingID == "" {
			return "", errors.New("meeting tool: get_suggestions: meeting_id must not be empty")
		}
		if _, err := store.GetMeeting(ctx, a.MeetingID); err != nil {
			return "", lookupErr("get_suggestions", a.MeetingID, err)
		}
		ss, err := store.Suggestions(ctx, a.MeetingID)
		if err != nil {
			return "", fmt.Errorf("meeting tool: get_suggestions: %w", err)
		}
		return encode("get_suggestions", ss)
	}
}

func makeSearchHandler(store history.Store) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a searchArgs
		if err := parse("search_transcripts", args, &a); err != nil {
			return "", err
		}
		if a.Query == "" {
			return "", errors.New("meeting tool: search_transcripts: query must not be empty")
		}
		es, err := store.Search(ctx, a.Query, history.SearchOpts{
			MeetingID: a.MeetingID,
			Limit:     clampLimit(a.Limit, defaultSearchLimit),
		})
		if err != nil {
			return "", fmt.Errorf("meeting tool: search_transcripts: %w", err)
		}
		return encode("search_transcripts", viewEntries(es))
	}
}

var meetingIDSchema = map[string]any{
	"meeting_id": map[string]any{
		"type":        "string",
		"description": "ID of the meeting, as returned by list_meetings.",
	},
}

// NewTools constructs the meeting tools backed by store, which must be
// non-nil.
func NewTools(store history.Store) []tools.Tool {
	return []tools.Tool{
		{
			Name:        "list_meetings",
			Description: "List recorded meetings, newest first. Each entry carries the meeting ID, title, start and end time and, for finished meetings, a processing summary.",
			InputSchema: tools.ObjectSchema(map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of meetings to return. Defaults to 20.",
					"minimum":     1,
					"maximum":     maxLimit,
				},
			}),
			Handler: makeListMeetingsHandler(store),
			Timeout: 2 * time.Second,
		},
		{
			Name:        "get_meeting",
			Description: "Fetch one meeting with its processing summary.",
			InputSchema: tools.ObjectSchema(meetingIDSchema, "meeting_id"),
			Handler:     makeGetMeetingHandler(store),
			Timeout:     2 * time.Second,
		},
		{
			Name:        "get_transcript",
			Description: "Return the full transcript of a meeting in chronological order.",
			InputSchema: tools.ObjectSchema(meetingIDSchema, "meeting_id"),
			Handler:     makeGetTranscriptHandler(store),
			Timeout:     5 * time.Second,
		},
		{
			Name:        "get_suggestions",
			Description: "Return every suggestion set (questions, resources, action items, insights) generated during a meeting.",
			InputSchema: tools.ObjectSchema(meetingIDSchema, "meeting_id"),
			Handler:     makeGetSuggestionsHandler(store),
			Timeout:     5 * time.Second,
		},
		{
			Name:        "search_transcripts",
			Description: "Search meeting transcripts for fragments containing every word of the query. Optionally restrict the search to one meeting.",
			InputSchema: tools.ObjectSchema(map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Words that must all appear in a matching fragment.",
				},
				"meeting_id": meetingIDSchema["meeting_id"],
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of fragments to return. Defaults to 10.",
					"minimum":     1,
					"maximum":     maxLimit,
				},
			}, "query"),
			Handler: makeSearchHandler(store),
			Timeout: 5 * time.Second,
		},
	}
}
