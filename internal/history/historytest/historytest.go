// Package historytest holds behaviour tests shared by every history.Store
// implementation.
package historytest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/history"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/suggest"
)

// Run exercises store. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) history.Store) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("meeting lifecycle", func(t *testing.T) {
		s := newStore(t)
		m := history.Meeting{ID: "m1", Title: "Standup", StartedAt: base}
		if err := s.CreateMeeting(ctx, m); err != nil {
			t.Fatalf("CreateMeeting: %v", err)
		}
		got, err := s.GetMeeting(ctx, "m1")
		if err != nil {
			t.Fatalf("GetMeeting: %v", err)
		}
		if got.Title != "Standup" || !got.StartedAt.Equal(base) || !got.Active() || got.Summary != nil {
			t.Errorf("GetMeeting = %+v", got)
		}

		sum := history.Summary{Segments: 10, Transcripts: 7, Dropped: 1, TranscriptionCost: 0.012}
		end := base.Add(30 * time.Minute)
		if err := s.EndMeeting(ctx, "m1", end, sum); err != nil {
			t.Fatalf("EndMeeting: %v", err)
		}
		got, err = s.GetMeeting(ctx, "m1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Active() || !got.EndedAt.Equal(end) || got.Summary == nil || *got.Summary != sum {
			t.Errorf("after end = %+v", got)
		}
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetMeeting(ctx, "missing"); !errors.Is(err, history.ErrNotFound) {
			t.Errorf("GetMeeting err = %v", err)
		}
		if err := s.EndMeeting(ctx, "missing", base, history.Summary{}); !errors.Is(err, history.ErrNotFound) {
			t.Errorf("EndMeeting err = %v", err)
		}
		if _, err := s.Transcript(ctx, "missing"); !errors.Is(err, history.ErrNotFound) {
			t.Errorf("Transcript err = %v", err)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		s := newStore(t)
		for i, id := range []string{"a", "b", "c"} {
			if err := s.CreateMeeting(ctx, history.Meeting{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
				t.Fatal(err)
			}
		}
		all, err := s.ListMeetings(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
			t.Errorf("ListMeetings(0) = %+v", all)
		}
		two, err := s.ListMeetings(ctx, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(two) != 2 || two[0].ID != "c" || two[1].ID != "b" {
			t.Errorf("ListMeetings(2) = %+v", two)
		}
	})

	t.Run("transcript and search", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"m1", "m2"} {
			if err := s.CreateMeeting(ctx, history.Meeting{ID: id, StartedAt: base}); err != nil {
				t.Fatal(err)
			}
		}
		entries := []history.Entry{
			{MeetingID: "m1", SegmentID: "s2", Text: "The budget review moves to Friday", Timestamp: base.Add(2 * time.Second), Duration: time.Second, Cost: 0.001},
			{MeetingID: "m1", SegmentID: "s1", Text: "Good morning everyone", Timestamp: base.Add(time.Second)},
			{MeetingID: "m2", SegmentID: "s1", Text: "Budget numbers look healthy", Timestamp: base.Add(3 * time.Second)},
		}
		for _, e := range entries {
			if err := s.AppendTranscript(ctx, e); err != nil {
				t.Fatalf("AppendTranscript: %v", err)
			}
		}

		tr, err := s.Transcript(ctx, "m1")
		if err != nil {
			t.Fatal(err)
		}
		if len(tr) != 2 || tr[0].SegmentID != "s1" || tr[1].Duration != time.Second || tr[1].Cost != 0.001 {
			t.Errorf("Transcript = %+v", tr)
		}

		hits, err := s.Search(ctx, "budget", history.SearchOpts{})
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 2 {
			t.Errorf("Search(budget) = %+v, want 2 hits", hits)
		}
		hits, err = s.Search(ctx, "budget", history.SearchOpts{MeetingID: "m2"})
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 1 || hits[0].MeetingID != "m2" {
			t.Errorf("Search(budget, m2) = %+v", hits)
		}
		hits, err = s.Search(ctx, "budget", history.SearchOpts{Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 1 {
			t.Errorf("Search limit 1 = %d hits", len(hits))
		}
		hits, err = s.Search(ctx, "  ", history.SearchOpts{})
		if err != nil || len(hits) != 0 {
			t.Errorf("blank Search = %v, %v", hits, err)
		}
	})

	t.Run("suggestions", func(t *testing.T) {
		s := newStore(t)
		if err := s.CreateMeeting(ctx, history.Meeting{ID: "m1", StartedAt: base}); err != nil {
			t.Fatal(err)
		}
		sg := suggest.Suggestions{
			Questions: []string{"Who signs off?"},
			Resources: []suggest.Resource{{Title: "RFC", URL: "https://example.com/rfc"}},
			Metadata:  suggest.Metadata{Timestamp: base, Tokens: 42},
			Batch:     "we need sign off",
		}
		if err := s.AppendSuggestions(ctx, "m1", sg); err != nil {
			t.Fatalf("AppendSuggestions: %v", err)
		}
		got, err := s.Suggestions(ctx, "m1")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Questions[0] != "Who signs off?" || got[0].Resources[0].URL != "https://example.com/rfc" || got[0].Metadata.Tokens != 42 {
			t.Errorf("Suggestions = %+v", got)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := newStore(t).Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
