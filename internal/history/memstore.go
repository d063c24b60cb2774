package history

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/suggest"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. History is lost when the process exits.
//
// All methods are safe for concurrent use.
type MemStore struct {
	mu          sync.RWMutex
	meetings    map[string]*Meeting
	transcripts map[string][]Entry
	suggestions map[string][]suggest.Suggestions
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		meetings:    make(map[string]*Meeting),
		transcripts: make(map[string][]Entry),
		suggestions: make(map[string][]suggest.Suggestions),
	}
}

// CreateMeeting implements [Store].
func (s *MemStore) CreateMeeting(_ context.Context, m Meeting) error {
	if m.ID == "" {
		return fmt.Errorf("history: create meeting: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[m.ID]; ok {
		return fmt.Errorf("history: create meeting %q: already exists", m.ID)
	}
	cp := m
	s.meetings[m.ID] = &cp
	return nil
}

// EndMeeting implements [Store].
func (s *MemStore) EndMeeting(_ context.Context, id string, endedAt time.Time, sum Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return fmt.Errorf("history: end meeting %q: %w", id, ErrNotFound)
	}
	m.EndedAt = endedAt
	m.Summary = &sum
	return nil
}

// GetMeeting implements [Store].
func (s *MemStore) GetMeeting(_ context.Context, id string) (Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[id]
	if !ok {
		return Meeting{}, fmt.Errorf("history: get meeting %q: %w", id, ErrNotFound)
	}
	return copyMeeting(m), nil
}

// ListMeetings implements [Store].
func (s *MemStore) ListMeetings(_ context.Context, limit int) ([]Meeting, error) {
	s.mu.RLock()
	out := make([]Meeting, 0, len(s.meetings))
	for _, m := range s.meetings {
		out = append(out, copyMeeting(m))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Meeting) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendTranscript implements [Store].
func (s *MemStore) AppendTranscript(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[e.MeetingID]; !ok {
		return fmt.Errorf("history: append transcript to %q: %w", e.MeetingID, ErrNotFound)
	}
	s.transcripts[e.MeetingID] = append(s.transcripts[e.MeetingID], e)
	return nil
}

// Transcript implements [Store].
func (s *MemStore) Transcript(_ context.Context, meetingID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.meetings[meetingID]; !ok {
		return nil, fmt.Errorf("history: transcript of %q: %w", meetingID, ErrNotFound)
	}
	out := slices.Clone(s.transcripts[meetingID])
	slices.SortStableFunc(out, func(a, b Entry) int { return a.Timestamp.Compare(b.Timestamp) })
	if out == nil {
		out = []Entry{}
	}
	return out, nil
}

// AppendSuggestions implements [Store].
func (s *MemStore) AppendSuggestions(_ context.Context, meetingID string, sg suggest.Suggestions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[meetingID]; !ok {
		return fmt.Errorf("history: append suggestions to %q: %w", meetingID, ErrNotFound)
	}
	s.suggestions[meetingID] = append(s.suggestions[meetingID], sg)
	return nil
}

// Suggestions implements [Store].
func (s *MemStore) Suggestions(_ context.Context, meetingID string) ([]suggest.Suggestions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.meetings[meetingID]; !ok {
		return nil, fmt.Errorf("history: suggestions of %q: %w", meetingID, ErrNotFound)
	}
	out := slices.Clone(s.suggestions[meetingID])
	if out == nil {
		out = []suggest.Suggestions{}
	}
	return out, nil
}

// Search implements [Store] with case-insensitive word matching.
func (s *MemStore) Search(_ context.Context, query string, opts SearchOpts) ([]Entry, error) {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return []Entry{}, nil
	}

	s.mu.RLock()
	var out []Entry
	for id, entries := range s.transcripts {
		if opts.MeetingID != "" && id != opts.MeetingID {
			continue
		}
		for _, e := range entries {
			if containsAll(strings.ToLower(e.Text), words) {
				out = append(out, e)
			}
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Entry) int { return a.Timestamp.Compare(b.Timestamp) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	if out == nil {
		out = []Entry{}
	}
	return out, nil
}

// Ping implements [Store]; a MemStore is always reachable.
func (s *MemStore) Ping(context.Context) error { return nil }

func containsAll(text string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}

func copyMeeting(m *Meeting) Meeting {
	cp := *m
	if m.Summary != nil {
		sum := *m.Summary
		cp.Summary = &sum
	}
	return cp
}
