package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/history"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/pipeline"
)

var (
	// ErrSessionActive is returned by [SessionManager.Start] while a meeting
	// is being recorded. It wraps [pipeline.ErrAlreadyRunning].
	ErrSessionActive = fmt.Errorf("session: a meeting is already active: %w", pipeline.ErrAlreadyRunning)

	// ErrNoActiveSession is returned by [SessionManager.Stop] when nothing is
	// being recorded. It wraps [pipeline.ErrNotRunning].
	ErrNoActiveSession = fmt.Errorf("session: no active meeting: %w", pipeline.ErrNotRunning)
)

// sessionPipeline is the part of the orchestrator a SessionManager drives.
type sessionPipeline interface {
	Begin(meetingID string) error
	Stop(ctx context.Context) (history.Summary, error)
}

// SessionManager ties the pipeline session lifecycle to meeting records in
// the history store. Only one meeting can be active at a time.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	pipeline sessionPipeline
	store    history.Store
	now      func() time.Time

	mu     sync.Mutex
	active *history.Meeting
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(p sessionPipeline, store history.Store) *SessionManager {
	return &SessionManager{pipeline: p, store: store, now: time.Now}
}

// Start records a new meeting and begins a pipeline session for it. An empty
// title is replaced by one derived from the start time.
//
// Returns [ErrSessionActive] if a meeting is already running.
func (sm *SessionManager) Start(ctx context.Context, title string) (history.Meeting, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active != nil {
		return history.Meeting{}, ErrSessionActive
	}

	now := sm.now().UTC()
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Meeting " + now.Format("2006-01-02 15:04")
	}
	m := history.Meeting{
		ID:        "mtg-" + uuid.NewString(),
		Title:     title,
		StartedAt: now,
	}
	if err := sm.store.CreateMeeting(ctx, m); err != nil {
		return history.Meeting{}, fmt.Errorf("session: create meeting: %w", err)
	}

	if err := sm.pipeline.Begin(m.ID); err != nil {
		// Close the record so it does not linger as in-progress.
		if endErr := sm.store.EndMeeting(ctx, m.ID, sm.now().UTC(), history.Summary{}); endErr != nil {
			slog.Warn("session: end orphaned meeting", "meeting_id", m.ID, "err", endErr)
		}
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			return history.Meeting{}, ErrSessionActive
		}
		return history.Meeting{}, fmt.Errorf("session: begin pipeline: %w", err)
	}

	sm.active = &m
	slog.Info("session started", "meeting_id", m.ID, "title", m.Title)
	return m, nil
}

// Stop ends the active pipeline session and closes its meeting record with
// the session summary. The returned meeting is populated even when the
// pipeline stop timed out; the error then reports what went wrong.
//
// Returns [ErrNoActiveSession] if no meeting is running.
func (sm *SessionManager) Stop(ctx context.Context) (history.Meeting, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active == nil {
		return history.Meeting{}, ErrNoActiveSession
	}
	m := *sm.active

	sum, stopErr := sm.pipeline.Stop(ctx)
	if errors.Is(stopErr, pipeline.ErrNotRunning) {
		// The pipeline was stopped underneath us; the record still needs closing.
		slog.Warn("session: pipeline was not running", "meeting_id", m.ID)
		stopErr = nil
	}

	m.EndedAt = sm.now().UTC()
	m.Summary = &sum
	endErr := sm.store.EndMeeting(ctx, m.ID, m.EndedAt, sum)
	if endErr != nil {
		endErr = fmt.Errorf("session: end meeting: %w", endErr)
	}
	sm.active = nil

	slog.Info("session stopped", "meeting_id", m.ID,
		"duration", m.EndedAt.Sub(m.StartedAt).Round(time.Second),
		"transcripts", sum.Transcripts, "suggestions", sum.Suggestions)
	return m, errors.Join(stopErr, endErr)
}

// Active returns the running meeting, if any.
func (sm *SessionManager) Active() (history.Meeting, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return history.Meeting{}, false
	}
	return *sm.active, true
}
