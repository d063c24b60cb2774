package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/app"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/history"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/pipeline"
)

// fakePipeline records Begin/Stop calls.
type fakePipeline struct {
	mu       sync.Mutex
	begun    []string
	stops    int
	running  bool
	beginErr error
	stopErr  error
	summary  history.Summary
}

func (f *fakePipeline) Begin(meetingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return f.beginErr
	}
	if f.running {
		return pipeline.ErrAlreadyRunning
	}
	f.running = true
	f.begun = append(f.begun, meetingID)
	return nil
}

func (f *fakePipeline) Stop(context.Context) (history.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if !f.running {
		return history.Summary{}, pipeline.ErrNotRunning
	}
	f.running = false
	return f.summary, f.stopErr
}

// failingStore fails CreateMeeting.
type failingStore struct {
	*history.MemStore
}

func (failingStore) CreateMeeting(context.Context, history.Meeting) error {
	return errors.New("disk full")
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()

	p := &fakePipeline{summary: history.Summary{Segments: 4, Transcripts: 3, Suggestions: 1}}
	store := history.NewMemStore()
	sm := app.NewSessionManager(p, store)
	ctx := context.Background()

	m, err := sm.Start(ctx, "  Weekly sync ")
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if m.Title != "Weekly sync" {
		t.Errorf("Title = %q, want trimmed title", m.Title)
	}
	if !strings.HasPrefix(m.ID, "mtg-") {
		t.Errorf("ID = %q, want mtg- prefix", m.ID)
	}
	if len(p.begun) != 1 || p.begun[0] != m.ID {
		t.Errorf("pipeline began %v, want [%s]", p.begun, m.ID)
	}

	active, ok := sm.Active()
	if !ok || active.ID != m.ID {
		t.Fatalf("Active() = %+v, %v", active, ok)
	}
	stored, err := store.GetMeeting(ctx, m.ID)
	if err != nil || !stored.Active() {
		t.Fatalf("stored meeting = %+v, %v; want in-progress record", stored, err)
	}

	ended, err := sm.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if ended.Active() || ended.Summary == nil || ended.Summary.Transcripts != 3 {
		t.Errorf("ended meeting = %+v", ended)
	}
	if _, ok := sm.Active(); ok {
		t.Error("expected no active meeting after Stop")
	}

	stored, err = store.GetMeeting(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Active() || stored.Summary == nil || stored.Summary.Segments != 4 {
		t.Errorf("stored meeting after stop = %+v", stored)
	}
}

func TestSessionManager_DefaultTitle(t *testing.T) {
	t.Parallel()
	sm := app.NewSessionManager(&fakePipeline{}, history.NewMemStore())

	m, err := sm.Start(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(m.Title, "Meeting ") {
		t.Errorf("Title = %q, want generated title", m.Title)
	}
}

func TestSessionManager_DoubleStart(t *testing.T) {
	t.Parallel()
	sm := app.NewSessionManager(&fakePipeline{}, history.NewMemStore())
	ctx := context.Background()

	if _, err := sm.Start(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	_, err := sm.Start(ctx, "second")
	if !errors.Is(err, app.ErrSessionActive) {
		t.Errorf("second Start err = %v, want ErrSessionActive", err)
	}
	if !errors.Is(err, pipeline.ErrAlreadyRunning) {
		t.Errorf("ErrSessionActive should wrap pipeline.ErrAlreadyRunning")
	}
}

func TestSessionManager_StopWithoutStart(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	sm := app.NewSessionManager(p, history.NewMemStore())

	_, err := sm.Stop(context.Background())
	if !errors.Is(err, pipeline.ErrNotRunning) {
		t.Errorf("Stop err = %v, want wrapped ErrNotRunning", err)
	}
	if p.stops != 0 {
		t.Errorf("pipeline stopped %d times, want 0", p.stops)
	}
}

func TestSessionManager_BeginFailureEndsMeeting(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{beginErr: errors.New("closed")}
	store := history.NewMemStore()
	sm := app.NewSessionManager(p, store)
	ctx := context.Background()

	if _, err := sm.Start(ctx, "doomed"); err == nil {
		t.Fatal("expected Start error")
	}
	if _, ok := sm.Active(); ok {
		t.Error("no meeting should be active after a failed start")
	}
	ms, err := store.ListMeetings(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 1 || ms[0].Active() {
		t.Errorf("meetings = %+v, want one ended record", ms)
	}
}

func TestSessionManager_CreateFailure(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	sm := app.NewSessionManager(p, failingStore{history.NewMemStore()})

	_, err := sm.Start(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Start err = %v", err)
	}
	if len(p.begun) != 0 {
		t.Error("pipeline should not begin when the record cannot be created")
	}
}

func TestSessionManager_StopTimeoutStillEndsMeeting(t *testing.T) {
	t.Parallel()
	timeout := errors.New("pipeline: stop: context deadline exceeded")
	p := &fakePipeline{stopErr: timeout, summary: history.Summary{Dropped: 2}}
	store := history.NewMemStore()
	sm := app.NewSessionManager(p, store)
	ctx := context.Background()

	m, err := sm.Start(ctx, "slow")
	if err != nil {
		t.Fatal(err)
	}
	ended, err := sm.Stop(ctx)
	if !errors.Is(err, timeout) {
		t.Errorf("Stop err = %v, want %v", err, timeout)
	}
	if ended.ID != m.ID || ended.Summary == nil || ended.Summary.Dropped != 2 {
		t.Errorf("ended = %+v", ended)
	}
	stored, _ := store.GetMeeting(ctx, m.ID)
	if stored.Active() {
		t.Error("meeting should be closed even when the pipeline stop timed out")
	}
}

func TestSessionManager_ConcurrentStart(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}
	sm := app.NewSessionManager(p, history.NewMemStore())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sm.Start(context.Background(), "race"); err == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if started != 1 {
		t.Errorf("started = %d, want exactly 1", started)
	}
}
