// Package server exposes the pipeline over HTTP: segment ingestion, session
// control, meeting history, the WebSocket event stream, and the operational
// endpoints (/metrics, /healthz, /readyz).
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/health"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/history"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/observe"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/pipeline"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/queue"
	"github.com/faiq157/custom-ai-translator-suggestion/pkg/audio"
)

// Request headers understood by POST /api/segments.
const (
	HeaderSegmentID       = "X-Segment-ID"
	HeaderCaptureError    = "X-Capture-Error"
	HeaderSegmentDuration = "X-Segment-Duration-Ms"
)

// DefaultMaxSegmentBytes caps an uploaded segment.
const DefaultMaxSegmentBytes = 25 << 20

// Pipeline is the part of the orchestrator the server drives.
type Pipeline interface {
	HandleSegment(ctx context.Context, seg audio.Segment, captureErr error) (*queue.Future[pipeline.Outcome], error)
	Stats() pipeline.Stats
}

// Sessions starts and stops recording sessions.
type Sessions interface {
	Start(ctx context.Context, title string) (history.Meeting, error)
	Stop(ctx context.Context) (history.Meeting, error)
	Active() (history.Meeting, bool)
}

// Config holds server settings.
type Config struct {
	// SpoolDir receives uploaded segments. Default: os.TempDir().
	SpoolDir string

	// MaxSegmentBytes caps one upload. Default: [DefaultMaxSegmentBytes].
	MaxSegmentBytes int64
}

// Deps are the server's collaborators. Pipeline and Sessions are required.
type Deps struct {
	Pipeline Pipeline
	Sessions Sessions
	History  history.Store
	Hub      *Hub
	Health   *health.Handler
	Metrics  *observe.Metrics

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// MCP serves /mcp when set.
	MCP http.Handler
}

// Server routes HTTP requests.
type Server struct {
	cfg  Config
	deps Deps
}

// New creates a Server.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Pipeline == nil || deps.Sessions == nil {
		return nil, errors.New("server: pipeline and sessions are required")
	}
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = os.TempDir()
	}
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = DefaultMaxSegmentBytes
	}
	if err := os.MkdirAll(cfg.SpoolDir, 0o750); err != nil {
		return nil, fmt.Errorf("server: create spool dir: %w", err)
	}
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	if deps.Health == nil {
		deps.Health = health.New()
	}
	return &Server{cfg: cfg, deps: deps}, nil
}

// Handler returns the routed handler wrapped in the observability middleware
// when metrics are configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/segments", s.handleSegment)
	mux.HandleFunc("POST /api/session/start", s.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", s.handleSessionStop)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /api/meetings", s.handleMeetings)
	mux.HandleFunc("GET /api/meetings/{id}", s.handleMeeting)
	mux.HandleFunc("GET /api/meetings/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("GET /api/meetings/{id}/suggestions", s.handleSuggestions)
	mux.HandleFunc("GET /api/search", s.handleSearch)

	mux.HandleFunc("GET /ws", s.handleEvents)

	s.deps.Health.Register(mux)
	if s.deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.deps.MetricsHandler)
	}
	if s.deps.MCP != nil {
		mux.Handle("/mcp", s.deps.MCP)
	}

	if s.deps.Metrics == nil {
		return mux
	}
	return observe.Middleware(s.deps.Metrics)(mux)
}

// segmentResponse is returned by POST /api/segments.
type segmentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`

	// Outcome is set when the caller asked to wait.
	Outcome *outcomeBody `json:"outcome,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type outcomeBody struct {
	HasVoice    bool    `json:"has_voice"`
	Reason      string  `json:"reason"`
	Stage       string  `json:"stage"`
	Skipped     string  `json:"skipped,omitempty"`
	Text        string  `json:"text,omitempty"`
	Cost        float64 `json:"cost,omitempty"`
	Suggestions bool    `json:"suggestions"`
}

// handleSegment spools the WAV body and hands it to the pipeline. With
// ?wait=true the response carries the segment outcome.
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(HeaderSegmentID)
	if id == "" {
		id = newID("seg")
	}

	var captureErr error
	if msg := strings.TrimSpace(r.Header.Get(HeaderCaptureError)); msg != "" {
		captureErr = errors.New(msg)
	}

	seg := audio.Segment{ID: id, ReceivedAt: time.Now()}
	if ms, err := strconv.Atoi(r.Header.Get(HeaderSegmentDuration)); err == nil && ms > 0 {
		seg.Duration = time.Duration(ms) * time.Millisecond
	}
	if captureErr == nil {
		path, size, err := s.spool(w, r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		seg.Path, seg.Size = path, size
	}

	f, err := s.deps.Pipeline.HandleSegment(r.Context(), seg, captureErr)
	switch {
	case errors.Is(err, pipeline.ErrNotRunning), errors.Is(err, pipeline.ErrStopping):
		writeJSON(w, http.StatusConflict, segmentResponse{ID: id, Status: "dropped", Error: err.Error()})
		return
	case errors.Is(err, pipeline.ErrCapture):
		writeJSON(w, http.StatusAccepted, segmentResponse{ID: id, Status: "capture_error", Error: err.Error()})
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusAccepted, segmentResponse{ID: id, Status: "queued"})
		return
	}

	out, err := f.Wait(r.Context())
	resp := segmentResponse{ID: id, Status: "processed"}
	if err != nil {
		resp.Status = "failed"
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrCleared) || errors.Is(err, queue.ErrClosed) {
			resp.Status = "dropped"
		}
		resp.Error = err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	body := &outcomeBody{
		HasVoice:    out.Verdict.HasVoice,
		Reason:      string(out.Verdict.Reason),
		Stage:       string(out.Stage),
		Skipped:     out.Skipped,
		Suggestions: out.Suggestions != nil,
	}
	if out.Fragment != nil {
		body.Text = out.Fragment.Text
		body.Cost = out.Fragment.Cost
	}
	resp.Outcome = body
	writeJSON(w, http.StatusOK, resp)
}

// spool writes the request body to a new file in the spool directory.
func (s *Server) spool(w http.ResponseWriter, r *http.Request) (path string, size int64, err error) {
	f, err := os.CreateTemp(s.cfg.SpoolDir, "segment-*.wav")
	if err != nil {
		return "", 0, fmt.Errorf("server: spool segment: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("server: spool segment: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxSegmentBytes)
	size, err = io.Copy(f, body)
	if err != nil {
		return "", 0, fmt.Errorf("server: read segment: %w", err)
	}
	if size == 0 {
		return "", 0, errors.New("server: empty segment body")
	}
	return f.Name(), size, nil
}

type startRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	m, err := s.deps.Sessions.Start(r.Context(), req.Title)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusCreated, m)
	}
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	// The stop must complete even if the client goes away.
	m, err := s.deps.Sessions.Stop(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, pipeline.ErrNotRunning):
		writeError(w, http.StatusConflict, err)
	case err != nil && m.ID == "":
		writeError(w, http.StatusInternalServerError, err)
	default:
		if err != nil {
			slog.Warn("session stopped with error", "meeting_id", m.ID, "err", err)
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	m, ok := s.deps.Sessions.Active()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "meeting": m})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pipeline.Stats())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.deps.Hub.Serve(w, r, pipeline.Event{Type: pipeline.EventStats, Data: s.deps.Pipeline.Stats()})
}

func (s *Server) handleMeetings(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ms, err := s.deps.History.ListMeetings(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *Server) handleMeeting(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	m, err := s.deps.History.GetMeeting(r.Context(), r.PathValue("id"))
	if err != nil {
		writeHistoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	id := r.PathValue("id")
	if _, err := s.deps.History.GetMeeting(r.Context(), id); err != nil {
		writeHistoryError(w, err)
		return
	}
	entries, err := s.deps.History.Transcript(r.Context(), id)
	if err != nil {
		writeHistoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	id := r.PathValue("id")
	if _, err := s.deps.History.GetMeeting(r.Context(), id); err != nil {
		writeHistoryError(w, err)
		return
	}
	sugg, err := s.deps.History.Suggestions(r.Context(), id)
	if err != nil {
		writeHistoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sugg)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, errors.New("server: missing query parameter q"))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := s.deps.History.Search(r.Context(), query, history.SearchOpts{
		MeetingID: q.Get("meeting_id"),
		Limit:     limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) requireHistory(w http.ResponseWriter) bool {
	if s.deps.History == nil {
		writeError(w, http.StatusNotImplemented, errors.New("server: meeting history disabled"))
		return false
	}
	return true
}

func writeHistoryError(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

// newID returns prefix followed by a random UUID.
func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
