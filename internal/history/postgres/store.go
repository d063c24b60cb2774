package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/history"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/suggest"
)

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [history.Store].
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [history.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("history store: ping: %w", err)
	}
	return nil
}

// CreateMeeting implements [history.Store].
func (s *Store) CreateMeeting(ctx context.Context, m history.Meeting) error {
	const q = `INSERT INTO meetings (id, title, started_at) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, m.ID, m.Title, m.StartedAt); err != nil {
		return fmt.Errorf("history store: create meeting: %w", err)
	}
	return nil
}

// EndMeeting implements [history.Store].
func (s *Store) EndMeeting(ctx context.Context, id string, endedAt time.Time, sum history.Summary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("history store: encode summary: %w", err)
	}
	const q = `UPDATE meetings SET ended_at = $2, summary = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id, endedAt, payload)
	if err != nil {
		return fmt.Errorf("history store: end meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("history store: end meeting %q: %w", id, history.ErrNotFound)
	}
	return nil
}

const selectMeeting = `SELECT id, title, started_at, ended_at, summary FROM meetings`

// GetMeeting implements [history.Store].
func (s *Store) GetMeeting(ctx context.Context, id string) (history.Meeting, error) {
	rows, err := s.pool.Query(ctx, selectMeeting+` WHERE id = $1`, id)
	if err != nil {
		return history.Meeting{}, fmt.Errorf("history store: get meeting: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMeeting)
	if errors.Is(err, pgx.ErrNoRows) {
		return history.Meeting{}, fmt.Errorf("history store: get meeting %q: %w", id, history.ErrNotFound)
	}
	if err != nil {
		return history.Meeting{}, fmt.Errorf("history store: get meeting: %w", err)
	}
	return m, nil
}

// ListMeetings implements [history.Store].
func (s *Store) ListMeetings(ctx context.Context, limit int) ([]history.Meeting, error) {
	q := selectMeeting + ` ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history store: list meetings: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanMeeting)
	if err != nil {
		return nil, fmt.Errorf("history store: list meetings: %w", err)
	}
	if out == nil {
		out = []history.Meeting{}
	}
	return out, nil
}

func scanMeeting(row pgx.CollectableRow) (history.Meeting, error) {
	var (
		m       history.Meeting
		endedAt *time.Time
		summary []byte
	)
	if err := row.Scan(&m.ID, &m.Title, &m.StartedAt, &endedAt, &summary); err != nil {
		return history.Meeting{}, err
	}
	if endedAt != nil {
		m.EndedAt = *endedAt
	}
	if len(summary) > 0 {
		var sum history.Summary
		if err := json.Unmarshal(summary, &sum); err != nil {
			return history.Meeting{}, fmt.Errorf("decode summary: %w", err)
		}
		m.Summary = &sum
	}
	return m, nil
}

// AppendTranscript implements [history.Store].
func (s *Store) AppendTranscript(ctx context.Context, e history.Entry) error {
	const q = `
		INSERT INTO transcript_entries
		    (meeting_id, segment_id, text, timestamp, duration_ns, cost)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		e.MeetingID,
		e.SegmentID,
		e.Text,
		e.Timestamp,
		e.Duration.Nanoseconds(),
		e.Cost,
	)
	if err != nil {
		return fmt.Errorf("history store: append transcript: %w", err)
	}
	return nil
}

// Transcript implements [history.Store].
func (s *Store) Transcript(ctx context.Context, meetingID string) ([]history.Entry, error) {
	if _, err := s.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	const q = `
		SELECT meeting_id, segment_id, text, timestamp, duration_ns, cost
		FROM   transcript_entries
		WHERE  meeting_id = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, meetingID)
	if err != nil {
		return nil, fmt.Errorf("history store: transcript: %w", err)
	}
	return collectEntries(rows)
}

// AppendSuggestions implements [history.Store].
func (s *Store) AppendSuggestions(ctx context.Context, meetingID string, sg suggest.Suggestions) error {
	payload, err := json.Marshal(sg)
	if err != nil {
		return fmt.Errorf("history store: encode suggestions: %w", err)
	}
	ts := sg.Metadata.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	const q = `INSERT INTO suggestions (meeting_id, timestamp, payload) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, meetingID, ts, payload); err != nil {
		return fmt.Errorf("history store: append suggestions: %w", err)
	}
	return nil
}

// Suggestions implements [history.Store].
func (s *Store) Suggestions(ctx context.Context, meetingID string) ([]suggest.Suggestions, error) {
	if _, err := s.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	const q = `SELECT payload FROM suggestions WHERE meeting_id = $1 ORDER BY timestamp, id`
	rows, err := s.pool.Query(ctx, q, meetingID)
	if err != nil {
		return nil, fmt.Errorf("history store: suggestions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (suggest.Suggestions, error) {
		var (
			payload []byte
			sg      suggest.Suggestions
		)
		if err := row.Scan(&payload); err != nil {
			return sg, err
		}
		return sg, json.Unmarshal(payload, &sg)
	})
	if err != nil {
		return nil, fmt.Errorf("history store: suggestions: %w", err)
	}
	if out == nil {
		out = []suggest.Suggestions{}
	}
	return out, nil
}

// Search implements [history.Store] with PostgreSQL full-text search. The
// query is passed to plainto_tsquery so no operator syntax is required.
func (s *Store) Search(ctx context.Context, query string, opts history.SearchOpts) ([]history.Entry, error) {
	if strings.TrimSpace(query) == "" {
		return []history.Entry{}, nil
	}
	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', text) @@ plainto_tsquery('english', $1)",
	}
	if opts.MeetingID != "" {
		conditions = append(conditions, "meeting_id = "+next(opts.MeetingID))
	}

	q := "SELECT meeting_id, segment_id, text, timestamp, duration_ns, cost\n" +
		"FROM   transcript_entries\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY timestamp, id"
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history store: search: %w", err)
	}
	return collectEntries(rows)
}

// collectEntries scans pgx rows into a slice of Entry values.
func collectEntries(rows pgx.Rows) ([]history.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var (
			e          history.Entry
			durationNS int64
		)
		if err := row.Scan(
			&e.MeetingID,
			&e.SegmentID,
			&e.Text,
			&e.Timestamp,
			&durationNS,
			&e.Cost,
		); err != nil {
			return history.Entry{}, err
		}
		e.Duration = time.Duration(durationNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}
