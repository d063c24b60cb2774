// Package postgres provides a PostgreSQL-backed [history.Store].
//
// Meetings, transcript fragments, and suggestions live in three tables that
// share one [pgxpool.Pool]. Transcript search uses a GIN full-text index.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlMeetings = `
CREATE TABLE IF NOT EXISTS meetings (
    id          TEXT         PRIMARY KEY,
    title       TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ,
    summary     JSONB
);

CREATE INDEX IF NOT EXISTS idx_meetings_started_at
    ON meetings (started_at DESC);
`

const ddlTranscriptEntries = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id           BIGSERIAL         PRIMARY KEY,
    meeting_id   TEXT              NOT NULL REFERENCES meetings (id) ON DELETE CASCADE,
    segment_id   TEXT              NOT NULL DEFAULT '',
    text         TEXT              NOT NULL,
    timestamp    TIMESTAMPTZ       NOT NULL DEFAULT now(),
    duration_ns  BIGINT            NOT NULL DEFAULT 0,
    cost         DOUBLE PRECISION  NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_meeting_timestamp
    ON transcript_entries (meeting_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_fts
    ON transcript_entries USING GIN (to_tsvector('english', text));
`

const ddlSuggestions = `
CREATE TABLE IF NOT EXISTS suggestions (
    id          BIGSERIAL    PRIMARY KEY,
    meeting_id  TEXT         NOT NULL REFERENCES meetings (id) ON DELETE CASCADE,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    payload     JSONB        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_suggestions_meeting_timestamp
    ON suggestions (meeting_id, timestamp);
`

// Migrate creates the tables and indexes if they do not exist. It is
// idempotent and safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []struct {
		name string
		ddl  string
	}{
		{"meetings", ddlMeetings},
		{"transcript_entries", ddlTranscriptEntries},
		{"suggestions", ddlSuggestions},
	} {
		if _, err := pool.Exec(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
