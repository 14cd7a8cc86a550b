package history

import (
	"context"
	"database/sql"
	"time"

	"hotline-platform/internal/registry"
	"hotline-platform/pkg/utils"
)

// NOTE: This store assumes the following table exists:
//
//	CREATE TABLE call_history (
//	    call_id      text PRIMARY KEY,
//	    caller_hash  text NOT NULL,
//	    language     text NOT NULL DEFAULT '',
//	    disposition  text NOT NULL,
//	    volunteer_id text NOT NULL DEFAULT '',
//	    started_at   timestamptz NOT NULL,
//	    answered_at  timestamptz,
//	    ended_at     timestamptz NOT NULL,
//	    transcript   text NOT NULL DEFAULT ''
//	);
//
// Caller numbers never reach this table; only the salted hash does.

// Store persists retired calls beyond the registry's bounded in-memory log.
// It implements registry.Archiver.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Archive inserts one finished call. Re-archiving the same call id (registry
// retry, stale reclaim racing a late webhook) is a no-op.
func (s *Store) Archive(ctx context.Context, e registry.HistoryEntry) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO call_history
    (call_id, caller_hash, language, disposition, volunteer_id, started_at, answered_at, ended_at, transcript)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (call_id) DO NOTHING
`
		_, err := tx.ExecContext(ctx, q,
			e.CallID,
			e.CallerHash,
			e.Language,
			string(e.Disposition),
			e.VolunteerID,
			e.StartedAt,
			nullableTime(e.AnsweredAt),
			e.EndedAt,
			e.Transcript,
		)
		return err
	})
}

// SaveTranscript attaches best-effort transcription output to an archived
// call. A missing row is not an error; the transcript simply has nowhere to
// land.
func (s *Store) SaveTranscript(ctx context.Context, callID, text string) error {
	const q = `
UPDATE call_history
SET transcript = $2
WHERE call_id = $1
`
	_, err := s.db.ExecContext(ctx, q, callID, text)
	return err
}

// List returns up to limit archived calls, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]registry.HistoryEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	const q = `
SELECT call_id, caller_hash, language, disposition, volunteer_id, started_at, answered_at, ended_at, transcript
FROM call_history
ORDER BY ended_at DESC
LIMIT $1
`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registry.HistoryEntry
	for rows.Next() {
		var e registry.HistoryEntry
		var disposition string
		var answered sql.NullTime
		if err := rows.Scan(
			&e.CallID,
			&e.CallerHash,
			&e.Language,
			&disposition,
			&e.VolunteerID,
			&e.StartedAt,
			&answered,
			&e.EndedAt,
			&e.Transcript,
		); err != nil {
			return nil, err
		}
		e.Disposition = registry.Disposition(disposition)
		if answered.Valid {
			e.AnsweredAt = answered.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
