package policy

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PGSettingsStore reads the hotline settings row the admin surface maintains.
// Results are never cached; the flow reads them per call on purpose.
type PGSettingsStore struct {
	db *sql.DB
}

func NewPGSettingsStore(db *sql.DB) *PGSettingsStore {
	return &PGSettingsStore{db: db}
}

func (s *PGSettingsStore) Load(ctx context.Context) (Settings, error) {
	if s.db == nil {
		return Settings{}, fmt.Errorf("%w: db is nil", ErrCollaboratorUnavailable)
	}

	var (
		out          Settings
		queueSecs    int
		gatherSecs   int
		languagesCSV string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT captcha_enabled, captcha_digits, rate_limit_calls,
		       queue_timeout_seconds, gather_timeout_seconds, languages
		FROM hotline_settings
		ORDER BY updated_at DESC
		LIMIT 1`,
	).Scan(&out.CaptchaEnabled, &out.CaptchaDigits, &out.RateLimitCalls,
		&queueSecs, &gatherSecs, &languagesCSV)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrCollaboratorUnavailable, err)
	}

	out.QueueTimeout = time.Duration(queueSecs) * time.Second
	out.GatherTimeout = time.Duration(gatherSecs) * time.Second
	for _, l := range strings.Split(languagesCSV, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out.Languages = append(out.Languages, l)
		}
	}
	return out, nil
}

// PGSpamReporter writes volunteer spam reports for the admin surface to act
// on. Reports reference only the caller hash, never the number.
type PGSpamReporter struct {
	db *sql.DB
}

func NewPGSpamReporter(db *sql.DB) *PGSpamReporter {
	return &PGSpamReporter{db: db}
}

func (r *PGSpamReporter) ReportSpam(ctx context.Context, callerHash, reporterID string) error {
	if r.db == nil {
		return fmt.Errorf("%w: db is nil", ErrCollaboratorUnavailable)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO spam_reports (caller_hash, reporter_id, reported_at)
		VALUES ($1, $2, NOW())`,
		callerHash, reporterID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCollaboratorUnavailable, err)
	}
	return nil
}
