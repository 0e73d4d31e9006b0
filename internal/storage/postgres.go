package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS transcripts (
    id          BIGSERIAL   PRIMARY KEY,
    session_id  TEXT        NOT NULL,
    start_time  TIMESTAMPTZ NOT NULL,
    end_time    TIMESTAMPTZ NOT NULL,
    text        TEXT        NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session_start ON transcripts (session_id, start_time);
CREATE INDEX IF NOT EXISTS idx_transcripts_session_end   ON transcripts (session_id, end_time);

CREATE TABLE IF NOT EXISTS summaries (
    id           BIGSERIAL   PRIMARY KEY,
    session_id   TEXT        NOT NULL,
    start_time   TIMESTAMPTZ NOT NULL,
    end_time     TIMESTAMPTZ NOT NULL,
    summary_text TEXT        NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_summaries_session_start ON summaries (session_id, start_time);
`

// PostgresStore is the Session Store backed by a pgx connection pool.
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) InsertTranscript(ctx context.Context, sessionID string, start, end time.Time, text string) (Transcript, error) {
	if err := validateRecord(sessionID, start, end); err != nil {
		return Transcript{}, err
	}

	const q = `
		INSERT INTO transcripts (session_id, start_time, end_time, text)
		VALUES ($1, $2, $3, $4)
		RETURNING id, session_id, start_time, end_time, text, created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, start.UTC(), end.UTC(), strings.TrimSpace(text))
	if err != nil {
		return Transcript{}, fmt.Errorf("postgres store: insert transcript: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanTranscript)
	if err != nil {
		return Transcript{}, fmt.Errorf("postgres store: insert transcript: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) InsertSummary(ctx context.Context, sessionID string, start, end time.Time, text string) (Summary, error) {
	if err := validateRecord(sessionID, start, end); err != nil {
		return Summary{}, err
	}

	const q = `
		INSERT INTO summaries (session_id, start_time, end_time, summary_text)
		VALUES ($1, $2, $3, $4)
		RETURNING id, session_id, start_time, end_time, summary_text, created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, start.UTC(), end.UTC(), strings.TrimSpace(text))
	if err != nil {
		return Summary{}, fmt.Errorf("postgres store: insert summary: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanSummary)
	if err != nil {
		return Summary{}, fmt.Errorf("postgres store: insert summary: %w", err)
	}
	return rec, nil
}

// FetchInWindow returns transcripts overlapping [start, end].
func (s *PostgresStore) FetchInWindow(ctx context.Context, sessionID string, start, end time.Time) ([]Transcript, error) {
	const q = `
		SELECT id, session_id, start_time, end_time, text, created_at
		FROM   transcripts
		WHERE  session_id = $1
		  AND  end_time   >= $2
		  AND  start_time <= $3
		ORDER  BY start_time, id`

	rows, err := s.pool.Query(ctx, q, sessionID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres store: fetch in window: %w", err)
	}
	return collectTranscripts(rows)
}

// FetchSince returns transcripts that ended at or after cutoff.
func (s *PostgresStore) FetchSince(ctx context.Context, sessionID string, cutoff time.Time) ([]Transcript, error) {
	const q = `
		SELECT id, session_id, start_time, end_time, text, created_at
		FROM   transcripts
		WHERE  session_id = $1
		  AND  end_time   >= $2
		ORDER  BY start_time, id`

	rows, err := s.pool.Query(ctx, q, sessionID, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres store: fetch since: %w", err)
	}
	return collectTranscripts(rows)
}

func (s *PostgresStore) FetchAllSummaries(ctx context.Context, sessionID string) ([]Summary, error) {
	const q = `
		SELECT id, session_id, start_time, end_time, summary_text, created_at
		FROM   summaries
		WHERE  session_id = $1
		ORDER  BY start_time, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: fetch summaries: %w", err)
	}
	summaries, err := pgx.CollectRows(rows, scanSummary)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan summaries: %w", err)
	}
	if summaries == nil {
		summaries = []Summary{}
	}
	return summaries, nil
}

func (s *PostgresStore) LatestSummaryEnd(ctx context.Context, sessionID string) (time.Time, bool, error) {
	var end *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(end_time) FROM summaries WHERE session_id = $1`, sessionID).Scan(&end)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("postgres store: latest summary: %w", err)
	}
	if end == nil {
		return time.Time{}, false, nil
	}
	return end.UTC(), true, nil
}

func (s *PostgresStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	const q = `
		SELECT t.session_id, COUNT(*), MAX(t.end_time),
		       (SELECT COUNT(*) FROM summaries s WHERE s.session_id = t.session_id)
		FROM   transcripts t
		GROUP  BY t.session_id
		ORDER  BY MAX(t.end_time) DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SessionInfo, error) {
		var (
			info        SessionInfo
			transcripts int64
			summaries   int64
		)
		if err := row.Scan(&info.ID, &transcripts, &info.LastEndTime, &summaries); err != nil {
			return SessionInfo{}, err
		}
		info.Transcripts = int(transcripts)
		info.Summaries = int(summaries)
		info.LastEndTime = info.LastEndTime.UTC()
		return info, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan sessions: %w", err)
	}
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	return sessions, nil
}

func collectTranscripts(rows pgx.Rows) ([]Transcript, error) {
	transcripts, err := pgx.CollectRows(rows, scanTranscript)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan transcripts: %w", err)
	}
	if transcripts == nil {
		transcripts = []Transcript{}
	}
	return transcripts, nil
}

func scanTranscript(row pgx.CollectableRow) (Transcript, error) {
	var t Transcript
	if err := row.Scan(&t.ID, &t.SessionID, &t.StartTime, &t.EndTime, &t.Text, &t.CreatedAt); err != nil {
		return Transcript{}, err
	}
	t.StartTime, t.EndTime, t.CreatedAt = t.StartTime.UTC(), t.EndTime.UTC(), t.CreatedAt.UTC()
	return t, nil
}

func scanSummary(row pgx.CollectableRow) (Summary, error) {
	var s Summary
	if err := row.Scan(&s.ID, &s.SessionID, &s.StartTime, &s.EndTime, &s.SummaryText, &s.CreatedAt); err != nil {
		return Summary{}, err
	}
	s.StartTime, s.EndTime, s.CreatedAt = s.StartTime.UTC(), s.EndTime.UTC(), s.CreatedAt.UTC()
	return s, nil
}
