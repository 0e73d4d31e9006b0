package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps transcripts and summaries in a single SQLite file.
// Timestamps are stored as unix milliseconds so window queries compare
// integers.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "popquiz.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	statements := []struct{ name, sql string }{
		{"transcripts table", `
			CREATE TABLE IF NOT EXISTS transcripts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				start_time INTEGER NOT NULL,
				end_time INTEGER NOT NULL,
				text TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`},
		{"summaries table", `
			CREATE TABLE IF NOT EXISTS summaries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				start_time INTEGER NOT NULL,
				end_time INTEGER NOT NULL,
				summary_text TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`},
		{"transcripts start index", "CREATE INDEX IF NOT EXISTS idx_transcripts_session_start ON transcripts(session_id, start_time)"},
		{"transcripts end index", "CREATE INDEX IF NOT EXISTS idx_transcripts_session_end ON transcripts(session_id, end_time)"},
		{"summaries index", "CREATE INDEX IF NOT EXISTS idx_summaries_session_start ON summaries(session_id, start_time)"},
	}
	for _, st := range statements {
		if _, err := s.db.Exec(st.sql); err != nil {
			return fmt.Errorf("create %s: %w", st.name, err)
		}
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) InsertTranscript(ctx context.Context, sessionID string, start, end time.Time, text string) (Transcript, error) {
	if err := validateRecord(sessionID, start, end); err != nil {
		return Transcript{}, err
	}

	rec := Transcript{
		SessionID: sessionID,
		StartTime: fromMillis(start.UnixMilli()),
		EndTime:   fromMillis(end.UnixMilli()),
		Text:      strings.TrimSpace(text),
		CreatedAt: s.now().UTC(),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(session_id, start_time, end_time, text, created_at) VALUES(?, ?, ?, ?, ?)`,
		sessionID,
		start.UnixMilli(),
		end.UnixMilli(),
		rec.Text,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Transcript{}, fmt.Errorf("insert transcript for session %s: %w", sessionID, err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return Transcript{}, fmt.Errorf("insert transcript id: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) InsertSummary(ctx context.Context, sessionID string, start, end time.Time, text string) (Summary, error) {
	if err := validateRecord(sessionID, start, end); err != nil {
		return Summary{}, err
	}

	rec := Summary{
		SessionID:   sessionID,
		StartTime:   fromMillis(start.UnixMilli()),
		EndTime:     fromMillis(end.UnixMilli()),
		SummaryText: strings.TrimSpace(text),
		CreatedAt:   s.now().UTC(),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO summaries(session_id, start_time, end_time, summary_text, created_at) VALUES(?, ?, ?, ?, ?)`,
		sessionID,
		start.UnixMilli(),
		end.UnixMilli(),
		rec.SummaryText,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Summary{}, fmt.Errorf("insert summary for session %s: %w", sessionID, err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return Summary{}, fmt.Errorf("insert summary id: %w", err)
	}
	return rec, nil
}

// FetchInWindow returns transcripts overlapping [start, end].
func (s *SQLiteStore) FetchInWindow(ctx context.Context, sessionID string, start, end time.Time) ([]Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, start_time, end_time, text, created_at
		 FROM transcripts
		 WHERE session_id = ? AND end_time >= ? AND start_time <= ?
		 ORDER BY start_time ASC, id ASC`,
		sessionID,
		start.UnixMilli(),
		end.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query transcripts in window for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	return scanTranscripts(rows)
}

// FetchSince returns transcripts that ended at or after cutoff.
func (s *SQLiteStore) FetchSince(ctx context.Context, sessionID string, cutoff time.Time) ([]Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, start_time, end_time, text, created_at
		 FROM transcripts
		 WHERE session_id = ? AND end_time >= ?
		 ORDER BY start_time ASC, id ASC`,
		sessionID,
		cutoff.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query transcripts since for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	return scanTranscripts(rows)
}

func (s *SQLiteStore) FetchAllSummaries(ctx context.Context, sessionID string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, start_time, end_time, summary_text, created_at
		 FROM summaries
		 WHERE session_id = ?
		 ORDER BY start_time ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query summaries for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	summaries := make([]Summary, 0, 8)
	for rows.Next() {
		var rec Summary
		var startMs, endMs int64
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &startMs, &endMs, &rec.SummaryText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan summary for session %s: %w", sessionID, err)
		}
		rec.StartTime = fromMillis(startMs)
		rec.EndTime = fromMillis(endMs)
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse summary created_at: %w", err)
		}
		summaries = append(summaries, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows for session %s: %w", sessionID, err)
	}

	return summaries, nil
}

// LatestSummaryEnd returns the end time of the most recent summary for the
// session. ok is false when none exists.
func (s *SQLiteStore) LatestSummaryEnd(ctx context.Context, sessionID string) (time.Time, bool, error) {
	var endMs sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(end_time) FROM summaries WHERE session_id = ?`,
		sessionID,
	).Scan(&endMs)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query latest summary for session %s: %w", sessionID, err)
	}
	if !endMs.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(endMs.Int64), true, nil
}

func (s *SQLiteStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.session_id, COUNT(*), MAX(t.end_time),
		       (SELECT COUNT(*) FROM summaries s WHERE s.session_id = t.session_id)
		FROM transcripts t
		GROUP BY t.session_id
		ORDER BY MAX(t.end_time) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]SessionInfo, 0, 8)
	for rows.Next() {
		var info SessionInfo
		var lastMs int64
		if err := rows.Scan(&info.ID, &info.Transcripts, &lastMs, &info.Summaries); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.LastEndTime = fromMillis(lastMs)
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

func scanTranscripts(rows *sql.Rows) ([]Transcript, error) {
	transcripts := make([]Transcript, 0, 16)
	for rows.Next() {
		var rec Transcript
		var startMs, endMs int64
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &startMs, &endMs, &rec.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		rec.StartTime = fromMillis(startMs)
		rec.EndTime = fromMillis(endMs)

		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse transcript created_at: %w", err)
		}
		rec.CreatedAt = parsed

		transcripts = append(transcripts, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}

	return transcripts, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
