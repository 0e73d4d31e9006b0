package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrInvalidSpan     = errors.New("end time precedes start time")
)

// Transcript is one transcribed audio window.
type Transcript struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Duration is EndTime - StartTime.
func (t Transcript) Duration() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// Summary spans the transcripts it was computed from.
type Summary struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	SummaryText string    `json:"summary_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionInfo describes a session that has stored transcripts.
type SessionInfo struct {
	ID          string    `json:"id"`
	Transcripts int       `json:"transcripts"`
	Summaries   int       `json:"summaries"`
	LastEndTime time.Time `json:"last_end_time"`
}

func validateRecord(sessionID string, start, end time.Time) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionRequired
	}
	if end.Before(start) {
		return fmt.Errorf("session %s: %w", sessionID, ErrInvalidSpan)
	}
	return nil
}
