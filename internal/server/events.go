package server

import (
	"time"

	"github.com/sjawhar/popquiz/internal/quiz"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Room      string `json:"room"`
	Connected bool   `json:"connected"`
}

// MessageEvent relays a text frame from one room subscriber to the room.
type MessageEvent struct {
	Event
	Room    string `json:"room"`
	Message string `json:"message"`
}

type TranscriptStoredEvent struct {
	Event
	SessionID    string `json:"session_id"`
	TranscriptID int64  `json:"transcript_id"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Text         string `json:"text"`
}

type SummaryReadyEvent struct {
	Event
	SessionID string `json:"session_id"`
	SummaryID int64  `json:"summary_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Summary   string `json:"summary"`
}

type QuizEvent struct {
	Event
	SessionID string          `json:"session_id"`
	Questions []quiz.Question `json:"questions"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
