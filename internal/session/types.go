package session

import (
	"context"
	"time"

	"github.com/sjawhar/popquiz/internal/storage"
	"github.com/sjawhar/popquiz/internal/summary"
)

// Fragment is one chunk of raw audio as it arrived at ingress.
type Fragment struct {
	SessionID  string
	Payload    []byte
	ReceivedAt time.Time
}

// Window is audio drained from a session buffer.
type Window struct {
	SessionID string
	Data      []byte
	Start     time.Time
	End       time.Time
}

type Store interface {
	InsertTranscript(ctx context.Context, sessionID string, start, end time.Time, text string) (storage.Transcript, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

type Scheduler interface {
	ConsiderTranscript(ctx context.Context, rec storage.Transcript) (summary.Decision, error)
}

// Evicter is implemented by schedulers that can drop idle session state.
type Evicter interface {
	Evict(before time.Time) int
}

type Archiver interface {
	Append(rec storage.Transcript) error
}

type Spool interface {
	Save(sessionID string, start, end time.Time, pcm []byte) (string, error)
}

type EventBroadcaster interface {
	BroadcastTranscript(rec storage.Transcript)
}
