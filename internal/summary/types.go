package summary

import (
	"context"
	"time"

	"github.com/sjawhar/popquiz/internal/storage"
)

// Store is the slice of the Session Store the scheduler reads and writes.
type Store interface {
	FetchInWindow(ctx context.Context, sessionID string, start, end time.Time) ([]storage.Transcript, error)
	InsertSummary(ctx context.Context, sessionID string, start, end time.Time, text string) (storage.Summary, error)
	LatestSummaryEnd(ctx context.Context, sessionID string) (time.Time, bool, error)
}

// Capability produces summary text from transcripts ordered oldest-first.
type Capability interface {
	Summarize(ctx context.Context, transcripts []storage.Transcript) (string, error)
}

// Notifier is told about every stored summary.
type Notifier interface {
	SummaryReady(sessionID string, rec storage.Summary)
}
