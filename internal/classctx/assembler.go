// Package classctx assembles the "current context" of a classroom session:
// every rolling summary plus the transcripts of the last few minutes.
package classctx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/popquiz/internal/storage"
)

// DefaultRecentMinutes is used when Build is called with a non-positive
// window.
const DefaultRecentMinutes = 10

// ErrNoContent is returned by consumers that need at least one summary or
// transcript.
var ErrNoContent = errors.New("no transcripts available yet")

type Store interface {
	FetchAllSummaries(ctx context.Context, sessionID string) ([]storage.Summary, error)
	FetchSince(ctx context.Context, sessionID string, cutoff time.Time) ([]storage.Transcript, error)
}

// Package is a read-only snapshot of a session's context.
type Package struct {
	SessionID         string               `json:"session_id"`
	RecentMinutes     int                  `json:"recent_minutes"`
	Summaries         []storage.Summary    `json:"summaries"`
	RecentTranscripts []storage.Transcript `json:"recent_transcripts"`
	BuiltAt           time.Time            `json:"built_at"`
}

// HasContent reports whether either list is non-empty.
func (p *Package) HasContent() bool {
	return p != nil && (len(p.Summaries) > 0 || len(p.RecentTranscripts) > 0)
}

// RenderSummaryBlock formats summaries as "[start-end] text" lines.
func (p *Package) RenderSummaryBlock() string {
	if len(p.Summaries) == 0 {
		return "No summaries captured yet."
	}
	lines := make([]string, len(p.Summaries))
	for i, s := range p.Summaries {
		lines[i] = fmt.Sprintf("[%s-%s] %s", clock(s.StartTime), clock(s.EndTime), strings.TrimSpace(s.SummaryText))
	}
	return strings.Join(lines, "\n")
}

// RenderRecentBlock joins recent transcript texts with blank lines.
func (p *Package) RenderRecentBlock() string {
	if len(p.RecentTranscripts) == 0 {
		return "No recent transcripts available."
	}
	parts := make([]string, len(p.RecentTranscripts))
	for i, t := range p.RecentTranscripts {
		parts[i] = strings.TrimSpace(t.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Markdown renders the package as a standalone document.
func (p *Package) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", p.SessionID)
	b.WriteString("## Summaries\n\n")
	b.WriteString(p.RenderSummaryBlock())
	fmt.Fprintf(&b, "\n\n## Last %d minutes\n\n", p.RecentMinutes)
	b.WriteString(p.RenderRecentBlock())
	b.WriteString("\n")
	return b.String()
}

func clock(t time.Time) string {
	return t.UTC().Format("15:04:05")
}

// Assembler builds context packages from the session store.
type Assembler struct {
	store          Store
	defaultMinutes int
	now            func() time.Time
}

type Option func(*Assembler)

// WithDefaultMinutes overrides DefaultRecentMinutes.
func WithDefaultMinutes(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.defaultMinutes = n
		}
	}
}

func NewAssembler(store Store, opts ...Option) *Assembler {
	a := &Assembler{
		store:          store,
		defaultMinutes: DefaultRecentMinutes,
		now:            time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Build fetches all summaries and the transcripts that ended within the last
// recentMinutes, concurrently. It has no side effects.
func (a *Assembler) Build(ctx context.Context, sessionID string, recentMinutes int) (*Package, error) {
	if recentMinutes <= 0 {
		recentMinutes = a.defaultMinutes
	}
	now := a.now()
	cutoff := now.Add(-time.Duration(recentMinutes) * time.Minute)

	var (
		summaries []storage.Summary
		recent    []storage.Transcript
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		rows, err := a.store.FetchAllSummaries(egCtx, sessionID)
		if err != nil {
			return fmt.Errorf("class context: fetch summaries for %q: %w", sessionID, err)
		}
		summaries = rows
		return nil
	})
	eg.Go(func() error {
		rows, err := a.store.FetchSince(egCtx, sessionID, cutoff)
		if err != nil {
			return fmt.Errorf("class context: fetch recent transcripts for %q: %w", sessionID, err)
		}
		recent = rows
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if summaries == nil {
		summaries = []storage.Summary{}
	}
	if recent == nil {
		recent = []storage.Transcript{}
	}
	return &Package{
		SessionID:         sessionID,
		RecentMinutes:     recentMinutes,
		Summaries:         summaries,
		RecentTranscripts: recent,
		BuiltAt:           now.UTC(),
	}, nil
}
