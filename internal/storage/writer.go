package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

var archiveNameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Writer appends stored transcripts to one markdown file per session and
// remembers which files changed since the last Dirty call.
type Writer struct {
	dir string

	mu    sync.Mutex
	dirty map[string]struct{}
}

func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = filepath.Join("data", "transcripts")
	}
	return &Writer{dir: dir, dirty: make(map[string]struct{})}
}

func (w *Writer) Append(rec Transcript) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.path(rec.SessionID)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, FormatMarkdown(rec)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	w.dirty[rec.SessionID] = struct{}{}
	return nil
}

// Path returns the archive file for a session.
func (w *Writer) Path(sessionID string) string {
	return w.path(sessionID)
}

func (w *Writer) path(sessionID string) string {
	return filepath.Join(w.dir, archiveNameUnsafe.ReplaceAllString(sessionID, "_")+".md")
}

// Dirty returns and clears the sessions appended to since the previous call.
func (w *Writer) Dirty() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.dirty))
	for id := range w.dirty {
		ids = append(ids, id)
	}
	clear(w.dirty)
	sort.Strings(ids)
	return ids
}

// MarkDirty re-queues sessions whose export failed.
func (w *Writer) MarkDirty(ids ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range ids {
		w.dirty[id] = struct{}{}
	}
}

// FormatMarkdown renders one transcript as a markdown line:
// **[15:04:05 - 15:05:05]** text
func FormatMarkdown(rec Transcript) string {
	return fmt.Sprintf("**[%s - %s]** %s",
		rec.StartTime.Local().Format(time.TimeOnly),
		rec.EndTime.Local().Format(time.TimeOnly),
		rec.Text,
	)
}
