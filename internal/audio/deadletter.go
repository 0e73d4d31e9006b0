package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Spool writes audio windows that could not be transcribed to disk as WAV
// files so they can be replayed by hand.
type Spool struct {
	dir    string
	format Format
	mu     sync.Mutex
}

func NewSpool(dir string, f Format) *Spool {
	return &Spool{dir: dir, format: f}
}

// Save writes pcm to <dir>/<session>/<start>-<end>.wav and returns the path.
func (s *Spool) Save(sessionID string, start, end time.Time, pcm []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dir, unsafeName.ReplaceAllString(sessionID, "_"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	wav, err := EncodeWAV(pcm, s.format)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%d-%d.wav", start.UTC().UnixMilli(), end.UTC().UnixMilli())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
