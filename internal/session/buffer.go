package session

import (
	"sort"
	"sync"
	"time"
)

type sessionBuffer struct {
	data            []byte
	windowStartedAt time.Time
	lastFragmentAt  time.Time
}

// BufferManager holds one growable byte buffer per session. windowStartedAt
// always reflects the receipt time of the first byte currently held.
type BufferManager struct {
	threshold int

	mu      sync.Mutex
	buffers map[string]*sessionBuffer
}

// NewBufferManager creates a manager that flushes at threshold bytes.
func NewBufferManager(threshold int) *BufferManager {
	if threshold < 1 {
		threshold = 1
	}
	return &BufferManager{
		threshold: threshold,
		buffers:   make(map[string]*sessionBuffer),
	}
}

func (b *BufferManager) Threshold() int {
	return b.threshold
}

// Accumulate appends the fragment payload and returns the buffer size.
func (b *BufferManager) Accumulate(f Fragment) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[f.SessionID]
	if !ok {
		buf = &sessionBuffer{}
		b.buffers[f.SessionID] = buf
	}
	if len(buf.data) == 0 {
		buf.windowStartedAt = f.ReceivedAt
	}
	buf.data = append(buf.data, f.Payload...)
	buf.lastFragmentAt = f.ReceivedAt
	return len(buf.data)
}

// Size returns the number of bytes held for a session.
func (b *BufferManager) Size(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.buffers[sessionID]; ok {
		return len(buf.data)
	}
	return 0
}

// Drain takes everything buffered for a session. It reports false when the
// buffer is empty or absent.
func (b *BufferManager) Drain(sessionID string, end time.Time) (Window, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[sessionID]
	if !ok || len(buf.data) == 0 {
		return Window{}, false
	}
	w := Window{SessionID: sessionID, Data: buf.data, Start: buf.windowStartedAt, End: end}
	buf.data = nil
	buf.windowStartedAt = time.Time{}
	return clampWindow(w), true
}

// Cut takes exactly one threshold of bytes once the buffer has reached it.
// The held remainder was received with the latest fragment, so the next
// window starts at that fragment's receipt time.
func (b *BufferManager) Cut(sessionID string, end time.Time) (Window, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.buffers[sessionID]
	if !ok || len(buf.data) < b.threshold {
		return Window{}, false
	}

	out := make([]byte, b.threshold)
	copy(out, buf.data[:b.threshold])
	w := Window{SessionID: sessionID, Data: out, Start: buf.windowStartedAt, End: end}

	rest := len(buf.data) - b.threshold
	if rest == 0 {
		buf.data = nil
		buf.windowStartedAt = time.Time{}
	} else {
		buf.data = append(buf.data[:0], buf.data[b.threshold:]...)
		buf.windowStartedAt = buf.lastFragmentAt
	}
	return clampWindow(w), true
}

// EvictIdle removes buffers that received nothing since before and returns
// whatever audio they still held, ordered by session id.
func (b *BufferManager) EvictIdle(before time.Time) []Window {
	b.mu.Lock()
	defer b.mu.Unlock()

	var windows []Window
	for id, buf := range b.buffers {
		if !buf.lastFragmentAt.Before(before) {
			continue
		}
		if len(buf.data) > 0 {
			windows = append(windows, clampWindow(Window{
				SessionID: id,
				Data:      buf.data,
				Start:     buf.windowStartedAt,
				End:       buf.lastFragmentAt,
			}))
		}
		delete(b.buffers, id)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].SessionID < windows[j].SessionID })
	return windows
}

// Sessions returns the number of sessions with a live buffer.
func (b *BufferManager) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers)
}

func clampWindow(w Window) Window {
	if w.End.Before(w.Start) {
		w.End = w.Start
	}
	return w
}
