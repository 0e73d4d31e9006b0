package summary

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sjawhar/popquiz/internal/observe"
	"github.com/sjawhar/popquiz/internal/storage"
)

// Decision is the outcome of one ConsiderTranscript call.
type Decision int

const (
	// Skipped means the session was summarized less than one window ago.
	Skipped Decision = iota
	// Abandoned means the window held too few transcripts. State is untouched.
	Abandoned
	Summarized
	// Failed means the capability or the store returned an error.
	Failed
)

func (d Decision) String() string {
	switch d {
	case Skipped:
		return "skipped"
	case Abandoned:
		return "abandoned"
	case Summarized:
		return "summarized"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

type sessionState struct {
	mu     sync.Mutex
	seeded bool
	// last is read without mu on the fast path and written only under mu.
	last    atomic.Pointer[time.Time]
	touched atomic.Int64
}

func (s *sessionState) recent(end time.Time, window time.Duration) bool {
	last := s.last.Load()
	return last != nil && end.Sub(*last) < window
}

// Scheduler decides per session whether a newly stored transcript should
// trigger a summary over the trailing window. At most one summary is in
// flight per session; sessions never block each other.
type Scheduler struct {
	store      Store
	summarizer Capability
	notifier   Notifier
	window     time.Duration
	minChunks  int
	metrics    *observe.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type SchedulerOption func(*Scheduler)

func WithNotifier(n Notifier) SchedulerOption {
	return func(s *Scheduler) { s.notifier = n }
}

func WithMetrics(m *observe.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

func NewScheduler(store Store, capability Capability, window time.Duration, minChunks int, opts ...SchedulerOption) *Scheduler {
	if minChunks < 1 {
		minChunks = 1
	}
	s := &Scheduler{
		store:      store,
		summarizer: capability,
		window:     window,
		minChunks:  minChunks,
		logger:     slog.Default(),
		now:        time.Now,
		sessions:   make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

func (s *Scheduler) state(sessionID string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		s.sessions[sessionID] = st
	}
	st.touched.Store(s.now().UnixNano())
	return st
}

// ConsiderTranscript runs the double-checked summary gate for rec's
// session. A Failed decision carries the error; the transcript itself is
// already stored and is not affected.
func (s *Scheduler) ConsiderTranscript(ctx context.Context, rec storage.Transcript) (Decision, error) {
	decision, err := s.consider(ctx, rec)
	s.metrics.RecordDecision(ctx, decision.String())
	return decision, err
}

func (s *Scheduler) consider(ctx context.Context, rec storage.Transcript) (Decision, error) {
	st := s.state(rec.SessionID)
	if st.recent(rec.EndTime, s.window) {
		return Skipped, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.seeded {
		last, ok, err := s.store.LatestSummaryEnd(ctx, rec.SessionID)
		if err != nil {
			return Failed, fmt.Errorf("load summary state for %s: %w", rec.SessionID, err)
		}
		if ok {
			st.last.Store(&last)
		}
		st.seeded = true
	}
	if st.recent(rec.EndTime, s.window) {
		return Skipped, nil
	}

	rows, err := s.store.FetchInWindow(ctx, rec.SessionID, rec.EndTime.Add(-s.window), rec.EndTime)
	if err != nil {
		return Failed, fmt.Errorf("fetch summary window for %s: %w", rec.SessionID, err)
	}
	if len(rows) < s.minChunks {
		s.logger.Debug("summary window below minimum",
			"session", rec.SessionID, "chunks", len(rows), "min_chunks", s.minChunks)
		return Abandoned, nil
	}

	started := time.Now()
	text, err := s.summarizer.Summarize(ctx, rows)
	s.metrics.SummaryDuration.Record(ctx, time.Since(started).Seconds())
	if err != nil {
		return Failed, fmt.Errorf("summarize %s: %w", rec.SessionID, err)
	}

	saved, err := s.store.InsertSummary(ctx, rec.SessionID, rows[0].StartTime, rows[len(rows)-1].EndTime, text)
	if err != nil {
		return Failed, fmt.Errorf("store summary for %s: %w", rec.SessionID, err)
	}

	end := rec.EndTime
	st.last.Store(&end)

	s.logger.Info("summary stored",
		"session", rec.SessionID, "chunks", len(rows),
		"start", saved.StartTime.Format(time.RFC3339), "end", saved.EndTime.Format(time.RFC3339))
	if s.notifier != nil {
		s.notifier.SummaryReady(rec.SessionID, saved)
	}
	return Summarized, nil
}

// LastSummaryEnd reports the in-memory end time of the session's latest
// summary.
func (s *Scheduler) LastSummaryEnd(sessionID string) (time.Time, bool) {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	last := st.last.Load()
	if last == nil {
		return time.Time{}, false
	}
	return *last, true
}

// Evict drops state for sessions not touched since before. Sessions with a
// summary in flight are kept. It returns the number of sessions removed.
func (s *Scheduler) Evict(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, st := range s.sessions {
		if st.touched.Load() >= before.UnixNano() {
			continue
		}
		if !st.mu.TryLock() {
			continue
		}
		delete(s.sessions, id)
		st.mu.Unlock()
		removed++
	}
	return removed
}
