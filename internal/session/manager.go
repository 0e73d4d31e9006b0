package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/sjawhar/popquiz/internal/observe"
	"github.com/sjawhar/popquiz/internal/storage"
	"github.com/sjawhar/popquiz/internal/transcribe"
)

type flushResult struct {
	rec *storage.Transcript
	err error
}

type flushRequest struct {
	sessionID string
	result    chan flushResult
}

// work is one queue item: a fragment, a force-flush request or an idle sweep.
type work struct {
	fragment *Fragment
	flush    *flushRequest
	sweep    time.Time
}

// Manager is the ingestion pipeline. Producers call Enqueue and ForceFlush
// from any goroutine; buffers are only touched by the single Run loop.
type Manager struct {
	buffers     *BufferManager
	queue       *Queue[work]
	transcriber Transcriber
	store       Store
	scheduler   Scheduler
	archive     Archiver
	hub         EventBroadcaster
	spool       Spool
	detector    *Detector
	maxPayload  int
	metrics     *observe.Metrics
	logger      *slog.Logger
	now         func() time.Time

	closed atomic.Bool
}

type Option func(*Manager)

func WithArchive(a Archiver) Option {
	return func(m *Manager) { m.archive = a }
}

func WithBroadcaster(hub EventBroadcaster) Option {
	return func(m *Manager) { m.hub = hub }
}

// WithSpool keeps windows whose transcription failed.
func WithSpool(s Spool) Option {
	return func(m *Manager) { m.spool = s }
}

// WithIdleTTL drains and drops sessions that received no audio for ttl.
func WithIdleTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.detector = NewDetector(ttl) }
}

func WithMaxPayload(n int) Option {
	return func(m *Manager) { m.maxPayload = n }
}

func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(buffers *BufferManager, transcriber Transcriber, store Store, scheduler Scheduler, opts ...Option) *Manager {
	m := &Manager{
		buffers:     buffers,
		queue:       NewQueue[work](),
		transcriber: transcriber,
		store:       store,
		scheduler:   scheduler,
		maxPayload:  transcribe.MaxInlineBytes,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	m.detector.OnIdle(func(before time.Time) {
		m.put(work{sweep: before})
	})
	return m
}

// Enqueue accepts a fragment for a session. Empty and oversized payloads
// are rejected here and never reach the queue.
func (m *Manager) Enqueue(sessionID string, payload []byte) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	if err := transcribe.Check(payload, m.maxPayload); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrClosed
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	m.put(work{fragment: &Fragment{SessionID: sessionID, Payload: data, ReceivedAt: m.now()}})
	m.metrics.FragmentsEnqueued.Add(context.Background(), 1)
	return nil
}

// ForceFlush transcribes whatever is buffered for the session once every
// fragment enqueued before it has been processed. It returns nil when
// nothing was buffered.
func (m *Manager) ForceFlush(ctx context.Context, sessionID string) (*storage.Transcript, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	req := &flushRequest{sessionID: sessionID, result: make(chan flushResult, 1)}
	m.put(work{flush: req})

	select {
	case res := <-req.result:
		return res.rec, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait blocks until every queued item has been processed.
func (m *Manager) Wait(ctx context.Context) error {
	return m.queue.Join(ctx)
}

// Buffered returns the bytes currently held for a session.
func (m *Manager) Buffered(sessionID string) int {
	return m.buffers.Size(sessionID)
}

// Close stops accepting fragments. Items already queued are still processed
// while Run is active.
func (m *Manager) Close() {
	m.closed.Store(true)
}

// Run consumes the queue until ctx is done. A failing item never stops the
// loop.
func (m *Manager) Run(ctx context.Context) error {
	go m.detector.Run(ctx)

	for {
		item, err := m.queue.Get(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		m.process(ctx, item)
	}
}

func (m *Manager) put(item work) {
	m.queue.Put(item)
	m.metrics.QueueDepth.Add(context.Background(), 1)
}

func (m *Manager) process(ctx context.Context, item work) {
	defer func() {
		m.queue.Done()
		m.metrics.QueueDepth.Add(context.Background(), -1)
	}()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("ingest: recovered from panic", "panic", r, "stack", string(debug.Stack()))
			if item.flush != nil {
				item.flush.result <- flushResult{err: fmt.Errorf("flush %s: panic: %v", item.flush.sessionID, r)}
			}
		}
	}()

	switch {
	case item.fragment != nil:
		m.processFragment(ctx, *item.fragment)
	case item.flush != nil:
		var res flushResult
		if w, ok := m.buffers.Drain(item.flush.sessionID, m.now()); ok {
			res.rec, res.err = m.flushWindow(ctx, w, "force")
		}
		item.flush.result <- res
	default:
		m.sweepIdle(ctx, item.sweep)
	}
}

func (m *Manager) processFragment(ctx context.Context, f Fragment) {
	if m.buffers.Accumulate(f) < m.buffers.Threshold() {
		return
	}
	for {
		w, ok := m.buffers.Cut(f.SessionID, f.ReceivedAt)
		if !ok {
			return
		}
		if _, err := m.flushWindow(ctx, w, "threshold"); err != nil {
			m.logger.Warn("ingest: window lost", "session", f.SessionID, "err", err)
		}
	}
}

func (m *Manager) sweepIdle(ctx context.Context, before time.Time) {
	for _, w := range m.buffers.EvictIdle(before) {
		if _, err := m.flushWindow(ctx, w, "idle"); err != nil {
			m.logger.Warn("ingest: idle window lost", "session", w.SessionID, "err", err)
		}
	}
	if ev, ok := m.scheduler.(Evicter); ok {
		if n := ev.Evict(before); n > 0 {
			m.logger.Info("ingest: evicted idle scheduler state", "sessions", n)
		}
	}
}

// flushWindow runs transcribe, store and schedule in order for one window.
// A failed transcription discards the window.
func (m *Manager) flushWindow(ctx context.Context, w Window, reason string) (*storage.Transcript, error) {
	m.metrics.RecordFlush(ctx, reason, len(w.Data))

	started := time.Now()
	text, err := m.transcriber.Transcribe(ctx, w.Data)
	m.metrics.TranscribeDuration.Record(ctx, time.Since(started).Seconds())
	if err != nil {
		m.metrics.TranscribeFailures.Add(ctx, 1)
		m.spoolWindow(w)
		return nil, fmt.Errorf("transcribe %s window: %w", w.SessionID, err)
	}

	rec, err := m.store.InsertTranscript(ctx, w.SessionID, w.Start, w.End, text)
	if err != nil {
		return nil, fmt.Errorf("store transcript: %w", err)
	}
	m.logger.Info("ingest: transcript stored",
		"session", rec.SessionID, "id", rec.ID, "bytes", len(w.Data), "reason", reason)

	if m.archive != nil {
		if err := m.archive.Append(rec); err != nil {
			m.logger.Warn("ingest: archive append failed", "session", rec.SessionID, "err", err)
		}
	}
	if m.hub != nil {
		m.hub.BroadcastTranscript(rec)
	}

	if m.scheduler != nil {
		decision, err := m.scheduler.ConsiderTranscript(ctx, rec)
		if err != nil {
			m.logger.Warn("ingest: rolling summary failed", "session", rec.SessionID, "err", err)
		} else {
			m.logger.Debug("ingest: rolling summary", "session", rec.SessionID, "decision", decision.String())
		}
	}
	return &rec, nil
}

func (m *Manager) spoolWindow(w Window) {
	if m.spool == nil {
		return
	}
	path, err := m.spool.Save(w.SessionID, w.Start, w.End, w.Data)
	if err != nil {
		m.logger.Warn("ingest: dead letter write failed", "session", w.SessionID, "err", err)
		return
	}
	m.logger.Info("ingest: failed window kept", "session", w.SessionID, "path", path)
}
