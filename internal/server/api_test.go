package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/popquiz/internal/classctx"
	"github.com/sjawhar/popquiz/internal/quiz"
	"github.com/sjawhar/popquiz/internal/session"
	"github.com/sjawhar/popquiz/internal/storage"
	"github.com/sjawhar/popquiz/internal/transcribe"
)

type ingestStub struct {
	mu       sync.Mutex
	enqueued map[string]int
	flushes  []string
	err      error
	flushErr error
	flushed  *storage.Transcript
}

func (s *ingestStub) Enqueue(sessionID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if len(payload) == 0 {
		return transcribe.ErrEmptyPayload
	}
	if s.enqueued == nil {
		s.enqueued = map[string]int{}
	}
	s.enqueued[sessionID] += len(payload)
	return nil
}

func (s *ingestStub) ForceFlush(_ context.Context, sessionID string) (*storage.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes = append(s.flushes, sessionID)
	return s.flushed, s.flushErr
}

type contextStub struct {
	pkg     *classctx.Package
	minutes []int
}

func (c *contextStub) Build(_ context.Context, sessionID string, recentMinutes int) (*classctx.Package, error) {
	c.minutes = append(c.minutes, recentMinutes)
	if c.pkg == nil {
		return &classctx.Package{SessionID: sessionID}, nil
	}
	return c.pkg, nil
}

type quizStub struct {
	count int
}

func (q *quizStub) Generate(_ context.Context, pkg *classctx.Package, count int) ([]quiz.Question, error) {
	if !pkg.HasContent() {
		return nil, classctx.ErrNoContent
	}
	q.count = count
	return []quiz.Question{{Question: "Q?", Options: []string{"a", "b"}, AnswerIndex: 0}}, nil
}

type sessionsStub struct {
	infos []storage.SessionInfo
}

func (s sessionsStub) Sessions(context.Context) ([]storage.SessionInfo, error) {
	return s.infos, nil
}

type harness struct {
	handler http.Handler
	hub     *Hub
	ingest  *ingestStub
	ctx     *contextStub
	quiz    *quizStub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		hub:    NewHub(),
		ingest: &ingestStub{},
		ctx:    &contextStub{},
		quiz:   &quizStub{},
	}
	h.handler = Handler(Deps{
		Hub:     h.hub,
		Ingest:  h.ingest,
		Context: h.ctx,
		Quiz:    h.quiz,
		Sessions: sessionsStub{infos: []storage.SessionInfo{
			{ID: "room1", Transcripts: 3, LastEndTime: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		}},
		MaxUploadBytes: 1 << 20,
	})
	return h
}

func (h *harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func contentPackage() *classctx.Package {
	return &classctx.Package{
		SessionID:         "room1",
		RecentTranscripts: []storage.Transcript{{Text: "hello"}},
	}
}

func TestHealthCheck(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, httptest.NewRequest(http.MethodGet, "/health_check", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"online"`) {
		t.Fatalf("unexpected health check %d %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected application/json content-type, got %q", got)
	}
}

func TestListRooms(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, httptest.NewRequest(http.MethodGet, "/rooms", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "room1") {
		t.Fatalf("unexpected rooms response %d %s", rr.Code, rr.Body.String())
	}
}

func TestUploadRawAudio(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/rooms/room1/audio", bytes.NewReader(make([]byte, 640)))
	req.Header.Set("Content-Type", "application/octet-stream")

	rr := h.do(t, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["status"] != "queued" || body["bytes"] != float64(640) {
		t.Fatalf("unexpected body %v", body)
	}
	if h.ingest.enqueued["room1"] != 640 {
		t.Fatalf("expected 640 bytes enqueued, got %d", h.ingest.enqueued["room1"])
	}
}

func TestUploadMultipartAudio(t *testing.T) {
	h := newHarness(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "chunk.raw")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	_, _ = part.Write(make([]byte, 320))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/rooms/room1/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := h.do(t, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if h.ingest.enqueued["room1"] != 320 {
		t.Fatalf("expected 320 bytes enqueued, got %d", h.ingest.enqueued["room1"])
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name string
		path string
		body []byte
		err  error
		want int
	}{
		{name: "invalid room", path: "/rooms/bad.room/audio", body: []byte{1}, want: http.StatusForbidden},
		{name: "empty", path: "/rooms/room1/audio", body: nil, want: http.StatusBadRequest},
		{name: "too large", path: "/rooms/room1/audio", body: make([]byte, 2<<20), want: http.StatusRequestEntityTooLarge},
		{name: "closed", path: "/rooms/room1/audio", body: []byte{1}, err: session.ErrClosed, want: http.StatusServiceUnavailable},
		{name: "over provider limit", path: "/rooms/room1/audio", body: []byte{1}, err: transcribe.ErrPayloadTooLarge, want: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ingest.err = tt.err
			rr := h.do(t, httptest.NewRequest(http.MethodPost, tt.path, bytes.NewReader(tt.body)))
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestFlush(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, httptest.NewRequest(http.MethodPost, "/rooms/room1/flush", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"empty"`) {
		t.Fatalf("unexpected empty flush %d %s", rr.Code, rr.Body.String())
	}

	h.ingest.flushed = &storage.Transcript{ID: 9, SessionID: "room1", Text: "done"}
	rr = h.do(t, httptest.NewRequest(http.MethodPost, "/rooms/room1/flush", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"flushed"`) {
		t.Fatalf("unexpected flush %d %s", rr.Code, rr.Body.String())
	}

	h.ingest.flushErr = errors.New("provider down")
	rr = h.do(t, httptest.NewRequest(http.MethodPost, "/rooms/room1/flush", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestContextRoute(t *testing.T) {
	h := newHarness(t)
	h.ctx.pkg = contentPackage()

	rr := h.do(t, httptest.NewRequest(http.MethodGet, "/rooms/room1/context?recent_minutes=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"has_content":true`) {
		t.Fatalf("expected has_content in body, got %s", rr.Body.String())
	}
	if h.ctx.minutes[0] != 5 {
		t.Fatalf("expected recent_minutes 5, got %v", h.ctx.minutes)
	}

	rr = h.do(t, httptest.NewRequest(http.MethodGet, "/rooms/room1/context?recent_minutes=99", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range minutes, got %d", rr.Code)
	}
}

func TestQuizRoute(t *testing.T) {
	h := newHarness(t)
	h.ctx.pkg = contentPackage()
	ch := h.hub.Subscribe("room1")
	defer h.hub.Unsubscribe("room1", ch)

	req := httptest.NewRequest(http.MethodPost, "/rooms/room1/quiz", strings.NewReader(`{"question_count":4,"recent_minutes":2}`))
	rr := h.do(t, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if h.quiz.count != 4 || h.ctx.minutes[0] != 2 {
		t.Fatalf("expected count 4 and minutes 2, got %d and %v", h.quiz.count, h.ctx.minutes)
	}
	if len(h.ingest.flushes) != 1 {
		t.Fatalf("expected a force flush before the quiz, got %v", h.ingest.flushes)
	}

	select {
	case msg := <-ch:
		if !strings.Contains(string(msg), `"type":"quiz"`) {
			t.Fatalf("expected quiz event, got %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected quiz broadcast")
	}
}

func TestQuizDefaultsAndValidation(t *testing.T) {
	h := newHarness(t)
	h.ctx.pkg = contentPackage()

	rr := h.do(t, httptest.NewRequest(http.MethodPost, "/rooms/room1/quiz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if h.quiz.count != quiz.DefaultQuestions || h.ctx.minutes[0] != defaultRecentMinutes {
		t.Fatalf("expected defaults, got %d and %v", h.quiz.count, h.ctx.minutes)
	}

	for _, body := range []string{`{"question_count":11}`, `{"recent_minutes":0}`, `{not json`} {
		rr := h.do(t, httptest.NewRequest(http.MethodPost, "/rooms/room1/quiz", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, rr.Code)
		}
	}
}

func TestQuizWithoutContent(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, httptest.NewRequest(http.MethodPost, "/rooms/room1/quiz", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "no transcripts available yet") {
		t.Fatalf("expected no content error, got %s", rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rr.Code)
	}
}
