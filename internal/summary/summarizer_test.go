package summary

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/popquiz/internal/llm"
	"github.com/sjawhar/popquiz/internal/storage"
)

type mockLLMClient struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
	failN    int
	lastReq  llm.Request
}

func (m *mockLLMClient) Complete(_ context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastReq = req
	if m.err != nil && (m.failN == 0 || m.calls <= m.failN) {
		return "", m.err
	}
	return m.response, nil
}

func transcriptAt(session string, startSec, endSec int, text string) storage.Transcript {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return storage.Transcript{
		SessionID: session,
		StartTime: base.Add(time.Duration(startSec) * time.Second),
		EndTime:   base.Add(time.Duration(endSec) * time.Second),
		Text:      text,
	}
}

func TestSummarizeBuildsClassroomPrompt(t *testing.T) {
	client := &mockLLMClient{response: "- photosynthesis"}
	s := NewSummarizer(client)
	s.sleep = func(time.Duration) {}

	got, err := s.Summarize(context.Background(), []storage.Transcript{
		transcriptAt("room1", 0, 60, "Chlorophyll absorbs light."),
		transcriptAt("room1", 125, 185, "  Glucose is produced.  "),
	})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if got != "- photosynthesis" {
		t.Fatalf("expected summary text, got %q", got)
	}
	if !strings.Contains(client.lastReq.System, "proper noun") {
		t.Fatalf("expected classroom system prompt, got %q", client.lastReq.System)
	}
	want := "[1 @ 00:00 (+60.0s)] Chlorophyll absorbs light.\n[2 @ 02:05 (+60.0s)] Glucose is produced."
	if client.lastReq.Prompt != want {
		t.Fatalf("unexpected prompt:\n%s\nwant:\n%s", client.lastReq.Prompt, want)
	}
}

func TestSummarizeEmptyInput(t *testing.T) {
	client := &mockLLMClient{response: "unused"}
	s := NewSummarizer(client)

	_, err := s.Summarize(context.Background(), nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("expected no llm calls, got %d", client.calls)
	}
}

func TestSummarizeRetriesWithBackoff(t *testing.T) {
	client := &mockLLMClient{response: "ok", err: errors.New("temporary"), failN: 2}
	s := NewSummarizer(client)
	var slept []time.Duration
	s.sleep = func(d time.Duration) { slept = append(slept, d) }

	got, err := s.Summarize(context.Background(), []storage.Transcript{transcriptAt("room1", 0, 1, "x")})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if got != "ok" {
		t.Fatalf("expected ok, got %q", got)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 llm calls, got %d", client.calls)
	}
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 4*time.Second {
		t.Fatalf("unexpected backoff sequence %v", slept)
	}
}

func TestSummarizeGivesUpAfterRetries(t *testing.T) {
	client := &mockLLMClient{err: errors.New("down")}
	s := NewSummarizer(client)
	s.sleep = func(time.Duration) {}

	_, err := s.Summarize(context.Background(), []storage.Transcript{transcriptAt("room1", 0, 1, "x")})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 llm calls, got %d", client.calls)
	}
}
