package quiz

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sjawhar/popquiz/internal/classctx"
	"github.com/sjawhar/popquiz/internal/llm"
	"github.com/sjawhar/popquiz/internal/storage"
)

type mockLLMClient struct {
	calls    int
	response string
	err      error
	lastReq  llm.Request
}

func (m *mockLLMClient) Complete(_ context.Context, req llm.Request) (string, error) {
	m.calls++
	m.lastReq = req
	return m.response, m.err
}

func samplePackage() *classctx.Package {
	return &classctx.Package{
		SessionID:         "room1",
		RecentMinutes:     10,
		Summaries:         []storage.Summary{{SummaryText: "- mitosis has four phases"}},
		RecentTranscripts: []storage.Transcript{{Text: "Anaphase pulls chromatids apart."}},
	}
}

const twoQuestions = `[
 {"question":"Which phase separates chromatids?","options":["Prophase","Anaphase"],"answer_index":1,"rationale":"Discussed last."},
 {"question":"How many phases?","options":["Three","Four"],"answer_index":1}
]`

func TestGenerate(t *testing.T) {
	client := &mockLLMClient{response: twoQuestions}
	g := NewGenerator(client)

	questions, err := g.Generate(context.Background(), samplePackage(), 2)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].AnswerIndex != 1 || questions[0].Options[1] != "Anaphase" {
		t.Fatalf("unexpected first question %+v", questions[0])
	}
	if !client.lastReq.JSON {
		t.Fatal("expected JSON mode request")
	}
	prompt := client.lastReq.Prompt
	if !strings.Contains(prompt, "write 2 multiple-choice questions") {
		t.Fatalf("expected count in prompt, got %q", prompt)
	}
	if strings.Index(prompt, "Anaphase pulls") > strings.Index(prompt, "mitosis has four phases") {
		t.Fatal("expected recent transcript ahead of summaries")
	}
}

func TestGenerateTruncatesAndClamps(t *testing.T) {
	client := &mockLLMClient{response: twoQuestions}
	g := NewGenerator(client)

	questions, err := g.Generate(context.Background(), samplePackage(), 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("expected clamp to 1 question, got %d", len(questions))
	}
	if Clamp(50) != MaxQuestions {
		t.Fatalf("expected clamp to %d, got %d", MaxQuestions, Clamp(50))
	}
}

func TestGenerateWithoutContent(t *testing.T) {
	client := &mockLLMClient{response: twoQuestions}
	g := NewGenerator(client)

	_, err := g.Generate(context.Background(), &classctx.Package{SessionID: "room1"}, 3)
	if !errors.Is(err, classctx.ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("expected no llm call, got %d", client.calls)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "array", raw: twoQuestions, want: 2},
		{name: "wrapped", raw: `{"questions":[{"question":"Q","options":["a","b"],"answer_index":0}]}`, want: 1},
		{name: "fenced", raw: "```json\n[{\"question\":\"Q\",\"options\":[\"a\",\"b\"],\"answer_index\":0}]\n```", want: 1},
		{name: "not json", raw: "sorry", wantErr: true},
		{name: "empty list", raw: "[]", wantErr: true},
		{name: "answer out of range", raw: `[{"question":"Q","options":["a","b"],"answer_index":2}]`, wantErr: true},
		{name: "one option", raw: `[{"question":"Q","options":["a"],"answer_index":0}]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("expected ErrMalformed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d questions, got %d", tt.want, len(got))
			}
		})
	}
}

func TestGenerateProviderError(t *testing.T) {
	client := &mockLLMClient{err: errors.New("quota")}
	g := NewGenerator(client)
	if _, err := g.Generate(context.Background(), samplePackage(), 3); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("expected provider error, got %v", err)
	}
}
