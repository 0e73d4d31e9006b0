// Package quiz turns a classroom context package into multiple-choice
// questions, weighting recent discussion over the rolling summaries.
package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sjawhar/popquiz/internal/classctx"
	"github.com/sjawhar/popquiz/internal/llm"
)

const (
	MinQuestions     = 1
	MaxQuestions     = 10
	DefaultQuestions = 3
)

var ErrMalformed = errors.New("quiz response is malformed")

// Question is one multiple-choice item. AnswerIndex is 0-based.
type Question struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	AnswerIndex int      `json:"answer_index"`
	Rationale   string   `json:"rationale,omitempty"`
}

func (q Question) validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return errors.New("empty question text")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question %q has %d options", q.Question, len(q.Options))
	}
	if q.AnswerIndex < 0 || q.AnswerIndex >= len(q.Options) {
		return fmt.Errorf("question %q answer index %d out of range", q.Question, q.AnswerIndex)
	}
	return nil
}

type Generator struct {
	client llm.Client
}

func NewGenerator(client llm.Client) *Generator {
	return &Generator{client: client}
}

// Clamp bounds a requested question count to MinQuestions..MaxQuestions.
func Clamp(count int) int {
	switch {
	case count < MinQuestions:
		return MinQuestions
	case count > MaxQuestions:
		return MaxQuestions
	default:
		return count
	}
}

// Generate asks the model for count questions about pkg.
func (g *Generator) Generate(ctx context.Context, pkg *classctx.Package, count int) ([]Question, error) {
	if !pkg.HasContent() {
		return nil, classctx.ErrNoContent
	}
	count = Clamp(count)

	raw, err := g.client.Complete(ctx, llm.Request{
		Prompt: BuildPrompt(pkg, count),
		JSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("generate quiz: %w", err)
	}

	questions, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if len(questions) > count {
		questions = questions[:count]
	}
	return questions, nil
}

// BuildPrompt places the recent transcript ahead of the summaries.
func BuildPrompt(pkg *classctx.Package, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an assistant for teachers. Based on the lecture transcripts below, "+
		"write %d multiple-choice questions. Weight recent discussion more heavily.", count)
	b.WriteString("\n\nRecent detailed transcript (highest priority):\n")
	b.WriteString(pkg.RenderRecentBlock())
	b.WriteString("\n\nGlobal summaries (reference for context):\n")
	b.WriteString(pkg.RenderSummaryBlock())
	b.WriteString("\n\nReturn a JSON array of objects with the fields question (string), " +
		"options (array of strings), answer_index (0-based integer) and rationale (string).")
	b.WriteString("\n\nOutput strictly matches the JSON schema you were provided.")
	return b.String()
}

// Parse accepts a bare array or an object wrapping it under "questions".
func Parse(raw string) ([]Question, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var questions []Question
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		var wrapped struct {
			Questions []Question `json:"questions"`
		}
		if werr := json.Unmarshal([]byte(raw), &wrapped); werr != nil || wrapped.Questions == nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		questions = wrapped.Questions
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions", ErrMalformed)
	}
	for _, q := range questions {
		if err := q.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return questions, nil
}
