package summary

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sjawhar/popquiz/internal/llm"
	"github.com/sjawhar/popquiz/internal/storage"
)

var ErrEmptyInput = errors.New("summarize requires at least one transcript")

const systemPrompt = "Summarize the classroom discussion into concise bullet points. Focus on keeping every proper noun, " +
	"numerical value, formula, technical term, main idea of each part of the discussion. Use as many bullet " +
	"points as needed, but optimize for word efficiency, meaning using just enough words to capture every " +
	"important idea of the discussion."

// Summarizer compresses an ordered run of transcripts into bullet points
// with an LLM.
type Summarizer struct {
	client  llm.Client
	backoff []time.Duration
	sleep   func(time.Duration)
}

func NewSummarizer(client llm.Client) *Summarizer {
	return &Summarizer{
		client:  client,
		backoff: []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second},
		sleep:   time.Sleep,
	}
}

func (s *Summarizer) Summarize(ctx context.Context, transcripts []storage.Transcript) (string, error) {
	if len(transcripts) == 0 {
		return "", ErrEmptyInput
	}

	req := llm.Request{System: systemPrompt, Prompt: BuildPrompt(transcripts)}

	var lastErr error
	for attempt := range s.backoff {
		result, err := s.client.Complete(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < len(s.backoff)-1 {
			s.sleep(s.backoff[attempt])
		}
	}
	return "", fmt.Errorf("summarize failed after retries: %w", lastErr)
}

// BuildPrompt renders transcripts oldest-first, one numbered segment per
// line, with offsets relative to the first transcript.
func BuildPrompt(transcripts []storage.Transcript) string {
	if len(transcripts) == 0 {
		return ""
	}
	origin := transcripts[0].StartTime
	lines := make([]string, len(transcripts))
	for i, rec := range transcripts {
		lines[i] = formatSegment(i+1, rec, origin)
	}
	return strings.Join(lines, "\n")
}

// formatSegment renders "[3 @ 02:05 (+60.0s)] text".
func formatSegment(index int, rec storage.Transcript, origin time.Time) string {
	offset := rec.StartTime.Sub(origin)
	if offset < 0 {
		offset = 0
	}
	total := int(math.Floor(offset.Seconds()))
	return fmt.Sprintf("[%d @ %02d:%02d (+%.1fs)] %s",
		index, total/60, total%60, rec.Duration().Seconds(), strings.TrimSpace(rec.Text))
}
