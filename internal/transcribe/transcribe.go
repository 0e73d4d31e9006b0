// Package transcribe turns one buffered audio window into text through an
// external speech-to-text provider.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sjawhar/popquiz/internal/audio"
)

// MaxInlineBytes is the largest window sent inline to a provider.
const MaxInlineBytes = 20 * 1024 * 1024

var (
	ErrEmptyPayload    = errors.New("audio payload is empty")
	ErrPayloadTooLarge = errors.New("audio payload exceeds inline limit")
	ErrEmptyResult     = errors.New("no transcript text returned")
)

// Transcriber converts raw PCM bytes into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Check validates a payload against the empty and size limits. A
// non-positive limit means MaxInlineBytes.
func Check(payload []byte, limit int) error {
	if limit <= 0 {
		limit = MaxInlineBytes
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > limit {
		return fmt.Errorf("%w: %d bytes > %d", ErrPayloadTooLarge, len(payload), limit)
	}
	return nil
}

// DefaultPrompt steers generative providers toward verbatim transcripts.
const DefaultPrompt = "Generate an accurate transcript of the classroom discussion. " +
	"Preserve speaker intent, terminology, numbers, and named entities."

type Option func(*options)

type options struct {
	baseURL    string
	prompt     string
	language   string
	httpClient *http.Client
}

func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

func WithPrompt(prompt string) Option {
	return func(o *options) { o.prompt = prompt }
}

func WithLanguage(lang string) Option {
	return func(o *options) { o.language = lang }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New builds the provider named by provider ("gemini", "openai" or
// "deepgram").
func New(ctx context.Context, provider, apiKey, model string, format audio.Format, opts ...Option) (Transcriber, error) {
	o := &options{prompt: DefaultPrompt}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "gemini":
		return newGemini(ctx, apiKey, model, format, o)
	case "openai":
		return newWhisper(apiKey, model, format, o), nil
	case "deepgram":
		return newDeepgram(apiKey, model, format, o), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q: supported providers are gemini, openai, deepgram", provider)
	}
}

// wrap frames pcm as WAV unless it already is one.
func wrap(pcm []byte, format audio.Format) ([]byte, error) {
	if audio.IsWAV(pcm) {
		return pcm, nil
	}
	return audio.EncodeWAV(pcm, format)
}

func cleanResult(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}
