package transcribe

import (
	"bytes"
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sjawhar/popquiz/internal/audio"
)

// Whisper uses the OpenAI audio transcription endpoint.
type Whisper struct {
	client   *openai.Client
	model    string
	prompt   string
	language string
	format   audio.Format
}

func newWhisper(apiKey, model string, format audio.Format, o *options) *Whisper {
	if model == "" {
		model = openai.Whisper1
	}
	config := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		config.BaseURL = o.baseURL
	}
	if o.httpClient != nil {
		config.HTTPClient = o.httpClient
	}
	return &Whisper{
		client:   openai.NewClientWithConfig(config),
		model:    model,
		prompt:   o.prompt,
		language: o.language,
		format:   format,
	}
}

func (w *Whisper) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if err := Check(pcm, MaxInlineBytes); err != nil {
		return "", err
	}
	wav, err := wrap(pcm, w.format)
	if err != nil {
		return "", err
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: "window.wav",
		Reader:   bytes.NewReader(wav),
		Prompt:   w.prompt,
		Language: w.language,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return cleanResult(resp.Text)
}
