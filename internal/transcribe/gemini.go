package transcribe

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/sjawhar/popquiz/internal/audio"
)

// Gemini sends each window inline as audio/wav alongside a transcription
// prompt.
type Gemini struct {
	client *genai.Client
	model  string
	prompt string
	format audio.Format
}

func newGemini(ctx context.Context, apiKey, model string, format audio.Format, o *options) (*Gemini, error) {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	config := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if o.baseURL != "" {
		config.HTTPOptions.BaseURL = o.baseURL
	}
	if o.httpClient != nil {
		config.HTTPClient = o.httpClient
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, prompt: o.prompt, format: format}, nil
}

func (g *Gemini) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if err := Check(pcm, MaxInlineBytes); err != nil {
		return "", err
	}
	wav, err := wrap(pcm, g.format)
	if err != nil {
		return "", err
	}
	if err := Check(wav, MaxInlineBytes); err != nil {
		return "", err
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: g.prompt},
			{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: wav}},
		},
	}}
	config := &genai.GenerateContentConfig{ResponseMIMEType: "text/plain"}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini transcription: %w", err)
	}
	return cleanResult(result.Text())
}
