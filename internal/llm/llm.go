// Package llm is a provider-neutral text completion client used for rolling
// summaries and quiz generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const defaultMaxTokens = 8192

var ErrEmptyPrompt = errors.New("llm: empty prompt")

// Request is a single-turn completion: a system instruction and one user
// prompt.
type Request struct {
	System string
	Prompt string

	// JSON asks the provider for a bare JSON document.
	JSON bool

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int
}

func (r Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return defaultMaxTokens
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

// jsonInstruction is appended to the system prompt for providers without a
// native JSON response mode.
const jsonInstruction = "Respond with a single valid JSON document and nothing else."
