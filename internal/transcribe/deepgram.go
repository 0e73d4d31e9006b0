package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/popquiz/internal/audio"
)

// Deepgram posts each window to the prerecorded listen endpoint.
type Deepgram struct {
	format audio.Format
	fetch  func(ctx context.Context, src io.Reader) (string, error)
}

func newDeepgram(apiKey, model string, format audio.Format, o *options) *Deepgram {
	if model == "" {
		model = "nova-2"
	}
	language := o.language
	if language == "" {
		language = "en-US"
	}

	cOptions := &interfaces.ClientOptions{}
	if o.baseURL != "" {
		cOptions.Host = o.baseURL
	}
	dg := api.New(client.NewREST(apiKey, cOptions))
	tOptions := &interfaces.PreRecordedTranscriptionOptions{
		Model:       model,
		Language:    language,
		Punctuate:   true,
		SmartFormat: true,
	}

	return &Deepgram{
		format: format,
		fetch: func(ctx context.Context, src io.Reader) (string, error) {
			res, err := dg.FromStream(ctx, src, tOptions)
			if err != nil {
				return "", err
			}
			if res == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
				return "", nil
			}
			return res.Results.Channels[0].Alternatives[0].Transcript, nil
		},
	}
}

func (d *Deepgram) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if err := Check(pcm, MaxInlineBytes); err != nil {
		return "", err
	}
	wav, err := wrap(pcm, d.format)
	if err != nil {
		return "", err
	}

	text, err := d.fetch(ctx, bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("deepgram transcription: %w", err)
	}
	return cleanResult(text)
}
