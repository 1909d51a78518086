// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint (whisper-1 and successors).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/cartomancer/pkg/provider/openaiclient"
	"github.com/MrWong99/cartomancer/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// New returns a transcription provider. model defaults to whisper-1.
func New(apiKey, model string, opts ...openaiclient.Option) (*Provider, error) {
	client, err := openaiclient.New(apiKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("openai stt: %w", err)
	}
	if model == "" {
		model = string(oai.AudioModelWhisper1)
	}
	return &Provider{client: client, model: model}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("openai stt: empty audio")
	}
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(req.Audio), req.FilenameOrDefault(), "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if req.Language != "" {
		params.Language = param.NewOpt(req.Language)
	}
	if len(req.Keywords) > 0 {
		params.Prompt = param.NewOpt(strings.Join(req.Keywords, ", "))
	}

	tr, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return &stt.Transcript{Text: strings.TrimSpace(tr.Text), Language: req.Language}, nil
}
