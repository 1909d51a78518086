// Package openai provides a TTS provider backed by the OpenAI speech
// endpoint.
package openai

import (
	"context"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/cartomancer/pkg/provider/openaiclient"
	"github.com/MrWong99/cartomancer/pkg/provider/tts"
)

// maxSpeechBytes bounds the WAV body read from the API.
const maxSpeechBytes = 32 << 20

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// New returns a speech provider. model defaults to tts-1.
func New(apiKey, model string, opts ...openaiclient.Option) (*Provider, error) {
	client, err := openaiclient.New(apiKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("openai tts: %w", err)
	}
	if model == "" {
		model = string(oai.SpeechModelTTS1)
	}
	return &Provider{client: client, model: model}, nil
}

// Synthesize implements tts.Provider. The result is always WAV.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Speech, error) {
	if text == "" {
		return nil, fmt.Errorf("openai tts: empty text")
	}
	id := voice.ID
	if id == "" {
		id = "onyx"
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(id),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	}
	if voice.Speed > 0 {
		params.Speed = param.NewOpt(voice.Speed)
	}
	if voice.Instructions != "" {
		params.Instructions = param.NewOpt(voice.Instructions)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeechBytes))
	if err != nil {
		return nil, fmt.Errorf("openai tts: read body: %w", err)
	}
	return &tts.Speech{Audio: audio}, nil
}
