// Package elevenlabs provides a TTS provider backed by the ElevenLabs
// streaming WebSocket API. Streamed PCM is collected and wrapped in a WAV
// container so callers see the same shape as every other backend.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/cartomancer/pkg/audio/wav"
	"github.com/MrWong99/cartomancer/pkg/provider/tts"
)

const (
	defaultEndpoint  = "wss://api.elevenlabs.io"
	wsPathFmt        = "/v1/text-to-speech/%s/stream-input?model_id=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the PCM output format ("pcm_16000", "pcm_24000", ...).
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithVoice sets the voice used when a request does not name one.
func WithVoice(id string) Option {
	return func(p *Provider) {
		p.voiceID = id
	}
}

// WithEndpoint overrides the WebSocket base URL (scheme and host).
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		p.endpoint = strings.TrimRight(url, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	endpoint     string
	voiceID      string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		endpoint:     defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := sampleRateOf(p.outputFormat); err != nil {
		return nil, err
	}
	return p, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize implements tts.Provider. It opens one WebSocket per call, sends
// the whole reply followed by the flush marker, and collects PCM until the
// server reports the final chunk or closes the stream.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Speech, error) {
	if voice.ID == "" {
		voice.ID = p.voiceID
	}
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: no voice configured")
	}
	if text == "" {
		return nil, errors.New("elevenlabs: empty text")
	}
	rate, _ := sampleRateOf(p.outputFormat)

	conn, _, err := websocket.Dial(ctx, p.endpoint+fmt.Sprintf(wsPathFmt, voice.ID, p.model), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: voice.Speed}
	msgs := []textMessage{
		// The first frame authenticates and must carry non-empty text.
		{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey, OutputFormat: p.outputFormat},
		{Text: text + " "},
		{Text: ""},
	}
	for _, m := range msgs {
		b, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var pcm []byte
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(pcm) > 0 {
				break
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: server: %s", resp.Error)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio chunk: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	audio, err := wav.EncodePCM16(pcm, rate, 1)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	return &tts.Speech{Audio: audio}, nil
}

// sampleRateOf parses the rate out of a "pcm_<rate>" output format.
func sampleRateOf(format string) (int, error) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q (want pcm_<rate>)", format)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q", format)
	}
	return rate, nil
}
