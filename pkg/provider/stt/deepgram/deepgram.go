// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// A whole WAV utterance is streamed in chunks, the stream is closed, and the
// final results are joined into one transcript. Deepgram reads the sample
// rate and channel count from the WAV header, so no encoding parameters are
// sent.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/cartomancer/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkSize is how much of the upload goes into one binary message.
	chunkSize = 8 << 10

	// keywordBoost is the intensifier sent with each keyword on models that
	// take boosted keywords.
	keywordBoost = 2
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code used when a request carries
// none (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the WebSocket listen URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams req.Audio to Deepgram and returns the joined final
// results.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("deepgram: empty audio")
	}
	wsURL, lang, err := p.buildURL(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, &stt.StatusError{Provider: "deepgram", Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// The reader must run while audio is written so the server never blocks
	// on a full send buffer.
	results := make(chan readResult, 1)
	go func() {
		text, err := readFinals(ctx, conn)
		results <- readResult{text: text, err: err}
	}()

	for off := 0; off < len(req.Audio); off += chunkSize {
		end := min(off+chunkSize, len(req.Audio))
		if err := conn.Write(ctx, websocket.MessageBinary, req.Audio[off:end]); err != nil {
			return nil, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return nil, fmt.Errorf("deepgram: close stream: %w", err)
	}

	res := <-results
	if res.err != nil {
		return nil, res.err
	}
	conn.Close(websocket.StatusNormalClosure, "utterance complete")
	return &stt.Transcript{Text: res.text, Language: lang}, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for req.
func (p *Provider) buildURL(req stt.Request) (string, string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")

	// Nova-3 replaced boosted keywords with plain key terms.
	for _, kw := range req.Keywords {
		if strings.HasPrefix(p.model, "nova-3") {
			q.Add("keyterm", kw)
		} else {
			q.Add("keywords", fmt.Sprintf("%s:%d", kw, keywordBoost))
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), lang, nil
}

// ---- results ----

type readResult struct {
	text string
	err  error
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// readFinals collects final transcripts until Deepgram closes the stream.
func readFinals(ctx context.Context, conn *websocket.Conn) (string, error) {
	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return strings.Join(parts, " "), nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		if text, ok := parseFinal(msg); ok && text != "" {
			parts = append(parts, text)
		}
	}
}

// parseFinal extracts the transcript of a final Results message. Interim
// results and other message types are ignored.
func parseFinal(data []byte) (string, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false
	}
	if resp.Type != "Results" || !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return "", false
	}
	return strings.TrimSpace(resp.Channel.Alternatives[0].Transcript), true
}
