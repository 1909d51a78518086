// Package whisper provides an STT provider backed by a running whisper.cpp
// server (the whisper-server binary, POST /inference).
//
// Uploads whose energy stays below a silence threshold are answered locally
// with an empty transcript, so a tap on the record button without speech does
// not cost an inference round trip.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	t, err := p.Transcribe(ctx, stt.Request{Audio: wavBytes})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/cartomancer/pkg/audio/wav"
	"github.com/MrWong99/cartomancer/pkg/provider/stt"
)

// defaultRMSThreshold is the root-mean-square level, on a [-1, 1] sample
// scale, below which a whole utterance counts as silence. 0.01 is roughly
// 300 in 16-bit PCM units.
const defaultRMSThreshold = 0.01

const defaultLanguage = "en"

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server. When empty the
// server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language code. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThreshold sets the RMS level below which uploads are treated as
// silence. Zero disables the check.
func WithSilenceThreshold(rms float64) Option {
	return func(p *Provider) { p.silenceRMS = rms }
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) { p.httpClient = hc }
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	silenceRMS float64
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		silenceRMS: defaultRMSThreshold,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	buf, err := wav.Decode(req.Audio, wav.WithLayout(wav.Interleaved))
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	out := &stt.Transcript{Language: lang, Duration: buf.Duration()}
	if p.silenceRMS > 0 && computeRMS(buf.Channels) < p.silenceRMS {
		return out, nil
	}

	text, err := p.infer(ctx, req, lang)
	if err != nil {
		return nil, err
	}
	out.Text = text
	return out, nil
}

// infer POSTs the upload to /inference as multipart/form-data.
func (p *Provider) infer(ctx context.Context, req stt.Request, lang string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", req.FilenameOrDefault())
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{
		"language":        lang,
		"model":           p.model,
		"prompt":          strings.Join(req.Keywords, ", "),
		"response_format": "json",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &stt.StatusError{Provider: "whisper", Status: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// computeRMS returns the root-mean-square level across all channels.
func computeRMS(channels [][]float32) float64 {
	var sum float64
	var n int
	for _, ch := range channels {
		for _, s := range ch {
			sum += float64(s) * float64(s)
		}
		n += len(ch)
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
