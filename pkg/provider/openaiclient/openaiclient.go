// Package openaiclient builds the openai-go client shared by the OpenAI
// transcription, interpretation and speech providers, and reads the HTTP
// status back out of its errors.
package openaiclient

import (
	"errors"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrMissingKey is returned by [New] without an API key. The reader never
// falls back to OPENAI_API_KEY: an entry without its own key must carry the
// seeker's credential.
var ErrMissingKey = errors.New("openai: api key must not be empty")

type settings struct {
	baseURL      string
	organization string
	timeout      time.Duration
	httpClient   *http.Client
	maxRetries   int
}

// Option tunes the client.
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.organization = org }
}

// WithTimeout bounds each HTTP request. Ignored alongside [WithHTTPClient].
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithHTTPClient replaces the HTTP client, e.g. with an instrumented one.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.httpClient = hc }
}

// WithMaxRetries sets how often the SDK retries transient failures. Negative
// values keep the SDK default. Breakers and fallbacks usually want 0 or 1.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = n }
}

// New returns a client authenticated with apiKey.
func New(apiKey string, opts ...Option) (oai.Client, error) {
	if apiKey == "" {
		return oai.Client{}, ErrMissingKey
	}
	s := settings{maxRetries: -1}
	for _, o := range opts {
		o(&s)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(s.organization))
	}
	if hc := s.client(); hc != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(hc))
	}
	if s.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(s.maxRetries))
	}
	return oai.NewClient(reqOpts...), nil
}

func (s settings) client() *http.Client {
	switch {
	case s.httpClient != nil:
		return s.httpClient
	case s.timeout > 0:
		return &http.Client{Timeout: s.timeout}
	}
	return nil
}

// StatusCode returns the HTTP status of a failed API call, or 0 when err did
// not come from an API response.
func StatusCode(err error) int {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
