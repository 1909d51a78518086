package openaiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
)

func TestNew_MissingKey(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("err = %v, want ErrMissingKey", err)
	}
}

func TestSettings_Client(t *testing.T) {
	custom := &http.Client{}
	tests := []struct {
		name        string
		opts        []Option
		wantNil     bool
		wantCustom  bool
		wantTimeout time.Duration
	}{
		{name: "sdk default", wantNil: true},
		{name: "timeout", opts: []Option{WithTimeout(20 * time.Second)}, wantTimeout: 20 * time.Second},
		{name: "custom wins", opts: []Option{WithTimeout(time.Second), WithHTTPClient(custom)}, wantCustom: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settings{maxRetries: -1}
			for _, o := range tt.opts {
				o(&s)
			}
			got := s.client()
			switch {
			case tt.wantNil:
				if got != nil {
					t.Errorf("client = %+v, want nil", got)
				}
			case tt.wantCustom:
				if got != custom {
					t.Error("custom client was not used")
				}
			default:
				if got == nil || got.Timeout != tt.wantTimeout {
					t.Errorf("client = %+v, want timeout %v", got, tt.wantTimeout)
				}
			}
		})
	}
}

func TestNew_SendsHeadersAndStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer sk-seeker-1234" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("OpenAI-Organization"); got != "org-tarot" {
			t.Errorf("OpenAI-Organization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
	}))
	defer srv.Close()

	client, err := New("sk-seeker-1234",
		WithBaseURL(srv.URL),
		WithOrganization("org-tarot"),
		WithMaxRetries(0),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = client.Get(context.Background(), "models", nil, nil, option.WithMaxRetries(0))
	if code := StatusCode(err); code != http.StatusTooManyRequests {
		t.Errorf("StatusCode(%v) = %d, want 429", err, code)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want 1 with retries disabled", n)
	}
}

func TestStatusCode_NonAPIError(t *testing.T) {
	for _, err := range []error{nil, errors.New("dial tcp: refused"), fmt.Errorf("wrapped: %w", context.Canceled)} {
		if code := StatusCode(err); code != 0 {
			t.Errorf("StatusCode(%v) = %d, want 0", err, code)
		}
	}
}
