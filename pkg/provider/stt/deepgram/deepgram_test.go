package deepgram

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/cartomancer/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, lang, err := p.buildURL(stt.Request{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "returned language", "en", lang)
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	if q.Has("sample_rate") || q.Has("encoding") {
		t.Errorf("raw audio parameters sent for a WAV upload: %v", q)
	}
}

func TestBuildURL_RequestLanguageWins(t *testing.T) {
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, _, err := p.buildURL(stt.Request{Language: "fr"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr", u.Query().Get("language"))
}

func TestBuildURL_Keywords(t *testing.T) {
	tests := []struct {
		model string
		param string
		want  []string
	}{
		{"nova-3", "keyterm", []string{"The Hanged Man", "Wheel of Fortune"}},
		{"nova-2", "keywords", []string{"The Hanged Man:2", "Wheel of Fortune:2"}},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p, err := New("key", WithModel(tt.model))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			rawURL, _, err := p.buildURL(stt.Request{Keywords: []string{"The Hanged Man", "Wheel of Fortune"}})
			if err != nil {
				t.Fatalf("buildURL: %v", err)
			}
			u, _ := url.Parse(rawURL)
			got := u.Query()[tt.param]
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("%s = %v, want %v", tt.param, got, tt.want)
			}
		})
	}
}

// ---- constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key, got nil")
	}
}

// ---- response parsing ----

func TestParseFinal(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		want   string
		wantOK bool
	}{
		{"final", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" The Tower. ","confidence":0.9}]}}`, "The Tower.", true},
		{"interim", `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"The Tow"}]}}`, "", false},
		{"metadata", `{"type":"Metadata","request_id":"abc"}`, "", false},
		{"no alternatives", `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`, "", false},
		{"not json", `{{{`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseFinal([]byte(tt.msg))
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseFinal = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// ---- end to end against a fake listen endpoint ----

type fakeListen struct {
	mu       sync.Mutex
	query    url.Values
	auth     string
	received []byte
}

func (f *fakeListen) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		defer c.CloseNow()

		f.mu.Lock()
		f.query = r.URL.Query()
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()

		ctx := r.Context()
		for {
			typ, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText && strings.Contains(string(msg), "CloseStream") {
				break
			}
			f.mu.Lock()
			f.received = append(f.received, msg...)
			f.mu.Unlock()
		}

		for _, m := range []string{
			`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"will the"}]}}`,
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Will The Hanged Man"}]}}`,
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`,
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"set me free?"}]}}`,
			`{"type":"Metadata","request_id":"req-1"}`,
		} {
			if err := c.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
				return
			}
		}
		c.Close(websocket.StatusNormalClosure, "")
	}
}

func TestTranscribe(t *testing.T) {
	fake := &fakeListen{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p, err := New("dg-secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/listen"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Larger than one chunk so the upload is split.
	audio := bytes.Repeat([]byte("RIFFwav!"), chunkSize/4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := p.Transcribe(ctx, stt.Request{Audio: audio, Language: "en", Keywords: []string{"The Hanged Man"}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "Will The Hanged Man set me free?", tr.Text)
	assertEqual(t, "language", "en", tr.Language)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assertEqual(t, "authorization", "Token dg-secret", fake.auth)
	assertEqual(t, "keyterm", "The Hanged Man", fake.query.Get("keyterm"))
	if !bytes.Equal(fake.received, audio) {
		t.Errorf("server received %d bytes, want the %d byte upload", len(fake.received), len(audio))
	}
}

func TestTranscribe_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New("dg-wrong", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Transcribe(context.Background(), stt.Request{Audio: []byte("RIFF")})
	var se *stt.StatusError
	if !errors.As(err, &se) || se.HTTPStatus() != http.StatusUnauthorized {
		t.Fatalf("err = %v, want a 401 StatusError", err)
	}
	if strings.Contains(err.Error(), "dg-wrong") {
		t.Errorf("error leaks the API key: %v", err)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	p, _ := New("key")
	if _, err := p.Transcribe(context.Background(), stt.Request{}); err == nil {
		t.Fatal("expected error for empty audio")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
