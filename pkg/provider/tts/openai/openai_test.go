package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/cartomancer/pkg/audio/wav"
	"github.com/MrWong99/cartomancer/pkg/provider/openaiclient"
	"github.com/MrWong99/cartomancer/pkg/provider/tts"
)

func TestSynthesize(t *testing.T) {
	want, err := wav.Encode([][]float32{{0, 0.5, -0.5}}, 24000, 1)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(want)
	}))
	defer srv.Close()

	p, err := New("sk-test", "", openaiclient.WithBaseURL(srv.URL), openaiclient.WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	speech, err := p.Synthesize(context.Background(), "The Tower looms.", tts.Voice{Speed: 0.9})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(speech.Audio) != string(want) {
		t.Error("audio body not passed through")
	}
	checks := map[string]any{
		"input":           "The Tower looms.",
		"model":           "tts-1",
		"voice":           "onyx",
		"response_format": "wav",
		"speed":           0.9,
	}
	for k, v := range checks {
		if got[k] != v {
			t.Errorf("request[%q] = %v, want %v", k, got[k], v)
		}
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("sk-test", "")
	if _, err := p.Synthesize(context.Background(), "", tts.Voice{}); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New("", "tts-1"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}
