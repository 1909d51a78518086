package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/cartomancer/pkg/audio/wav"
	"github.com/MrWong99/cartomancer/pkg/provider/tts"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a fake stream-input endpoint. handler receives the
// accepted conn and the upgrade request.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readMsg(t *testing.T, conn *websocket.Conn) textMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("read: %v", err)
		return textMessage{}
	}
	var m textMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("unmarshal: %v", err)
	}
	return m
}

func writeMsg(conn *websocket.Conn, v any) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func pcmChunk(samples ...int16) string {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(b)
}

func TestSynthesize_CollectsPCMIntoWAV(t *testing.T) {
	var path, model string
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		path = r.URL.Path
		model = r.URL.Query().Get("model_id")

		boi := readMsg(t, conn)
		if boi.XiAPIKey != "xi-key" || boi.OutputFormat != "pcm_16000" || boi.Text != " " {
			t.Errorf("unexpected BOI: %+v", boi)
		}
		if body := readMsg(t, conn); body.Text != "The Moon rises. " {
			t.Errorf("text = %q", body.Text)
		}
		if flush := readMsg(t, conn); flush.Text != "" {
			t.Errorf("flush text = %q", flush.Text)
		}
		writeMsg(conn, audioResponse{Audio: pcmChunk(0, 16384)})
		writeMsg(conn, audioResponse{Audio: pcmChunk(-16384)})
		writeMsg(conn, audioResponse{IsFinal: true})
	})

	p, err := New("xi-key", WithEndpoint(wsURL(srv)), WithVoice("voice-1"))
	if err != nil {
		t.Fatal(err)
	}
	speech, err := p.Synthesize(context.Background(), "The Moon rises.", tts.Voice{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if path != "/v1/text-to-speech/voice-1/stream-input" {
		t.Errorf("path = %q", path)
	}
	if model != defaultModel {
		t.Errorf("model_id = %q", model)
	}

	buf, err := wav.Decode(speech.Audio)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if buf.SampleRate != 16000 || buf.NumChannels() != 1 || buf.Frames() != 3 {
		t.Fatalf("got %d Hz, %d ch, %d frames", buf.SampleRate, buf.NumChannels(), buf.Frames())
	}
	if buf.Channels[0][1] != 0.5 {
		t.Errorf("sample 1 = %v, want 0.5", buf.Channels[0][1])
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		for range 3 {
			readMsg(t, conn)
		}
		writeMsg(conn, audioResponse{Error: "quota_exceeded"})
	})
	p, _ := New("xi-key", WithEndpoint(wsURL(srv)))
	_, err := p.Synthesize(context.Background(), "hi", tts.Voice{ID: "v"})
	if err == nil || !strings.Contains(err.Error(), "quota_exceeded") {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestSynthesize_Validation(t *testing.T) {
	p, _ := New("xi-key")
	if _, err := p.Synthesize(context.Background(), "hi", tts.Voice{}); err == nil {
		t.Error("expected error for empty voice id")
	}
	if _, err := p.Synthesize(context.Background(), "", tts.Voice{ID: "v"}); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("k", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-PCM output format")
	}
	p, err := New("k", WithOutputFormat("pcm_24000"), WithModel("eleven_turbo_v2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != "eleven_turbo_v2" || p.outputFormat != "pcm_24000" {
		t.Errorf("options not applied: %+v", p)
	}
}

func TestSampleRateOf(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"pcm_16000", 16000, true},
		{"pcm_44100", 44100, true},
		{"pcm_", 0, false},
		{"pcm_abc", 0, false},
		{"ulaw_8000", 0, false},
	}
	for _, tt := range tests {
		got, err := sampleRateOf(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("sampleRateOf(%q) = %d, %v", tt.in, got, err)
		}
	}
}
