package reading

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/cartomancer/internal/history"
	"github.com/MrWong99/cartomancer/internal/observe"
	"github.com/MrWong99/cartomancer/internal/relay"
	"github.com/MrWong99/cartomancer/pkg/audio/wav"
)

const (
	// DefaultMaxUploadBytes bounds an upload request body.
	DefaultMaxUploadBytes = 25 << 20

	// DefaultHeartbeat is the interval of stream keep-alive comments.
	DefaultHeartbeat = 15 * time.Second

	// multipartMemory is how much of a form is held in memory before parts
	// spill to temporary files.
	multipartMemory = 8 << 20
)

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithHandlerMetrics sets the metrics instance. The default is
// [observe.DefaultMetrics].
func WithHandlerMetrics(m *observe.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithMaxUploadBytes bounds the upload body. Non-positive values keep the
// default.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithHeartbeat sets the stream heartbeat interval.
func WithHeartbeat(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// Handler serves the upload and event-stream routes of the reading server.
type Handler struct {
	runner         Runner
	metrics        *observe.Metrics
	maxUploadBytes int64
	heartbeat      time.Duration

	closing   chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a Handler that answers uploads with runner.
func NewHandler(runner Runner, opts ...HandlerOption) *Handler {
	h := &Handler{
		runner:         runner,
		maxUploadBytes: DefaultMaxUploadBytes,
		heartbeat:      DefaultHeartbeat,
		closing:        make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Register adds the upload and stream routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+relay.UploadPath, h.Upload)
	mux.HandleFunc("GET "+relay.StreamPath, h.Stream)
}

// Upload answers one recorded question. The request is a multipart form
// with the WAV in the audio field and the conversation so far as a JSON
// array in the messages field, authenticated with a bearer credential.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	reqID := r.Header.Get(relay.HeaderRequestID)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set(relay.HeaderRequestID, reqID)
	log := observe.Logger(ctx).With("request_id", reqID, "turn_id", r.Header.Get(relay.HeaderTurnID))

	h.metrics.ActiveReadings.Add(ctx, 1)
	status := http.StatusOK
	defer func() {
		h.metrics.ActiveReadings.Add(ctx, -1)
		h.metrics.RecordUpload(ctx, status)
		h.metrics.ReadingDuration.Record(ctx, time.Since(start).Seconds())
	}()

	credential := bearerToken(r)
	if err := relay.ValidateCredential(credential); err != nil {
		status = h.fail(w, log, err, credential)
		return
	}

	turn, err := h.parseUpload(w, r)
	if err != nil {
		status = h.fail(w, log, err, credential)
		return
	}
	turn.Credential = credential

	out, err := h.runner.Run(ctx, turn)
	if err != nil {
		status = h.fail(w, log, err, credential)
		return
	}

	resp := relay.Completion{
		Type:          relay.TypeCompletion,
		Transcription: out.Transcription,
		Response:      out.Reply,
		FunctionCalls: out.Calls,
	}
	if resp.FunctionCalls == nil {
		resp.FunctionCalls = []history.FunctionCall{}
	}
	if len(out.Audio) > 0 {
		resp.Audio = wav.EncodeBase64(out.Audio)
	}
	log.Info("reading answered",
		"calls", len(out.Calls),
		"dropped", out.Dropped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, resp)
}

// parseUpload reads the multipart form into a [Turn] without credential.
func (h *Handler) parseUpload(w http.ResponseWriter, r *http.Request) (Turn, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return Turn{}, err
		}
		return Turn{}, fmt.Errorf("%w: %v", ErrNoAudio, err)
	}
	defer r.MultipartForm.RemoveAll()

	f, _, err := r.FormFile(relay.FieldAudio)
	if err != nil {
		return Turn{}, ErrNoAudio
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		return Turn{}, fmt.Errorf("reading: read audio part: %w", err)
	}
	if len(audio) == 0 {
		return Turn{}, ErrNoAudio
	}

	hist, err := parseMessages(r.FormValue(relay.FieldMessages))
	if err != nil {
		return Turn{}, err
	}
	return Turn{Audio: audio, History: hist}, nil
}

// parseMessages decodes the messages field. A missing field is an empty
// conversation.
func parseMessages(raw string) ([]history.Message, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var msgs []history.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessages, err)
	}
	for i, m := range msgs {
		switch m.Role {
		case history.RoleSystem, history.RoleUser, history.RoleAssistant:
		default:
			return nil, fmt.Errorf("%w: message %d has role %q", ErrBadMessages, i, m.Role)
		}
	}
	return msgs, nil
}

// fail writes the error envelope and returns the status it used. The
// message never contains the credential.
func (h *Handler) fail(w http.ResponseWriter, log *slog.Logger, err error, credential string) int {
	status := StatusFor(err)
	msg := relay.Redact(errorMessage(err, status), credential)
	if status >= http.StatusInternalServerError {
		log.Error("reading failed", "status", status, "err", msg)
	} else {
		log.Warn("reading rejected", "status", status, "err", msg)
	}
	writeJSON(w, status, relay.ErrorBody{Error: msg})
	return status
}

func errorMessage(err error, status int) string {
	switch {
	case errors.Is(err, ErrNoAudio):
		return "No audio data provided"
	case errors.Is(err, relay.ErrCredentialMissing):
		return "Missing API key"
	case status == http.StatusRequestEntityTooLarge:
		return "Audio upload too large"
	}
	return err.Error()
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// CloseStreams ends every open event stream. The server calls it on
// shutdown since streams never finish on their own.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Stream holds a server-sent event stream open. It announces the connection
// once and then writes a comment line every heartbeat interval until the
// client goes away.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)
	// The server write timeout must not cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, "data: {\"type\":\"connected\"}\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		observe.Logger(ctx).Warn("reading: stream cannot flush", "err", err)
		return
	}

	h.metrics.StreamClients.Add(ctx, 1)
	defer h.metrics.StreamClients.Add(ctx, -1)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closing:
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("reading: write response", "err", err)
	}
}
