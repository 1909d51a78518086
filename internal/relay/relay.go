// Package relay is the client side of the conversation relay: it ships one
// recorded utterance plus the conversation so far to the reading server and
// turns the answer into typed values.
//
// Credentials are checked locally before any network traffic and never
// appear in errors or logs. Dynamic function calls from the server are parsed
// into the closed [tarot.Action] set here; anything unrecognised is dropped
// and counted.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/cartomancer/internal/history"
	"github.com/MrWong99/cartomancer/internal/observe"
	"github.com/MrWong99/cartomancer/internal/tarot"
	"github.com/MrWong99/cartomancer/pkg/audio"
	"github.com/MrWong99/cartomancer/pkg/audio/wav"
)

const (
	// DefaultTimeout bounds one submission end to end.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 64 << 20
)

// Request is one turn's submission.
type Request struct {
	// Audio is the WAV-encoded utterance.
	Audio []byte

	// History is the conversation as it stood before this turn.
	History []history.Message

	// Credential is the caller's API key, forwarded as a bearer token.
	Credential string

	// TurnID identifies the turn for correlation in server logs.
	TurnID uint64
}

// Response is a decoded completion.
type Response struct {
	Transcription string
	Reply         string

	// Calls are the function calls exactly as the server sent them.
	Calls []history.FunctionCall

	// Actions are the calls that parsed into the closed action set, in order.
	Actions []tarot.Action

	// Dropped counts calls that were unknown or malformed.
	Dropped int

	// Audio is the decoded reply speech, nil when none was sent or it could
	// not be decoded.
	Audio *audio.Buffer

	// AudioErr holds the *wav.DecodeError for a malformed audio payload. The
	// rest of the response is still valid.
	AudioErr error
}

// FirstCall returns the first function call of the reply, as recorded in the
// conversation history, or nil.
func (r *Response) FirstCall() *history.FunctionCall {
	if len(r.Calls) == 0 {
		return nil
	}
	fc := r.Calls[0]
	return &fc
}

// Submitter sends a turn to the reading server.
type Submitter interface {
	Submit(ctx context.Context, req Request) (*Response, error)
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-submission timeout. Default: 30 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client submits turns over HTTP. It does not retry.
type Client struct {
	uploadURL  string
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a Client for the reading server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("relay: base URL must not be empty")
	}
	c := &Client{
		uploadURL:  strings.TrimRight(baseURL, "/") + UploadPath,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout:    DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Submit uploads the utterance and history and decodes the completion.
// Failures after the credential check are returned as *Error.
func (c *Client) Submit(ctx context.Context, req Request) (*Response, error) {
	if err := ValidateCredential(req.Credential); err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "relay.submit",
		attribute.Int64("turn.id", int64(req.TurnID)),
		attribute.Int("history.len", len(req.History)),
		attribute.Int("audio.bytes", len(req.Audio)),
	)
	defer span.End()

	resp, err := c.submit(ctx, req)
	if err != nil {
		observe.FailSpan(span, err, nil)
		observe.Logger(ctx).Warn("relay: submission failed", "turn", req.TurnID, "err", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("actions", len(resp.Actions)),
		attribute.Int("actions.dropped", resp.Dropped),
		attribute.Bool("audio", resp.Audio != nil),
	)
	return resp, nil
}

func (c *Client) submit(ctx context.Context, req Request) (*Response, error) {
	body, contentType, err := encodeForm(req)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Message: err.Error(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: Redact(err.Error(), req.Credential)}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	httpReq.Header.Set(HeaderRequestID, uuid.NewString())
	httpReq.Header.Set(HeaderTurnID, strconv.FormatUint(req.TurnID, 10))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err, req.Credential)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(err, req.Credential)
	}

	if httpResp.StatusCode != http.StatusOK {
		var eb ErrorBody
		msg := http.StatusText(httpResp.StatusCode)
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return nil, &Error{
			Kind:    KindServerRejected,
			Status:  httpResp.StatusCode,
			Message: Redact(msg, req.Credential),
		}
	}

	var env Completion
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &Error{Kind: KindProtocol, Status: httpResp.StatusCode, Message: "malformed completion envelope"}
	}
	if env.Type != TypeCompletion {
		return nil, &Error{
			Kind:    KindProtocol,
			Status:  httpResp.StatusCode,
			Message: Redact(fmt.Sprintf("unexpected envelope type %q", env.Type), req.Credential),
		}
	}
	return decodeCompletion(ctx, &env), nil
}

func encodeForm(req Request) (io.Reader, string, error) {
	msgs := req.History
	if msgs == nil {
		msgs = []history.Message{}
	}
	msgJSON, err := json.Marshal(msgs)
	if err != nil {
		return nil, "", fmt.Errorf("encode messages: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldAudio, AudioFilename))
	h.Set("Content-Type", AudioMIME)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("write audio part: %w", err)
	}
	if err := mw.WriteField(FieldMessages, string(msgJSON)); err != nil {
		return nil, "", fmt.Errorf("write messages field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func decodeCompletion(ctx context.Context, env *Completion) *Response {
	log := observe.Logger(ctx)
	resp := &Response{
		Transcription: env.Transcription,
		Reply:         env.Response,
		Calls:         env.FunctionCalls,
	}
	for i, fc := range env.FunctionCalls {
		a, err := tarot.ParseAction(fc.Name, fc.Arguments)
		if err != nil {
			log.Warn("relay: dropping function call", "index", i, "name", fc.Name, "err", err)
			resp.Dropped++
			continue
		}
		resp.Actions = append(resp.Actions, a)
	}

	if env.Audio == "" {
		return resp
	}
	raw, err := wav.DecodeBase64(env.Audio)
	if err == nil {
		resp.Audio, err = wav.Decode(raw, wav.WithLayout(wav.Interleaved))
	}
	if err != nil {
		log.Warn("relay: reply audio unusable", "err", err)
		resp.Audio = nil
		resp.AudioErr = err
	}
	return resp
}

func transportError(err error, credential string) *Error {
	kind := KindNetwork
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Message: Redact(err.Error(), credential), Err: unwrapContext(err)}
}

// unwrapContext keeps context errors matchable without carrying the
// transport error, whose text may echo request details.
func unwrapContext(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return context.Canceled
	default:
		return nil
	}
}

var _ Submitter = (*Client)(nil)
