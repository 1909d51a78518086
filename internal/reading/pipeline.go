// Package reading is the server side of the tarot reader: it turns one
// uploaded utterance plus the conversation so far into a transcription, a
// spoken reply and the tarot actions the reply performs.
//
// A reading runs in three provider stages:
//
//  1. Transcribe the WAV with the speech-to-text provider.
//  2. Ask the language model for a reply, offering the tarot tools. When the
//     model used tools, a second pass hands the tool results back and asks
//     for the spoken interpretation.
//  3. Synthesize the cleaned reply with the text-to-speech provider.
//
// Providers are built per request by a [StageFactory] because the caller's
// bearer credential is what authenticates against the upstream APIs.
package reading

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/cartomancer/internal/history"
	"github.com/MrWong99/cartomancer/internal/observe"
	"github.com/MrWong99/cartomancer/internal/relay"
	"github.com/MrWong99/cartomancer/internal/tarot"
	"github.com/MrWong99/cartomancer/pkg/provider/llm"
	"github.com/MrWong99/cartomancer/pkg/provider/stt"
	"github.com/MrWong99/cartomancer/pkg/provider/tts"
)

// Stages are the providers one reading runs through. The names label
// metrics and spans.
type Stages struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	STTName string
	LLMName string
	TTSName string
}

// StageFactory builds the providers for one request. credential is the
// caller's bearer token; factories use it for every provider whose config
// entry has no API key of its own.
type StageFactory interface {
	Stages(credential string) (*Stages, error)
}

// StageFactoryFunc adapts a function to [StageFactory].
type StageFactoryFunc func(credential string) (*Stages, error)

// Stages calls f.
func (f StageFactoryFunc) Stages(credential string) (*Stages, error) { return f(credential) }

// Turn is one uploaded question.
type Turn struct {
	// Audio is the WAV-encoded utterance.
	Audio []byte

	// History is the conversation before this turn, as sent by the client.
	History []history.Message

	// Credential is the caller's bearer token.
	Credential string
}

// Outcome is the answer to a [Turn].
type Outcome struct {
	Transcription string
	Reply         string

	// Calls are the tarot actions of the reply in wire form, card names
	// already canonical. Never nil.
	Calls []history.FunctionCall

	// Audio is the WAV-encoded reply speech, nil when the reply is empty.
	Audio []byte

	// Dropped counts tool calls that could not be parsed into an action.
	Dropped int
}

// Runner answers turns. [*Pipeline] is the production implementation.
type Runner interface {
	Run(ctx context.Context, turn Turn) (*Outcome, error)
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMetrics sets the metrics instance. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSettings sets the initial settings. The default is [DefaultSettings].
func WithSettings(s Settings) Option {
	return func(p *Pipeline) { p.settings.Store(&s) }
}

// Pipeline runs readings. It is safe for concurrent use; settings may be
// swapped with [Pipeline.SetSettings] while readings are in flight.
type Pipeline struct {
	factory  StageFactory
	metrics  *observe.Metrics
	settings atomic.Pointer[Settings]
}

var _ Runner = (*Pipeline)(nil)

// New creates a Pipeline that obtains its providers from factory.
func New(factory StageFactory, opts ...Option) *Pipeline {
	p := &Pipeline{factory: factory}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.settings.Load() == nil {
		s := DefaultSettings()
		p.settings.Store(&s)
	}
	return p
}

// Settings returns the settings new readings use.
func (p *Pipeline) Settings() Settings {
	return *p.settings.Load()
}

// SetSettings replaces the settings. Readings already running keep the
// settings they started with.
func (p *Pipeline) SetSettings(s Settings) {
	if s.Persona == "" {
		s.Persona = DefaultPersona
	}
	p.settings.Store(&s)
}

// Run answers one turn. An utterance that transcribes to nothing yields an
// empty reply without calling the language model.
func (p *Pipeline) Run(ctx context.Context, turn Turn) (*Outcome, error) {
	if len(turn.Audio) == 0 {
		return nil, ErrNoAudio
	}
	set := p.Settings()

	ctx, span := observe.StartSpan(ctx, "reading.run")
	defer span.End()

	stages, err := p.factory.Stages(turn.Credential)
	if err != nil {
		return nil, fmt.Errorf("reading: build providers: %w", err)
	}

	r := &run{p: p, set: set, stages: stages, credential: turn.Credential}
	out := &Outcome{Calls: []history.FunctionCall{}}

	out.Transcription, err = r.transcribe(ctx, turn.Audio)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Transcription) == "" {
		observe.Logger(ctx).Debug("reading: empty transcription, nothing to answer")
		return out, nil
	}

	if err := r.complete(ctx, turn.History, out); err != nil {
		return nil, err
	}

	if out.Reply != "" {
		out.Audio, err = r.synthesize(ctx, out.Reply)
		if err != nil {
			return nil, err
		}
	}
	span.SetAttributes(
		attribute.Int("reading.calls", len(out.Calls)),
		attribute.Int("reading.dropped", out.Dropped),
	)
	return out, nil
}

// run carries the state of a single reading.
type run struct {
	p          *Pipeline
	set        Settings
	stages     *Stages
	credential string
}

// ─── Stages ──────────────────────────────────────────────────────────────────

func (r *run) transcribe(ctx context.Context, audio []byte) (string, error) {
	req := stt.Request{
		Audio:    audio,
		Filename: relay.AudioFilename,
		Language: r.set.Language,
	}
	if r.set.CardKeywords {
		req.Keywords = tarot.CardNames()
	}
	var text string
	err := r.stage(ctx, observe.KindSTT, r.stages.STTName, func(ctx context.Context) error {
		t, err := r.stages.STT.Transcribe(ctx, req)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(t.Text)
		return nil
	})
	if err != nil {
		return "", &StageError{Stage: StageTranscribe, Err: err}
	}
	return text, nil
}

// complete fills the reply, calls and dropped count of out.
func (r *run) complete(ctx context.Context, hist []history.Message, out *Outcome) error {
	req := llm.CompletionRequest{
		SystemPrompt: r.set.Persona,
		Messages:     buildMessages(hist, out.Transcription),
		Temperature:  r.set.Temperature,
		MaxTokens:    r.set.MaxTokens,
	}
	if r.stages.LLM.Capabilities().SupportsToolCalling {
		req.Tools = tarot.ToolDefinitions()
	}

	resp, err := r.callLLM(ctx, req)
	if err != nil {
		return &StageError{Stage: StageComplete, Err: err}
	}

	log := observe.Logger(ctx)
	toolCalls := make([]llm.ToolCall, len(resp.ToolCalls))
	results := make([]llm.Message, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		if tc.ID == "" {
			tc.ID = "call-" + strconv.Itoa(i)
		}
		toolCalls[i] = tc

		a, err := parseToolCall(tc)
		if err != nil {
			log.Warn("reading: dropping tool call", "index", i, "name", tc.Name, "err", err)
			out.Dropped++
			r.p.metrics.RecordToolCall(ctx, tc.Name, "dropped")
			results[i] = llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Content: "Error: " + err.Error()}
			continue
		}
		r.p.metrics.RecordToolCall(ctx, a.Name(), "ok")
		out.Calls = append(out.Calls, history.FunctionCall{Name: a.Name(), Arguments: a.Arguments()})
		results[i] = llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Content: tarot.Describe(a)}
	}

	reply := resp.Content
	if r.set.FollowUp && len(toolCalls) > 0 {
		follow := llm.CompletionRequest{
			SystemPrompt: r.set.Persona + "\n\n" + followUpInstruction,
			Messages: slices.Concat(req.Messages,
				[]llm.Message{{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: toolCalls}},
				results),
			Temperature: r.set.Temperature,
			MaxTokens:   r.set.MaxTokens,
		}

		second, err := r.callLLM(ctx, follow)
		if err != nil {
			log.Warn("reading: follow-up pass failed, using first reply", "err", relay.Redact(err.Error(), r.credential))
		} else {
			reply = joinReply(resp.Content, second.Content)
		}
	}
	out.Reply = stripMarkup(reply)
	return nil
}

func (r *run) callLLM(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := r.stage(ctx, observe.KindLLM, r.stages.LLMName, func(ctx context.Context) error {
		var err error
		resp, err = r.stages.LLM.Complete(ctx, req)
		return err
	})
	return resp, err
}

func (r *run) synthesize(ctx context.Context, text string) ([]byte, error) {
	voice := tts.Voice{ID: r.set.Voice, Speed: r.set.Speed}
	var audio []byte
	err := r.stage(ctx, observe.KindTTS, r.stages.TTSName, func(ctx context.Context) error {
		s, err := r.stages.TTS.Synthesize(ctx, text, voice)
		if err != nil {
			return err
		}
		audio = s.Audio
		return nil
	})
	if err != nil {
		return nil, &StageError{Stage: StageSynthesize, Err: err}
	}
	return audio, nil
}

// stage runs fn inside a span and records its latency and outcome.
func (r *run) stage(ctx context.Context, kind, provider string, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "reading."+kind, attribute.String("provider", provider))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	r.p.metrics.RecordStage(ctx, kind, provider, time.Since(start), err)
	if err != nil {
		observe.FailSpan(span, err, func(msg string) string { return relay.Redact(msg, r.credential) })
	}
	return err
}

// ─── Tool calls ──────────────────────────────────────────────────────────────

// parseToolCall canonicalises the card name of a drawCard call before
// parsing it into an action.
func parseToolCall(tc llm.ToolCall) (tarot.Action, error) {
	args := tc.Arguments
	if tc.Name == tarot.ActionDrawCard {
		args = canonicaliseCardArg(args)
	}
	return tarot.ParseAction(tc.Name, args)
}

func canonicaliseCardArg(arguments string) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil {
		return arguments
	}
	name, ok := m["cardName"].(string)
	if !ok {
		return arguments
	}
	canon, ok := tarot.CanonicalCardName(name)
	if !ok || canon == name {
		return arguments
	}
	m["cardName"] = canon
	b, err := json.Marshal(m)
	if err != nil {
		return arguments
	}
	return string(b)
}
