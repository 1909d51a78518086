// Package stt defines the Provider interface for speech-to-text backends.
//
// The reader transcribes one finished utterance at a time, so providers take
// a complete WAV upload and return the recognised text. Implementations must
// be safe for concurrent use.
package stt

import (
	"context"
	"fmt"
	"time"
)

// Request is one utterance to transcribe.
type Request struct {
	// Audio is a complete WAV file.
	Audio []byte

	// Filename is sent with multipart uploads. Defaults to "audio.wav".
	Filename string

	// Language is an ISO-639-1 hint ("en", "de"). Empty lets the backend
	// detect it.
	Language string

	// Keywords are vocabulary hints, such as card names, that raise the
	// chance of an exact spelling. Backends without hint support ignore them.
	Keywords []string
}

// Transcript is the recognised text of one utterance.
type Transcript struct {
	Text string

	// Language is the detected or requested language, when reported.
	Language string

	// Duration is the length of the submitted audio, when reported.
	Duration time.Duration
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognises the speech in req.Audio. It returns promptly when
	// ctx is cancelled.
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}

// FilenameOrDefault returns r.Filename, or "audio.wav" when it is empty.
func (r Request) FilenameOrDefault() string {
	if r.Filename == "" {
		return "audio.wav"
	}
	return r.Filename
}

// StatusError is returned when a backend answers with a non-success HTTP
// status.
type StatusError struct {
	Provider string
	Status   int

	// Message is the backend's explanation, when it sent one.
	Message string
}

func (e *StatusError) Error() string {
	s := fmt.Sprintf("%s: server returned HTTP %d", e.Provider, e.Status)
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

// HTTPStatus returns the status code.
func (e *StatusError) HTTPStatus() int { return e.Status }
