package reading

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/cartomancer/internal/relay"
	"github.com/MrWong99/cartomancer/internal/resilience"
	"github.com/MrWong99/cartomancer/pkg/provider/openaiclient"
)

var (
	// ErrNoAudio is returned when an upload carries no audio part or an
	// empty one.
	ErrNoAudio = errors.New("reading: no audio data provided")

	// ErrBadMessages is returned when the messages field is not a JSON array
	// of conversation messages.
	ErrBadMessages = errors.New("reading: malformed messages")
)

// Stage names used in errors, spans and logs.
const (
	StageTranscribe = "transcribe"
	StageComplete   = "complete"
	StageSynthesize = "synthesize"
)

// StageError reports which pipeline stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("reading: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// upstreamStatus extracts the HTTP status an upstream API answered with, or
// zero when err carries none.
func upstreamStatus(err error) int {
	if code := openaiclient.StatusCode(err); code != 0 {
		return code
	}
	var se interface{ HTTPStatus() int }
	if errors.As(err, &se) {
		return se.HTTPStatus()
	}
	return 0
}

// ClassifyUpstream marks errors that stem from the caller's own request as
// permanent so they neither trip circuit breakers nor fail over to another
// backend. It is meant for [resilience.FallbackConfig.Classify].
func ClassifyUpstream(err error) error {
	switch upstreamStatus(err) {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return resilience.Permanent(err)
	}
	return err
}

// StatusFor maps a pipeline or handler error to the HTTP status of the
// upload response.
func StatusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNoAudio), errors.Is(err, ErrBadMessages):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrCredentialMissing), errors.Is(err, relay.ErrCredentialInvalid):
		return http.StatusUnauthorized
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	}
	switch upstreamStatus(err) {
	case http.StatusBadRequest:
		return http.StatusBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return http.StatusUnauthorized
	case http.StatusRequestEntityTooLarge:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}
