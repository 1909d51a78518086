package relay

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode"
)

var (
	// ErrCredentialMissing is returned before any network call when no
	// credential was supplied.
	ErrCredentialMissing = errors.New("relay: credential missing")

	// ErrCredentialInvalid is returned before any network call when the
	// credential is not of the form the server accepts.
	ErrCredentialInvalid = errors.New("relay: credential invalid")
)

// Kind classifies a failed submission.
type Kind string

const (
	// KindNetwork means the server could not be reached.
	KindNetwork Kind = "network"

	// KindTimeout means the server did not answer within the relay timeout.
	KindTimeout Kind = "timeout"

	// KindServerRejected means the server answered with a non-success status.
	KindServerRejected Kind = "server_rejected"

	// KindProtocol means the server answered with something other than a
	// completion envelope.
	KindProtocol Kind = "protocol"
)

// Error describes a failed submission. Message has been passed through
// [Redact] and is safe to show or log.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("relay: ")
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Unauthorized reports whether the server rejected the credential.
func (e *Error) Unauthorized() bool {
	return e.Kind == KindServerRejected && e.Status == http.StatusUnauthorized
}

// ValidateCredential checks the shape of an API credential without
// contacting anyone.
func ValidateCredential(credential string) error {
	if credential == "" {
		return ErrCredentialMissing
	}
	if !strings.HasPrefix(credential, "sk-") {
		return fmt.Errorf("%w: expected an sk- prefix", ErrCredentialInvalid)
	}
	for _, r := range credential {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: contains whitespace or control characters", ErrCredentialInvalid)
		}
	}
	return nil
}

var secretPattern = regexp.MustCompile(`sk-[A-Za-z0-9_\-]{4,}`)

const redacted = "[REDACTED]"

// Redact removes credential and anything shaped like an API key from s.
func Redact(s, credential string) string {
	if credential != "" {
		s = strings.ReplaceAll(s, credential, redacted)
	}
	return secretPattern.ReplaceAllString(s, redacted)
}
