package wav

import (
	"encoding/base64"
	"strings"
)

// EncodeBase64 returns the standard base64 encoding of b, as embedded in the
// relay's JSON envelope.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 reverses [EncodeBase64]. A "data:<mime>;base64," prefix and
// surrounding whitespace are tolerated. Unpadded input is accepted.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64 payload", Err: err}
	}
	return b, nil
}
