package relay

import "github.com/MrWong99/cartomancer/internal/history"

// Routes and form fields shared by the client and the reading server.
const (
	UploadPath = "/api/audio/upload"
	StreamPath = "/api/audio/stream"

	FieldAudio    = "audio"
	FieldMessages = "messages"

	AudioFilename = "audio.wav"
	AudioMIME     = "audio/wav"

	HeaderRequestID = "X-Request-ID"
	HeaderTurnID    = "X-Turn-ID"

	// TypeCompletion is the type tag of a successful envelope.
	TypeCompletion = "completion"
)

// Completion is the success envelope of an upload.
type Completion struct {
	Type          string                 `json:"type"`
	Transcription string                 `json:"transcription"`
	Response      string                 `json:"response"`
	FunctionCalls []history.FunctionCall `json:"functionCalls"`
	Audio         string                 `json:"audio,omitempty"`
}

// ErrorBody is the envelope of a failed upload.
type ErrorBody struct {
	Error string `json:"error"`
}
