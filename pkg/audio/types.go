// Package audio holds the sample containers and PCM helpers shared by the
// recorder, the codec and playback.
//
// Two representations are used. [AudioFrame] is what capture devices and
// output sinks exchange: interleaved 16-bit little-endian PCM. [Buffer] is the
// decoded, playable form: planar float32 samples in [-1, 1], one slice per
// channel.
package audio

import "time"

// AudioFrame represents a single chunk of interleaved PCM audio as delivered
// by a capture device or written to an output.
type AudioFrame struct {
	// PCM audio data, signed 16-bit little-endian, channels interleaved.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for speech capture).
	SampleRate int

	// Channels is the number of interleaved channels in Data.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Frames returns the number of sample frames (samples per channel) in f.
func (f AudioFrame) Frames() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Channels)
}

// Duration returns the playback length of f.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Frames()) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Buffer is decoded, playable audio. Channels holds one slice of samples per
// channel; all slices have the same length.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// NumChannels returns the channel count of b.
func (b *Buffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of b.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Format returns the sample rate and channel count of b.
func (b *Buffer) Format() Format {
	return Format{SampleRate: b.SampleRate, Channels: b.NumChannels()}
}
