// Package wav implements the canonical transport container for captured
// speech: a 44-byte RIFF/WAVE header followed by signed 16-bit little-endian
// linear PCM.
//
// [Encode] writes multi-channel audio channel-major (every sample of channel
// 0, then every sample of channel 1, …). [Decode] reverses that layout by
// default so encode/decode round-trips are exact up to 16-bit quantisation;
// pass [WithLayout]([Interleaved]) to read conventional interleaved files such
// as synthesized speech.
package wav

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/MrWong99/cartomancer/pkg/audio"
)

// HeaderSize is the size of the canonical header written by [Encode].
const HeaderSize = 44

const (
	bitsPerSample = 16

	formatPCM        = 1
	formatFloat      = 3
	formatExtensible = 0xFFFE
)

// Layout selects how multi-channel sample data is arranged in the data chunk.
type Layout int

const (
	// ChannelMajor stores all samples of channel 0, then channel 1, and so on.
	ChannelMajor Layout = iota

	// Interleaved stores one sample per channel for each frame in turn.
	Interleaved
)

// String returns the layout name.
func (l Layout) String() string {
	switch l {
	case ChannelMajor:
		return "channel-major"
	case Interleaved:
		return "interleaved"
	default:
		return "unknown"
	}
}

// EncodeError reports a sample buffer that cannot be encoded.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string { return "wav: encode: " + e.Reason }

// DecodeError reports empty or malformed container bytes.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "wav: decode: " + e.Reason + ": " + e.Err.Error()
	}
	return "wav: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode converts planar float samples into the canonical container.
// samples must hold exactly channels slices of equal length. Each sample is
// clamped to [-1, 1]; negative values scale by 32768 and non-negative values
// by 32767.
func Encode(samples [][]float32, sampleRate, channels int) ([]byte, error) {
	switch {
	case channels < 1:
		return nil, &EncodeError{Reason: fmt.Sprintf("channel count %d must be at least 1", channels)}
	case channels > math.MaxUint16/2:
		return nil, &EncodeError{Reason: fmt.Sprintf("channel count %d is too large", channels)}
	case sampleRate <= 0:
		return nil, &EncodeError{Reason: fmt.Sprintf("sample rate %d must be positive", sampleRate)}
	case len(samples) != channels:
		return nil, &EncodeError{Reason: fmt.Sprintf("got %d channel buffers, want %d", len(samples), channels)}
	}
	frames := len(samples[0])
	for ch, s := range samples {
		if len(s) != frames {
			return nil, &EncodeError{Reason: fmt.Sprintf("channel %d has %d samples, channel 0 has %d", ch, len(s), frames)}
		}
	}

	dataSize := frames * channels * 2
	if uint64(dataSize)+HeaderSize-8 > math.MaxUint32 {
		return nil, &EncodeError{Reason: "sample data exceeds the 4 GiB container limit"}
	}

	buf := make([]byte, HeaderSize+dataSize)
	putHeader(buf, sampleRate, channels, dataSize)

	off := HeaderSize
	for _, s := range samples {
		for _, v := range s {
			binary.LittleEndian.PutUint16(buf[off:], uint16(audio.FloatToInt16(v)))
			off += 2
		}
	}
	return buf, nil
}

// EncodeBuffer encodes b with [Encode].
func EncodeBuffer(b *audio.Buffer) ([]byte, error) {
	if b == nil {
		return nil, &EncodeError{Reason: "nil buffer"}
	}
	return Encode(b.Channels, b.SampleRate, len(b.Channels))
}

// EncodePCM16 wraps interleaved 16-bit PCM in the canonical container. Mono
// PCM is written as-is; multi-channel PCM is rearranged channel-major.
func EncodePCM16(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if channels < 1 {
		return nil, &EncodeError{Reason: fmt.Sprintf("channel count %d must be at least 1", channels)}
	}
	if len(pcm)%(2*channels) != 0 {
		return nil, &EncodeError{Reason: fmt.Sprintf("%d PCM bytes are not a whole number of %d-channel frames", len(pcm), channels)}
	}
	if channels == 1 {
		if sampleRate <= 0 {
			return nil, &EncodeError{Reason: fmt.Sprintf("sample rate %d must be positive", sampleRate)}
		}
		buf := make([]byte, HeaderSize+len(pcm))
		putHeader(buf, sampleRate, 1, len(pcm))
		copy(buf[HeaderSize:], pcm)
		return buf, nil
	}
	return Encode(audio.Deinterleave(pcm, channels), sampleRate, channels)
}

func putHeader(buf []byte, sampleRate, channels, dataSize int) {
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(HeaderSize-8+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
}
