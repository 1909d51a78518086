package wav

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/MrWong99/cartomancer/pkg/audio"
)

// DecodeOption configures [Decode].
type DecodeOption func(*decodeConfig)

type decodeConfig struct {
	layout Layout
}

// WithLayout sets the sample layout of the data chunk. Default: [ChannelMajor].
func WithLayout(l Layout) DecodeOption {
	return func(c *decodeConfig) {
		c.layout = l
	}
}

// fmtChunk holds the fields of a "fmt " chunk this package understands.
type fmtChunk struct {
	format        uint16
	channels      int
	sampleRate    int
	blockAlign    int
	bitsPerSample int
}

// Decode parses a RIFF/WAVE container into planar float samples.
//
// Unknown chunks are skipped. A data chunk whose declared length exceeds the
// bytes present (as written by streaming encoders) is truncated to what is
// there, rounded down to whole sample frames. Supported encodings are 8-bit
// unsigned and 16-bit signed PCM and 32-bit IEEE float, including their
// WAVE_FORMAT_EXTENSIBLE forms.
func Decode(data []byte, opts ...DecodeOption) (*audio.Buffer, error) {
	cfg := decodeConfig{layout: ChannelMajor}
	for _, o := range opts {
		o(&cfg)
	}

	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty input"}
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, &DecodeError{Reason: "missing RIFF/WAVE signature"}
	}

	var (
		format  *fmtChunk
		payload []byte
		found   bool
	)
	off := 12
	for off+8 <= len(data) && !found {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) || end < body {
			end = len(data)
		}

		switch id {
		case "fmt ":
			f, err := parseFmt(data[body:end])
			if err != nil {
				return nil, err
			}
			format = f
		case "data":
			payload = data[body:end]
			found = true
		}

		off = end
		if size%2 == 1 {
			off++ // chunks are word aligned
		}
	}

	if format == nil {
		return nil, &DecodeError{Reason: "missing fmt chunk"}
	}
	if !found {
		return nil, &DecodeError{Reason: "missing data chunk"}
	}
	return decodeSamples(payload, format, cfg.layout)
}

func parseFmt(b []byte) (*fmtChunk, error) {
	if len(b) < 16 {
		return nil, &DecodeError{Reason: fmt.Sprintf("fmt chunk is %d bytes, want at least 16", len(b))}
	}
	f := &fmtChunk{
		format:        binary.LittleEndian.Uint16(b[0:2]),
		channels:      int(binary.LittleEndian.Uint16(b[2:4])),
		sampleRate:    int(binary.LittleEndian.Uint32(b[4:8])),
		blockAlign:    int(binary.LittleEndian.Uint16(b[12:14])),
		bitsPerSample: int(binary.LittleEndian.Uint16(b[14:16])),
	}
	if f.format == formatExtensible {
		if len(b) < 26 {
			return nil, &DecodeError{Reason: "truncated WAVE_FORMAT_EXTENSIBLE fmt chunk"}
		}
		// The sub-format GUID starts at offset 24; its first two bytes carry
		// the plain format tag.
		f.format = binary.LittleEndian.Uint16(b[24:26])
	}
	if f.channels == 0 {
		return nil, &DecodeError{Reason: "zero channels"}
	}
	if f.sampleRate == 0 {
		return nil, &DecodeError{Reason: "zero sample rate"}
	}

	switch {
	case f.format == formatPCM && (f.bitsPerSample == 8 || f.bitsPerSample == 16):
	case f.format == formatFloat && f.bitsPerSample == 32:
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported encoding: format %d, %d bits", f.format, f.bitsPerSample)}
	}
	return f, nil
}

func decodeSamples(payload []byte, f *fmtChunk, layout Layout) (*audio.Buffer, error) {
	width := f.bitsPerSample / 8
	frames := len(payload) / (width * f.channels)

	out := &audio.Buffer{
		SampleRate: f.sampleRate,
		Channels:   make([][]float32, f.channels),
	}
	for ch := range out.Channels {
		out.Channels[ch] = make([]float32, frames)
	}

	read := func(i int) float32 {
		p := payload[i*width:]
		switch width {
		case 1:
			return (float32(p[0]) - 128) / 128
		case 2:
			return float32(int16(binary.LittleEndian.Uint16(p))) / 32768
		default:
			v := math.Float32frombits(binary.LittleEndian.Uint32(p))
			if v != v {
				return 0
			}
			return v
		}
	}

	for ch := range f.channels {
		for i := range frames {
			var idx int
			if layout == Interleaved {
				idx = i*f.channels + ch
			} else {
				idx = ch*frames + i
			}
			out.Channels[ch][i] = read(idx)
		}
	}
	return out, nil
}
