package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts AudioFrames to a target format. It logs a warning
// on the first format mismatch and drops frames whose PCM data is not aligned
// to whole sample frames.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target format. If the source format already
// matches the target, the frame is returned unchanged.
// Channel reduction happens before resampling so fewer samples are resampled.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if frame.Channels <= 0 || len(frame.Data)%(2*frame.Channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: misaligned PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sample_rate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return AudioFrame{
			SampleRate: c.Target.SampleRate,
			Channels:   c.Target.Channels,
			Timestamp:  frame.Timestamp,
		}
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data
	channels := frame.Channels

	if c.Target.Channels < channels {
		pcm = Downmix16(pcm, channels)
		channels = 1
	}
	if frame.SampleRate != c.Target.SampleRate {
		pcm = Resample16(pcm, channels, frame.SampleRate, c.Target.SampleRate)
	}
	if c.Target.Channels > channels {
		pcm = Upmix16(pcm, channels, c.Target.Channels)
		channels = c.Target.Channels
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}

// sampleAt reads the little-endian int16 at sample index i of pcm.
func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

// putSample writes s as little-endian int16 at sample index i of pcm.
func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}

// Downmix16 averages all channels of interleaved 16-bit PCM into mono.
// Uses int32 accumulation so the average cannot overflow.
func Downmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for f := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sampleAt(pcm, f*channels+ch))
		}
		putSample(out, f, int16(sum/int32(channels)))
	}
	return out
}

// Upmix16 duplicates mono (or the first channel of src) into dst channels.
func Upmix16(pcm []byte, src, dst int) []byte {
	if src <= 0 || dst <= src {
		return pcm
	}
	frames := len(pcm) / (2 * src)
	out := make([]byte, frames*dst*2)
	for f := range frames {
		for ch := range dst {
			from := f*src + min(ch, src-1)
			putSample(out, f*dst+ch, sampleAt(pcm, from))
		}
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate using linear interpolation. If the rates match or
// are invalid, pcm is returned unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		next := min(srcIdx+1, srcFrames-1)

		for ch := range channels {
			s0 := float64(sampleAt(pcm, srcIdx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// Deinterleave converts interleaved 16-bit PCM into planar float32 samples in
// [-1, 1). Trailing bytes that do not form a whole sample frame are ignored.
func Deinterleave(pcm []byte, channels int) [][]float32 {
	if channels <= 0 {
		return nil
	}
	frames := len(pcm) / (2 * channels)
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for f := range frames {
		for ch := range channels {
			out[ch][f] = float32(sampleAt(pcm, f*channels+ch)) / 32768
		}
	}
	return out
}

// Interleave converts planar float32 samples into interleaved 16-bit PCM,
// clamping each sample to [-1, 1]. Only frames in [from, to) are converted.
func Interleave(planar [][]float32, from, to int) []byte {
	channels := len(planar)
	if channels == 0 || to <= from {
		return nil
	}
	out := make([]byte, (to-from)*channels*2)
	for f := from; f < to; f++ {
		for ch := range channels {
			putSample(out, (f-from)*channels+ch, FloatToInt16(planar[ch][f]))
		}
	}
	return out
}

// FloatToInt16 clamps s to [-1, 1] and scales it to a signed 16-bit value:
// negative samples by 32768, non-negative samples by 32767.
func FloatToInt16(s float32) int16 {
	switch {
	case s != s: // NaN
		return 0
	case s < -1:
		s = -1
	case s > 1:
		s = 1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "16000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
