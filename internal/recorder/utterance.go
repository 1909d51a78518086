package recorder

import (
	"time"

	"github.com/MrWong99/cartomancer/pkg/audio"
	"github.com/MrWong99/cartomancer/pkg/audio/wav"
)

// Utterance is the audio captured between one Start and Stop. Its chunks are
// kept in capture order; once finalized the concatenated PCM and the WAV
// encoding are fixed.
type Utterance struct {
	format    audio.Format
	chunks    [][]byte
	pcm       []byte
	wav       []byte
	finalized bool
}

func (u *Utterance) finalize() error {
	n := 0
	for _, c := range u.chunks {
		n += len(c)
	}
	pcm := make([]byte, 0, n)
	for _, c := range u.chunks {
		pcm = append(pcm, c...)
	}

	b, err := wav.Encode(audio.Deinterleave(pcm, u.format.Channels), u.format.SampleRate, u.format.Channels)
	if err != nil {
		return err
	}
	u.pcm = pcm
	u.wav = b
	u.finalized = true
	return nil
}

// Bytes returns the WAV encoding of the utterance.
func (u *Utterance) Bytes() []byte { return u.wav }

// PCM returns the concatenated interleaved 16-bit samples.
func (u *Utterance) PCM() []byte { return u.pcm }

// Format returns the sample rate and channel count of the utterance.
func (u *Utterance) Format() audio.Format { return u.format }

// Chunks returns how many chunks were flushed during capture.
func (u *Utterance) Chunks() int { return len(u.chunks) }

// Finalized reports whether the utterance has been encoded.
func (u *Utterance) Finalized() bool { return u.finalized }

// Empty reports whether no audio was captured.
func (u *Utterance) Empty() bool { return len(u.pcm) == 0 }

// Duration returns the length of the captured audio.
func (u *Utterance) Duration() time.Duration {
	return audio.AudioFrame{Data: u.pcm, SampleRate: u.format.SampleRate, Channels: u.format.Channels}.Duration()
}
