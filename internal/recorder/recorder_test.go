package recorder_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/cartomancer/internal/recorder"
	"github.com/MrWong99/cartomancer/internal/recorder/mock"
	"github.com/MrWong99/cartomancer/pkg/audio"
	"github.com/MrWong99/cartomancer/pkg/audio/wav"
)

func pcm(samples ...int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func monoFrame(samples ...int16) audio.AudioFrame {
	return audio.AudioFrame{Data: pcm(samples...), SampleRate: 16000, Channels: 1}
}

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

func TestRecorder_StartStop(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream(mono16k)
	dev := &mock.Device{Streams: []*mock.Stream{stream}}
	rec := recorder.New(dev)

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !rec.Recording() {
		t.Fatal("Recording() = false after Start")
	}
	if got := dev.LastConstraints; got != recorder.DefaultConstraints() {
		t.Errorf("constraints = %+v, want %+v", got, recorder.DefaultConstraints())
	}

	stream.Send(monoFrame(1, 2, 3))
	stream.Send(monoFrame(4, 5))
	stream.Send(monoFrame(-6))

	utt, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Recording() {
		t.Error("Recording() = true after Stop")
	}
	if stream.CloseCount() != 1 {
		t.Errorf("stream closed %d times, want 1", stream.CloseCount())
	}
	if !utt.Finalized() {
		t.Error("utterance not finalized")
	}
	if want := pcm(1, 2, 3, 4, 5, -6); !bytes.Equal(utt.PCM(), want) {
		t.Errorf("PCM = %v, want %v", utt.PCM(), want)
	}
	if utt.Format() != mono16k {
		t.Errorf("format = %+v", utt.Format())
	}

	buf, err := wav.Decode(utt.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.SampleRate != 16000 || buf.NumChannels() != 1 || buf.Frames() != 6 {
		t.Errorf("decoded %d Hz, %d ch, %d frames", buf.SampleRate, buf.NumChannels(), buf.Frames())
	}
	if got := audio.FloatToInt16(buf.Channels[0][5]); got != -6 {
		t.Errorf("last sample = %d, want -6", got)
	}
}

func TestRecorder_StopWhenIdle(t *testing.T) {
	t.Parallel()

	rec := recorder.New(&mock.Device{})
	utt, err := rec.Stop()
	if utt != nil || err != nil {
		t.Fatalf("Stop() = %v, %v; want nil, nil", utt, err)
	}
}

func TestRecorder_EmptyUtterance(t *testing.T) {
	t.Parallel()

	rec := recorder.New(&mock.Device{})
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	utt, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !utt.Empty() || utt.Duration() != 0 {
		t.Errorf("Empty() = %v, Duration() = %v", utt.Empty(), utt.Duration())
	}
	if len(utt.Bytes()) != wav.HeaderSize {
		t.Errorf("len(Bytes()) = %d, want header only", len(utt.Bytes()))
	}
}

func TestRecorder_StartTwiceDiscardsPrevious(t *testing.T) {
	t.Parallel()

	first := mock.NewStream(mono16k)
	second := mock.NewStream(mono16k)
	dev := &mock.Device{Streams: []*mock.Stream{first, second}}
	rec := recorder.New(dev)

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start 1: %v", err)
	}
	first.Send(monoFrame(100, 100))

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start 2: %v", err)
	}
	if first.CloseCount() != 1 {
		t.Errorf("first stream closed %d times, want 1", first.CloseCount())
	}
	second.Send(monoFrame(7))

	utt, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if want := pcm(7); !bytes.Equal(utt.PCM(), want) {
		t.Errorf("PCM = %v, want only the second session %v", utt.PCM(), want)
	}
	if dev.OpenCount() != 2 {
		t.Errorf("Open called %d times, want 2", dev.OpenCount())
	}
}

func TestRecorder_OpenFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"plain", errors.New("permission denied")},
		{"sentinel", recorder.ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := recorder.New(&mock.Device{OpenErr: tt.err})
			err := rec.Start(context.Background())
			if !errors.Is(err, recorder.ErrDeviceUnavailable) {
				t.Fatalf("Start error = %v, want ErrDeviceUnavailable", err)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("Start error = %v, want it to wrap %v", err, tt.err)
			}
			if rec.Recording() {
				t.Error("Recording() = true after failed Start")
			}
		})
	}
}

func TestRecorder_PeriodicChunks(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream(mono16k)
	rec := recorder.New(&mock.Device{Streams: []*mock.Stream{stream}},
		recorder.WithFlushInterval(10*time.Millisecond))

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.Send(monoFrame(1))
	time.Sleep(80 * time.Millisecond)
	stream.Send(monoFrame(2))

	utt, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if utt.Chunks() != 2 {
		t.Errorf("Chunks() = %d, want 2", utt.Chunks())
	}
	if want := pcm(1, 2); !bytes.Equal(utt.PCM(), want) {
		t.Errorf("PCM = %v, want %v (FIFO)", utt.PCM(), want)
	}
}

func TestRecorder_DrainTimeout(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream(mono16k)
	stream.KeepOpenOnClose = true
	rec := recorder.New(&mock.Device{Streams: []*mock.Stream{stream}},
		recorder.WithDrainTimeout(50*time.Millisecond))

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.Send(monoFrame(9, 9))

	start := time.Now()
	utt, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v, want it bounded by the drain timeout", elapsed)
	}
	if want := pcm(9, 9); !bytes.Equal(utt.PCM(), want) {
		t.Errorf("PCM = %v, want %v", utt.PCM(), want)
	}
}

func TestRecorder_ConvertsDeviceFormat(t *testing.T) {
	t.Parallel()

	stereo32k := audio.Format{SampleRate: 32000, Channels: 2}
	stream := mock.NewStream(stereo32k)
	rec := recorder.New(&mock.Device{Streams: []*mock.Stream{stream}})

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// 640 stereo frames at 32 kHz are 20 ms.
	stream.Send(audio.AudioFrame{Data: make([]byte, 640*2*2), SampleRate: 32000, Channels: 2})

	utt, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if utt.Format() != mono16k {
		t.Errorf("format = %+v, want %+v", utt.Format(), mono16k)
	}
	if got := utt.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration() = %v, want 20ms", got)
	}
}

func TestFileDevice_Replay(t *testing.T) {
	t.Parallel()

	const frames = 1600 // 100 ms at 16 kHz
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = float32(i%100) / 200
	}
	data, err := wav.Encode([][]float32{samples}, 16000, 1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dev, err := recorder.NewFileDevice(data)
	if err != nil {
		t.Fatalf("NewFileDevice: %v", err)
	}
	if dev.Duration() != 100*time.Millisecond {
		t.Errorf("Duration() = %v", dev.Duration())
	}

	rec := recorder.New(dev)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-dev.Exhausted():
	case <-time.After(2 * time.Second):
		t.Fatal("file device never exhausted")
	}
	utt, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := utt.Duration(); got != 100*time.Millisecond {
		t.Errorf("utterance Duration() = %v, want 100ms", got)
	}
	buf, err := wav.Decode(utt.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i := range frames {
		if d := math.Abs(float64(buf.Channels[0][i] - samples[i])); d > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, buf.Channels[0][i], samples[i])
		}
	}
}

func TestFileDevice_Errors(t *testing.T) {
	t.Parallel()

	if _, err := recorder.NewFileDevice([]byte("not a wav")); err == nil {
		t.Error("NewFileDevice(garbage) succeeded")
	}
	var de *wav.DecodeError
	if _, err := recorder.NewFileDevice(nil); !errors.As(err, &de) {
		t.Errorf("NewFileDevice(nil) error = %v, want *wav.DecodeError", err)
	}
	if _, err := recorder.OpenFile("/nonexistent/question.wav"); !errors.Is(err, recorder.ErrDeviceUnavailable) {
		t.Errorf("OpenFile error = %v, want ErrDeviceUnavailable", err)
	}
}
