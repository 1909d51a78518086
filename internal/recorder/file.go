package recorder

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/cartomancer/pkg/audio"
	"github.com/MrWong99/cartomancer/pkg/audio/wav"
)

const fileFrameDuration = 20 * time.Millisecond

// FileOption configures a [FileDevice].
type FileOption func(*FileDevice)

// WithRealtime paces frames at their natural rate instead of delivering them
// as fast as the recorder reads.
func WithRealtime(on bool) FileOption {
	return func(d *FileDevice) { d.realtime = on }
}

// WithFileLayout sets the sample layout used to decode the file. Default:
// [wav.Interleaved], which is what ordinary WAV writers produce.
func WithFileLayout(l wav.Layout) FileOption {
	return func(d *FileDevice) { d.layout = l }
}

// FileDevice is a [Device] that plays a WAV file into the recorder as if it
// were a microphone. After the file is exhausted the stream stays open and
// silent until closed, like a real microphone in a quiet room.
type FileDevice struct {
	buf      *audio.Buffer
	realtime bool
	layout   wav.Layout

	mu        sync.Mutex
	exhausted chan struct{}
}

// NewFileDevice decodes data and returns a device that replays it.
func NewFileDevice(data []byte, opts ...FileOption) (*FileDevice, error) {
	d := &FileDevice{layout: wav.Interleaved, exhausted: make(chan struct{})}
	for _, o := range opts {
		o(d)
	}
	buf, err := wav.Decode(data, wav.WithLayout(d.layout))
	if err != nil {
		return nil, fmt.Errorf("recorder: file device: %w", err)
	}
	d.buf = buf
	return d, nil
}

// OpenFile reads the WAV file at path and returns a device replaying it.
func OpenFile(path string, opts ...FileOption) (*FileDevice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	return NewFileDevice(data, opts...)
}

// Exhausted returns a channel closed once the most recently opened stream
// has delivered the whole file.
func (d *FileDevice) Exhausted() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exhausted
}

// Duration returns the length of the replayed audio.
func (d *FileDevice) Duration() time.Duration { return d.buf.Duration() }

// Open implements [Device]. The stream delivers the file in its own format;
// the recorder converts it to the requested constraints.
func (d *FileDevice) Open(ctx context.Context, _ Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	exhausted := make(chan struct{})
	d.mu.Lock()
	d.exhausted = exhausted
	d.mu.Unlock()

	s := &fileStream{
		format:    d.buf.Format(),
		frames:    make(chan audio.AudioFrame, 16),
		stop:      make(chan struct{}),
		exhausted: exhausted,
	}
	go s.run(d.buf, d.realtime)
	return s, nil
}

type fileStream struct {
	format    audio.Format
	frames    chan audio.AudioFrame
	stop      chan struct{}
	exhausted chan struct{}
	closeOnce sync.Once
}

func (s *fileStream) Format() audio.Format            { return s.format }
func (s *fileStream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *fileStream) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *fileStream) run(buf *audio.Buffer, realtime bool) {
	defer close(s.frames)

	step := int(int64(buf.SampleRate) * int64(fileFrameDuration) / int64(time.Second))
	if step < 1 {
		step = 1
	}
	var ticker *time.Ticker
	if realtime {
		ticker = time.NewTicker(fileFrameDuration)
		defer ticker.Stop()
	}

	total := buf.Frames()
	for from := 0; from < total; from += step {
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.stop:
				return
			}
		}
		to := min(from+step, total)
		frame := audio.AudioFrame{
			Data:       audio.Interleave(buf.Channels, from, to),
			SampleRate: buf.SampleRate,
			Channels:   buf.NumChannels(),
			Timestamp:  time.Duration(from) * time.Second / time.Duration(buf.SampleRate),
		}
		select {
		case s.frames <- frame:
		case <-s.stop:
			return
		}
	}
	close(s.exhausted)
	<-s.stop
}

var _ Device = (*FileDevice)(nil)
