package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/cartomancer/internal/avatar"
	"github.com/MrWong99/cartomancer/internal/config"
	"github.com/MrWong99/cartomancer/internal/history"
	"github.com/MrWong99/cartomancer/internal/mouth"
	"github.com/MrWong99/cartomancer/internal/playback"
	"github.com/MrWong99/cartomancer/internal/recorder"
	"github.com/MrWong99/cartomancer/internal/relay"
	"github.com/MrWong99/cartomancer/internal/tarot"
	"github.com/MrWong99/cartomancer/internal/turn"
	"github.com/MrWong99/cartomancer/pkg/audio"
)

// credentialEnv names the variable holding the seeker's API key.
const credentialEnv = "OPENAI_API_KEY"

func ask(args []string) int {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	in := fs.String("in", "", "WAV file holding the spoken question (required)")
	out := fs.String("out", "", "write the spoken reply of the last turn to this WAV file")
	turns := fs.Int("turns", 1, "ask the same recording this many times, carrying the conversation along")
	realtime := fs.Bool("realtime", false, "replay the question and the reply at their natural pace")
	verbose := fs.Bool("v", false, "log avatar parameter writes")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" || *turns < 1 {
		fs.Usage()
		return 2
	}

	cfg, ok := loadConfig(*configPath)
	if !ok {
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	if *verbose {
		level.Set(slog.LevelDebug)
	}
	logger := newLogger(level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newAskSession(cfg, *in, *out != "", *realtime, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cartomancer: %v\n", err)
		return 1
	}
	defer s.ctrl.Close()

	for i := range *turns {
		if *out != "" {
			s.collector.Reset()
		}
		res, err := s.turn(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cartomancer: turn %d: %v\n", i+1, err)
			return 1
		}
		printTurn(i+1, res, s.spread.Cards())
	}

	if *out != "" {
		data, err := s.collector.WAV()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cartomancer: no reply audio to write: %v\n", err)
			return 1
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "cartomancer: %v\n", err)
			return 1
		}
		fmt.Printf("reply audio written to %s\n", *out)
	}
	return 0
}

// askSession is the client stack with a file standing in for the microphone.
type askSession struct {
	device    *recorder.FileDevice
	ctrl      *turn.Controller
	spread    *tarot.MemorySpread
	collector *playback.Collector
	idle      chan struct{}
}

func newAskSession(cfg *config.Config, in string, keepReply, realtime bool, logger *slog.Logger) (*askSession, error) {
	dev, err := recorder.OpenFile(in, recorder.WithRealtime(realtime))
	if err != nil {
		return nil, err
	}
	rc, err := relay.New(cfg.Client.ServerURL, relay.WithTimeout(cfg.Client.Timeout))
	if err != nil {
		return nil, err
	}

	rec := recorder.New(dev,
		recorder.WithFlushInterval(cfg.Client.FlushInterval),
		recorder.WithConstraints(recorder.Constraints{
			SampleRate: cfg.Client.SampleRate,
			Channels:   cfg.Client.Channels,
		}),
	)

	s := &askSession{
		device:    dev,
		spread:    tarot.NewMemorySpread(),
		collector: &playback.Collector{},
		idle:      make(chan struct{}, 1),
	}
	var output playback.Output = discard
	if keepReply {
		output = s.collector
	}
	player := playback.NewPlayer(output, playback.WithPacing(realtime))
	sink := avatar.LogSink{Logger: logger}
	animator := mouth.New(sink, mouth.NewTimerScheduler(cfg.Client.FPS))

	var histOpts []history.Option
	if cfg.Client.Preamble != "" {
		histOpts = append(histOpts, history.WithPreamble(cfg.Client.Preamble))
	}

	s.ctrl, err = turn.New(turn.Config{
		Recorder:   rec,
		Relay:      rc,
		Player:     player,
		Animator:   animator,
		Avatar:     sink,
		Spread:     s.spread,
		History:    history.New(histOpts...),
		Credential: func() string { return os.Getenv(credentialEnv) },
	})
	if err != nil {
		return nil, err
	}
	s.ctrl.OnStateChange(func(from, to turn.State) {
		slog.Debug("turn state", "from", from, "to", to)
		if to == turn.Idle {
			select {
			case s.idle <- struct{}{}:
			default:
			}
		}
	})
	return s, nil
}

// turn records the whole file, submits it and waits for the reply to finish
// playing.
func (s *askSession) turn(ctx context.Context) (*turn.Result, error) {
	// Drop an idle signal left over from the previous turn.
	select {
	case <-s.idle:
	default:
	}

	if err := s.ctrl.StartRecording(ctx); err != nil {
		return nil, err
	}
	select {
	case <-s.device.Exhausted():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	res, err := s.ctrl.StopRecording(ctx)
	if err != nil {
		// A reply whose audio could not be decoded still carries the text.
		if res != nil {
			slog.Warn("reply audio unusable", "err", err)
			return res, nil
		}
		return nil, err
	}

	if res.Speaking {
		select {
		case <-s.idle:
		case <-ctx.Done():
			s.ctrl.Interrupt()
			return nil, ctx.Err()
		}
	}
	return res, nil
}

func printTurn(n int, res *turn.Result, cards []tarot.DrawnCard) {
	fmt.Printf("── turn %d ──\n", n)
	fmt.Printf("you:    %s\n", res.Transcription)
	fmt.Printf("reader: %s\n", res.Reply)
	for _, a := range res.Actions {
		fmt.Printf("  action %s %s\n", a.Name(), a.Arguments())
	}
	for _, err := range res.ActionErrors {
		fmt.Printf("  refused: %v\n", err)
	}
	if res.Dropped > 0 {
		fmt.Printf("  dropped %d unrecognised call(s)\n", res.Dropped)
	}
	if len(cards) == 0 {
		fmt.Println("spread: (empty)")
		return
	}
	fmt.Println("spread:")
	for i, c := range cards {
		face := "face down"
		if c.Revealed {
			face = "revealed"
		}
		fmt.Printf("  %d. %s (%s, %s)\n", i+1, c.Name, c.Position, face)
	}
}

// discard is the output used when no reply file is wanted.
var discard = playback.OutputFunc(func(audio.AudioFrame) error { return nil })
