package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"guidedconv/agent/internal/audio"
	"guidedconv/agent/internal/config"
	"guidedconv/agent/internal/console"
	"guidedconv/agent/internal/logging"
	"guidedconv/agent/internal/phase"
	"guidedconv/agent/internal/phasegraph"
	"guidedconv/agent/internal/realtime"
)

var (
	runConfig   string
	runInput    string
	runRate     int
	runChannels int
	runOutput   string
	runPolicy   string
	runLinger   time.Duration
	runTimeout  time.Duration
	runRealtime bool
)

// errFinished ends the task group once the conversation is over.
var errFinished = errors.New("conversation finished")

func init() {
	runCmd.Flags().StringVarP(&runConfig, "config", "c", "", "conversation definition (defaults to CONVERSATION_CONFIG)")
	runCmd.Flags().StringVarP(&runInput, "input", "i", "-", "capture source: a .wav file, a raw PCM16 file or - for stdin")
	runCmd.Flags().IntVar(&runRate, "rate", audio.TargetRate, "sample rate of raw input")
	runCmd.Flags().IntVar(&runChannels, "channels", 1, "channel count of raw input")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write assistant audio to this file (.wav or raw PCM16)")
	runCmd.Flags().StringVar(&runPolicy, "policy", "allow", "transition policy: allow or criteria")
	runCmd.Flags().DurationVar(&runLinger, "linger", 10*time.Second, "how long to wait for the model once input ends")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "overall time limit (0 for none)")
	runCmd.Flags().BoolVar(&runRealtime, "realtime", true, "pace file input at its natural speed")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a conversation",
	Long: `Create a realtime session for a conversation definition, stream captured audio
to it and print the assistant's text, transcripts and phase changes.

Examples:
  # Stream a recording
  guide run -c conversations/basic.yaml -i question.wav -o answer.wav

  # Pipe 48 kHz stereo PCM16 from another tool
  arecord -f S16_LE -r 48000 -c 2 -t raw | guide run -c basic.yaml --rate 48000 --channels 2`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

// guideSink signals when the model declares the conversation complete.
type guideSink struct {
	*console.Sink
	completed chan struct{}
	once      sync.Once
}

func newGuideSink(s *console.Sink) *guideSink {
	return &guideSink{Sink: s, completed: make(chan struct{})}
}

func (s *guideSink) Notice(kind string, data map[string]any) {
	s.Sink.Notice(kind, data)
	if kind == realtime.KindCompleted {
		s.once.Do(func() { close(s.completed) })
	}
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	log, err := logging.New(cfg.Server.LogLevel, "console")
	if err != nil {
		return err
	}
	defer log.Sync()

	path := runConfig
	if path == "" {
		path = cfg.Conversation.Path
	}
	if path == "" {
		return errors.New("no conversation definition: pass --config or set CONVERSATION_CONFIG")
	}
	conv, err := phasegraph.Load(path)
	if err != nil {
		return err
	}
	policy, err := parsePolicy(runPolicy)
	if err != nil {
		return err
	}
	src, format, err := openInput(runInput, runRate, runChannels)
	if err != nil {
		return err
	}
	defer src.Close()
	audioOut, finish, err := openOutput(runOutput)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sink := newGuideSink(console.New(out, audioOut))
	sess, err := realtime.NewSession(conv, realtime.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL), realtime.Config{
		Model:            cfg.OpenAI.Model,
		WSURL:            cfg.OpenAI.WSURL,
		HandshakeTimeout: cfg.OpenAI.HandshakeTimeout,
		ChunkDuration:    cfg.Audio.ChunkDuration,
		InputChannels:    format.Channels,
		Policy:           policy,
	}, realtime.WithLogger(log.Named("realtime")))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	if err := sess.Initialize(ctx); err != nil {
		return err
	}
	if err := sess.Connect(ctx, sink); err != nil {
		return err
	}
	fmt.Fprintf(out, "connected: %s, phase %q\n", conv.Name, conv.InitialPhase)

	pacing := cfg.Audio.CapturePacing
	if runRealtime && runInput != "-" {
		pacing = sess.Pipeline().ChunkDuration()
	}
	captured := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// unblock a pending read on shutdown
		<-gctx.Done()
		_ = src.Close()
		return nil
	})
	g.Go(func() error {
		defer close(captured)
		return capture(gctx, sess, src, format.SampleRate, pacing)
	})
	g.Go(func() error {
		return receive(gctx, sess, sink, captured, log)
	})
	err = g.Wait()

	_ = sess.Close()
	if ferr := finish(); ferr != nil {
		log.Warn("finishing audio output", zap.Error(ferr))
	}
	fmt.Fprintln(out)
	if serr := console.Summary(out, sess.Snapshot()); serr != nil {
		return serr
	}
	if runOutput != "" {
		fmt.Fprintf(out, "assistant audio: %d bytes written to %s\n", sink.AudioBytes(), runOutput)
	}
	if errors.Is(err, errFinished) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// capture reads one chunk of audio at a time from src and sends it. A short final
// chunk is padded with silence so it is not stretched by the resampler.
func capture(ctx context.Context, sess *realtime.Session, src io.Reader, srcRate int, pacing time.Duration) error {
	buf := make([]byte, sess.Pipeline().CaptureBytes(srcRate))
	lim := rate.NewLimiter(rate.Every(pacing), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return nil
		}
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			clear(buf[n:])
			if serr := sess.SendAudio(ctx, buf); serr != nil {
				if ctx.Err() != nil {
					return nil
				}
				return serr
			}
		}
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
	}
}

// receive watches the session until it ends, the conversation completes or the
// linger period after the end of input runs out.
func receive(ctx context.Context, sess *realtime.Session, sink *guideSink, captured <-chan struct{}, log *zap.Logger) error {
	var linger <-chan time.Time
	completed := sink.completed
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.Done():
			return errFinished
		case err := <-sess.Errors():
			var te *realtime.TransportError
			if errors.As(err, &te) {
				return err
			}
			log.Warn("session error", zap.Error(err))
		case <-completed:
			completed = nil
			// let the final words play out
			linger = time.After(2 * time.Second)
		case <-captured:
			captured = nil
			if linger == nil {
				linger = time.After(runLinger)
			}
		case <-linger:
			return errFinished
		}
	}
}

func parsePolicy(name string) (phase.Policy, error) {
	switch name {
	case "", "allow":
		return phase.AllowAll{}, nil
	case "criteria":
		return phase.RequireCriteria{}, nil
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}

// openInput opens the capture source. WAV files carry their own format; raw input
// uses the given rate and channel count.
func openInput(path string, srcRate, channels int) (io.ReadCloser, audio.Format, error) {
	if channels <= 0 || srcRate <= 0 {
		return nil, audio.Format{}, fmt.Errorf("invalid input format: %d Hz, %d channels", srcRate, channels)
	}
	raw := audio.Format{SampleRate: srcRate, Channels: channels}
	if path == "" || path == "-" {
		return os.Stdin, raw, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, audio.Format{}, err
	}
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return f, raw, nil
	}
	defer f.Close()
	pcm, format, err := audio.ReadWAV(f)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("%s: %w", path, err)
	}
	return io.NopCloser(bytes.NewReader(pcm)), format, nil
}

// openOutput opens the playback destination. finish must be called once playback has
// stopped.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return nil, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return f, f.Close, nil
	}
	ww, err := audio.NewWAVWriter(f, audio.Format{SampleRate: audio.TargetRate, Channels: 1})
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return ww, func() error {
		if err := ww.Close(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}
