// Package console presents a running conversation on a terminal: assistant text and
// user transcripts go to a writer, assistant audio to a raw PCM or WAV stream.
package console

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Sink implements realtime.Sink.
type Sink struct {
	mu    sync.Mutex
	out   io.Writer
	audio io.Writer
	// open is the speaker of the line currently being written, if any.
	open    string
	written int64
}

// New returns a sink writing text to out. audio may be nil to discard playback.
func New(out, audio io.Writer) *Sink {
	return &Sink{out: out, audio: audio}
}

func (s *Sink) WriteAudio(pcm []byte) error {
	if s.audio == nil {
		return nil
	}
	n, err := s.audio.Write(pcm)
	s.mu.Lock()
	s.written += int64(n)
	s.mu.Unlock()
	return err
}

// AudioBytes is the number of playback bytes written so far.
func (s *Sink) AudioBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *Sink) Text(delta string, done bool) { s.line("assistant", delta, done) }

func (s *Sink) Transcript(delta string, done bool) { s.line("you", delta, done) }

func (s *Sink) line(who, delta string, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if delta != "" {
		if s.open != who {
			s.breakLine()
			fmt.Fprintf(s.out, "%s: ", who)
			s.open = who
		}
		io.WriteString(s.out, delta)
	}
	if done && s.open == who {
		s.breakLine()
	}
}

func (s *Sink) breakLine() {
	if s.open != "" {
		io.WriteString(s.out, "\n")
		s.open = ""
	}
}

func (s *Sink) Notice(kind string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakLine()
	fmt.Fprintf(s.out, "[%s]%s\n", kind, formatFields(data))
}

func formatFields(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, data[k])
	}
	return b.String()
}
