package audio

import (
	"bytes"
	"encoding/base64"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n int, freq, rate float64, amp float64) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return s
}

func newPipeline(t *testing.T, channels int) *Pipeline {
	t.Helper()
	p, err := NewPipeline(channels, 100*time.Millisecond)
	require.NoError(t, err)
	return p
}

func TestPipelineExpected(t *testing.T) {
	p := newPipeline(t, 1)
	assert.Equal(t, 2400, p.Expected())
	assert.Equal(t, 4800, p.CaptureBytes(24000))
	assert.Equal(t, 9600, p.CaptureBytes(48000))
}

func TestPipelineSubMillisecondChunk(t *testing.T) {
	p, err := NewPipeline(2, 12500*time.Microsecond)
	require.NoError(t, err)
	assert.Equal(t, 300, p.Expected())
	assert.Equal(t, 2400, p.CaptureBytes(48000))
}

func TestProcessEmptyInput(t *testing.T) {
	p := newPipeline(t, 1)
	assert.Nil(t, p.Process(nil))
	assert.Nil(t, p.Process([]byte{}))
	assert.Nil(t, p.Frame(nil, FramingText))
}

func TestProcessConformingInputRoundTrips(t *testing.T) {
	p := newPipeline(t, 1)
	in := Bytes(sine(2400, 440, 24000, 12000))
	out := p.Process(in)
	assert.True(t, bytes.Equal(in, out))
}

func TestProcessDoubleLengthResamplesToExpected(t *testing.T) {
	p := newPipeline(t, 1)
	out := p.Process(Bytes(sine(4800, 440, 48000, 12000)))
	assert.Len(t, out, 2400*2)
}

func TestProcessArbitraryLengths(t *testing.T) {
	p := newPipeline(t, 1)
	for _, n := range []int{1, 7, 1200, 2399, 2401, 4410, 9600} {
		out := p.Process(Bytes(sine(n, 200, 24000, 8000)))
		assert.Len(t, out, 4800, "n=%d", n)
	}
}

func TestProcessPreservesDCLevel(t *testing.T) {
	p := newPipeline(t, 1)
	in := make([]int16, 4410)
	for i := range in {
		in[i] = 1000
	}
	for _, v := range Samples(p.Process(Bytes(in))) {
		require.Equal(t, int16(1000), v)
	}
}

func TestProcessAveragesChannels(t *testing.T) {
	p := newPipeline(t, 2)
	in := make([]int16, 2400*2)
	for i := 0; i < len(in); i += 2 {
		in[i] = 1000
		in[i+1] = -200
	}
	out := Samples(p.Process(Bytes(in)))
	require.Len(t, out, 2400)
	for _, v := range out {
		require.Equal(t, int16(400), v)
	}
}

func TestFrameEncodings(t *testing.T) {
	p := newPipeline(t, 1)
	in := Bytes(sine(2400, 440, 24000, 1000))

	assert.Equal(t, in, p.Frame(in, FramingBinary))

	txt := p.Frame(in, FramingText)
	dec, err := DecodeWire(string(txt))
	require.NoError(t, err)
	assert.Equal(t, in, dec)
}

func TestDecodeWireDropsOddByte(t *testing.T) {
	b, err := DecodeWire(base64.StdEncoding.EncodeToString([]byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, b)

	_, err = DecodeWire("%%%")
	assert.Error(t, err)
}

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.InDelta(t, 100, RMS(Bytes([]int16{100, -100, 100, -100})), 1e-9)
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := Bytes(sine(480, 440, 48000, 5000))
	f := Format{SampleRate: 48000, Channels: 2}

	got, gf, err := ReadWAV(bytes.NewReader(EncodeWAV(pcm, f)))
	require.NoError(t, err)
	assert.Equal(t, f, gf)
	assert.Equal(t, pcm, got)

	_, _, err = ReadWAV(bytes.NewReader([]byte("not a wav at all, sorry")))
	assert.Error(t, err)
}

func TestWAVWriterPatchesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	fh, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWAVWriter(fh, Format{SampleRate: TargetRate, Channels: 1})
	require.NoError(t, err)
	_, err = w.Write([]byte{1, 0, 2, 0})
	require.NoError(t, err)
	_, err = w.Write([]byte{3, 0})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, fh.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	pcm, f, err := ReadWAV(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, TargetRate, f.SampleRate)
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0}, pcm)
}

type gatedOutput struct {
	mu      sync.Mutex
	got     []string
	started chan struct{}
	release chan struct{}
}

func (g *gatedOutput) WriteAudio(pcm []byte) error {
	g.mu.Lock()
	first := len(g.got) == 0
	g.got = append(g.got, string(pcm))
	g.mu.Unlock()
	if first {
		close(g.started)
		<-g.release
	}
	return nil
}

func (g *gatedOutput) frames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.got...)
}

func TestPlayerKeepsOrder(t *testing.T) {
	out := &gatedOutput{started: make(chan struct{}), release: make(chan struct{})}
	close(out.release)
	p := NewPlayer(out, 4, nil)
	for _, s := range []string{"a", "b", "c", "d", "e", "f"} {
		require.True(t, p.Enqueue([]byte(s)))
	}
	p.Close()
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, out.frames())
	assert.False(t, p.Playing())
	assert.False(t, p.Enqueue([]byte("late")))
}

func TestPlayerFlushDropsQueuedFrames(t *testing.T) {
	out := &gatedOutput{started: make(chan struct{}), release: make(chan struct{})}
	p := NewPlayer(out, 8, nil)

	p.Enqueue([]byte("a"))
	<-out.started
	p.Enqueue([]byte("b"))
	p.Enqueue([]byte("c"))
	assert.True(t, p.Playing())

	p.Flush()
	p.Enqueue([]byte("d"))
	close(out.release)
	p.Close()

	assert.Equal(t, []string{"a", "d"}, out.frames())
}

func TestPlayerTryEnqueueDropsWhenFull(t *testing.T) {
	out := &gatedOutput{started: make(chan struct{}), release: make(chan struct{})}
	p := NewPlayer(out, 1, nil)

	require.True(t, p.TryEnqueue([]byte("a")))
	<-out.started
	assert.True(t, p.TryEnqueue([]byte("b")))
	assert.False(t, p.TryEnqueue([]byte("c")))

	close(out.release)
	p.Close()
	assert.Equal(t, []string{"a", "b"}, out.frames())
	assert.False(t, p.Playing())
	assert.False(t, p.TryEnqueue([]byte("late")))
}
