// Package audio conditions captured PCM16 into the realtime wire format and plays
// back what the model sends.
package audio

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	TargetRate           = 24000
	DefaultChunkDuration = 100 * time.Millisecond
)

// Framing selects how conditioned audio is carried on the transport.
type Framing int

const (
	FramingText Framing = iota
	FramingBinary
)

// Pipeline turns one capture buffer into one wire chunk of exactly Expected samples
// of mono PCM16 at TargetRate.
type Pipeline struct {
	channels int
	chunk    time.Duration
	expected int
}

func NewPipeline(channels int, chunk time.Duration) (*Pipeline, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	if chunk <= 0 {
		chunk = DefaultChunkDuration
	}
	expected := int(int64(chunk) * TargetRate / int64(time.Second))
	if expected <= 0 {
		return nil, fmt.Errorf("audio: chunk %s too short", chunk)
	}
	return &Pipeline{channels: channels, chunk: chunk, expected: expected}, nil
}

func (p *Pipeline) ChunkDuration() time.Duration { return p.chunk }

// Expected is the number of mono samples in every produced chunk.
func (p *Pipeline) Expected() int { return p.expected }

// CaptureBytes is the capture buffer size that holds one chunk of audio recorded at
// srcRate with the pipeline's channel count.
func (p *Pipeline) CaptureBytes(srcRate int) int {
	if srcRate <= 0 {
		srcRate = TargetRate
	}
	frames := int(int64(p.chunk) * int64(srcRate) / int64(time.Second))
	return frames * p.channels * 2
}

// Process conditions raw interleaved PCM16. Empty input yields nil. Input already at
// the target shape is returned byte for byte.
func (p *Pipeline) Process(raw []byte) []byte {
	if len(raw) < 2 {
		return nil
	}
	if p.channels == 1 && len(raw) == p.expected*2 {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out
	}
	mono := Mono(Samples(raw), p.channels)
	if len(mono) == 0 {
		return nil
	}
	if len(mono) != p.expected {
		mono = Resample(mono, p.expected)
		resampledChunks.Inc()
	}
	out := Bytes(mono)
	inputLevel.Observe(RMS(out))
	return out
}

// Frame processes raw and encodes the result for the given framing: base64 text or
// raw bytes.
func (p *Pipeline) Frame(raw []byte, f Framing) []byte {
	pcm := p.Process(raw)
	if pcm == nil {
		return nil
	}
	if f == FramingBinary {
		return pcm
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(pcm)))
	base64.StdEncoding.Encode(out, pcm)
	return out
}

// DecodeWire decodes a base64 audio payload from the remote. The result is assumed to
// be mono PCM16 at TargetRate; an odd trailing byte is dropped.
func DecodeWire(payload string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("audio: decode payload: %w", err)
	}
	return b[:len(b)&^1], nil
}
