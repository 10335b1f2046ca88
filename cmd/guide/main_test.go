package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guidedconv/agent/internal/audio"
	"guidedconv/agent/internal/console"
	"guidedconv/agent/internal/phase"
	"guidedconv/agent/internal/realtime"
)

func TestValidateCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate", "testdata/basic.yaml"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), `initial phase "greeting"`)
	assert.Contains(t, out.String(), "conclusion")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: x\ninitial_phase: nope\nphases:\n  a: {next_phases: []}\n"), 0o644))
	rootCmd.SetArgs([]string{"validate", bad})
	assert.Error(t, rootCmd.Execute())
}

func TestOpenInputWAV(t *testing.T) {
	pcm := audio.Bytes([]int16{1, -1, 2, -2})
	path := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, os.WriteFile(path, audio.EncodeWAV(pcm, audio.Format{SampleRate: 48000, Channels: 2}), 0o644))

	src, format, err := openInput(path, audio.TargetRate, 1)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, audio.Format{SampleRate: 48000, Channels: 2}, format)
	got, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, pcm, got)

	_, _, err = openInput(path, 0, 1)
	assert.Error(t, err)
}

func TestOpenOutputWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w, finish, err := openOutput(path)
	require.NoError(t, err)
	_, err = w.Write([]byte{1, 0, 2, 0})
	require.NoError(t, err)
	require.NoError(t, finish())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	pcm, format, err := audio.ReadWAV(f)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0}, pcm)
	assert.Equal(t, audio.TargetRate, format.SampleRate)

	w, finish, err = openOutput("")
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.NoError(t, finish())
}

func TestParsePolicy(t *testing.T) {
	p, err := parsePolicy("criteria")
	require.NoError(t, err)
	assert.IsType(t, phase.RequireCriteria{}, p)
	_, err = parsePolicy("strict")
	assert.Error(t, err)
}

func TestGuideSinkSignalsCompletion(t *testing.T) {
	var out bytes.Buffer
	s := newGuideSink(console.New(&out, nil))
	s.Notice(realtime.KindPhaseTransition, nil)
	select {
	case <-s.completed:
		t.Fatal("completed too early")
	default:
	}
	s.Notice(realtime.KindCompleted, map[string]any{"notes": "ok"})
	s.Notice(realtime.KindCompleted, nil)
	_, open := <-s.completed
	assert.False(t, open)
	assert.Contains(t, out.String(), "[completed] notes=ok")
}
