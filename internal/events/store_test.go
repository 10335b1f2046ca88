package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndList(t *testing.T) {
	s := NewStore()
	s.Append("s1", "connected", nil)
	s.For("s1").Record("phase_transition", map[string]any{"from": "a", "to": "b"})
	s.Append("s2", "connected", nil)

	got := s.List("s1")
	require.Len(t, got, 2)
	assert.Equal(t, "connected", got[0].Type)
	assert.Equal(t, "phase_transition", got[1].Type)
	assert.Equal(t, "s1", got[1].SessionID)
	assert.NotEmpty(t, got[1].ID)
	assert.True(t, s.Has("s2"))
	assert.False(t, s.Has("s3"))
}

func TestAppendCapsWithMarker(t *testing.T) {
	s := NewStore()
	for i := 0; i < MaxPerSession+10; i++ {
		s.Append("s1", "observation", map[string]any{"i": i})
	}
	got := s.List("s1")
	require.Len(t, got, MaxPerSession)

	last := got[len(got)-1]
	assert.Equal(t, TypeTruncated, last.Type)
	assert.Equal(t, 11, last.Payload["dropped"])
	for _, e := range got[:len(got)-1] {
		require.NotEqual(t, TypeTruncated, e.Type)
	}
	// the newest real event survives just before the marker
	assert.Equal(t, MaxPerSession+9, got[len(got)-2].Payload["i"])
}

func TestForget(t *testing.T) {
	s := NewStore()
	s.Append("s1", "closed", nil)
	s.Forget("s1")
	assert.Empty(t, s.List("s1"))
	assert.False(t, s.Has("s1"))
}
