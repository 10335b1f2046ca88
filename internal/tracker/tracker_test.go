package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddObservationKeepsOrderAndDuplicates(t *testing.T) {
	s := New()
	s.AddObservation("greeting", "x")
	s.AddObservation("greeting", "x")
	s.AddObservation("greeting", "y")

	assert.Equal(t, []string{"x", "x", "y"}, s.ObservationTexts("greeting"))
	assert.Empty(t, s.ObservationTexts("main"))
}

func TestMarkCriterionMetIsIdempotent(t *testing.T) {
	s := New()
	assert.True(t, s.MarkCriterionMet("greeting", "user_greeted"))
	assert.False(t, s.MarkCriterionMet("greeting", "user_greeted"))
	assert.Equal(t, []string{"user_greeted"}, s.CriteriaMet("greeting"))
}

func TestObservationsReturnsCopy(t *testing.T) {
	s := New()
	s.AddObservation("a", "one")
	got := s.Observations("a")
	got[0].Text = "mutated"
	assert.Equal(t, "one", s.Observations("a")[0].Text)
}

func TestStatus(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	s := newWithClock(func() time.Time { return now })

	s.AddObservation("greeting", "name is Ada")
	s.AddObservation("main", "likes chess")
	s.AddObservation("main", "plays weekly")
	s.MarkCriterionMet("main", "topic_identified")
	now = start.Add(90 * time.Second)

	st := s.Status()
	require.Equal(t, 3, st.TotalObservations)
	assert.Equal(t, []string{"main"}, st.PhasesWithCriteria)
	assert.Equal(t, []string{"topic_identified"}, st.CriteriaMet["main"])
	assert.Equal(t, 90*time.Second, st.Duration)
}
