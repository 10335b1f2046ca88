// Package tracker records what was learned during a conversation: free-text
// observations and satisfied success criteria, both keyed by phase.
//
// A Store is not safe for concurrent use. A session mutates it from its single
// dispatch goroutine; any other caller must hold the session lock.
package tracker

import (
	"sort"
	"time"
)

// Observation is a free-text fact recorded against a phase.
type Observation struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is a per-phase append log of observations plus a per-phase criteria set.
type Store struct {
	observations map[string][]Observation
	criteria     map[string]map[string]struct{}
	startedAt    time.Time
	now          func() time.Time
}

func New() *Store {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Store {
	return &Store{
		observations: make(map[string][]Observation),
		criteria:     make(map[string]map[string]struct{}),
		startedAt:    now(),
		now:          now,
	}
}

// AddObservation appends text to the phase log. Order and duplicates are kept.
func (s *Store) AddObservation(phase, text string) Observation {
	o := Observation{Text: text, Timestamp: s.now().UTC()}
	s.observations[phase] = append(s.observations[phase], o)
	return o
}

// MarkCriterionMet records criterion as satisfied for phase. It reports whether the
// criterion was newly added.
func (s *Store) MarkCriterionMet(phase, criterion string) bool {
	set := s.criteria[phase]
	if set == nil {
		set = make(map[string]struct{})
		s.criteria[phase] = set
	}
	if _, ok := set[criterion]; ok {
		return false
	}
	set[criterion] = struct{}{}
	return true
}

// Observations returns a copy of the observations recorded for phase.
func (s *Store) Observations(phase string) []Observation {
	src := s.observations[phase]
	out := make([]Observation, len(src))
	copy(out, src)
	return out
}

// ObservationTexts returns the observation texts for phase in insertion order.
func (s *Store) ObservationTexts(phase string) []string {
	src := s.observations[phase]
	out := make([]string, len(src))
	for i, o := range src {
		out[i] = o.Text
	}
	return out
}

// CriteriaMet returns the criteria satisfied for phase, sorted.
func (s *Store) CriteriaMet(phase string) []string {
	set := s.criteria[phase]
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Status summarizes the store.
//
// PhasesWithCriteria lists phases with at least one criterion met. This is not the
// same as confirmed phase transitions, which live in the phase machine history.
type Status struct {
	TotalObservations  int                 `json:"total_observations"`
	PhasesWithCriteria []string            `json:"phases_with_criteria"`
	CriteriaMet        map[string][]string `json:"criteria_met"`
	Duration           time.Duration       `json:"duration_ns"`
}

func (s *Store) Status() Status {
	st := Status{
		CriteriaMet: make(map[string][]string, len(s.criteria)),
		Duration:    s.now().Sub(s.startedAt),
	}
	for _, obs := range s.observations {
		st.TotalObservations += len(obs)
	}
	for phase, set := range s.criteria {
		if len(set) == 0 {
			continue
		}
		st.PhasesWithCriteria = append(st.PhasesWithCriteria, phase)
		st.CriteriaMet[phase] = s.CriteriaMet(phase)
	}
	sort.Strings(st.PhasesWithCriteria)
	return st
}
