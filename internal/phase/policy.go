package phase

import (
	"guidedconv/agent/internal/phasegraph"
	"guidedconv/agent/internal/tracker"
)

// Policy decides whether a structurally valid transition may proceed.
type Policy interface {
	Allow(from phasegraph.PhaseDef, target string, obs *tracker.Store) bool
}

// AllowAll accepts every transition the graph permits.
type AllowAll struct{}

func (AllowAll) Allow(phasegraph.PhaseDef, string, *tracker.Store) bool { return true }

// RequireCriteria only lets a phase be left once all its success criteria are met.
// It is never installed implicitly.
type RequireCriteria struct{}

func (RequireCriteria) Allow(from phasegraph.PhaseDef, _ string, obs *tracker.Store) bool {
	met := make(map[string]bool)
	for _, c := range obs.CriteriaMet(from.ID) {
		met[c] = true
	}
	for _, c := range from.SuccessCriteria {
		if !met[c] {
			return false
		}
	}
	return true
}
