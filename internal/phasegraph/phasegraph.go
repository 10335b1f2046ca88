// Package phasegraph describes a scripted conversation: its phases, their goals and
// the transitions allowed between them. A Config is immutable once loaded and is
// shared read-only by every component of a session.
package phasegraph

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

const DefaultVoice = "alloy"

// PhaseDef is one stage of the conversation.
type PhaseDef struct {
	// ID is the key of the phase in Config.Phases; filled in on load.
	ID                   string         `yaml:"-" json:"-"`
	Name                 string         `yaml:"name" json:"name"`
	Instructions         string         `yaml:"instructions" json:"instructions"`
	SuccessCriteria      []string       `yaml:"success_criteria" json:"success_criteria"`
	RequiredObservations []string       `yaml:"required_observations" json:"required_observations"`
	NextPhases           []string       `yaml:"next_phases" json:"next_phases"`
	MaxDurationSeconds   int            `yaml:"max_duration_seconds,omitempty" json:"max_duration_seconds,omitempty"`
	CompletionRules      map[string]any `yaml:"completion_rules,omitempty" json:"completion_rules,omitempty"`
}

// Allows reports whether target is a permitted next phase.
func (p PhaseDef) Allows(target string) bool {
	return slices.Contains(p.NextPhases, target)
}

// Config is a named conversation definition.
type Config struct {
	Name               string              `yaml:"name" json:"name"`
	Goal               string              `yaml:"goal" json:"goal"`
	InitialPhase       string              `yaml:"initial_phase" json:"initial_phase"`
	SystemInstructions string              `yaml:"system_instructions" json:"system_instructions"`
	Voice              string              `yaml:"voice,omitempty" json:"voice,omitempty"`
	MaxDurationSeconds int                 `yaml:"max_duration_seconds,omitempty" json:"max_duration_seconds,omitempty"`
	CompletionCriteria map[string]any      `yaml:"completion_criteria,omitempty" json:"completion_criteria,omitempty"`
	Phases             map[string]PhaseDef `yaml:"phases" json:"phases"`
}

// ConfigurationError reports a malformed conversation definition.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Phase returns the definition of id.
func (c *Config) Phase(id string) (PhaseDef, bool) {
	p, ok := c.Phases[id]
	if ok {
		p.ID = id
	}
	return p, ok
}

// PhaseIDs returns the phase ids in sorted order.
func (c *Config) PhaseIDs() []string {
	ids := make([]string, 0, len(c.Phases))
	for id := range c.Phases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Instructions merges the global instructions with those of the given phase.
// An unknown phase yields the global instructions alone.
func (c *Config) Instructions(phaseID string) string {
	p, ok := c.Phases[phaseID]
	if !ok {
		return c.SystemInstructions
	}
	var b strings.Builder
	b.WriteString(c.SystemInstructions)
	b.WriteString("\n\nCurrent phase: ")
	b.WriteString(p.Name)
	if p.Instructions != "" {
		b.WriteString("\n")
		b.WriteString(p.Instructions)
	}
	return b.String()
}

// normalize fills derived fields and defaults. It must run before Validate.
func (c *Config) normalize() {
	if strings.TrimSpace(c.Voice) == "" {
		c.Voice = DefaultVoice
	}
	for id, p := range c.Phases {
		p.ID = id
		if strings.TrimSpace(p.Name) == "" {
			p.Name = id
		}
		c.Phases[id] = p
	}
}

// Validate checks the structural invariants of the phase graph. Acyclicity is not
// required.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ConfigurationError{Field: "name", Reason: "must not be empty"}
	}
	if len(c.Phases) == 0 {
		return &ConfigurationError{Field: "phases", Reason: "at least one phase is required"}
	}
	if _, ok := c.Phases[c.InitialPhase]; !ok {
		return &ConfigurationError{Field: "initial_phase", Reason: fmt.Sprintf("unknown phase %q", c.InitialPhase)}
	}
	if c.MaxDurationSeconds < 0 {
		return &ConfigurationError{Field: "max_duration_seconds", Reason: "must not be negative"}
	}
	for _, id := range c.PhaseIDs() {
		p := c.Phases[id]
		if strings.TrimSpace(id) == "" {
			return &ConfigurationError{Field: "phases", Reason: "phase id must not be empty"}
		}
		if p.MaxDurationSeconds < 0 {
			return &ConfigurationError{Field: "phases." + id + ".max_duration_seconds", Reason: "must not be negative"}
		}
		for _, next := range p.NextPhases {
			if _, ok := c.Phases[next]; !ok {
				return &ConfigurationError{Field: "phases." + id + ".next_phases", Reason: fmt.Sprintf("unknown phase %q", next)}
			}
		}
	}
	return nil
}
