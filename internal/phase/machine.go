// Package phase drives the conversation through its phase graph.
//
// Transitions are requested from outside (the model calls a tool); meeting success
// criteria never moves the machine on its own. A Machine is not safe for concurrent
// use and is owned by a single session.
package phase

import (
	"context"
	"time"

	"guidedconv/agent/internal/phasegraph"
	"guidedconv/agent/internal/tracker"
)

// Completion is the immutable record of a phase that was left.
type Completion struct {
	Phase        string                `json:"phase"`
	Duration     time.Duration         `json:"duration_ns"`
	CriteriaMet  []string              `json:"criteria_met"`
	Observations []tracker.Observation `json:"observations"`
	CompletedAt  time.Time             `json:"completed_at"`
}

// InstructionUpdater pushes new instructions to the remote model.
type InstructionUpdater interface {
	UpdateInstructions(ctx context.Context, instructions string) error
}

// Rejection reasons reported in Result.Reason.
const (
	ReasonUnknownPhase = "unknown_phase"
	ReasonNotPermitted = "not_permitted"
	ReasonPolicy       = "policy"
)

// Result describes the outcome of AttemptTransition. A rejected transition is an
// expected outcome, not an error.
type Result struct {
	Accepted   bool        `json:"accepted"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	Reason     string      `json:"reason,omitempty"`
	Completion *Completion `json:"completion,omitempty"`
}

type Machine struct {
	cfg     *phasegraph.Config
	obs     *tracker.Store
	updater InstructionUpdater
	policy  Policy
	now     func() time.Time

	current    string
	phaseStart time.Time
	history    []Completion
}

type Option func(*Machine)

// WithPolicy installs a transition policy. The default allows every transition the
// graph permits.
func WithPolicy(p Policy) Option {
	return func(m *Machine) {
		if p != nil {
			m.policy = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// New starts a machine at cfg.InitialPhase. updater may be nil, in which case
// transitions only change local state.
func New(cfg *phasegraph.Config, obs *tracker.Store, updater InstructionUpdater, opts ...Option) *Machine {
	m := &Machine{
		cfg:     cfg,
		obs:     obs,
		updater: updater,
		policy:  AllowAll{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.current = cfg.InitialPhase
	m.phaseStart = m.now()
	return m
}

func (m *Machine) Current() string { return m.current }

func (m *Machine) CurrentDef() phasegraph.PhaseDef {
	p, _ := m.cfg.Phase(m.current)
	return p
}

func (m *Machine) PhaseStart() time.Time { return m.phaseStart }

// Elapsed is the time spent in the current phase.
func (m *Machine) Elapsed() time.Duration {
	d := m.now().Sub(m.phaseStart)
	if d < 0 {
		return 0
	}
	return d
}

// Overdue reports whether the current phase exceeded its duration budget.
func (m *Machine) Overdue() bool {
	max := m.CurrentDef().MaxDurationSeconds
	return max > 0 && m.Elapsed() > time.Duration(max)*time.Second
}

// History returns a copy of the completed phases in order.
func (m *Machine) History() []Completion {
	out := make([]Completion, len(m.history))
	copy(out, m.history)
	return out
}

// AttemptTransition moves to target if the graph permits it. On acceptance the
// outgoing phase is appended to the history and the remote instructions are updated;
// a non-nil error means the state changed but the update could not be sent.
func (m *Machine) AttemptTransition(ctx context.Context, target string) (Result, error) {
	res := Result{From: m.current, To: target}
	if _, ok := m.cfg.Phase(target); !ok {
		res.Reason = ReasonUnknownPhase
		return res, nil
	}
	from := m.CurrentDef()
	if !from.Allows(target) {
		res.Reason = ReasonNotPermitted
		return res, nil
	}
	if !m.policy.Allow(from, target, m.obs) {
		res.Reason = ReasonPolicy
		return res, nil
	}

	now := m.now()
	d := now.Sub(m.phaseStart)
	if d < 0 {
		d = 0
	}
	c := Completion{
		Phase:        m.current,
		Duration:     d,
		CriteriaMet:  m.obs.CriteriaMet(m.current),
		Observations: m.obs.Observations(m.current),
		CompletedAt:  now.UTC(),
	}
	m.history = append(m.history, c)
	m.current = target
	m.phaseStart = now

	res.Accepted = true
	res.Completion = &c
	if m.updater == nil {
		return res, nil
	}
	return res, m.updater.UpdateInstructions(ctx, m.cfg.Instructions(target))
}
