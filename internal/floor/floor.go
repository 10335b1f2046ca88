// Package floor keeps track of who holds the conversational floor: the user, whose
// speech the remote detects, or the assistant, whose response is streaming or still
// playing locally.
package floor

import "time"

// Decision represents the action the floor manager wants to take.
type Decision struct {
	// CancelResponse asks the remote to stop generating ResponseID.
	CancelResponse bool
	ResponseID     string
	// FlushPlayback discards assistant audio queued locally.
	FlushPlayback bool
	Reason        string // e.g., "barge_in"
}

// Manager is not safe for concurrent use; the session drives it from the dispatch
// goroutine.
type Manager struct {
	responding       bool
	activeResponseID string
	userSpeaking     bool

	lastSpeechStart  time.Time
	lastResponseTime time.Time
	userTurns        int
	bargeIns         int
}

func New() *Manager { return &Manager{} }

func (m *Manager) OnResponseStarted(responseID string, at time.Time) Decision {
	m.responding = true
	m.activeResponseID = responseID
	m.lastResponseTime = at
	return Decision{}
}

func (m *Manager) OnResponseDone(responseID string) Decision {
	// Regardless of ID match, a finished response releases the floor.
	m.responding = false
	m.activeResponseID = ""
	return Decision{}
}

// OnSpeechStarted handles the remote's voice activity start. playing reports whether
// assistant audio is still queued for local playback.
func (m *Manager) OnSpeechStarted(at time.Time, playing bool) Decision {
	m.userSpeaking = true
	m.lastSpeechStart = at
	d := Decision{}
	if m.responding {
		d.CancelResponse = true
		d.ResponseID = m.activeResponseID
	}
	if m.responding || playing {
		d.FlushPlayback = true
		d.Reason = "barge_in"
		m.bargeIns++
	}
	return d
}

func (m *Manager) OnSpeechStopped(at time.Time) Decision {
	if m.userSpeaking {
		m.userTurns++
	}
	m.userSpeaking = false
	return Decision{}
}

// Stats is a snapshot of the floor counters.
type Stats struct {
	UserTurns    int  `json:"user_turns"`
	BargeIns     int  `json:"barge_ins"`
	UserSpeaking bool `json:"user_speaking"`
	Responding   bool `json:"responding"`
}

func (m *Manager) Stats() Stats {
	return Stats{UserTurns: m.userTurns, BargeIns: m.bargeIns, UserSpeaking: m.userSpeaking, Responding: m.responding}
}
