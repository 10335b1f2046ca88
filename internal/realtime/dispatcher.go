package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"guidedconv/agent/internal/audio"
	"guidedconv/agent/internal/floor"
	"guidedconv/agent/internal/phase"
	"guidedconv/agent/internal/tracker"
)

// Audit and notice kinds emitted by a session.
const (
	KindSessionCreated     = "session_created"
	KindConnected          = "connected"
	KindPhaseTransition    = "phase_transition"
	KindTransitionRejected = "transition_rejected"
	KindObservation        = "observation"
	KindCriteriaMet        = "criteria_met"
	KindCompleted          = "completed"
	KindRemoteError        = "remote_error"
	KindBargeIn            = "barge_in"
	KindClosed             = "closed"
)

// Sink is the caller-supplied presentation target.
type Sink interface {
	audio.Output
	Text(delta string, done bool)
	Transcript(delta string, done bool)
	Notice(kind string, data map[string]any)
}

// Recorder receives audit records for one session.
type Recorder interface {
	Record(kind string, data map[string]any)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, map[string]any) {}

// State is the session-level flags the dispatcher mutates.
type State struct {
	Active            bool      `json:"active"`
	RemoteSessionID   string    `json:"remote_session_id,omitempty"`
	ConversationStart time.Time `json:"conversation_start"`
	Completed         bool      `json:"completed"`
	Notes             string    `json:"notes,omitempty"`
}

type outbound interface {
	sendJSON(ctx context.Context, v any) error
}

// Dispatcher routes inbound events to their handler. It holds non-owning references
// to the session's state, phase machine, tracker and player, and must only be used
// from one goroutine at a time.
type Dispatcher struct {
	state   *State
	machine *phase.Machine
	obs     *tracker.Store
	floor   *floor.Manager
	player  *audio.Player
	sink    Sink
	out     outbound
	audit   Recorder
	report  func(error)
	log     *zap.Logger
	now     func() time.Time

	// call_id -> phase active when the call was first seen
	calls map[string]string
}

type handlerFunc func(d *Dispatcher, ctx context.Context, ev *ServerEvent) error

var handlers = map[string]handlerFunc{
	EventSessionCreated:         (*Dispatcher).onSessionCreated,
	EventSessionUpdated:         (*Dispatcher).onInformational,
	EventConversationCreated:    (*Dispatcher).onInformational,
	EventItemCreated:            (*Dispatcher).onItem,
	EventOutputItemAdded:        (*Dispatcher).onItem,
	EventResponseCreated:        (*Dispatcher).onResponseCreated,
	EventResponseDone:           (*Dispatcher).onResponseDone,
	EventTextDelta:              (*Dispatcher).onTextDelta,
	EventTextDone:               (*Dispatcher).onTextDone,
	EventAudioDelta:             (*Dispatcher).onAudioDelta,
	EventAudioDone:              (*Dispatcher).onInformational,
	EventTranscriptDelta:        (*Dispatcher).onTranscriptDelta,
	EventTranscriptDone:         (*Dispatcher).onTranscriptDone,
	EventFunctionArgumentsDelta: (*Dispatcher).onFunctionArgumentsDelta,
	EventFunctionArgumentsDone:  (*Dispatcher).onFunctionArgumentsDone,
	EventSpeechStarted:          (*Dispatcher).onSpeechStarted,
	EventSpeechStopped:          (*Dispatcher).onSpeechStopped,
	EventRateLimitsUpdated:      (*Dispatcher).onInformational,
	EventError:                  (*Dispatcher).onError,
}

// Handle runs the handler for ev to completion. Unknown types are logged and dropped.
func (d *Dispatcher) Handle(ctx context.Context, ev *ServerEvent) error {
	h, ok := handlers[ev.Type]
	if !ok {
		metricUnknownEvents.Inc()
		d.log.Debug("unhandled event", zap.String("type", ev.Type))
		return nil
	}
	metricEvents.WithLabelValues(ev.Type).Inc()
	return h(d, ctx, ev)
}

func (d *Dispatcher) record(kind string, data map[string]any) {
	d.audit.Record(kind, data)
	d.sink.Notice(kind, data)
}

func (d *Dispatcher) onInformational(_ context.Context, ev *ServerEvent) error {
	d.log.Debug("event", zap.String("type", ev.Type), zap.String("event_id", ev.EventID))
	return nil
}

func (d *Dispatcher) onSessionCreated(_ context.Context, ev *ServerEvent) error {
	d.state.Active = true
	if ev.Session != nil && ev.Session.ID != "" {
		d.state.RemoteSessionID = ev.Session.ID
	}
	return nil
}

func (d *Dispatcher) onItem(_ context.Context, ev *ServerEvent) error {
	if ev.Item != nil && ev.Item.Type == itemFunctionCall {
		d.rememberCall(ev.Item.CallID)
	}
	return nil
}

func (d *Dispatcher) onResponseCreated(_ context.Context, ev *ServerEvent) error {
	id := ev.ResponseID
	if ev.Response != nil {
		id = ev.Response.ID
	}
	d.floor.OnResponseStarted(id, d.now())
	return nil
}

func (d *Dispatcher) onResponseDone(_ context.Context, ev *ServerEvent) error {
	id := ev.ResponseID
	if ev.Response != nil {
		id = ev.Response.ID
	}
	d.floor.OnResponseDone(id)
	return nil
}

func (d *Dispatcher) onTextDelta(_ context.Context, ev *ServerEvent) error {
	d.sink.Text(ev.Delta, false)
	return nil
}

func (d *Dispatcher) onTextDone(_ context.Context, ev *ServerEvent) error {
	d.sink.Text(ev.Text, true)
	return nil
}

func (d *Dispatcher) onTranscriptDelta(_ context.Context, ev *ServerEvent) error {
	d.sink.Transcript(ev.Delta, false)
	return nil
}

func (d *Dispatcher) onTranscriptDone(_ context.Context, ev *ServerEvent) error {
	d.sink.Transcript(ev.Transcript, true)
	return nil
}

func (d *Dispatcher) onAudioDelta(_ context.Context, ev *ServerEvent) error {
	pcm, err := audio.DecodeWire(ev.Delta)
	if err != nil {
		return &ProtocolError{Frame: ev.Type, Err: err}
	}
	if d.player == nil {
		return d.sink.WriteAudio(pcm)
	}
	// the dispatch holds the session lock, so a full queue drops instead of waiting
	if !d.player.TryEnqueue(pcm) {
		d.log.Debug("playback queue full; dropping audio", zap.Int("bytes", len(pcm)))
	}
	return nil
}

func (d *Dispatcher) onSpeechStarted(ctx context.Context, ev *ServerEvent) error {
	playing := d.player != nil && d.player.Playing()
	dec := d.floor.OnSpeechStarted(d.now(), playing)
	if dec.FlushPlayback {
		if d.player != nil {
			d.player.Flush()
		}
		metricBargeIns.Inc()
		d.record(KindBargeIn, map[string]any{"response_id": dec.ResponseID})
	}
	if dec.CancelResponse {
		return d.out.sendJSON(ctx, responseCancel)
	}
	return nil
}

func (d *Dispatcher) onSpeechStopped(_ context.Context, ev *ServerEvent) error {
	d.floor.OnSpeechStopped(d.now())
	return nil
}

func (d *Dispatcher) onError(_ context.Context, ev *ServerEvent) error {
	re := ev.Error
	if re == nil {
		re = &RemoteError{Type: "unknown", Message: "error event without payload"}
	}
	metricRemoteErrors.WithLabelValues(re.Type).Inc()
	d.log.Warn("remote error", zap.String("type", re.Type), zap.String("code", re.Code), zap.String("message", re.Message))
	d.record(KindRemoteError, map[string]any{"type": re.Type, "code": re.Code, "message": re.Message})
	d.report(re)
	return nil
}

// rememberCall pins the phase a tool call was issued in. Criteria reported by the
// call are marked against this phase even if a transition lands first.
func (d *Dispatcher) rememberCall(callID string) {
	if callID == "" {
		return
	}
	if _, ok := d.calls[callID]; !ok {
		d.calls[callID] = d.machine.Current()
	}
}

func (d *Dispatcher) issuingPhase(callID string) string {
	p, ok := d.calls[callID]
	delete(d.calls, callID)
	if !ok {
		return d.machine.Current()
	}
	return p
}

func (d *Dispatcher) onFunctionArgumentsDelta(_ context.Context, ev *ServerEvent) error {
	d.rememberCall(ev.CallID)
	return nil
}

func (d *Dispatcher) onFunctionArgumentsDone(ctx context.Context, ev *ServerEvent) error {
	issued := d.issuingPhase(ev.CallID)
	action := "invalid"
	var res ToolResult
	if ev.Name != "" && ev.Name != ToolName {
		res = d.failure(fmt.Sprintf("unknown tool %q", ev.Name))
	} else if cmd, err := ParseCommand(ev.Arguments); err != nil {
		d.log.Warn("rejected tool call", zap.String("call_id", ev.CallID), zap.Error(err))
		res = d.failure(err.Error())
	} else {
		action = string(cmd.Action())
		res = d.apply(ctx, issued, cmd)
	}
	status := "ok"
	if !res.Success {
		status = "error"
	}
	metricToolCalls.WithLabelValues(action, status).Inc()
	return d.reply(ctx, ev.CallID, res)
}

func (d *Dispatcher) apply(ctx context.Context, issued string, cmd Command) ToolResult {
	res := ToolResult{Success: true}
	for _, c := range cmd.Criteria() {
		if d.obs.MarkCriterionMet(issued, c) {
			res.CriteriaMarked++
			d.record(KindCriteriaMet, map[string]any{"phase": issued, "criterion": c})
		}
	}

	switch c := cmd.(type) {
	case ObserveCommand:
		cur := d.machine.Current()
		for _, o := range c.Observations {
			d.obs.AddObservation(cur, o)
			d.record(KindObservation, map[string]any{"phase": cur, "text": o})
		}
		res.ObservationsAdded = len(c.Observations)

	case TransitionCommand:
		tr, err := d.machine.AttemptTransition(ctx, c.Target)
		accepted := tr.Accepted
		res.TransitionSuccess = &accepted
		if accepted {
			metricTransitions.WithLabelValues("accepted").Inc()
			d.record(KindPhaseTransition, map[string]any{
				"from":        tr.From,
				"to":          tr.To,
				"duration_ms": tr.Completion.Duration.Milliseconds(),
			})
		} else {
			metricTransitions.WithLabelValues(tr.Reason).Inc()
			d.record(KindTransitionRejected, map[string]any{"from": tr.From, "to": tr.To, "reason": tr.Reason})
			res.Error = fmt.Sprintf("cannot move from %s to %s (%s)", tr.From, tr.To, tr.Reason)
		}
		if err != nil {
			d.log.Error("instruction update failed", zap.String("phase", tr.To), zap.Error(err))
			d.report(err)
			res.Error = "phase changed but the new instructions could not be delivered"
		}

	case CompleteCommand:
		d.state.Completed = true
		d.state.Notes = c.Notes
		d.record(KindCompleted, map[string]any{"notes": c.Notes})
	}
	d.fillPhase(&res)
	return res
}

func (d *Dispatcher) failure(msg string) ToolResult {
	res := ToolResult{Success: false, Error: msg}
	d.fillPhase(&res)
	return res
}

func (d *Dispatcher) fillPhase(res *ToolResult) {
	res.CurrentPhase = d.machine.Current()
	res.AllowedNextPhases = append([]string{}, d.machine.CurrentDef().NextPhases...)
}

// reply returns res to the model and asks it to continue.
func (d *Dispatcher) reply(ctx context.Context, callID string, res ToolResult) error {
	if strings.TrimSpace(callID) == "" {
		d.log.Warn("tool call without call_id; result not sent")
		return nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := d.out.sendJSON(ctx, newToolOutput(callID, string(b))); err != nil {
		return err
	}
	return d.out.sendJSON(ctx, responseCreate)
}
