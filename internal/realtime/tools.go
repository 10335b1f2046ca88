package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ToolName is the single function exposed to the remote model.
const ToolName = "conversation_tool"

type Action string

const (
	ActionObserve    Action = "observe"
	ActionTransition Action = "transition"
	ActionComplete   Action = "complete"
)

// Tool is a function definition in the remote session config.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func ConversationTool() Tool {
	str := map[string]any{"type": "string"}
	strList := map[string]any{"type": "array", "items": str}
	return Tool{
		Type:        "function",
		Name:        ToolName,
		Description: "Manages conversation flow and state: record observations, move to another phase, or finish the conversation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type": "string",
					"enum": []string{string(ActionObserve), string(ActionTransition), string(ActionComplete)},
				},
				"observations":         strList,
				"success_criteria_met": strList,
				"transition_to":        str,
				"completion_notes":     str,
			},
			"required": []string{"action"},
		},
	}
}

// Command is a validated conversation_tool call. The concrete type is one of
// ObserveCommand, TransitionCommand or CompleteCommand.
type Command interface {
	Action() Action
	// Criteria lists success criteria the model reports as met with this call.
	Criteria() []string
}

type ObserveCommand struct {
	Observations []string
	CriteriaMet  []string
}

type TransitionCommand struct {
	Target      string
	CriteriaMet []string
}

type CompleteCommand struct {
	Notes       string
	CriteriaMet []string
}

func (ObserveCommand) Action() Action       { return ActionObserve }
func (c ObserveCommand) Criteria() []string { return c.CriteriaMet }

func (TransitionCommand) Action() Action       { return ActionTransition }
func (c TransitionCommand) Criteria() []string { return c.CriteriaMet }

func (CompleteCommand) Action() Action       { return ActionComplete }
func (c CompleteCommand) Criteria() []string { return c.CriteriaMet }

type toolArgs struct {
	Action             string   `json:"action"`
	Observations       []string `json:"observations"`
	SuccessCriteriaMet []string `json:"success_criteria_met"`
	TransitionTo       string   `json:"transition_to"`
	CompletionNotes    string   `json:"completion_notes"`
}

// ParseCommand validates the JSON arguments of a conversation_tool call. Unknown
// fields, an unknown action and a transition without a target are rejected.
// Observation texts are kept exactly as sent; an observe may carry none and only
// report criteria.
func ParseCommand(arguments string) (Command, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(arguments)))
	dec.DisallowUnknownFields()
	var a toolArgs
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	criteria := nonEmpty(a.SuccessCriteriaMet)
	switch Action(strings.TrimSpace(a.Action)) {
	case ActionObserve:
		return ObserveCommand{Observations: a.Observations, CriteriaMet: criteria}, nil
	case ActionTransition:
		target := strings.TrimSpace(a.TransitionTo)
		if target == "" {
			return nil, errors.New("transition requires transition_to")
		}
		return TransitionCommand{Target: target, CriteriaMet: criteria}, nil
	case ActionComplete:
		return CompleteCommand{Notes: a.CompletionNotes, CriteriaMet: criteria}, nil
	case "":
		return nil, errors.New("missing action")
	default:
		return nil, fmt.Errorf("unknown action %q", a.Action)
	}
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ToolResult is returned to the model as the function_call_output of a call.
type ToolResult struct {
	Success           bool     `json:"success"`
	ObservationsAdded int      `json:"observations_added"`
	TransitionSuccess *bool    `json:"transition_success,omitempty"`
	CriteriaMarked    int      `json:"criteria_marked,omitempty"`
	CurrentPhase      string   `json:"current_phase"`
	AllowedNextPhases []string `json:"allowed_next_phases"`
	Error             string   `json:"error,omitempty"`
}
