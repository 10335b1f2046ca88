package realtime

import (
	"encoding/json"
	"errors"
)

// Inbound event types handled by the dispatcher.
const (
	EventSessionCreated         = "session.created"
	EventSessionUpdated         = "session.updated"
	EventConversationCreated    = "conversation.created"
	EventItemCreated            = "conversation.item.created"
	EventResponseCreated        = "response.created"
	EventResponseDone           = "response.done"
	EventOutputItemAdded        = "response.output_item.added"
	EventTextDelta              = "response.text.delta"
	EventTextDone               = "response.text.done"
	EventAudioDelta             = "response.audio.delta"
	EventAudioDone              = "response.audio.done"
	EventTranscriptDelta        = "response.audio_transcript.delta"
	EventTranscriptDone         = "response.audio_transcript.done"
	EventFunctionArgumentsDelta = "response.function_call_arguments.delta"
	EventFunctionArgumentsDone  = "response.function_call_arguments.done"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventSpeechStopped          = "input_audio_buffer.speech_stopped"
	EventRateLimitsUpdated      = "rate_limits.updated"
	EventError                  = "error"
)

const (
	AudioFormatPCM16 = "pcm16"
	itemFunctionCall = "function_call"
)

// SessionConfig is sent both to the creation endpoint and, as session.update, on
// the duplex channel.
type SessionConfig struct {
	Model             string   `json:"model,omitempty"`
	Modalities        []string `json:"modalities,omitempty"`
	Voice             string   `json:"voice,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	Tools             []Tool   `json:"tools,omitempty"`
	ToolChoice        string   `json:"tool_choice,omitempty"`
	InputAudioFormat  string   `json:"input_audio_format,omitempty"`
	OutputAudioFormat string   `json:"output_audio_format,omitempty"`
}

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type functionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type itemCreateEvent struct {
	Type string             `json:"type"`
	Item functionCallOutput `json:"item"`
}

type bareEvent struct {
	Type string `json:"type"`
}

func newSessionUpdate(cfg SessionConfig) sessionUpdateEvent {
	return sessionUpdateEvent{Type: "session.update", Session: cfg}
}

func newAudioAppend(b64 string) audioAppendEvent {
	return audioAppendEvent{Type: "input_audio_buffer.append", Audio: b64}
}

func newToolOutput(callID, output string) itemCreateEvent {
	return itemCreateEvent{
		Type: "conversation.item.create",
		Item: functionCallOutput{Type: "function_call_output", CallID: callID, Output: output},
	}
}

var (
	responseCreate = bareEvent{Type: "response.create"}
	responseCancel = bareEvent{Type: "response.cancel"}
)

type eventItem struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Name   string `json:"name"`
}

type eventResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type eventSession struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

// ServerEvent is the union of the inbound fields the dispatcher reads. Fields not
// used by a given type stay zero.
type ServerEvent struct {
	Type       string         `json:"type"`
	EventID    string         `json:"event_id"`
	ResponseID string         `json:"response_id"`
	ItemID     string         `json:"item_id"`
	CallID     string         `json:"call_id"`
	Name       string         `json:"name"`
	Delta      string         `json:"delta"`
	Text       string         `json:"text"`
	Transcript string         `json:"transcript"`
	Arguments  string         `json:"arguments"`
	Session    *eventSession  `json:"session"`
	Response   *eventResponse `json:"response"`
	Item       *eventItem     `json:"item"`
	Error      *RemoteError   `json:"error"`
}

const maxFrameEcho = 120

// ParseServerEvent decodes one text frame.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, &ProtocolError{Frame: truncate(data), Err: err}
	}
	if ev.Type == "" {
		return nil, &ProtocolError{Frame: truncate(data), Err: errors.New("missing event type")}
	}
	return &ev, nil
}

func truncate(b []byte) string {
	if len(b) > maxFrameEcho {
		return string(b[:maxFrameEcho]) + "..."
	}
	return string(b)
}
