package realtime

import (
	"errors"
	"fmt"
)

var (
	ErrNotCreated   = errors.New("realtime: session not created")
	ErrNotConnected = errors.New("realtime: session not connected")
	ErrClosed       = errors.New("realtime: session closed")
)

// ConnectionSetupError is returned when the session-creation handshake fails. The
// session stays uninitialized.
type ConnectionSetupError struct {
	Stage string
	Err   error
}

func (e *ConnectionSetupError) Error() string {
	return fmt.Sprintf("realtime setup (%s): %v", e.Stage, e.Err)
}

func (e *ConnectionSetupError) Unwrap() error { return e.Err }

// TransportError reports a dial, read or write failure on the duplex channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("realtime transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is an inbound frame that is not a structured event. It is logged and
// dropped; the session keeps running.
type ProtocolError struct {
	Frame string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("realtime protocol: %v (frame %q)", e.Err, e.Frame)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RemoteError is the payload of an inbound "error" event.
type RemoteError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime remote error %s/%s: %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("realtime remote error %s: %s", e.Type, e.Message)
}

// HTTPError is a non-2xx answer from the session-creation endpoint.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Body)
}
