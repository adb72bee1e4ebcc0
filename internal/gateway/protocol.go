package gateway

import (
	"encoding/json"

	"github.com/DimaMzk/AnotherGlass/internal/message"
)

// Frame is the universal WebSocket message format.
// Three types: "req" (client→server), "res" (server→client), "event" (server→client push).
type Frame struct {
	Type    string          `json:"type"`              // "req" | "res" | "event"
	ID      string          `json:"id,omitempty"`      // request/response correlation ID
	Method  string          `json:"method,omitempty"`  // for req: method name
	Params  json.RawMessage `json:"params,omitempty"`  // for req: method parameters
	OK      *bool           `json:"ok,omitempty"`      // for res: success flag
	Payload json.RawMessage `json:"payload,omitempty"` // for res/event: data
	Error   *ErrorPayload   `json:"error,omitempty"`   // for res: error details
	Event   string          `json:"event,omitempty"`   // for event: event name
	Seq     int64           `json:"seq,omitempty"`     // for event: sequence number
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Connection roles
const (
	RolePeer   = "peer"   // the paired low-bandwidth device
	RoleSource = "source" // a host listener feeding notifications and media sessions
)

const (
	MethodConnect      = "connect"
	MethodMusicControl = "music.control"
)

const ProtocolVersion = 1

// ConnectParams is sent by every connection as its first frame.
type ConnectParams struct {
	Role   string `json:"role"`             // "peer" | "source"
	Token  string `json:"token"`            // auth token
	Device string `json:"device,omitempty"` // free-form name shown in status
}

// MusicControlParams is the peer's transport command.
type MusicControlParams struct {
	Action string `json:"action"` // play | pause | next | previous
}

// Envelope wraps a bridge message in an event frame. Event is the bridge
// domain ("messaging" | "music"); Type says how to read Data.
type Envelope struct {
	Type string `json:"type"` // "summary" | "image"
	Data any    `json:"data"`
}

func envelopeFor(msg any) Envelope {
	switch msg.(type) {
	case message.Summary, *message.Summary:
		return Envelope{Type: "summary", Data: msg}
	case message.Image, *message.Image:
		return Envelope{Type: "image", Data: msg}
	default:
		return Envelope{Type: "data", Data: msg}
	}
}

// Helper to create response frames

func ResOK(id string, payload any) Frame {
	data, _ := json.Marshal(payload)
	ok := true
	return Frame{Type: "res", ID: id, OK: &ok, Payload: data}
}

func ResErr(id string, code, message string) Frame {
	ok := false
	return Frame{Type: "res", ID: id, OK: &ok, Error: &ErrorPayload{Code: code, Message: message}}
}

func EventFrame(event string, seq int64, payload any) Frame {
	data, _ := json.Marshal(payload)
	return Frame{Type: "event", Event: event, Seq: seq, Payload: data}
}
