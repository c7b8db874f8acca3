// Package transport is the WebSocket endpoint clients use to query the console
// and ask for it to be woken.
package transport

import (
	"encoding/json"
	"errors"
)

// Message types on the wire.
const (
	TypeQueryStatus = "query_ps5"
	TypeRequestWake = "wake_ps5"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeStatus      = "ps5_status"
	TypeWakeResult  = "wake_result"
	TypeError       = "error"
)

var (
	// ErrTooManyClients is returned when the connection limit is reached.
	ErrTooManyClients = errors.New("too many clients")

	// ErrUnknownClient is returned by Send for an id that is not connected.
	ErrUnknownClient = errors.New("unknown client")
)

// RequestKind is an inbound request that needs the core.
type RequestKind int

const (
	RequestQueryStatus RequestKind = iota
	RequestWake
	RequestPing
)

// String returns the wire type of the request.
func (k RequestKind) String() string {
	switch k {
	case RequestQueryStatus:
		return TypeQueryStatus
	case RequestWake:
		return TypeRequestWake
	case RequestPing:
		return TypePing
	default:
		return "unknown"
	}
}

// Message is every JSON message exchanged with clients. Only the fields that
// apply to Type are set.
type Message struct {
	Type    string `json:"type"`
	Power   string `json:"power,omitempty"`
	Network string `json:"network,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusMessage builds a ps5_status message. An empty network is omitted.
func StatusMessage(power, network string) Message {
	return Message{Type: TypeStatus, Power: power, Network: network}
}

// WakeResultMessage builds a wake_result message.
func WakeResultMessage(success bool) Message {
	return Message{Type: TypeWakeResult, Success: &success}
}

// ErrorMessage builds an error message.
func ErrorMessage(text string) Message {
	return Message{Type: TypeError, Message: text}
}

// parseRequest decodes an inbound frame. ok is false for frames that need no reply.
func parseRequest(data []byte) (kind RequestKind, reply *Message, ok bool) {
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		e := ErrorMessage("invalid message")
		return 0, &e, false
	}
	switch m.Type {
	case TypeQueryStatus:
		return RequestQueryStatus, nil, true
	case TypeRequestWake:
		return RequestWake, nil, true
	case TypePing:
		pong := Message{Type: TypePong}
		return RequestPing, &pong, false
	case TypePong:
		return 0, nil, false
	default:
		e := ErrorMessage("unknown message type")
		return 0, &e, false
	}
}
