// Package mqtt publishes server state changes and lifecycle events to a broker.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/gaming-server/internal/orchestrator"
)

// Topic is the MQTT topic for server state changes.
const Topic = "gaming/server/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "gaming/server/system"

// EventStateChange is the event name carried by every transition payload.
const EventStateChange = "STATE_CHANGE"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a state transition to the broker.
	// Errors are reported but must not stop the daemon.
	Publish(t orchestrator.Transition) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a lifecycle event (startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // STARTUP, SHUTDOWN, HEARTBEAT, RECONNECTED
	Reason     string // SIGTERM, SIGINT, MQTT_DISCONNECT
	RawPayload []byte // pre-formatted JSON; if set, FormatSystemPayload returns it unchanged
	Retained   bool
}

// Payload is the JSON body published on Topic.
type Payload struct {
	Server ServerPayload `json:"server"`
}

// ServerPayload describes one state change.
type ServerPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// FormatPayload creates the JSON payload for a transition.
func FormatPayload(t orchestrator.Transition) ([]byte, error) {
	return json.Marshal(Payload{
		Server: ServerPayload{
			Timestamp: t.At.UTC().Format(time.RFC3339),
			Event:     EventStateChange,
			From:      t.From.String(),
			To:        t.To.String(),
		},
	})
}

// SystemPayload is the body for simple system events (LWT, RECONNECTED)
// that carry no status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// WillPayload is the last-will message the broker publishes if the
// connection drops without a clean disconnect.
func WillPayload(at time.Time) []byte {
	payload, _ := FormatSystemPayload(SystemEvent{
		Timestamp: at,
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	return payload
}
