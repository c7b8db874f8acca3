// Package power tracks the console's power state by polling a platform query
// on a background goroutine and reporting each distinct change.
package power

import (
	"errors"
	"strings"
)

// State is the console power state as reported over CEC.
type State int

const (
	Unknown State = iota
	Off
	Standby
	On
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case Off:
		return "OFF"
	case Standby:
		return "STANDBY"
	case On:
		return "ON"
	default:
		return "UNKNOWN"
	}
}

// ParseState converts a wire name back into a State. Unrecognised names map to Unknown.
func ParseState(s string) State {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFF":
		return Off
	case "STANDBY":
		return Standby
	case "ON":
		return On
	default:
		return Unknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrNotInitialized is returned by Start when the monitor has no querier.
var ErrNotInitialized = errors.New("power monitor not initialized")

// Querier reads the current power state from the platform.
type Querier interface {
	QueryPowerState() (State, error)
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func() (State, error)

// QueryPowerState calls f.
func (f QuerierFunc) QueryPowerState() (State, error) {
	return f()
}

// Listener is notified when the published power state changes.
type Listener interface {
	PowerChanged(State)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(State)

// PowerChanged calls f.
func (f ListenerFunc) PowerChanged(s State) {
	f(s)
}
