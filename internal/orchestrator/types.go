// Package orchestrator holds the server state machine. It fuses console power,
// network presence, client count and wake/error signals into one state.
//
// The machine is not safe for concurrent use: a single goroutine owns it and
// other goroutines hand it events through that owner. Event methods only record
// facts; transitions happen only inside Update.
package orchestrator

import (
	"time"

	"github.com/sweeney/gaming-server/internal/power"
)

// State is the server operating state.
type State int

const (
	StateInit State = iota
	StateMonitoring
	StatePS5Detected
	StateClientConnected
	StateWakingPS5
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateMonitoring:
		return "MONITORING"
	case StatePS5Detected:
		return "PS5_DETECTED"
	case StateClientConnected:
		return "CLIENT_CONNECTED"
	case StateWakingPS5:
		return "WAKING_PS5"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// NetworkStatus is whether the console answers on the network.
type NetworkStatus int

const (
	NetworkUnknown NetworkStatus = iota
	NetworkOffline
	NetworkOnline
)

// String returns "unknown", "offline" or "online".
func (n NetworkStatus) String() string {
	switch n {
	case NetworkOffline:
		return "offline"
	case NetworkOnline:
		return "online"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (n NetworkStatus) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// Context is the machine's full state. Snapshot returns it by value.
type Context struct {
	State         State
	Previous      State
	Power         power.State
	Network       NetworkStatus
	Clients       int
	WakeRequested bool
	WakeCompleted bool
	Errors        int
	EnteredAt     time.Time // when State was entered
}

// Transition describes one state change.
type Transition struct {
	At   time.Time
	From State
	To   State
}
