// Package status provides a thread-safe status tracker for the gaming-server daemon.
// It is written by the main loop and read by HTTP handlers and MQTT status events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/gaming-server/internal/orchestrator"
	"github.com/sweeney/gaming-server/internal/power"
	"github.com/sweeney/gaming-server/internal/presence"
	"github.com/sweeney/gaming-server/internal/transport"
)

// Config contains daemon configuration for display.
type Config struct {
	Port        int
	Subnet      string
	CachePath   string
	Scanner     string
	PollMs      int64
	TickMs      int64
	HeartbeatMs int64
	Broker      string
}

// Counts tracks activity since startup.
type Counts struct {
	Transitions  int
	Wakes        int
	WakeFailures int
	Detections   int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Server         orchestrator.State
	Previous       orchestrator.State
	EnteredAt      time.Time
	Power          power.State
	Network        orchestrator.NetworkStatus
	Clients        []transport.ClientInfo
	Errors         int
	WakeRequested  bool
	Presence       *presence.Record
	PresenceMethod string
	LastWake       time.Time
	Counts         Counts
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update copies the state machine context.
// Called from the main loop on every tick.
func (t *Tracker) Update(c orchestrator.Context) {
	t.mu.Lock()
	t.snap.Server = c.State
	t.snap.Previous = c.Previous
	t.snap.EnteredAt = c.EnteredAt
	t.snap.Power = c.Power
	t.snap.Network = c.Network
	t.snap.Errors = c.Errors
	t.snap.WakeRequested = c.WakeRequested
	t.mu.Unlock()
}

// RecordTransition counts a state transition.
func (t *Tracker) RecordTransition() {
	t.mu.Lock()
	t.snap.Counts.Transitions++
	t.mu.Unlock()
}

// RecordWake counts a wake attempt and, on success, stores its time.
func (t *Tracker) RecordWake(at time.Time, success bool) {
	t.mu.Lock()
	if success {
		t.snap.Counts.Wakes++
		t.snap.LastWake = at
	} else {
		t.snap.Counts.WakeFailures++
	}
	t.mu.Unlock()
}

// SetPresence stores the latest presence record and how it was found.
// A nil record clears it.
func (t *Tracker) SetPresence(rec *presence.Record, method string) {
	t.mu.Lock()
	if rec != nil {
		r := *rec
		t.snap.Presence = &r
		t.snap.Counts.Detections++
	} else {
		t.snap.Presence = nil
	}
	t.snap.PresenceMethod = method
	t.mu.Unlock()
}

// SetClients stores the connected client list.
func (t *Tracker) SetClients(clients []transport.ClientInfo) {
	t.mu.Lock()
	t.snap.Clients = append([]transport.ClientInfo(nil), clients...)
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.Presence != nil {
		r := *s.Presence
		s.Presence = &r
	}
	s.Clients = append([]transport.ClientInfo(nil), s.Clients...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
