package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	State         string        `json:"state"`
	PreviousState string        `json:"previous_state"`
	StateSince    string        `json:"state_since,omitempty"`
	Power         string        `json:"power"`
	Network       string        `json:"network"`
	Clients       int           `json:"clients"`
	ClientList    []ClientJSON  `json:"client_list"`
	Errors        int           `json:"errors"`
	WakeRequested bool          `json:"wake_requested"`
	LastWake      string        `json:"last_wake,omitempty"`
	Presence      *PresenceJSON `json:"presence,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"counts"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ClientJSON is one connected WebSocket client.
type ClientJSON struct {
	ID          string `json:"id"`
	Addr        string `json:"addr"`
	ConnectedAt string `json:"connected_at"`
}

// PresenceJSON is the last known network identity of the console.
type PresenceJSON struct {
	IP       string `json:"ip"`
	MAC      string `json:"mac"`
	LastSeen string `json:"last_seen"`
	Online   bool   `json:"online"`
	Method   string `json:"method,omitempty"`
}

// CountsJSON is the JSON representation of activity counts.
type CountsJSON struct {
	Transitions  int `json:"transitions"`
	Wakes        int `json:"wakes"`
	WakeFailures int `json:"wake_failures"`
	Detections   int `json:"detections"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Port        int    `json:"port"`
	Subnet      string `json:"subnet"`
	CachePath   string `json:"cache_path"`
	Scanner     string `json:"scanner"`
	PollMs      int64  `json:"poll_ms"`
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		State:         snap.Server.String(),
		PreviousState: snap.Previous.String(),
		StateSince:    formatTime(snap.EnteredAt),
		Power:         snap.Power.String(),
		Network:       snap.Network.String(),
		Clients:       len(snap.Clients),
		ClientList:    make([]ClientJSON, 0, len(snap.Clients)),
		Errors:        snap.Errors,
		WakeRequested: snap.WakeRequested,
		LastWake:      formatTime(snap.LastWake),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Transitions:  snap.Counts.Transitions,
			Wakes:        snap.Counts.Wakes,
			WakeFailures: snap.Counts.WakeFailures,
			Detections:   snap.Counts.Detections,
		},
		Config: ConfigJSON{
			Port:        snap.Config.Port,
			Subnet:      snap.Config.Subnet,
			CachePath:   snap.Config.CachePath,
			Scanner:     snap.Config.Scanner,
			PollMs:      snap.Config.PollMs,
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
		},
	}
	for _, c := range snap.Clients {
		inner.ClientList = append(inner.ClientList, ClientJSON{
			ID:          c.ID,
			Addr:        c.Addr,
			ConnectedAt: formatTime(c.ConnectedAt),
		})
	}
	if snap.Presence != nil {
		inner.Presence = &PresenceJSON{
			IP:       snap.Presence.Address,
			MAC:      snap.Presence.HardwareAddress,
			LastSeen: formatTime(snap.Presence.LastSeen),
			Online:   snap.Presence.Online,
			Method:   snap.PresenceMethod,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
