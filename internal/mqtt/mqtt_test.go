package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/gaming-server/internal/orchestrator"
)

func transition(from, to orchestrator.State) orchestrator.Transition {
	return orchestrator.Transition{
		At:   time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		From: from,
		To:   to,
	}
}

func TestTopics(t *testing.T) {
	if Topic != "gaming/server/events" {
		t.Errorf("unexpected topic: %s", Topic)
	}
	if TopicSystem != "gaming/server/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
}

func TestFormatPayload(t *testing.T) {
	payload, err := FormatPayload(transition(orchestrator.StateMonitoring, orchestrator.StatePS5Detected))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"server":{"timestamp":"2026-02-02T22:18:12Z","event":"STATE_CHANGE","from":"MONITORING","to":"PS5_DETECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatPayloadAllStates(t *testing.T) {
	states := []orchestrator.State{
		orchestrator.StateInit,
		orchestrator.StateMonitoring,
		orchestrator.StatePS5Detected,
		orchestrator.StateClientConnected,
		orchestrator.StateWakingPS5,
		orchestrator.StateError,
	}
	for _, to := range states {
		t.Run(to.String(), func(t *testing.T) {
			payload, err := FormatPayload(transition(orchestrator.StateInit, to))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var parsed Payload
			if err := json.Unmarshal(payload, &parsed); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if parsed.Server.To != to.String() {
				t.Errorf("to: got %s, want %s", parsed.Server.To, to)
			}
			if parsed.Server.From != "INIT" {
				t.Errorf("from: got %s, want INIT", parsed.Server.From)
			}
		})
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	tr := orchestrator.Transition{
		At:   time.Date(2026, 2, 3, 0, 30, 0, 0, loc),
		From: orchestrator.StatePS5Detected,
		To:   orchestrator.StateClientConnected,
	}

	payload, err := FormatPayload(tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Server.Timestamp != "2026-02-02T22:30:00Z" {
		t.Errorf("expected UTC timestamp, got %s", parsed.Server.Timestamp)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"server":{"state":"MONITORING"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not passed through: %s", payload)
	}
}

func TestWillPayloadFormat(t *testing.T) {
	payload := WillPayload(time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC))

	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"SHUTDOWN","reason":"MQTT_DISCONNECT"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadReconnected(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	system := parsed["system"].(map[string]interface{})
	if _, exists := system["reason"]; exists {
		t.Error("RECONNECTED should not have reason field")
	}
	if system["event"] != "RECONNECTED" {
		t.Errorf("unexpected event: %v", system["event"])
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	tr := transition(orchestrator.StateMonitoring, orchestrator.StatePS5Detected)
	if err := f.Publish(tr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.TransitionCount() != 1 {
		t.Fatalf("expected 1 transition, got %d", f.TransitionCount())
	}
	if f.Transitions[0] != tr {
		t.Errorf("unexpected transition: %+v", f.Transitions[0])
	}
	if len(f.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(f.Payloads))
	}
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker down")
	f.PublishSystemError = errors.New("broker down")

	if err := f.Publish(transition(orchestrator.StateInit, orchestrator.StateMonitoring)); err == nil {
		t.Error("expected Publish error")
	}
	if err := f.PublishSystem(SystemEvent{Event: "STARTUP"}); err == nil {
		t.Error("expected PublishSystem error")
	}
	if len(f.Transitions) != 0 || len(f.SystemEvents) != 0 {
		t.Error("failed publishes must not be recorded")
	}
}

func TestFakePublisherSystemEventsInOrder(t *testing.T) {
	f := NewFakePublisher()
	for _, name := range []string{"STARTUP", "HEARTBEAT", "SHUTDOWN"} {
		if err := f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: name, Retained: name == "STARTUP"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	names := f.SystemEventNames()
	if len(names) != 3 || names[0] != "STARTUP" || names[1] != "HEARTBEAT" || names[2] != "SHUTDOWN" {
		t.Errorf("unexpected order: %v", names)
	}
	if !f.SystemEvents[0].Retained || f.SystemEvents[1].Retained {
		t.Error("retained flag not recorded")
	}
}

func TestFakePublisherCloseAndReset(t *testing.T) {
	f := NewFakePublisher()
	f.Connected = true
	_ = f.Publish(transition(orchestrator.StateInit, orchestrator.StateMonitoring))
	_ = f.Close()

	if !f.Closed {
		t.Error("expected Closed after Close")
	}
	if !f.IsConnected() {
		t.Error("expected IsConnected to follow Connected")
	}

	f.Reset()
	if f.Closed || f.IsConnected() || f.TransitionCount() != 0 {
		t.Error("Reset did not clear state")
	}
}
