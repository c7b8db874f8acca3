package mqtt

import (
	"sync"

	"github.com/sweeney/gaming-server/internal/orchestrator"
)

// FakePublisher records published events for test assertions.
// Read the recorded slices only after the publishing goroutine has stopped,
// or use the accessor methods.
type FakePublisher struct {
	mu sync.Mutex

	// Transitions contains all state changes that were published.
	Transitions []orchestrator.Transition

	// Payloads contains the JSON payloads for Transitions.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for SystemEvents.
	SystemPayloads [][]byte

	// PublishError, if set, is returned by Publish.
	PublishError error

	// PublishSystemError, if set, is returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the transition.
func (f *FakePublisher) Publish(t orchestrator.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(t)
	if err != nil {
		return err
	}
	f.Transitions = append(f.Transitions, t)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// TransitionCount returns how many transitions were published.
func (f *FakePublisher) TransitionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transitions)
}

// SystemEventNames returns the Event field of each system event, in order.
func (f *FakePublisher) SystemEventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.SystemEvents))
	for i, e := range f.SystemEvents {
		names[i] = e.Event
	}
	return names
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Transitions = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
