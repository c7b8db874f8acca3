package gpio

import "sync"

// FakeLED is a test double that records every colour it is set to.
type FakeLED struct {
	mu sync.Mutex

	// History holds every colour passed to Set, oldest first.
	History []Color

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by Set()
	SetError error
}

// Set records c.
func (f *FakeLED) Set(c Color) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.History = append(f.History, c)
	return nil
}

// Current returns the last colour set, or Dark.
func (f *FakeLED) Current() Color {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.History) == 0 {
		return Dark
	}
	return f.History[len(f.History)-1]
}

// Close marks the LED as closed.
func (f *FakeLED) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Nop is an LED with nothing attached.
type Nop struct{}

// Set does nothing.
func (Nop) Set(Color) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
