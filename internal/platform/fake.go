package platform

import (
	"sync"

	"github.com/sweeney/gaming-server/internal/power"
)

// FakePlatform is a test double with settable power state and recorded calls.
type FakePlatform struct {
	mu sync.Mutex

	// Power is returned by QueryPowerState.
	Power power.State

	// QueryError, if set, will be returned by QueryPowerState()
	QueryError error

	// WakeErrors are returned by successive SendWake calls; once exhausted SendWake succeeds.
	WakeErrors []error

	// PowerOnWake sets Power to On after a successful SendWake.
	PowerOnWake bool

	wakeCalls  int
	indicators []Signal
}

// SetPower changes the reported power state.
func (f *FakePlatform) SetPower(s power.State) {
	f.mu.Lock()
	f.Power = s
	f.mu.Unlock()
}

// SetQueryError changes the error returned by QueryPowerState.
func (f *FakePlatform) SetQueryError(err error) {
	f.mu.Lock()
	f.QueryError = err
	f.mu.Unlock()
}

// QueryPowerState returns the scripted state.
func (f *FakePlatform) QueryPowerState() (power.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.QueryError != nil {
		return power.Unknown, f.QueryError
	}
	return f.Power, nil
}

// SendWake returns the next scripted error, if any.
func (f *FakePlatform) SendWake() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.wakeCalls
	f.wakeCalls++
	if i < len(f.WakeErrors) && f.WakeErrors[i] != nil {
		return f.WakeErrors[i]
	}
	if f.PowerOnWake {
		f.Power = power.On
	}
	return nil
}

// SetIndicator records s.
func (f *FakePlatform) SetIndicator(s Signal) error {
	f.mu.Lock()
	f.indicators = append(f.indicators, s)
	f.mu.Unlock()
	return nil
}

// WakeCalls returns how many times SendWake was called.
func (f *FakePlatform) WakeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wakeCalls
}

// Indicators returns every signal set so far.
func (f *FakePlatform) Indicators() []Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Signal(nil), f.indicators...)
}

// Indicator returns the last signal set, or SignalIdle.
func (f *FakePlatform) Indicator() Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.indicators) == 0 {
		return SignalIdle
	}
	return f.indicators[len(f.indicators)-1]
}
