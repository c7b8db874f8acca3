package orchestrator

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/gaming-server/internal/platform"
	"github.com/sweeney/gaming-server/internal/power"
)

// Error thresholds used by the transition rules.
const (
	MonitoringErrorLimit = 5
	WakingErrorLimit     = 3
)

// Indicator shows a status signal.
type Indicator interface {
	SetIndicator(platform.Signal) error
}

// Effects are actions taken on entering a state.
type Effects interface {
	// StartMonitor is called on entering Monitoring. It must be idempotent.
	StartMonitor() error

	// Wake is called on entering WakingPS5. The outcome is reported back
	// through OnWakeCompleted.
	Wake()
}

// Listener is notified after every transition.
type Listener interface {
	StateEntered(Transition)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Transition)

// StateEntered calls f.
func (f ListenerFunc) StateEntered(t Transition) {
	f(t)
}

// rule is one row of the transition table. Rows are tried in order and the
// first whose from state matches and whose guard holds wins.
type rule struct {
	from  State
	guard func(*Context) bool
	to    State
	apply func(*Context)
}

var rules = []rule{
	{StateInit, always, StateMonitoring, nil},

	{StateMonitoring, powerOn, StatePS5Detected, nil},
	{StateMonitoring, hasClients, StateClientConnected, nil},
	{StateMonitoring, errorsAbove(MonitoringErrorLimit), StateError, nil},

	{StatePS5Detected, not(powerOn), StateMonitoring, nil},
	{StatePS5Detected, hasClients, StateClientConnected, nil},

	{StateClientConnected, func(c *Context) bool { return c.WakeRequested && c.Power != power.On }, StateWakingPS5, nil},
	{StateClientConnected, func(c *Context) bool { return c.Clients == 0 && c.Power == power.On }, StatePS5Detected, nil},
	{StateClientConnected, func(c *Context) bool { return c.Clients == 0 && c.Power != power.On }, StateMonitoring, nil},

	{StateWakingPS5, func(c *Context) bool { return c.WakeCompleted }, StateClientConnected, clearWake},
	{StateWakingPS5, errorsAbove(WakingErrorLimit), StateError, nil},

	{StateError, func(c *Context) bool { return c.Errors == 0 }, StateInit, nil},
}

func always(*Context) bool       { return true }
func powerOn(c *Context) bool    { return c.Power == power.On }
func hasClients(c *Context) bool { return c.Clients > 0 }

func not(g func(*Context) bool) func(*Context) bool {
	return func(c *Context) bool { return !g(c) }
}

func errorsAbove(n int) func(*Context) bool {
	return func(c *Context) bool { return c.Errors > n }
}

func clearWake(c *Context) {
	c.WakeRequested = false
	c.WakeCompleted = false
}

// SignalFor maps a state to the indicator signal shown while in it.
func SignalFor(s State) platform.Signal {
	switch s {
	case StateMonitoring:
		return platform.SignalDeviceOff
	case StatePS5Detected:
		return platform.SignalDeviceOn
	case StateClientConnected:
		return platform.SignalLinkEstablished
	case StateWakingPS5:
		return platform.SignalWaking
	case StateError:
		return platform.SignalError
	default:
		return platform.SignalIdle
	}
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithListener sets the state-enter listener.
func WithListener(l Listener) Option {
	return func(m *Machine) { m.listener = l }
}

// Machine is the server state machine.
type Machine struct {
	ctx       Context
	indicator Indicator
	effects   Effects
	listener  Listener
	log       zerolog.Logger
	now       func() time.Time
}

// New creates a Machine in Init and shows the Init signal.
// indicator and effects may be nil.
func New(indicator Indicator, effects Effects, log zerolog.Logger, opts ...Option) *Machine {
	m := &Machine{
		indicator: indicator,
		effects:   effects,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx = m.initial()
	m.showIndicator()
	return m
}

func (m *Machine) initial() Context {
	return Context{
		State:     StateInit,
		Previous:  StateInit,
		Power:     power.Unknown,
		Network:   NetworkUnknown,
		EnteredAt: m.now(),
	}
}

// SetListener replaces the state-enter listener.
func (m *Machine) SetListener(l Listener) {
	m.listener = l
}

// State returns the current state.
func (m *Machine) State() State {
	return m.ctx.State
}

// Snapshot returns a copy of the full context.
func (m *Machine) Snapshot() Context {
	return m.ctx
}

// Update evaluates the transition table once and performs at most one transition.
// It reports the transition taken, if any.
func (m *Machine) Update() (Transition, bool) {
	for _, r := range rules {
		if r.from != m.ctx.State || !r.guard(&m.ctx) {
			continue
		}
		if r.apply != nil {
			r.apply(&m.ctx)
		}
		return m.transition(r.to), true
	}
	return Transition{}, false
}

func (m *Machine) transition(to State) Transition {
	t := Transition{At: m.now(), From: m.ctx.State, To: to}
	m.ctx.Previous = m.ctx.State
	m.ctx.State = to
	m.ctx.EnteredAt = t.At

	m.log.Info().Str("from", t.From.String()).Str("to", t.To.String()).Msg("state transition")
	m.showIndicator()

	if m.effects != nil {
		switch to {
		case StateMonitoring:
			if err := m.effects.StartMonitor(); err != nil {
				m.log.Error().Err(err).Msg("failed to start power monitor")
			}
		case StateWakingPS5:
			m.effects.Wake()
		}
	}

	if m.listener != nil {
		m.listener.StateEntered(t)
	}
	return t
}

func (m *Machine) showIndicator() {
	if m.indicator == nil {
		return
	}
	sig := SignalFor(m.ctx.State)
	if err := m.indicator.SetIndicator(sig); err != nil {
		m.log.Warn().Err(err).Str("signal", sig.String()).Msg("failed to set indicator")
	}
}

// OnPowerChanged records the console power state.
func (m *Machine) OnPowerChanged(s power.State) {
	m.ctx.Power = s
}

// OnNetworkChanged records the console network status.
func (m *Machine) OnNetworkChanged(n NetworkStatus) {
	m.ctx.Network = n
}

// OnClientConnected counts a new client.
func (m *Machine) OnClientConnected(id string) {
	m.ctx.Clients++
	m.log.Debug().Str("client", id).Int("clients", m.ctx.Clients).Msg("client connected")
}

// OnClientDisconnected drops a client. The count never goes below zero.
func (m *Machine) OnClientDisconnected(id string) {
	if m.ctx.Clients > 0 {
		m.ctx.Clients--
	}
	m.log.Debug().Str("client", id).Int("clients", m.ctx.Clients).Msg("client disconnected")
}

// OnWakeRequested records that a client asked for the console to be woken.
func (m *Machine) OnWakeRequested() {
	m.ctx.WakeRequested = true
}

// OnWakeCompleted records the end of a wake attempt. A failure counts as an error.
func (m *Machine) OnWakeCompleted(success bool) {
	m.ctx.WakeCompleted = true
	if !success {
		m.ctx.Errors++
	}
}

// OnError counts an error.
func (m *Machine) OnError() {
	m.ctx.Errors++
}

// ClearErrors resets the error count, letting Error recover to Init.
func (m *Machine) ClearErrors() {
	m.ctx.Errors = 0
}

// Reset restores the initial context and shows the Init signal.
// The listener and effects are kept.
func (m *Machine) Reset() {
	m.ctx = m.initial()
	m.showIndicator()
}
