package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/gaming-server/internal/platform"
	"github.com/sweeney/gaming-server/internal/power"
)

type fakeEffects struct {
	monitorStarts int
	wakes         int
	startErr      error
}

func (f *fakeEffects) StartMonitor() error {
	f.monitorStarts++
	return f.startErr
}

func (f *fakeEffects) Wake() { f.wakes++ }

type harness struct {
	m       *Machine
	plat    *platform.FakePlatform
	effects *fakeEffects
	entered []Transition
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		plat:    &platform.FakePlatform{},
		effects: &fakeEffects{},
		now:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	h.m = New(h.plat, h.effects, zerolog.Nop(),
		WithClock(func() time.Time { return h.now }),
		WithListener(ListenerFunc(func(tr Transition) { h.entered = append(h.entered, tr) })),
	)
	return h
}

func (h *harness) tick(t *testing.T, want State) {
	t.Helper()
	h.now = h.now.Add(100 * time.Millisecond)
	h.m.Update()
	if got := h.m.State(); got != want {
		t.Fatalf("state = %v, want %v", got, want)
	}
}

func TestNewShowsIdle(t *testing.T) {
	h := newHarness(t)
	if h.m.State() != StateInit {
		t.Errorf("initial state = %v, want INIT", h.m.State())
	}
	if got := h.plat.Indicators(); len(got) != 1 || got[0] != platform.SignalIdle {
		t.Errorf("indicators = %v, want [idle]", got)
	}
	snap := h.m.Snapshot()
	if snap.Power != power.Unknown || snap.Network != NetworkUnknown {
		t.Errorf("initial power/network = %v/%v, want unknown", snap.Power, snap.Network)
	}
}

func TestHappyPathScenario(t *testing.T) {
	h := newHarness(t)

	h.tick(t, StateMonitoring)
	if h.effects.monitorStarts != 1 {
		t.Errorf("monitor starts = %d, want 1", h.effects.monitorStarts)
	}

	h.m.OnPowerChanged(power.On)
	h.tick(t, StatePS5Detected)

	h.m.OnClientConnected("c1")
	h.tick(t, StateClientConnected)

	// Console goes to standby; client asks for it back.
	h.m.OnPowerChanged(power.Standby)
	h.m.OnWakeRequested()
	h.tick(t, StateWakingPS5)
	if h.effects.wakes != 1 {
		t.Errorf("wakes = %d, want 1", h.effects.wakes)
	}

	h.m.OnWakeCompleted(true)
	h.tick(t, StateClientConnected)

	snap := h.m.Snapshot()
	if snap.WakeRequested || snap.WakeCompleted {
		t.Errorf("wake flags not cleared: requested=%v completed=%v", snap.WakeRequested, snap.WakeCompleted)
	}
	if snap.Previous != StateWakingPS5 {
		t.Errorf("previous = %v, want WAKING_PS5", snap.Previous)
	}
	if snap.Errors != 0 {
		t.Errorf("errors = %d, want 0", snap.Errors)
	}

	want := []platform.Signal{
		platform.SignalIdle,
		platform.SignalDeviceOff,
		platform.SignalDeviceOn,
		platform.SignalLinkEstablished,
		platform.SignalWaking,
		platform.SignalLinkEstablished,
	}
	got := h.plat.Indicators()
	if len(got) != len(want) {
		t.Fatalf("indicators = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("indicator[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if len(h.entered) != 5 {
		t.Fatalf("listener saw %d transitions, want 5", len(h.entered))
	}
	last := h.entered[4]
	if last.From != StateWakingPS5 || last.To != StateClientConnected || !last.At.Equal(h.now) {
		t.Errorf("last transition = %+v", last)
	}
}

func TestErrorRecoveryScenario(t *testing.T) {
	h := newHarness(t)
	h.tick(t, StateMonitoring)

	for i := 0; i < 6; i++ {
		h.m.OnError()
	}
	h.tick(t, StateError)
	if h.plat.Indicator() != platform.SignalError {
		t.Errorf("indicator = %v, want error", h.plat.Indicator())
	}

	// Errors still present: stays in Error.
	h.tick(t, StateError)

	h.m.ClearErrors()
	h.tick(t, StateInit)
	h.tick(t, StateMonitoring)
	if h.effects.monitorStarts != 2 {
		t.Errorf("monitor starts = %d, want 2", h.effects.monitorStarts)
	}
}

func TestMonitoringErrorLimitIsStrict(t *testing.T) {
	h := newHarness(t)
	h.tick(t, StateMonitoring)
	for i := 0; i < MonitoringErrorLimit; i++ {
		h.m.OnError()
	}
	h.tick(t, StateMonitoring)
	h.m.OnError()
	h.tick(t, StateError)
}

func TestPriorityOrder(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *Machine)
		from  State
		want  State
	}{
		{
			name: "monitoring: power beats clients and errors",
			setup: func(m *Machine) {
				m.OnPowerChanged(power.On)
				m.OnClientConnected("a")
				for i := 0; i < 10; i++ {
					m.OnError()
				}
			},
			from: StateMonitoring,
			want: StatePS5Detected,
		},
		{
			name: "monitoring: clients beat errors",
			setup: func(m *Machine) {
				m.OnClientConnected("a")
				for i := 0; i < 10; i++ {
					m.OnError()
				}
			},
			from: StateMonitoring,
			want: StateClientConnected,
		},
		{
			name: "detected: power loss beats clients",
			setup: func(m *Machine) {
				m.OnPowerChanged(power.Standby)
				m.OnClientConnected("a")
			},
			from: StatePS5Detected,
			want: StateMonitoring,
		},
		{
			name: "client connected: wake beats zero clients",
			setup: func(m *Machine) {
				m.OnClientDisconnected("a")
				m.OnWakeRequested()
			},
			from: StateClientConnected,
			want: StateWakingPS5,
		},
		{
			name:  "client connected: wake ignored when already on",
			setup: func(m *Machine) { m.OnPowerChanged(power.On); m.OnWakeRequested() },
			from:  StateClientConnected,
			want:  StateClientConnected,
		},
		{
			name: "waking: completion beats errors",
			setup: func(m *Machine) {
				for i := 0; i < 10; i++ {
					m.OnError()
				}
				m.OnWakeCompleted(false)
			},
			from: StateWakingPS5,
			want: StateClientConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.m.ctx.State = tt.from
			h.m.ctx.Power = power.Off
			h.m.ctx.Clients = 1
			tt.setup(h.m)
			h.m.Update()
			if got := h.m.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClientConnectedReturnsWhenClientsLeave(t *testing.T) {
	h := newHarness(t)
	h.tick(t, StateMonitoring)
	h.m.OnClientConnected("a")
	h.tick(t, StateClientConnected)

	h.m.OnClientDisconnected("a")
	h.tick(t, StateMonitoring)

	h.m.OnPowerChanged(power.On)
	h.m.OnClientConnected("b")
	h.tick(t, StatePS5Detected)
	h.tick(t, StateClientConnected)
	h.m.OnClientDisconnected("b")
	h.tick(t, StatePS5Detected)
}

func TestWakingFailuresEscalateToError(t *testing.T) {
	h := newHarness(t)
	h.m.ctx.State = StateWakingPS5
	for i := 0; i < WakingErrorLimit+1; i++ {
		h.m.OnError()
	}
	h.tick(t, StateError)
}

func TestWakeFailureCountsError(t *testing.T) {
	h := newHarness(t)
	h.m.OnWakeCompleted(false)
	snap := h.m.Snapshot()
	if !snap.WakeCompleted || snap.Errors != 1 {
		t.Errorf("after failed wake: completed=%v errors=%d", snap.WakeCompleted, snap.Errors)
	}
	h.m.OnWakeCompleted(true)
	if h.m.Snapshot().Errors != 1 {
		t.Error("successful wake should not add an error")
	}
}

func TestClientCountFlooredAtZero(t *testing.T) {
	h := newHarness(t)
	h.m.OnClientDisconnected("ghost")
	h.m.OnClientDisconnected("ghost")
	if got := h.m.Snapshot().Clients; got != 0 {
		t.Errorf("clients = %d, want 0", got)
	}
}

func TestEventsDoNotTransition(t *testing.T) {
	h := newHarness(t)
	h.m.OnPowerChanged(power.On)
	h.m.OnClientConnected("a")
	h.m.OnNetworkChanged(NetworkOnline)
	h.m.OnError()
	if h.m.State() != StateInit {
		t.Errorf("state = %v, want INIT before Update", h.m.State())
	}
	if len(h.entered) != 0 {
		t.Errorf("listener fired %d times before Update", len(h.entered))
	}
}

func TestUpdateWithoutMatchReportsNothing(t *testing.T) {
	h := newHarness(t)
	h.tick(t, StateMonitoring)
	if _, ok := h.m.Update(); ok {
		t.Error("expected no transition")
	}
}

func TestResetKeepsListener(t *testing.T) {
	h := newHarness(t)
	h.tick(t, StateMonitoring)
	h.m.OnPowerChanged(power.On)
	h.m.OnClientConnected("a")
	h.m.OnError()

	h.m.Reset()
	snap := h.m.Snapshot()
	if snap.State != StateInit || snap.Clients != 0 || snap.Errors != 0 || snap.Power != power.Unknown {
		t.Errorf("reset context = %+v", snap)
	}
	if h.plat.Indicator() != platform.SignalIdle {
		t.Errorf("indicator after reset = %v, want idle", h.plat.Indicator())
	}

	before := len(h.entered)
	h.tick(t, StateMonitoring)
	if len(h.entered) != before+1 {
		t.Error("listener should survive Reset")
	}
}

func TestStartMonitorFailureDoesNotBlockTransition(t *testing.T) {
	h := newHarness(t)
	h.effects.startErr = errors.New("no querier")
	h.tick(t, StateMonitoring)
}

func TestNilCollaborators(t *testing.T) {
	m := New(nil, nil, zerolog.Nop())
	m.Update()
	m.OnClientConnected("a")
	m.Update()
	m.OnWakeRequested()
	m.Update()
	if m.State() != StateWakingPS5 {
		t.Errorf("state = %v, want WAKING_PS5", m.State())
	}
}

func TestSignalFor(t *testing.T) {
	tests := map[State]platform.Signal{
		StateInit:            platform.SignalIdle,
		StateMonitoring:      platform.SignalDeviceOff,
		StatePS5Detected:     platform.SignalDeviceOn,
		StateClientConnected: platform.SignalLinkEstablished,
		StateWakingPS5:       platform.SignalWaking,
		StateError:           platform.SignalError,
	}
	for s, want := range tests {
		if got := SignalFor(s); got != want {
			t.Errorf("SignalFor(%v) = %v, want %v", s, got, want)
		}
	}
}

func TestStrings(t *testing.T) {
	if StateClientConnected.String() != "CLIENT_CONNECTED" {
		t.Error(StateClientConnected.String())
	}
	if State(99).String() != "UNKNOWN" {
		t.Error(State(99).String())
	}
	if NetworkOnline.String() != "online" || NetworkOffline.String() != "offline" || NetworkUnknown.String() != "unknown" {
		t.Error("network status names")
	}
}
