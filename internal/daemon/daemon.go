// Package daemon runs the gaming-server main loop.
//
// One goroutine (the one calling Run) owns the state machine. The power
// monitor, the wake controller, WebSocket clients and background presence
// checks never touch it directly: they post closures onto the loop's event
// channel and the loop runs them between ticks.
package daemon

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/gaming-server/internal/mqtt"
	"github.com/sweeney/gaming-server/internal/orchestrator"
	"github.com/sweeney/gaming-server/internal/platform"
	"github.com/sweeney/gaming-server/internal/power"
	"github.com/sweeney/gaming-server/internal/presence"
	"github.com/sweeney/gaming-server/internal/status"
	"github.com/sweeney/gaming-server/internal/transport"
	"github.com/sweeney/gaming-server/internal/wake"
)

// Defaults for the periodic work done on ticks.
const (
	DefaultPresenceRefresh = 10 * time.Second
	DefaultCheckInterval   = 5 * time.Minute

	eventBuffer = 64
)

// Clients is the part of the transport hub the daemon talks to.
type Clients interface {
	Send(id string, msg transport.Message) error
	Broadcast(msg transport.Message)
	Clients() []transport.ClientInfo
}

// Recorder stores history. *journal.Journal implements it.
type Recorder interface {
	RecordTransition(ctx context.Context, t orchestrator.Transition) error
	RecordWake(ctx context.Context, at time.Time, success bool, detail string) error
}

// Options holds the daemon's collaborators. Platform, Monitor, Waker,
// Detector and Tracker are required; the rest may be nil.
type Options struct {
	Platform   platform.Platform
	Monitor    *power.Monitor
	Waker      *wake.Controller
	Detector   *presence.Detector
	Tracker    *status.Tracker
	Clients    Clients
	Publisher  mqtt.Publisher
	MQTTStatus mqtt.ConnectionStatus
	Journal    Recorder
	Log        zerolog.Logger
	Now        func() time.Time

	PresenceRefresh time.Duration // cached-record read cadence
	CheckInterval   time.Duration // background QuickCheck cadence, 0 disables
	Heartbeat       time.Duration // MQTT heartbeat, 0 disables
}

// Daemon wires the core components together and runs the main loop.
type Daemon struct {
	monitor    *power.Monitor
	waker      *wake.Controller
	detector   *presence.Detector
	tracker    *status.Tracker
	clients    Clients
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	journal    Recorder
	log        zerolog.Logger
	now        func() time.Time

	refresh       time.Duration
	checkInterval time.Duration
	heartbeat     time.Duration

	machine *orchestrator.Machine
	events  chan func()
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	checking     atomic.Bool
	wakeInFlight atomic.Int32 // decremented on the loop, after the completion event
	wakeMu       sync.Mutex
	stopOnce     sync.Once
}

// New creates a Daemon. The state machine starts in Init.
func New(o Options) (*Daemon, error) {
	if o.Platform == nil || o.Monitor == nil || o.Waker == nil || o.Detector == nil || o.Tracker == nil {
		return nil, errors.New("daemon: platform, monitor, waker, detector and tracker are required")
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.PresenceRefresh <= 0 {
		o.PresenceRefresh = DefaultPresenceRefresh
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		monitor:       o.Monitor,
		waker:         o.Waker,
		detector:      o.Detector,
		tracker:       o.Tracker,
		clients:       o.Clients,
		publisher:     o.Publisher,
		mqttStatus:    o.MQTTStatus,
		journal:       o.Journal,
		log:           o.Log.With().Str("component", "daemon").Logger(),
		now:           o.Now,
		refresh:       o.PresenceRefresh,
		checkInterval: o.CheckInterval,
		heartbeat:     o.Heartbeat,
		events:        make(chan func(), eventBuffer),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}

	d.machine = orchestrator.New(o.Platform, effects{d},
		o.Log.With().Str("component", "orchestrator").Logger(),
		orchestrator.WithClock(o.Now),
		orchestrator.WithListener(orchestrator.ListenerFunc(d.stateEntered)),
	)
	d.monitor.SetListener(power.ListenerFunc(d.powerChanged))
	d.waker.SetListener(wake.ListenerFunc(func(success bool) {
		d.post(func() { d.machine.OnWakeCompleted(success) })
	}))
	return d, nil
}

// Run drives the main loop until a signal arrives on sig. Each tick runs one
// state machine update and any periodic work that is due.
func (d *Daemon) Run(tick <-chan time.Time, sig <-chan os.Signal) error {
	start := d.now()
	lastHeartbeat := start
	var lastRefresh, lastCheck time.Time

	d.updateTracker()
	d.publishSystem("STARTUP", "", true)
	d.log.Info().
		Dur("refresh", d.refresh).
		Dur("check_interval", d.checkInterval).
		Dur("heartbeat", d.heartbeat).
		Msg("main loop started")

	for {
		select {
		case s := <-sig:
			name := signalName(s)
			d.log.Info().Str("signal", name).Msg("shutting down")
			d.stop()
			d.updateTracker()
			d.publishSystem("SHUTDOWN", name, true)
			return nil

		case fn := <-d.events:
			fn()

		case <-tick:
			d.drainEvents()
			t := d.now()
			d.machine.Update()

			if lastRefresh.IsZero() || t.Sub(lastRefresh) >= d.refresh {
				lastRefresh = t
				d.refreshNetwork()
				d.clearErrorsIfRecovered()
			}
			if d.checkInterval > 0 && (lastCheck.IsZero() || t.Sub(lastCheck) >= d.checkInterval) {
				lastCheck = t
				d.startCheck()
			}

			d.updateTracker()

			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				snap := d.tracker.Snapshot()
				d.log.Info().
					Str("state", snap.Server.String()).
					Str("power", snap.Power.String()).
					Int("clients", len(snap.Clients)).
					Dur("uptime", snap.Uptime()).
					Msg("heartbeat")
				d.publishSystem("HEARTBEAT", "", false)
			}
		}
	}
}

// stop cancels background work, releases blocked posters and stops the monitor.
func (d *Daemon) stop() {
	d.stopOnce.Do(func() {
		d.cancel()
		close(d.done)
		d.monitor.Stop()
	})
}

// post hands fn to the loop. After shutdown fn is dropped.
func (d *Daemon) post(fn func()) {
	select {
	case d.events <- fn:
	case <-d.done:
	}
}

func (d *Daemon) drainEvents() {
	for {
		select {
		case fn := <-d.events:
			fn()
		default:
			return
		}
	}
}

func (d *Daemon) updateTracker() {
	d.tracker.Update(d.machine.Snapshot())
	if d.clients != nil {
		d.tracker.SetClients(d.clients.Clients())
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d *Daemon) publishSystem(event, reason string, retained bool) {
	if d.publisher == nil {
		return
	}
	snap := d.tracker.Snapshot()
	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		d.log.Warn().Err(err).Str("event", event).Msg("failed to publish system event")
		return
	}
	d.log.Debug().Str("event", event).Msg("published system event")
}

// stateEntered runs on the loop for every transition.
func (d *Daemon) stateEntered(t orchestrator.Transition) {
	d.tracker.RecordTransition()
	if d.journal != nil {
		if err := d.journal.RecordTransition(d.ctx, t); err != nil {
			d.log.Warn().Err(err).Msg("failed to journal transition")
		}
	}
	if d.publisher != nil {
		if err := d.publisher.Publish(t); err != nil {
			d.log.Warn().Err(err).Msg("failed to publish transition")
		}
	}
}

// powerChanged runs on the monitor goroutine.
func (d *Daemon) powerChanged(s power.State) {
	d.log.Info().Str("power", s.String()).Msg("console power changed")
	d.post(func() {
		d.machine.OnPowerChanged(s)
	})
	if d.clients != nil {
		d.clients.Broadcast(transport.StatusMessage(s.String(), d.networkStatus().String()))
	}
}

// networkStatus reads the cached presence record.
func (d *Daemon) networkStatus() orchestrator.NetworkStatus {
	rec, err := d.detector.GetCached()
	if err != nil || !rec.Online {
		return orchestrator.NetworkOffline
	}
	return orchestrator.NetworkOnline
}

func (d *Daemon) setNetwork(n orchestrator.NetworkStatus) {
	if d.machine.Snapshot().Network == n {
		return
	}
	d.log.Info().Str("network", n.String()).Msg("console network changed")
	d.machine.OnNetworkChanged(n)
}

func (d *Daemon) refreshNetwork() {
	d.setNetwork(d.networkStatus())
}

// clearErrorsIfRecovered clears the error count once the console answers again, letting
// the machine leave Error.
func (d *Daemon) clearErrorsIfRecovered() {
	if d.machine.State() != orchestrator.StateError {
		return
	}
	if d.monitor.State() == power.Unknown {
		return
	}
	d.log.Info().Int("errors", d.machine.Snapshot().Errors).Msg("console reachable again, clearing errors")
	d.machine.ClearErrors()
}

// startCheck runs one QuickCheck in the background unless one is running.
func (d *Daemon) startCheck() {
	if !d.checking.CompareAndSwap(false, true) {
		return
	}
	var hint string
	if p := d.tracker.Snapshot().Presence; p != nil {
		hint = p.Address
	}
	go func() {
		defer d.checking.Store(false)
		det, err := d.detector.QuickCheck(d.ctx, hint)
		d.post(func() { d.checkDone(det, err) })
	}()
}

func (d *Daemon) checkDone(det presence.Detection, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		d.log.Info().Err(err).Msg("console not found on the network")
		// The cached record would otherwise bring the network back online on
		// the next refresh.
		if merr := d.detector.MarkOffline(); merr != nil {
			d.log.Warn().Err(merr).Msg("failed to mark cached console offline")
		}
		d.setNetwork(orchestrator.NetworkOffline)
		return
	}
	if det.CacheErr != nil {
		d.log.Warn().Err(det.CacheErr).Msg("console located but not cached")
	}
	d.log.Debug().
		Str("address", det.Record.Address).
		Str("mac", det.Record.HardwareAddress).
		Str("method", det.Method.String()).
		Msg("console located")
	d.tracker.SetPresence(&det.Record, det.Method.String())
	d.setNetwork(orchestrator.NetworkOnline)
}

// sendWake runs the wake controller. Concurrent callers are serialized.
func (d *Daemon) sendWake(source string) error {
	d.wakeMu.Lock()
	defer d.wakeMu.Unlock()

	d.log.Info().Str("source", source).Msg("waking console")
	err := d.waker.Send()
	at := d.now()
	d.tracker.RecordWake(at, err == nil)
	if d.journal != nil {
		var detail string
		if err != nil {
			detail = err.Error()
		}
		if jerr := d.journal.RecordWake(d.ctx, at, err == nil, detail); jerr != nil {
			d.log.Warn().Err(jerr).Msg("failed to journal wake")
		}
	}
	return err
}

// releaseWake is posted after the wake completion event, so the loop never
// sees zero in-flight wakes before it has seen the completion.
func (d *Daemon) releaseWake() {
	d.post(func() { d.wakeInFlight.Add(-1) })
}

// ClientConnected implements transport.Handler.
func (d *Daemon) ClientConnected(id, addr string) {
	d.post(func() { d.machine.OnClientConnected(id) })
	if d.clients == nil {
		return
	}
	msg := transport.StatusMessage(d.monitor.State().String(), d.networkStatus().String())
	if err := d.clients.Send(id, msg); err != nil {
		d.log.Debug().Err(err).Str("client", id).Str("remote_addr", addr).Msg("failed to send initial status")
	}
}

// ClientDisconnected implements transport.Handler.
func (d *Daemon) ClientDisconnected(id string) {
	d.post(func() { d.machine.OnClientDisconnected(id) })
}

// HandleRequest implements transport.Handler. It runs on the client's goroutine.
// Pings never reach it: the hub answers them without touching the core.
func (d *Daemon) HandleRequest(id string, kind transport.RequestKind, _ []byte) transport.Message {
	switch kind {
	case transport.RequestQueryStatus:
		return transport.StatusMessage(d.monitor.State().String(), d.networkStatus().String())

	case transport.RequestWake:
		d.log.Info().Str("client", id).Msg("client requested wake")
		d.wakeInFlight.Add(1)
		defer d.releaseWake()
		d.post(func() { d.machine.OnWakeRequested() })
		err := d.sendWake("client")
		return transport.WakeResultMessage(err == nil)

	default:
		return transport.ErrorMessage("unknown message type")
	}
}

// effects are the state-entry actions. They run on the loop.
type effects struct {
	d *Daemon
}

func (e effects) StartMonitor() error {
	if err := e.d.monitor.Start(); err != nil {
		e.d.machine.OnError()
		return err
	}
	return nil
}

// Wake is the fallback send on entering WakingPS5. Client requests send
// their own wake first, so this only fires when nothing is in flight.
func (e effects) Wake() {
	d := e.d
	if d.wakeInFlight.Load() > 0 || d.machine.Snapshot().WakeCompleted {
		d.log.Debug().Msg("wake already handled, not sending another")
		return
	}
	d.wakeInFlight.Add(1)
	go func() {
		defer d.releaseWake()
		_ = d.sendWake("state")
	}()
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
