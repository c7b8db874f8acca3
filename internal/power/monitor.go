package power

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is the time between power queries.
	DefaultInterval = 5 * time.Second

	// ErrorThreshold is the number of consecutive failed or Unknown queries
	// after which the published state degrades to Unknown.
	ErrorThreshold = 5
)

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithClock overrides the clock used for LastUpdate. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor polls a Querier on its own goroutine.
//
// The listener runs on the polling goroutine with no lock held, so it must not
// block for long; later polls are delayed by however long it takes.
type Monitor struct {
	querier  Querier
	log      zerolog.Logger
	interval time.Duration
	now      func() time.Time

	mu         sync.Mutex
	state      State
	lastUpdate time.Time
	errors     int
	listener   Listener
	stop       chan struct{}
	done       chan struct{}
}

// New creates a Monitor. It does not start polling.
func New(q Querier, log zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		querier:  q,
		log:      log,
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the polling goroutine. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() error {
	if m == nil || m.querier == nil {
		return ErrNotInitialized
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return nil
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.stop, m.done)

	m.log.Info().Dur("interval", m.interval).Msg("power monitor started")
	return nil
}

// Stop signals the polling goroutine and waits for it to exit.
// Calling Stop on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	m.log.Info().Msg("power monitor stopped")
}

// Running reports whether the polling goroutine is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

// State returns the last published power state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastUpdate returns when the published state last changed.
// It is zero until the first change.
func (m *Monitor) LastUpdate() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdate
}

// SetListener replaces the change listener. A nil listener disables notifications.
func (m *Monitor) SetListener(l Listener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

func (m *Monitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	m.poll()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

// poll runs one query cycle and notifies the listener if the published state changed.
func (m *Monitor) poll() {
	st, err := m.querier.QueryPowerState()

	m.mu.Lock()
	changed := false
	if err == nil && st != Unknown {
		m.errors = 0
		if st != m.state {
			m.state = st
			m.lastUpdate = m.now()
			changed = true
		}
	} else {
		m.errors++
		if m.errors >= ErrorThreshold && m.state != Unknown {
			m.state = Unknown
			m.lastUpdate = m.now()
			changed = true
		}
	}
	published := m.state
	failures := m.errors
	l := m.listener
	m.mu.Unlock()

	if err != nil {
		m.log.Debug().Err(err).Int("consecutive", failures).Msg("power query failed")
	}
	if !changed {
		return
	}
	if published == Unknown {
		m.log.Warn().Int("consecutive", failures).Msg("power state degraded to unknown")
	} else {
		m.log.Info().Str("state", published.String()).Msg("power state changed")
	}
	if l != nil {
		l.PowerChanged(published)
	}
}
