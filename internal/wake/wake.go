// Package wake sends wake commands to the console with bounded retries and
// verifies afterwards that it actually came up.
package wake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/gaming-server/internal/power"
)

const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = time.Second
	DefaultSettleDelay = 3 * time.Second
)

var (
	// ErrWakeFailed is returned by Send when every attempt failed.
	ErrWakeFailed = errors.New("wake failed")

	// ErrStillOff is returned by Verify when the console reports Off.
	ErrStillOff = errors.New("console still off")

	// ErrStandby is returned by Verify when the console only reached Standby.
	ErrStandby = errors.New("console in standby")

	// ErrUnverified is returned by Verify when the power state could not be read.
	ErrUnverified = errors.New("console power state unknown")
)

// Waker issues a single wake command.
type Waker interface {
	SendWake() error
}

// Listener is told the outcome of each Send.
type Listener interface {
	WakeCompleted(success bool)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(bool)

// WakeCompleted calls f.
func (f ListenerFunc) WakeCompleted(success bool) {
	f(success)
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxRetries sets the number of attempts per Send.
func WithMaxRetries(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Controller) { c.retryDelay = d }
}

// WithSettleDelay sets how long Verify waits before querying.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) { c.settleDelay = d }
}

// WithSleep replaces time.Sleep. Used by tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller wakes the console. Send and Verify block the caller; run them on
// their own goroutine when that matters.
type Controller struct {
	waker       Waker
	querier     power.Querier
	log         zerolog.Logger
	maxRetries  int
	retryDelay  time.Duration
	settleDelay time.Duration
	sleep       func(time.Duration)
	now         func() time.Time

	mu         sync.Mutex
	lastWake   time.Time
	retryCount int
	listener   Listener
}

// New creates a Controller.
func New(w Waker, q power.Querier, log zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		waker:       w,
		querier:     q,
		log:         log,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		settleDelay: DefaultSettleDelay,
		sleep:       time.Sleep,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetListener replaces the completion listener.
func (c *Controller) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// Send tries to wake the console up to maxRetries times, pausing retryDelay
// between attempts. The listener is notified once with the outcome.
func (c *Controller) Send() error {
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		attempts = attempt
		c.mu.Lock()
		c.retryCount = attempt - 1
		c.mu.Unlock()

		c.log.Info().Int("attempt", attempt).Int("max", c.maxRetries).Msg("sending wake command")
		lastErr = c.waker.SendWake()
		if lastErr == nil {
			break
		}
		c.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("wake attempt failed")
		if attempt < c.maxRetries {
			c.sleep(c.retryDelay)
		}
	}

	c.mu.Lock()
	if lastErr == nil {
		c.lastWake = c.now()
		c.retryCount = 0
	}
	l := c.listener
	c.mu.Unlock()

	if lastErr != nil {
		c.log.Error().Err(lastErr).Int("attempts", attempts).Msg("wake failed")
		if l != nil {
			l.WakeCompleted(false)
		}
		return fmt.Errorf("%w after %d attempts: %v", ErrWakeFailed, attempts, lastErr)
	}

	c.log.Info().Int("attempts", attempts).Msg("wake command sent")
	if l != nil {
		l.WakeCompleted(true)
	}
	return nil
}

// Verify waits for the console to settle, then queries its power state once.
// It succeeds only if the console is On; the observed state is returned either way.
func (c *Controller) Verify() (power.State, error) {
	c.sleep(c.settleDelay)

	st, err := c.querier.QueryPowerState()
	if err != nil {
		return power.Unknown, fmt.Errorf("%w: %v", ErrUnverified, err)
	}
	switch st {
	case power.On:
		return st, nil
	case power.Standby:
		return st, ErrStandby
	case power.Off:
		return st, ErrStillOff
	default:
		return st, ErrUnverified
	}
}

// LastWakeTime returns when the last successful wake completed.
func (c *Controller) LastWakeTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWake
}

// RetryCount returns the retry counter of the current or last attempt.
// It is reset to zero by a successful Send.
func (c *Controller) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}
