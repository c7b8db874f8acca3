//go:build !linux

package gpio

import "errors"

// RealLED is not available on non-Linux platforms.
type RealLED struct{}

// NewRealLED returns an error on non-Linux platforms.
func NewRealLED(Pins) (*RealLED, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms.
func (l *RealLED) Set(Color) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (l *RealLED) Close() error {
	return nil
}
