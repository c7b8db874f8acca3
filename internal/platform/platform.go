// Package platform binds the daemon to the hardware it runs on: CEC control of
// the console over HDMI and the RGB status LED.
package platform

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sweeney/gaming-server/internal/gpio"
	"github.com/sweeney/gaming-server/internal/power"
)

// Signal is an abstract status-indicator state.
type Signal int

const (
	SignalIdle Signal = iota
	SignalDeviceOff
	SignalDeviceOn
	SignalLinkEstablished
	SignalWaking
	SignalError
)

// String returns the signal name.
func (s Signal) String() string {
	switch s {
	case SignalIdle:
		return "idle"
	case SignalDeviceOff:
		return "device-off"
	case SignalDeviceOn:
		return "device-on"
	case SignalLinkEstablished:
		return "link-established"
	case SignalWaking:
		return "waking"
	case SignalError:
		return "error"
	default:
		return "unknown"
	}
}

// Color returns the LED colour shown for s.
func (s Signal) Color() gpio.Color {
	switch s {
	case SignalDeviceOff:
		return gpio.Red
	case SignalDeviceOn:
		return gpio.Green
	case SignalLinkEstablished:
		return gpio.Blue
	case SignalWaking:
		return gpio.Cyan
	case SignalError:
		return gpio.Magenta
	default:
		return gpio.Dark
	}
}

// Platform is the hardware capability set used by the core.
type Platform interface {
	QueryPowerState() (power.State, error)
	SendWake() error
	SetIndicator(Signal) error
}

// ErrDeviceType is returned when the host is not provisioned as a server.
var ErrDeviceType = errors.New("unexpected device type")

// DeviceTypeServer is the only device type this daemon runs on.
const DeviceTypeServer = "server"

// CheckDeviceType reads the provisioning file at path and requires it to name
// a server. An empty path skips the check.
func CheckDeviceType(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read device type: %w", err)
	}
	got := strings.TrimSpace(string(data))
	if got != DeviceTypeServer {
		return fmt.Errorf("%w: %q (want %q)", ErrDeviceType, got, DeviceTypeServer)
	}
	return nil
}

// Board is the real platform: CEC for the console and an LED for status.
type Board struct {
	CEC *CEC
	LED gpio.LED
}

// QueryPowerState asks the console for its power status over CEC.
func (b *Board) QueryPowerState() (power.State, error) {
	return b.CEC.QueryPowerState()
}

// SendWake sends a CEC power-on.
func (b *Board) SendWake() error {
	return b.CEC.SendWake()
}

// SetIndicator shows s on the LED.
func (b *Board) SetIndicator(s Signal) error {
	if b.LED == nil {
		return nil
	}
	return b.LED.Set(s.Color())
}

// Close releases the LED.
func (b *Board) Close() error {
	if b.LED == nil {
		return nil
	}
	return b.LED.Close()
}
