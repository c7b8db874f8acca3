// Package gpio drives the RGB status LED with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation records colours for tests.
package gpio

// LED sets an RGB status LED. Each channel is either lit or dark.
type LED interface {
	// Set lights the given channels and darkens the others.
	Set(c Color) error

	// Close turns the LED off and releases GPIO resources.
	Close() error
}

// Color is the on/off state of each LED channel.
type Color struct {
	Red   bool
	Green bool
	Blue  bool
}

// Common colours.
var (
	Dark    = Color{}
	Red     = Color{Red: true}
	Green   = Color{Green: true}
	Blue    = Color{Blue: true}
	Cyan    = Color{Green: true, Blue: true}
	Yellow  = Color{Red: true, Green: true}
	Magenta = Color{Red: true, Blue: true}
)

// String returns a short colour name.
func (c Color) String() string {
	switch c {
	case Dark:
		return "dark"
	case Red:
		return "red"
	case Green:
		return "green"
	case Blue:
		return "blue"
	case Cyan:
		return "cyan"
	case Yellow:
		return "yellow"
	case Magenta:
		return "magenta"
	default:
		return "white"
	}
}

// Pins names the BCM line offsets for each channel. A negative offset leaves
// that channel unconnected.
type Pins struct {
	Chip  string
	Red   int
	Green int
	Blue  int
}

// Default pin assignment (BCM numbering).
const (
	PinRed   = 17
	PinGreen = 27
	PinBlue  = 22
)
