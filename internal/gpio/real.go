//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealLED drives LED channels through the Linux GPIO character device.
type RealLED struct {
	chip  *gpiocdev.Chip
	red   *gpiocdev.Line
	green *gpiocdev.Line
	blue  *gpiocdev.Line
}

// NewRealLED requests the configured lines as outputs, initially dark.
func NewRealLED(p Pins) (*RealLED, error) {
	name := p.Chip
	if name == "" {
		name = "gpiochip0"
	}
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	l := &RealLED{chip: chip}
	request := func(offset int, label string) (*gpiocdev.Line, error) {
		if offset < 0 {
			return nil, nil
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0))
		if err != nil {
			return nil, fmt.Errorf("request %s pin %d: %w", label, offset, err)
		}
		return line, nil
	}

	if l.red, err = request(p.Red, "red"); err != nil {
		l.Close()
		return nil, err
	}
	if l.green, err = request(p.Green, "green"); err != nil {
		l.Close()
		return nil, err
	}
	if l.blue, err = request(p.Blue, "blue"); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Set drives each requested line high for lit channels and low otherwise.
func (l *RealLED) Set(c Color) error {
	if err := setLine(l.red, c.Red); err != nil {
		return fmt.Errorf("set red: %w", err)
	}
	if err := setLine(l.green, c.Green); err != nil {
		return fmt.Errorf("set green: %w", err)
	}
	if err := setLine(l.blue, c.Blue); err != nil {
		return fmt.Errorf("set blue: %w", err)
	}
	return nil
}

func setLine(line *gpiocdev.Line, on bool) error {
	if line == nil {
		return nil
	}
	v := 0
	if on {
		v = 1
	}
	return line.SetValue(v)
}

// Close darkens the LED and returns the lines to inputs with pull-down
// (matching Pi boot defaults) before releasing them.
func (l *RealLED) Close() error {
	var errs []error

	for _, line := range []*gpiocdev.Line{l.red, l.green, l.blue} {
		if line == nil {
			continue
		}
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear line: %w", err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	if l.chip != nil {
		if err := l.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
