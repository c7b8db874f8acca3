package platform

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/gaming-server/internal/command"
	"github.com/sweeney/gaming-server/internal/power"
)

// Defaults for the CEC binding.
const (
	DefaultCECClient  = "cec-client"
	DefaultCECTarget  = 4 // playback device 1
	DefaultCECTimeout = 10 * time.Second
)

// errNoPowerStatus means cec-client ran but printed no power status line.
var errNoPowerStatus = errors.New("no power status in cec-client output")

// CEC talks to the console with libCEC's cec-client in single-command mode.
type CEC struct {
	Runner  command.Runner
	Client  string
	Target  int
	Timeout time.Duration
}

func (c *CEC) run(cmd string) ([]byte, error) {
	client := c.Client
	if client == "" {
		client = DefaultCECClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCECTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stdin := cmd + " " + strconv.Itoa(c.Target) + "\n"
	return c.Runner.Run(ctx, stdin, client, "-s", "-d", "1")
}

// QueryPowerState sends "pow <target>" and parses the reply.
func (c *CEC) QueryPowerState() (power.State, error) {
	out, err := c.run("pow")
	if err != nil {
		return power.Unknown, fmt.Errorf("cec power query: %w", err)
	}
	st, err := ParsePowerStatus(out)
	if err != nil {
		return power.Unknown, fmt.Errorf("cec power query: %w", err)
	}
	return st, nil
}

// SendWake sends "on <target>".
func (c *CEC) SendWake() error {
	if _, err := c.run("on"); err != nil {
		return fmt.Errorf("cec wake: %w", err)
	}
	return nil
}

// ParsePowerStatus reads the "power status: <value>" line of cec-client output.
// A device in transition counts as the state it is leaving.
func ParsePowerStatus(out []byte) (power.State, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		i := strings.Index(line, "power status:")
		if i < 0 {
			continue
		}
		value := strings.TrimSpace(line[i+len("power status:"):])
		switch {
		case value == "on":
			return power.On, nil
		case value == "standby":
			return power.Standby, nil
		case value == "off":
			return power.Off, nil
		case strings.HasPrefix(value, "in transition from standby"):
			return power.Standby, nil
		case strings.HasPrefix(value, "in transition from on"):
			return power.On, nil
		default:
			return power.Unknown, nil
		}
	}
	return power.Unknown, errNoPowerStatus
}
