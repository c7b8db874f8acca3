// Package config loads the gaming-server daemon configuration.
//
// The file is YAML and optional: a missing file yields Default(). Command-line
// flags are applied on top by the caller, then Validate is run once.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Scanner kinds.
const (
	ScannerNmap = "nmap"
	ScannerTCP  = "tcp"
)

// Config is the full daemon configuration.
type Config struct {
	Port           int           `yaml:"port"`
	Subnet         string        `yaml:"subnet"`
	CachePath      string        `yaml:"cache_path"`
	DeviceTypePath string        `yaml:"device_type_path"`
	Tick           time.Duration `yaml:"tick"`
	Log            Log           `yaml:"log"`
	Power          Power         `yaml:"power"`
	Presence       Presence      `yaml:"presence"`
	CEC            CEC           `yaml:"cec"`
	LED            LED           `yaml:"led"`
	MQTT           MQTT          `yaml:"mqtt"`
	Journal        Journal       `yaml:"journal"`
}

// Log selects the log level and destination.
type Log struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"` // stderr or stdout
}

// Power configures the power monitor.
type Power struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Presence configures console network detection.
type Presence struct {
	Refresh       time.Duration `yaml:"refresh"`        // cached-record read cadence
	CheckInterval time.Duration `yaml:"check_interval"` // escalated quick check, 0 disables
	Scanner       string        `yaml:"scanner"`
	Port          int           `yaml:"port"`
	PingTimeout   time.Duration `yaml:"ping_timeout"`
}

// CEC configures the HDMI-CEC client.
type CEC struct {
	Client string `yaml:"client"`
	Target int    `yaml:"target"`
}

// LED configures the status LED lines. A negative line disables that channel.
type LED struct {
	Chip  string `yaml:"chip"`
	Red   int    `yaml:"red"`
	Green int    `yaml:"green"`
	Blue  int    `yaml:"blue"`
}

// MQTT configures event publishing. An empty broker disables it.
type MQTT struct {
	Broker    string        `yaml:"broker"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// Journal configures the history database. An empty path disables it.
type Journal struct {
	Path string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:           8080,
		Subnet:         "192.168.1.0/24",
		CachePath:      "/var/run/gaming/ps5_cache.json",
		DeviceTypePath: "/etc/gaming/device_type",
		Tick:           100 * time.Millisecond,
		Log:            Log{Level: "info", Output: "stderr"},
		Power:          Power{PollInterval: 5 * time.Second},
		Presence: Presence{
			Refresh:       10 * time.Second,
			CheckInterval: 5 * time.Minute,
			Scanner:       ScannerNmap,
			Port:          9295,
			PingTimeout:   2 * time.Second,
		},
		CEC:  CEC{Client: "cec-client", Target: 4},
		LED:  LED{Chip: "gpiochip0", Red: 17, Green: 27, Blue: 22},
		MQTT: MQTT{Heartbeat: 15 * time.Minute},
	}
}

// Load reads the file at path over Default(). If the file does not exist,
// the defaults are returned (not an error). An empty path also means defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first problem found.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	}
	ip, _, err := net.ParseCIDR(c.Subnet)
	if err != nil || ip.To4() == nil {
		return fmt.Errorf("%w: subnet %q is not an IPv4 CIDR", ErrInvalid, c.Subnet)
	}
	if c.CachePath == "" {
		return fmt.Errorf("%w: cache path is empty", ErrInvalid)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("%w: tick must be positive", ErrInvalid)
	}
	if c.Power.PollInterval <= 0 {
		return fmt.Errorf("%w: power.poll_interval must be positive", ErrInvalid)
	}
	if c.Presence.Refresh <= 0 {
		return fmt.Errorf("%w: presence.refresh must be positive", ErrInvalid)
	}
	if c.Presence.CheckInterval < 0 {
		return fmt.Errorf("%w: presence.check_interval is negative", ErrInvalid)
	}
	switch c.Presence.Scanner {
	case ScannerNmap, ScannerTCP:
	default:
		return fmt.Errorf("%w: presence.scanner %q (want %s or %s)", ErrInvalid, c.Presence.Scanner, ScannerNmap, ScannerTCP)
	}
	if c.Presence.Port < 1 || c.Presence.Port > 65535 {
		return fmt.Errorf("%w: presence.port %d out of range", ErrInvalid, c.Presence.Port)
	}
	if c.CEC.Target < 0 || c.CEC.Target > 15 {
		return fmt.Errorf("%w: cec.target %d is not a logical address", ErrInvalid, c.CEC.Target)
	}
	if c.MQTT.Heartbeat < 0 {
		return fmt.Errorf("%w: mqtt.heartbeat is negative", ErrInvalid)
	}
	return nil
}
