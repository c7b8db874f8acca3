// Command gaming-server tracks a PS5's power and network presence, wakes it
// for Remote Play clients and reports status over HTTP, WebSocket and MQTT.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sweeney/gaming-server/internal/command"
	"github.com/sweeney/gaming-server/internal/config"
	"github.com/sweeney/gaming-server/internal/daemon"
	"github.com/sweeney/gaming-server/internal/gpio"
	"github.com/sweeney/gaming-server/internal/journal"
	"github.com/sweeney/gaming-server/internal/logging"
	"github.com/sweeney/gaming-server/internal/mqtt"
	"github.com/sweeney/gaming-server/internal/platform"
	"github.com/sweeney/gaming-server/internal/power"
	"github.com/sweeney/gaming-server/internal/presence"
	"github.com/sweeney/gaming-server/internal/status"
	"github.com/sweeney/gaming-server/internal/transport"
	"github.com/sweeney/gaming-server/internal/wake"
	"github.com/sweeney/gaming-server/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gaming-server",
		Short:         "PS5 power and presence daemon",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	def := config.Default()
	pf := root.PersistentFlags()
	pf.String("config", "", "YAML config file (missing file means defaults)")
	pf.IntP("port", "p", def.Port, "HTTP and WebSocket listen port")
	pf.StringP("subnet", "s", def.Subnet, "subnet to scan for the console")
	pf.StringP("cache", "c", def.CachePath, "presence cache file")
	pf.BoolP("daemon", "d", false, "run as a service (info-level logging)")
	pf.Bool("debug", false, "enable debug logging")
	pf.String("broker", def.MQTT.Broker, "MQTT broker URL (empty disables)")
	pf.String("journal", def.Journal.Path, "history database path (empty disables)")

	root.AddCommand(stateCmd(), detectCmd(), clearCacheCmd(), wakeCmd(), versionCmd())
	return root
}

// loadConfig applies defaults, then the config file, then any flags set on
// the command line, and validates the result.
func loadConfig(fs *pflag.FlagSet) (config.Config, error) {
	path, _ := fs.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if fs.Changed("port") {
		cfg.Port, _ = fs.GetInt("port")
	}
	if fs.Changed("subnet") {
		cfg.Subnet, _ = fs.GetString("subnet")
	}
	if fs.Changed("cache") {
		cfg.CachePath, _ = fs.GetString("cache")
	}
	if fs.Changed("broker") {
		cfg.MQTT.Broker, _ = fs.GetString("broker")
	}
	if fs.Changed("journal") {
		cfg.Journal.Path, _ = fs.GetString("journal")
	}
	if daemonMode, _ := fs.GetBool("daemon"); daemonMode {
		cfg.Log.Level = "info"
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// setup loads the config and configures logging from it.
func setup(fs *pflag.FlagSet) (config.Config, error) {
	cfg, err := loadConfig(fs)
	if err != nil {
		return config.Config{}, err
	}
	debug, _ := fs.GetBool("debug")
	if err := logging.Init(logging.Config{Level: cfg.Log.Level, Debug: debug, Output: cfg.Log.Output}); err != nil {
		return config.Config{}, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

func run(cfg config.Config) error {
	log := logging.WithComponent("main")

	if err := platform.CheckDeviceType(cfg.DeviceTypePath); err != nil {
		return err
	}

	board := newBoard(cfg, log)
	defer board.Close()

	detector, err := newDetector(cfg)
	if err != nil {
		return fmt.Errorf("init presence detector: %w", err)
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Port:        cfg.Port,
		Subnet:      cfg.Subnet,
		CachePath:   cfg.CachePath,
		Scanner:     cfg.Presence.Scanner,
		PollMs:      cfg.Power.PollInterval.Milliseconds(),
		TickMs:      cfg.Tick.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
	})

	var (
		publisher  mqtt.Publisher
		mqttStatus mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, logging.WithComponent("mqtt"))
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	var (
		recorder daemon.Recorder
		history  web.HistorySource
	)
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
		defer j.Close()
		recorder, history = j, j
	}

	hub := transport.NewHub(nil, logging.WithComponent("transport"))
	defer hub.Close()

	d, err := daemon.New(daemon.Options{
		Platform:        board,
		Monitor:         power.New(board, logging.WithComponent("power"), power.WithInterval(cfg.Power.PollInterval)),
		Waker:           wake.New(board, board, logging.WithComponent("wake")),
		Detector:        detector,
		Tracker:         tracker,
		Clients:         hub,
		Publisher:       publisher,
		MQTTStatus:      mqttStatus,
		Journal:         recorder,
		Log:             logging.Root(),
		PresenceRefresh: cfg.Presence.Refresh,
		CheckInterval:   cfg.Presence.CheckInterval,
		Heartbeat:       cfg.MQTT.Heartbeat,
	})
	if err != nil {
		return err
	}
	hub.SetHandler(d)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := web.New(addr, tracker, hub, history, logging.WithComponent("web"))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("http server failed")
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Info().
		Str("addr", addr).
		Str("subnet", cfg.Subnet).
		Str("cache", cfg.CachePath).
		Str("broker", cfg.MQTT.Broker).
		Str("journal", cfg.Journal.Path).
		Str("version", version).
		Msg("started")

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return d.Run(ticker.C, sigCh)
}

func newCEC(cfg config.Config) *platform.CEC {
	return &platform.CEC{
		Runner: command.ExecRunner{},
		Client: cfg.CEC.Client,
		Target: cfg.CEC.Target,
	}
}

// newBoard binds CEC and the status LED. A missing LED is not fatal.
func newBoard(cfg config.Config, log zerolog.Logger) *platform.Board {
	var led gpio.LED = gpio.Nop{}
	l, err := gpio.NewRealLED(gpio.Pins{
		Chip:  cfg.LED.Chip,
		Red:   cfg.LED.Red,
		Green: cfg.LED.Green,
		Blue:  cfg.LED.Blue,
	})
	if err != nil {
		log.Warn().Err(err).Str("chip", cfg.LED.Chip).Msg("status led unavailable")
	} else {
		led = l
	}
	return &platform.Board{CEC: newCEC(cfg), LED: led}
}

func newDetector(cfg config.Config) (*presence.Detector, error) {
	runner := command.ExecRunner{}
	log := logging.WithComponent("presence")

	var scanner presence.Scanner
	switch cfg.Presence.Scanner {
	case config.ScannerTCP:
		scanner = presence.TCPSweepScanner{Port: cfg.Presence.Port, Log: log}
	default:
		scanner = presence.NmapScanner{Runner: runner, Port: cfg.Presence.Port}
	}

	return presence.NewDetector(presence.Config{
		Subnet:      cfg.Subnet,
		Cache:       presence.NewFileCache(cfg.CachePath),
		Runner:      runner,
		Neighbors:   presence.SystemNeighbors(presence.ArpNeighbors{Runner: runner}),
		Scanner:     scanner,
		PingTimeout: cfg.Presence.PingTimeout,
		Log:         log,
	})
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the console power state and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(cmd.Flags())
			if err != nil {
				return err
			}
			st, err := newCEC(cfg).QueryPowerState()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Power: %s\n", st)
			return nil
		},
	}
}

func detectCmd() *cobra.Command {
	var scan bool
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Locate the console on the network and print its record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(cmd.Flags())
			if err != nil {
				return err
			}
			det, err := newDetector(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var found presence.Detection
			if scan {
				found, err = det.Scan(ctx)
			} else {
				found, err = det.QuickCheck(ctx, "")
			}
			if err != nil {
				return err
			}
			log := logging.WithComponent("presence")
			log.Info().Str("method", found.Method.String()).Msg("console located")
			if found.CacheErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: result not cached: %v\n", found.CacheErr)
			}
			return writeJSON(cmd.OutOrStdout(), found.Record)
		},
	}
	cmd.Flags().BoolVar(&scan, "scan", false, "skip the cache and neighbor table and scan the subnet")
	return cmd
}

func clearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Remove the presence cache file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(cmd.Flags())
			if err != nil {
				return err
			}
			if err := presence.NewFileCache(cfg.CachePath).Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared: %s\n", cfg.CachePath)
			return nil
		},
	}
}

func wakeCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "wake",
		Short: "Send a CEC wake to the console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(cmd.Flags())
			if err != nil {
				return err
			}
			cec := newCEC(cfg)
			return wakeConsole(cmd.OutOrStdout(), wake.New(cec, cec, logging.WithComponent("wake")), verify)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "wait for the console to settle and confirm it is on")
	return cmd
}

func wakeConsole(w io.Writer, c *wake.Controller, verify bool) error {
	if err := c.Send(); err != nil {
		return err
	}
	fmt.Fprintln(w, "Wake sent")
	if !verify {
		return nil
	}
	st, err := c.Verify()
	fmt.Fprintf(w, "Power: %s\n", st)
	return err
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
