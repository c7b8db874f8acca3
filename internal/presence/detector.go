package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/gaming-server/internal/command"
)

// DefaultPingTimeout bounds the single-packet liveness check.
const DefaultPingTimeout = 2 * time.Second

// Detection is the outcome of a successful lookup.
type Detection struct {
	Record Record
	Method Method

	// CacheErr is set when the record could not be persisted. The
	// detection itself still stands.
	CacheErr error
}

// Config holds the detector's collaborators and settings.
type Config struct {
	Subnet      string
	Cache       *FileCache
	Runner      command.Runner // used for ping
	Neighbors   NeighborTable
	Scanner     Scanner
	PingTimeout time.Duration
	Log         zerolog.Logger
	Now         func() time.Time
}

// Detector resolves the console's network presence.
//
// Each call does its own I/O; callers serialise access if they need to.
// The scan tier can take tens of seconds and should not be driven from a tight loop.
type Detector struct {
	subnet      string
	cache       *FileCache
	runner      command.Runner
	neighbors   NeighborTable
	scanner     Scanner
	pingTimeout time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// NewDetector creates a Detector.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.Cache == nil {
		return nil, errors.New("presence: cache is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("presence: command runner is required")
	}
	d := &Detector{
		subnet:      cfg.Subnet,
		cache:       cfg.Cache,
		runner:      cfg.Runner,
		neighbors:   cfg.Neighbors,
		scanner:     cfg.Scanner,
		pingTimeout: cfg.PingTimeout,
		log:         cfg.Log,
		now:         cfg.Now,
	}
	if d.pingTimeout <= 0 {
		d.pingTimeout = DefaultPingTimeout
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.cache.now = d.now
	return d, nil
}

// GetCached returns the persisted record without any probing.
func (d *Detector) GetCached() (Record, error) {
	return d.cache.Load()
}

// SaveCache persists rec.
func (d *Detector) SaveCache(rec Record) error {
	if !ValidateAddress(rec.Address) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, rec.Address)
	}
	return d.cache.Save(rec)
}

// ClearCache removes the persisted record.
func (d *Detector) ClearCache() error {
	return d.cache.Clear()
}

// CacheAge returns how long ago the cache file was written.
func (d *Detector) CacheAge() (time.Duration, error) {
	return d.cache.Age()
}

// Ping sends one ICMP echo to addr and reports whether a reply arrived in time.
func (d *Detector) Ping(ctx context.Context, addr string) bool {
	if !ValidateAddress(addr) {
		return false
	}
	secs := int(d.pingTimeout.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	ctx, cancel := context.WithTimeout(ctx, d.pingTimeout+time.Second)
	defer cancel()

	out, err := d.runner.Run(ctx, "", "ping", "-c", "1", "-W", strconv.Itoa(secs), addr)
	if err != nil {
		d.log.Debug().Err(err).Str("address", addr).Msg("ping failed")
		return false
	}
	return strings.Contains(string(out), "1 received")
}

// QuickCheck locates the console, escalating from cheapest to most expensive:
//
//  1. the cached record, confirmed by ping (or hint, confirmed by ping, when
//     nothing valid is cached)
//  2. the first valid entry of the neighbor table
//  3. an active scan of the subnet
//
// Successful results from tiers 2 and 3 are persisted, and a confirmed cache
// hit is re-saved with a refreshed LastSeen. A failure to persist is logged
// and does not change the outcome.
func (d *Detector) QuickCheck(ctx context.Context, hint string) (Detection, error) {
	if rec, err := d.cache.Load(); err == nil {
		if d.Ping(ctx, rec.Address) {
			rec.Online = true
			rec.LastSeen = d.stamp()
			return Detection{Record: rec, Method: MethodCache, CacheErr: d.persist(rec)}, nil
		}
		d.log.Debug().Str("address", rec.Address).Msg("cached address did not answer")
	} else if hint != "" && d.Ping(ctx, hint) {
		rec := Record{Address: hint, LastSeen: d.stamp(), Online: true}
		if entries, err := d.listNeighbors(ctx); err == nil {
			rec.HardwareAddress, _ = lookup(entries, hint)
		}
		return Detection{Record: rec, Method: MethodPing, CacheErr: d.persist(rec)}, nil
	}

	if entries, err := d.listNeighbors(ctx); err == nil {
		if n, ok := firstValid(entries); ok {
			rec := Record{
				Address:         n.Address,
				HardwareAddress: n.HardwareAddress,
				LastSeen:        d.stamp(),
				Online:          true,
			}
			return Detection{Record: rec, Method: MethodNeighborTable, CacheErr: d.persist(rec)}, nil
		}
	}

	return d.Scan(ctx)
}

// Scan runs the active scanner over the subnet. If the scanner reports no
// hardware address, the neighbor table is consulted once for that address.
func (d *Detector) Scan(ctx context.Context) (Detection, error) {
	if d.scanner == nil {
		return Detection{}, fmt.Errorf("%w: no scanner configured", ErrScanFailed)
	}

	d.log.Info().Str("subnet", d.subnet).Msg("starting network scan")
	host, err := d.scanner.Scan(ctx, d.subnet)
	if err != nil {
		d.log.Info().Err(err).Msg("network scan found nothing")
		return Detection{}, err
	}

	rec := Record{
		Address:         host.Address,
		HardwareAddress: host.HardwareAddress,
		LastSeen:        d.stamp(),
		Online:          true,
	}
	if rec.HardwareAddress == "" {
		if entries, err := d.listNeighbors(ctx); err == nil {
			rec.HardwareAddress, _ = lookup(entries, rec.Address)
		}
	}
	return Detection{Record: rec, Method: MethodScan, CacheErr: d.persist(rec)}, nil
}

func (d *Detector) listNeighbors(ctx context.Context) ([]Neighbor, error) {
	if d.neighbors == nil {
		return nil, ErrNotFound
	}
	entries, err := d.neighbors.Neighbors(ctx)
	if err != nil {
		d.log.Debug().Err(err).Msg("neighbor table unavailable")
		return nil, err
	}
	return entries, nil
}

// MarkOffline keeps the cached record but flags it offline, so readers of the
// cache stop reporting a console that no longer answers. An absent or stale
// cache is left alone.
func (d *Detector) MarkOffline() error {
	rec, err := d.cache.Load()
	if err != nil || !rec.Online {
		return nil
	}
	rec.Online = false
	return d.persist(rec)
}

func (d *Detector) persist(rec Record) error {
	if err := d.cache.Save(rec); err != nil {
		d.log.Warn().Err(err).Str("path", d.cache.Path()).Msg("failed to save presence cache")
		return err
	}
	return nil
}

// stamp is the LastSeen time for new records. The cache keeps whole seconds.
func (d *Detector) stamp() time.Time {
	return d.now().Truncate(time.Second)
}
