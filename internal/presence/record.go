// Package presence finds the console on the local network. It tries a cached
// record first, then the kernel neighbor table, then an active scan, and
// persists every positive result.
package presence

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrCacheInvalid means the cache file is missing, unreadable, incomplete or stale.
	ErrCacheInvalid = errors.New("presence cache invalid")

	// ErrNotFound means no tier located the console.
	ErrNotFound = errors.New("console not found")

	// ErrScanFailed means the active scanner could not run.
	ErrScanFailed = errors.New("network scan failed")

	// ErrInvalidAddress is returned when an address fails validation.
	ErrInvalidAddress = errors.New("invalid address")
)

// MaxCacheAge is how long a persisted record stays valid.
const MaxCacheAge = time.Hour

// Record is the last known network identity of the console. LastSeen is
// persisted with whole-second precision.
type Record struct {
	Address         string
	HardwareAddress string
	LastSeen        time.Time
	Online          bool
}

// Fresh reports whether the record is within MaxCacheAge of now.
func (r Record) Fresh(now time.Time) bool {
	return now.Sub(r.LastSeen) <= MaxCacheAge
}

// recordJSON is the on-disk form. Pointers distinguish a missing key from a zero value.
type recordJSON struct {
	IP       *string `json:"ip"`
	MAC      *string `json:"mac"`
	LastSeen *int64  `json:"last_seen"`
	Online   *bool   `json:"online"`
}

// MarshalJSON writes the record as {"ip","mac","last_seen","online"}.
func (r Record) MarshalJSON() ([]byte, error) {
	ts := r.LastSeen.Unix()
	return json.Marshal(recordJSON{
		IP:       &r.Address,
		MAC:      &r.HardwareAddress,
		LastSeen: &ts,
		Online:   &r.Online,
	})
}

// UnmarshalJSON requires ip, mac and last_seen. A missing online key reads as false.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.IP == nil || raw.MAC == nil || raw.LastSeen == nil {
		return errors.New("record missing required field")
	}
	*r = Record{
		Address:         *raw.IP,
		HardwareAddress: *raw.MAC,
		LastSeen:        time.Unix(*raw.LastSeen, 0),
	}
	if raw.Online != nil {
		r.Online = *raw.Online
	}
	return nil
}

// ValidateAddress reports whether s is a dotted-quad IPv4 address.
// Each octet is one to three decimal digits with value at most 255, so
// leading zeros ("01.2.3.4") are accepted.
func ValidateAddress(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if len(p) == 0 || len(p) > 3 {
			return false
		}
		n := 0
		for i := 0; i < len(p); i++ {
			c := p[i]
			if c < '0' || c > '9' {
				return false
			}
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// ValidateHardwareAddress reports whether s has the form XX:XX:XX:XX:XX:XX in hex.
func ValidateHardwareAddress(s string) bool {
	if len(s) != 17 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if i%3 == 2 {
			if c != ':' {
				return false
			}
			continue
		}
		if !isHex(c) {
			return false
		}
	}
	return true
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Method names the tier that produced a detection.
type Method int

const (
	MethodCache Method = iota
	MethodNeighborTable
	MethodScan
	MethodPing
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case MethodCache:
		return "cache"
	case MethodNeighborTable:
		return "neighbor-table"
	case MethodScan:
		return "scan"
	case MethodPing:
		return "ping"
	default:
		return "unknown"
	}
}
