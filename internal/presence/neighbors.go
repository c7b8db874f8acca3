package presence

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/sweeney/gaming-server/internal/command"
)

// Neighbor is one entry from the local IPv4 neighbor (ARP) table.
type Neighbor struct {
	Address         string
	HardwareAddress string
}

// NeighborTable lists the current neighbor entries.
type NeighborTable interface {
	Neighbors(ctx context.Context) ([]Neighbor, error)
}

// ArpNeighbors reads the table by running `arp -n`.
type ArpNeighbors struct {
	Runner command.Runner
}

// Neighbors runs arp and parses its output.
func (a ArpNeighbors) Neighbors(ctx context.Context) ([]Neighbor, error) {
	out, err := a.Runner.Run(ctx, "", "arp", "-n")
	if err != nil {
		return nil, fmt.Errorf("read arp table: %w", err)
	}
	return ParseArp(out), nil
}

// ParseArp extracts address and hardware address from `arp -n` output:
//
//	Address          HWtype  HWaddress           Flags Mask  Iface
//	192.168.1.100    ether   aa:bb:cc:dd:ee:ff   C           eth0
//
// Lines are split on whitespace; the first field is the address and the third
// is the hardware address. Header and incomplete lines are kept as-is and
// filtered by the caller's validation.
func ParseArp(out []byte) []Neighbor {
	var entries []Neighbor
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		entries = append(entries, Neighbor{Address: fields[0], HardwareAddress: fields[2]})
	}
	return entries
}

// firstValid returns the first entry whose address and hardware address both validate.
// It does not check that the entry belongs to the console.
func firstValid(entries []Neighbor) (Neighbor, bool) {
	for _, n := range entries {
		if ValidateAddress(n.Address) && ValidateHardwareAddress(n.HardwareAddress) {
			return n, true
		}
	}
	return Neighbor{}, false
}

// lookup returns the hardware address recorded for addr.
func lookup(entries []Neighbor, addr string) (string, bool) {
	for _, n := range entries {
		if n.Address == addr && ValidateHardwareAddress(n.HardwareAddress) {
			return n.HardwareAddress, true
		}
	}
	return "", false
}
