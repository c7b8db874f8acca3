//go:build linux

package presence

import (
	"context"
	"fmt"

	"github.com/vishvananda/netlink"
)

// NetlinkNeighbors reads the kernel IPv4 neighbor table over netlink.
type NetlinkNeighbors struct{}

// Neighbors returns reachable, stale and permanent entries that carry a hardware address.
func (NetlinkNeighbors) Neighbors(ctx context.Context) ([]Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	neighs, err := netlink.NeighList(0, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list neighbors: %w", err)
	}

	var entries []Neighbor
	for _, n := range neighs {
		if n.IP == nil || len(n.HardwareAddr) == 0 {
			continue
		}
		if n.State&(netlink.NUD_FAILED|netlink.NUD_INCOMPLETE|netlink.NUD_NOARP) != 0 {
			continue
		}
		entries = append(entries, Neighbor{
			Address:         n.IP.String(),
			HardwareAddress: n.HardwareAddr.String(),
		})
	}
	return entries, nil
}

// SystemNeighbors returns the neighbor table reader for this platform.
func SystemNeighbors(_ NeighborTable) NeighborTable {
	return NetlinkNeighbors{}
}
