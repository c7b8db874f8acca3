//go:build !linux

package presence

// SystemNeighbors returns the neighbor table reader for this platform.
// Without netlink the fallback (usually ArpNeighbors) is used.
func SystemNeighbors(fallback NeighborTable) NeighborTable {
	return fallback
}
