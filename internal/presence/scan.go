package presence

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/gaming-server/internal/command"
)

// RemotePlayPort is the TCP port the console listens on for remote play.
const RemotePlayPort = 9295

// Host is a live host reported by a scanner. HardwareAddress may be empty.
type Host struct {
	Address         string
	HardwareAddress string
}

// Scanner actively sweeps a subnet for the console.
type Scanner interface {
	// Scan returns the first host with the service port open.
	// It returns ErrNotFound if nothing answered and ErrScanFailed if the scan could not run.
	Scan(ctx context.Context, subnet string) (Host, error)
}

// NmapScanner runs `nmap -p <port> --open <subnet>`.
type NmapScanner struct {
	Runner command.Runner
	Port   int
}

// Scan runs nmap and returns the first reported host.
func (s NmapScanner) Scan(ctx context.Context, subnet string) (Host, error) {
	port := s.Port
	if port == 0 {
		port = RemotePlayPort
	}
	out, err := s.Runner.Run(ctx, "", "nmap", "-p", strconv.Itoa(port), "--open", subnet)
	if err != nil && len(out) == 0 {
		return Host{}, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}
	h, ok := ParseNmap(out)
	if !ok {
		return Host{}, ErrNotFound
	}
	return h, nil
}

// ParseNmap returns the first "Nmap scan report for" host in out, together
// with the "MAC Address:" line that follows it, if any. Both the bare
// "... for 10.0.0.5" and the named "... for ps5.lan (10.0.0.5)" forms are handled.
func ParseNmap(out []byte) (Host, bool) {
	const reportPrefix = "Nmap scan report for "
	const macPrefix = "MAC Address: "

	var h Host
	found := false
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, reportPrefix):
			if found {
				return h, true
			}
			fields := strings.Fields(line)
			addr := strings.Trim(fields[len(fields)-1], "()")
			if ValidateAddress(addr) {
				h = Host{Address: addr}
				found = true
			}
		case found && strings.HasPrefix(line, macPrefix):
			fields := strings.Fields(strings.TrimPrefix(line, macPrefix))
			if len(fields) > 0 && ValidateHardwareAddress(fields[0]) {
				h.HardwareAddress = fields[0]
			}
		}
	}
	return h, found
}

// TCPSweepScanner dials the service port on every host address of the subnet
// using a bounded pool of workers. It needs no external tools but cannot see
// hardware addresses.
type TCPSweepScanner struct {
	Port        int
	Timeout     time.Duration
	Concurrency int
	Log         zerolog.Logger
}

// Scan dials each address and returns the first that accepts a connection.
func (s TCPSweepScanner) Scan(ctx context.Context, subnet string) (Host, error) {
	addrs, err := ExpandCIDR(subnet)
	if err != nil {
		return Host{}, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}
	port := s.Port
	if port == 0 {
		port = RemotePlayPort
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 500 * time.Millisecond
	}
	workers := s.Concurrency
	if workers <= 0 {
		workers = 64
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan string)
	found := make(chan string, 1)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range work {
				if s.tryConnect(scanCtx, addr, port, timeout) {
					select {
					case found <- addr:
						cancel()
					default:
					}
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, a := range addrs {
			select {
			case <-scanCtx.Done():
				return
			case work <- a:
			}
		}
	}()

	wg.Wait()

	select {
	case addr := <-found:
		s.Log.Debug().Str("address", addr).Int("port", port).Msg("tcp sweep hit")
		return Host{Address: addr}, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return Host{}, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}
	return Host{}, ErrNotFound
}

func (s TCPSweepScanner) tryConnect(ctx context.Context, addr string, port int, timeout time.Duration) bool {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	if err := conn.Close(); err != nil {
		s.Log.Debug().Err(err).Msg("failed to close sweep connection")
	}
	return true
}

// ExpandCIDR lists the host addresses of an IPv4 CIDR, skipping the network
// and broadcast addresses unless the prefix is /31 or /32.
func ExpandCIDR(cidr string) ([]string, error) {
	base, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	if base.To4() == nil {
		return nil, fmt.Errorf("not an IPv4 subnet: %s", cidr)
	}
	ones, bits := ipnet.Mask.Size()
	if bits-ones > 16 {
		return nil, fmt.Errorf("subnet too large to sweep: %s", cidr)
	}

	network := ipnet.IP.To4()
	broadcast := make(net.IP, 4)
	for i := range network {
		broadcast[i] = network[i] | ^ipnet.Mask[i]
	}

	var addrs []string
	for ip := cloneIP(network); ipnet.Contains(ip); incIP(ip) {
		if ones < 31 && (ip.Equal(network) || ip.Equal(broadcast)) {
			continue
		}
		addrs = append(addrs, ip.String())
	}
	return addrs, nil
}

func cloneIP(ip net.IP) net.IP {
	c := make(net.IP, len(ip))
	copy(c, ip)
	return c
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			break
		}
	}
}
