package presence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/gaming-server/internal/command"
)

const (
	pingOK   = "1 packets transmitted, 1 received, 0% packet loss, time 0ms\n"
	pingLost = "1 packets transmitted, 0 received, 100% packet loss, time 0ms\n"
)

type fakeNeighbors struct {
	entries []Neighbor
	err     error
	calls   int
}

func (f *fakeNeighbors) Neighbors(context.Context) ([]Neighbor, error) {
	f.calls++
	return f.entries, f.err
}

type fakeScanner struct {
	host   Host
	err    error
	calls  int
	subnet string
}

func (f *fakeScanner) Scan(_ context.Context, subnet string) (Host, error) {
	f.calls++
	f.subnet = subnet
	return f.host, f.err
}

type detectorFixture struct {
	det       *Detector
	runner    *command.FakeRunner
	neighbors *fakeNeighbors
	scanner   *fakeScanner
	now       time.Time
}

func newFixture(t *testing.T) *detectorFixture {
	t.Helper()
	f := &detectorFixture{
		runner:    command.NewFakeRunner(),
		neighbors: &fakeNeighbors{},
		scanner:   &fakeScanner{err: ErrNotFound},
		now:       time.Unix(1760000000, 0),
	}
	det, err := NewDetector(Config{
		Subnet:    "192.168.1.0/24",
		Cache:     NewFileCache(filepath.Join(t.TempDir(), "ps5_cache.json")),
		Runner:    f.runner,
		Neighbors: f.neighbors,
		Scanner:   f.scanner,
		Log:       zerolog.Nop(),
		Now:       func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.det = det
	return f
}

func TestNewDetectorRequiresCollaborators(t *testing.T) {
	_, err := NewDetector(Config{Runner: command.NewFakeRunner()})
	assert.Error(t, err)
	_, err = NewDetector(Config{Cache: NewFileCache(filepath.Join(t.TempDir(), "c.json"))})
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	f := newFixture(t)

	f.runner.Set("ping", pingOK, nil)
	assert.True(t, f.det.Ping(context.Background(), "192.168.1.20"))
	assert.Equal(t, "ping -c 1 -W 2 192.168.1.20", f.runner.CallsTo("ping")[0].Line())

	f.runner.Set("ping", pingLost, errors.New("exit status 1"))
	assert.False(t, f.det.Ping(context.Background(), "192.168.1.20"))

	assert.False(t, f.det.Ping(context.Background(), "not-an-ip"))
	assert.Len(t, f.runner.CallsTo("ping"), 2, "invalid address must not be pinged")
}

func TestQuickCheckCacheHit(t *testing.T) {
	f := newFixture(t)
	cached := Record{Address: "192.168.1.20", HardwareAddress: "aa:bb:cc:dd:ee:ff", LastSeen: f.now}
	require.NoError(t, f.det.SaveCache(cached))
	f.runner.Set("ping", pingOK, nil)

	f.now = f.now.Add(10 * time.Minute)
	det, err := f.det.QuickCheck(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, MethodCache, det.Method)
	assert.Equal(t, "192.168.1.20", det.Record.Address)
	assert.True(t, det.Record.Online)
	assert.Equal(t, f.now, det.Record.LastSeen)
	assert.Zero(t, f.neighbors.calls)
	assert.Zero(t, f.scanner.calls)

	// The refreshed timestamp is persisted.
	got, err := f.det.GetCached()
	require.NoError(t, err)
	assert.Equal(t, f.now, got.LastSeen)
}

func TestQuickCheckCacheHitRevalidated(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.det.SaveCache(Record{Address: "192.168.1.20", LastSeen: f.now}))
	f.runner.Set("ping", pingLost, errors.New("exit status 1"))
	f.neighbors.entries = []Neighbor{{Address: "192.168.1.30", HardwareAddress: "11:22:33:44:55:66"}}

	det, err := f.det.QuickCheck(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, MethodNeighborTable, det.Method)
	assert.Equal(t, "192.168.1.30", det.Record.Address)
}

func TestQuickCheckNeighborTier(t *testing.T) {
	f := newFixture(t)
	f.neighbors.entries = []Neighbor{
		{Address: "Address", HardwareAddress: "HWaddress"},
		{Address: "192.168.1.1", HardwareAddress: "(incomplete)"},
		{Address: "192.168.1.40", HardwareAddress: "de:ad:be:ef:00:01"},
		{Address: "192.168.1.41", HardwareAddress: "de:ad:be:ef:00:02"},
	}

	det, err := f.det.QuickCheck(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, MethodNeighborTable, det.Method)
	assert.Equal(t, "192.168.1.40", det.Record.Address, "first valid entry wins")
	assert.Equal(t, "de:ad:be:ef:00:01", det.Record.HardwareAddress)
	assert.Zero(t, f.scanner.calls)

	got, err := f.det.GetCached()
	require.NoError(t, err)
	assert.Equal(t, det.Record, got)
}

func TestQuickCheckFallsThroughToScan(t *testing.T) {
	f := newFixture(t)
	f.neighbors.err = errors.New("netlink unavailable")
	f.scanner.host = Host{Address: "192.168.1.60"}
	f.scanner.err = nil

	det, err := f.det.QuickCheck(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, MethodScan, det.Method)
	assert.Equal(t, "192.168.1.60", det.Record.Address)
	assert.Equal(t, "192.168.1.0/24", f.scanner.subnet)
}

func TestQuickCheckNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.det.QuickCheck(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.det.GetCached()
	assert.ErrorIs(t, err, ErrCacheInvalid)
}

func TestQuickCheckHint(t *testing.T) {
	f := newFixture(t)
	f.runner.Set("ping", pingOK, nil)
	f.neighbors.entries = []Neighbor{
		{Address: "192.168.1.2", HardwareAddress: "00:00:00:00:00:01"},
		{Address: "192.168.1.99", HardwareAddress: "aa:aa:aa:aa:aa:aa"},
	}

	det, err := f.det.QuickCheck(context.Background(), "192.168.1.99")
	require.NoError(t, err)
	assert.Equal(t, MethodPing, det.Method)
	assert.Equal(t, "192.168.1.99", det.Record.Address)
	assert.Equal(t, "aa:aa:aa:aa:aa:aa", det.Record.HardwareAddress)
}

func TestScanFillsHardwareAddressFromMatchingNeighbor(t *testing.T) {
	f := newFixture(t)
	f.scanner.host = Host{Address: "192.168.1.60"}
	f.scanner.err = nil
	f.neighbors.entries = []Neighbor{
		{Address: "192.168.1.1", HardwareAddress: "00:11:22:33:44:55"},
		{Address: "192.168.1.60", HardwareAddress: "66:77:88:99:aa:bb"},
	}

	det, err := f.det.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "66:77:88:99:aa:bb", det.Record.HardwareAddress)
	assert.Equal(t, 1, f.neighbors.calls)
}

func TestScanKeepsScannerHardwareAddress(t *testing.T) {
	f := newFixture(t)
	f.scanner.host = Host{Address: "192.168.1.60", HardwareAddress: "66:77:88:99:aa:bb"}
	f.scanner.err = nil

	det, err := f.det.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "66:77:88:99:aa:bb", det.Record.HardwareAddress)
	assert.Zero(t, f.neighbors.calls)
}

func TestScanWithoutScanner(t *testing.T) {
	f := newFixture(t)
	f.det.scanner = nil
	_, err := f.det.Scan(context.Background())
	assert.ErrorIs(t, err, ErrScanFailed)
}

func TestSaveCacheRejectsBadAddress(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.det.SaveCache(Record{Address: "999.1.1.1"}), ErrInvalidAddress)
}

func TestClearCacheAndAge(t *testing.T) {
	f := newFixture(t)
	f.now = time.Now()
	require.NoError(t, f.det.SaveCache(Record{Address: "192.168.1.20", LastSeen: f.now}))

	age, err := f.det.CacheAge()
	require.NoError(t, err)
	assert.Less(t, age, time.Minute)

	require.NoError(t, f.det.ClearCache())
	_, err = f.det.CacheAge()
	assert.ErrorIs(t, err, ErrCacheInvalid)
}

func TestQuickCheckReportsCacheWriteFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	neighbors := &fakeNeighbors{entries: []Neighbor{{Address: "192.168.1.40", HardwareAddress: "de:ad:be:ef:00:01"}}}
	det, err := NewDetector(Config{
		Subnet:    "192.168.1.0/24",
		Cache:     NewFileCache(filepath.Join(blocker, "ps5_cache.json")),
		Runner:    command.NewFakeRunner(),
		Neighbors: neighbors,
		Log:       zerolog.Nop(),
	})
	require.NoError(t, err)

	found, err := det.QuickCheck(context.Background(), "")
	require.NoError(t, err, "a failed cache write does not fail the lookup")
	assert.Equal(t, MethodNeighborTable, found.Method)
	assert.Equal(t, "192.168.1.40", found.Record.Address)
	assert.True(t, found.Record.Online)
	assert.Error(t, found.CacheErr)
}

func TestScanReportsCacheWriteFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	det, err := NewDetector(Config{
		Subnet:  "192.168.1.0/24",
		Cache:   NewFileCache(filepath.Join(blocker, "ps5_cache.json")),
		Runner:  command.NewFakeRunner(),
		Scanner: &fakeScanner{host: Host{Address: "192.168.1.60", HardwareAddress: "aa:bb:cc:dd:ee:ff"}},
		Log:     zerolog.Nop(),
	})
	require.NoError(t, err)

	found, err := det.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.60", found.Record.Address)
	assert.Error(t, found.CacheErr)
}

func TestSuccessfulDetectionHasNoCacheError(t *testing.T) {
	f := newFixture(t)
	f.neighbors.entries = []Neighbor{{Address: "192.168.1.40", HardwareAddress: "de:ad:be:ef:00:01"}}

	found, err := f.det.QuickCheck(context.Background(), "")
	require.NoError(t, err)
	assert.NoError(t, found.CacheErr)
}

func TestDetectedRecordRoundTripsThroughCache(t *testing.T) {
	f := newFixture(t)
	f.now = time.Now()
	f.neighbors.entries = []Neighbor{{Address: "192.168.1.40", HardwareAddress: "de:ad:be:ef:00:01"}}

	found, err := f.det.QuickCheck(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, found.Record.LastSeen.Nanosecond(), "LastSeen is whole seconds")

	got, err := f.det.GetCached()
	require.NoError(t, err)
	assert.Equal(t, found.Record, got)
}

func TestMarkOffline(t *testing.T) {
	f := newFixture(t)
	seen := f.now.Add(-time.Minute)
	require.NoError(t, f.det.SaveCache(Record{Address: "192.168.1.20", HardwareAddress: "aa:bb:cc:dd:ee:ff", LastSeen: seen, Online: true}))

	require.NoError(t, f.det.MarkOffline())

	got, err := f.det.GetCached()
	require.NoError(t, err)
	assert.False(t, got.Online)
	assert.Equal(t, "192.168.1.20", got.Address)
	assert.True(t, got.LastSeen.Equal(seen), "LastSeen is kept")
}

func TestMarkOfflineWithoutCache(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.det.MarkOffline())

	_, err := f.det.GetCached()
	assert.ErrorIs(t, err, ErrCacheInvalid, "no record is invented")
}
