package lease

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vortexnet/netd/pkg/leasestate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dhcpd.leases")
	store, err := NewStore(path)
	require.NoError(t, err)
	return store
}

func TestNewStoreEmpty(t *testing.T) {
	store := newTestStore(t)
	require.Equal(t, 0, store.CountSafe())
}

func TestStoreAddAndFind(t *testing.T) {
	store := newTestStore(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:01")
	ip := net.IPv4(192, 168, 1, 100)

	lease, err := store.AddSafe(ip, mac, time.Hour)
	require.NoError(t, err)
	require.Equal(t, leasestate.Active, lease.State)
	require.NotZero(t, lease.ID)

	got := store.FindByIPSafe(ip)
	require.NotNil(t, got)
	require.Equal(t, mac.String(), got.MAC.String())

	got2 := store.FindByMACSafe(mac)
	require.NotNil(t, got2)
	require.True(t, got2.IP.Equal(ip))

	got3 := store.FindByIDSafe(lease.ID)
	require.NotNil(t, got3)
}

func TestStoreGenerateIDMonotonic(t *testing.T) {
	store := newTestStore(t)
	store.Lock()
	a := store.GenerateID()
	b := store.GenerateID()
	c := store.GenerateID()
	store.Unlock()
	require.Less(t, a, b)
	require.Less(t, b, c)
}

func TestStoreReleaseAndRenew(t *testing.T) {
	store := newTestStore(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:02")
	ip := net.IPv4(192, 168, 1, 101)
	_, err := store.AddSafe(ip, mac, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.ReleaseSafe(ip))
	got := store.FindByIPSafe(ip)
	require.Equal(t, leasestate.Released, got.State)

	renewed, err := store.RenewSafe(ip, 2*time.Hour)
	require.NoError(t, err)
	require.Equal(t, leasestate.Active, renewed.State)
}

func TestStoreExpireOld(t *testing.T) {
	store := newTestStore(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:03")
	ip := net.IPv4(192, 168, 1, 102)

	store.Lock()
	l := store.Add(ip, mac, -time.Hour) // already expired
	store.Unlock()
	require.Equal(t, leasestate.Active, l.State)

	store.Lock()
	n := store.ExpireOld()
	store.Unlock()
	require.Equal(t, 1, n)

	got := store.FindByIPSafe(ip)
	require.Equal(t, leasestate.Expired, got.State)
}

func TestStoreCleanupExpired(t *testing.T) {
	store := newTestStore(t)
	mac1, _ := net.ParseMAC("aa:bb:cc:dd:ee:04")
	mac2, _ := net.ParseMAC("aa:bb:cc:dd:ee:05")
	ip1 := net.IPv4(192, 168, 1, 103)
	ip2 := net.IPv4(192, 168, 1, 104)

	store.Lock()
	store.Add(ip1, mac1, -time.Hour)
	store.Add(ip2, mac2, time.Hour)
	store.ExpireOld()
	removed := store.CleanupExpired()
	store.Unlock()

	require.Equal(t, 1, removed)
	require.Equal(t, 1, store.CountSafe())
	require.Nil(t, store.FindByIPSafe(ip1))
	require.NotNil(t, store.FindByIPSafe(ip2))
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dhcpd.leases")

	store, err := NewStore(path)
	require.NoError(t, err)

	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:06")
	ip := net.IPv4(192, 168, 1, 105)
	_, err = store.AddSafe(ip, mac, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Save())

	store2, err := NewStore(path)
	require.NoError(t, err)
	got := store2.FindByIPSafe(ip)
	require.NotNil(t, got)
	require.Equal(t, mac.String(), got.MAC.String())
	require.Equal(t, leasestate.Active, got.State)
}

func TestStoreLoadSkipsMalformedBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dhcpd.leases")
	contents := `# comment
authoring-byte-order little-endian;
lease 192.168.1.50 {
  starts 6 2024/01/01 00:00:00;
  ends 6 2024/01/01 01:00:00;
  tstp 6 2024/01/01 00:00:00;
  cltt 6 2024/01/01 00:00:00;
  binding state active;
  next binding state free;
  rewind binding state free;
}
lease 192.168.1.51 {
  starts 6 2024/01/01 00:00:00;
  ends 6 2024/01/01 01:00:00;
  tstp 6 2024/01/01 00:00:00;
  cltt 6 2024/01/01 00:00:00;
  hardware ethernet aa:bb:cc:dd:ee:07;
  binding state active;
  next binding state free;
  rewind binding state free;
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	store, err := NewStore(path)
	require.NoError(t, err)
	require.Equal(t, 1, store.CountSafe())
	require.NotNil(t, store.FindByIPSafe(net.IPv4(192, 168, 1, 51)))
	require.Nil(t, store.FindByIPSafe(net.IPv4(192, 168, 1, 50)))
}
