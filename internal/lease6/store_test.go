package lease6

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
	path := filepath.Join(dir, "dhcpd6.leases")
	store, err := NewStore(path)
	require.NoError(t, err)
	return store
}

func TestNewStoreEmpty(t *testing.T) {
	store := newTestStore(t)
	require.Equal(t, 0, store.CountSafe())
}

func TestStoreAddIANAAndFind(t *testing.T) {
	store := newTestStore(t)
	ip := net.ParseIP("2001:db8::100")

	l, err := store.AddIANASafe(ip, "00:01:00:01:aa:bb:cc:dd:ee:ff:00:01", 7, time.Hour)
	require.NoError(t, err)
	require.Equal(t, leasestate.Active, l.State)
	require.NotZero(t, l.ID)

	got := store.FindByIPSafe(ip)
	require.NotNil(t, got)
	require.Equal(t, l.DUID, got.DUID)
	require.Equal(t, uint32(7), got.IAID)

	got2 := store.FindByDUIDIAIDSafe(l.DUID, 7, KindIANA)
	require.NotNil(t, got2)
	require.True(t, got2.IP.Equal(ip))
}

func TestStoreAddIAPDAndFind(t *testing.T) {
	store := newTestStore(t)
	prefix := net.ParseIP("2001:db8:1::")

	l, err := store.AddIAPDSafe(prefix, 56, "00:01:00:01:aa:bb:cc:dd:ee:ff:00:02", 9, time.Hour)
	require.NoError(t, err)
	require.Equal(t, leasestate.Active, l.State)

	got := store.FindByPrefixSafe(prefix, 56)
	require.NotNil(t, got)
	require.Equal(t, l.DUID, got.DUID)

	got2 := store.FindByDUIDIAIDSafe(l.DUID, 9, KindIAPD)
	require.NotNil(t, got2)
	require.Equal(t, 56, got2.PrefixLen)
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

func TestStoreReleaseAndRenewIANA(t *testing.T) {
	store := newTestStore(t)
	ip := net.ParseIP("2001:db8::101")
	_, err := store.AddIANASafe(ip, "00:01:00:01:aa:bb:cc:dd:ee:ff:00:03", 1, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.ReleaseIPSafe(ip))
	got := store.FindByIPSafe(ip)
	require.Equal(t, leasestate.Released, got.State)

	renewed, err := store.RenewIPSafe(ip, 2*time.Hour)
	require.NoError(t, err)
	require.Equal(t, leasestate.Active, renewed.State)
}

func TestStoreReleaseAndRenewIAPD(t *testing.T) {
	store := newTestStore(t)
	prefix := net.ParseIP("2001:db8:2::")
	_, err := store.AddIAPDSafe(prefix, 60, "00:01:00:01:aa:bb:cc:dd:ee:ff:00:04", 2, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.ReleasePrefixSafe(prefix, 60))
	got := store.FindByPrefixSafe(prefix, 60)
	require.Equal(t, leasestate.Released, got.State)

	renewed, err := store.RenewPrefixSafe(prefix, 60, 2*time.Hour)
	require.NoError(t, err)
	require.Equal(t, leasestate.Active, renewed.State)
}

func TestStoreMarkExpiredOlder(t *testing.T) {
	store := newTestStore(t)
	ip := net.ParseIP("2001:db8::102")

	store.Lock()
	l := store.AddIANA(ip, "00:01:00:01:aa:bb:cc:dd:ee:ff:00:05", 3, -time.Hour)
	store.Unlock()
	require.Equal(t, leasestate.Active, l.State)

	store.Lock()
	n := store.MarkExpiredOlder()
	store.Unlock()
	require.Equal(t, 1, n)

	got := store.FindByIPSafe(ip)
	require.Equal(t, leasestate.Expired, got.State)
}

func TestStoreCleanup(t *testing.T) {
	store := newTestStore(t)
	ip1 := net.ParseIP("2001:db8::103")
	ip2 := net.ParseIP("2001:db8::104")

	store.Lock()
	store.AddIANA(ip1, "00:01:00:01:aa:bb:cc:dd:ee:ff:00:06", 4, -time.Hour)
	store.AddIANA(ip2, "00:01:00:01:aa:bb:cc:dd:ee:ff:00:07", 5, time.Hour)
	store.MarkExpiredOlder()
	removed := store.Cleanup()
	store.Unlock()

	require.Equal(t, 1, removed)
	require.Equal(t, 1, store.CountSafe())
	require.Nil(t, store.FindByIPSafe(ip1))
	require.NotNil(t, store.FindByIPSafe(ip2))
}

func TestStoreMarkReservedAndConflict(t *testing.T) {
	store := newTestStore(t)
	ip := net.ParseIP("2001:db8::105")

	store.Lock()
	l := store.AddIANA(ip, "00:01:00:01:aa:bb:cc:dd:ee:ff:00:08", 6, time.Hour)
	require.NoError(t, store.MarkReserved(l.ID))
	store.Unlock()
	require.Equal(t, leasestate.Reserved, store.FindByIPSafe(ip).State)

	store.Lock()
	require.NoError(t, store.MarkConflict(l.ID))
	store.Unlock()
	require.Equal(t, leasestate.Abandoned, store.FindByIPSafe(ip).State)
}

func TestStoreSaveLoadRoundTripIANA(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dhcpd6.leases")

	store, err := NewStore(path)
	require.NoError(t, err)

	ip := net.ParseIP("2001:db8::106")
	_, err = store.AddIANASafe(ip, "00:01:00:01:aa:bb:cc:dd:ee:ff:00:09", 10, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Save())

	store2, err := NewStore(path)
	require.NoError(t, err)
	got := store2.FindByIPSafe(ip)
	require.NotNil(t, got)
	require.Equal(t, leasestate.Active, got.State)
	require.Equal(t, uint32(10), got.IAID)
}

func TestStoreSaveLoadRoundTripIAPD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dhcpd6.leases")

	store, err := NewStore(path)
	require.NoError(t, err)

	prefix := net.ParseIP("2001:db8:3::")
	_, err = store.AddIAPDSafe(prefix, 48, "00:01:00:01:aa:bb:cc:dd:ee:ff:00:0a", 11, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Save())

	store2, err := NewStore(path)
	require.NoError(t, err)
	got := store2.FindByPrefixSafe(prefix, 48)
	require.NotNil(t, got)
	require.Equal(t, leasestate.Active, got.State)
}

func TestStoreLoadSkipsMalformedBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dhcpd6.leases")
	contents := `# DHCPv6 lease database
authoring-byte-order little-endian;
lease 2001:db8::50 {
  starts 6 2024/01/01 00:00:00;
  ends 6 2024/01/01 01:00:00;
  tstp 6 2024/01/01 00:00:00;
  cltt 6 2024/01/01 00:00:00;
  duid "00:01:00:01:aa:bb:cc:dd:ee:ff:00:0b";
  iaid 12;
  binding state active;
  next binding state free;
  rewind binding state free;
}
lease 2001:db8::51 {
  starts 6 2024/01/01 00:00:00;
  ends 6 2024/01/01 01:00:00;
  tstp 6 2024/01/01 00:00:00;
  cltt 6 2024/01/01 00:00:00;
  binding state active;
  next binding state free;
  rewind binding state free;
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	store, err := NewStore(path)
	require.NoError(t, err)
	require.Equal(t, 1, store.CountSafe())
	require.NotNil(t, store.FindByIPSafe(net.ParseIP("2001:db8::50")))
	require.Nil(t, store.FindByIPSafe(net.ParseIP("2001:db8::51")))
}

func TestStoreDuplicateOverwritesOnLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dhcpd6.leases")
	contents := `lease 2001:db8::60 {
  starts 6 2024/01/01 00:00:00;
  ends 6 2024/01/01 01:00:00;
  tstp 6 2024/01/01 00:00:00;
  cltt 6 2024/01/01 00:00:00;
  duid "00:01:00:01:aa:bb:cc:dd:ee:ff:00:0c";
  iaid 1;
  binding state expired;
  next binding state free;
  rewind binding state free;
}
lease 2001:db8::60 {
  starts 6 2024/01/02 00:00:00;
  ends 6 2024/01/02 01:00:00;
  tstp 6 2024/01/02 00:00:00;
  cltt 6 2024/01/02 00:00:00;
  duid "00:01:00:01:aa:bb:cc:dd:ee:ff:00:0c";
  iaid 1;
  binding state active;
  next binding state free;
  rewind binding state free;
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	store, err := NewStore(path)
	require.NoError(t, err)
	require.Equal(t, 1, store.CountSafe())
	got := store.FindByIPSafe(net.ParseIP("2001:db8::60"))
	require.Equal(t, leasestate.Active, got.State)
}
