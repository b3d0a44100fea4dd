package pool6

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vortexnet/netd/internal/lease6"
)

func newTestIANAPool(t *testing.T, reservations []Reservation) *IANAPool {
	t.Helper()
	p, err := New(Config{
		Start:        net.ParseIP("2001:db8::100"),
		End:          net.ParseIP("2001:db8::1ff"),
		Router:       net.ParseIP("2001:db8::1ff"),
		Reservations: reservations,
	})
	require.NoError(t, err)
	return p
}

func newTestLease6Store(t *testing.T) *lease6.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := lease6.NewStore(dir + "/dhcpd6.leases")
	require.NoError(t, err)
	return store
}

func TestIANAPoolInvariantAfterInit(t *testing.T) {
	p := newTestIANAPool(t, nil)
	require.NoError(t, p.CheckInvariant())
	avail, alloc, resv, excl, conf := p.Counters()
	require.Equal(t, p.Size(), avail+alloc+resv+excl+conf)
	require.Zero(t, alloc)
	require.Zero(t, resv)
	require.Zero(t, conf)
	require.Equal(t, 1, excl) // router excluded
}

func TestIANAPoolAllocateAndCreateLease(t *testing.T) {
	p := newTestIANAPool(t, nil)
	store := newTestLease6Store(t)

	l, isNew, err := p.AllocateAndCreateLease("00:01:00:01:aa:bb:cc:dd:ee:ff:03:00", 1, nil, store, time.Hour)
	require.NoError(t, err)
	require.True(t, isNew)
	require.True(t, p.Contains(l.IP))
	require.NoError(t, p.CheckInvariant())
}

func TestIANAPoolRefreshesExistingLease(t *testing.T) {
	p := newTestIANAPool(t, nil)
	store := newTestLease6Store(t)

	l1, isNew1, err := p.AllocateAndCreateLease("00:01:00:01:aa:bb:cc:dd:ee:ff:03:01", 2, nil, store, time.Hour)
	require.NoError(t, err)
	require.True(t, isNew1)

	l2, isNew2, err := p.AllocateAndCreateLease("00:01:00:01:aa:bb:cc:dd:ee:ff:03:01", 2, nil, store, 2*time.Hour)
	require.NoError(t, err)
	require.False(t, isNew2)
	require.True(t, l1.IP.Equal(l2.IP))
	require.NoError(t, p.CheckInvariant())
}

func TestIANAPoolReservationWins(t *testing.T) {
	duid := "00:01:00:01:aa:bb:cc:dd:ee:ff:03:02"
	reservedIP := net.ParseIP("2001:db8::150")
	p := newTestIANAPool(t, []Reservation{{DUID: duid, IP: reservedIP}})
	store := newTestLease6Store(t)

	l, _, err := p.AllocateAndCreateLease(duid, 3, net.ParseIP("2001:db8::160"), store, time.Hour)
	require.NoError(t, err)
	require.True(t, l.IP.Equal(reservedIP))
}

func TestIANAPoolReleaseIP(t *testing.T) {
	p := newTestIANAPool(t, nil)
	store := newTestLease6Store(t)
	l, _, err := p.AllocateAndCreateLease("00:01:00:01:aa:bb:cc:dd:ee:ff:03:03", 4, nil, store, time.Hour)
	require.NoError(t, err)

	require.NoError(t, p.ReleaseIP(l.IP))
	require.NoError(t, p.CheckInvariant())
	_, alloc, _, _, _ := p.Counters()
	require.Zero(t, alloc)
}

func TestIANAPoolMarkConflict(t *testing.T) {
	p := newTestIANAPool(t, nil)
	ip := net.ParseIP("2001:db8::120")
	require.NoError(t, p.MarkConflict(ip))
	require.NoError(t, p.CheckInvariant())
	_, _, _, _, conf := p.Counters()
	require.Equal(t, 1, conf)
}

type fakeProber struct{ conflictIPs map[string]bool }

func (f *fakeProber) Ping(ip net.IP, _ time.Duration) bool {
	return f.conflictIPs[ip.String()]
}

func TestIANAPoolAllocateSkipsProbedConflict(t *testing.T) {
	conflictIP := net.ParseIP("2001:db8::100")
	p, err := New(Config{
		Start:        net.ParseIP("2001:db8::100"),
		End:          net.ParseIP("2001:db8::1ff"),
		ProbeEnabled: true,
		ProbeTimeout: time.Millisecond,
		Prober:       &fakeProber{conflictIPs: map[string]bool{conflictIP.String(): true}},
	})
	require.NoError(t, err)
	store := newTestLease6Store(t)

	l, _, err := p.AllocateAndCreateLease("00:01:00:01:aa:bb:cc:dd:ee:ff:03:04", 5, nil, store, time.Hour)
	require.NoError(t, err)
	require.False(t, l.IP.Equal(conflictIP))
	require.NoError(t, p.CheckInvariant())
}

func TestIANAPoolFullFails(t *testing.T) {
	p, err := New(Config{
		Start: net.ParseIP("2001:db8::10"),
		End:   net.ParseIP("2001:db8::11"),
	})
	require.NoError(t, err)
	store := newTestLease6Store(t)

	_, _, err = p.AllocateAndCreateLease("00:01:00:01:aa:bb:cc:dd:ee:ff:03:05", 6, nil, store, time.Hour)
	require.NoError(t, err)
	_, _, err = p.AllocateAndCreateLease("00:01:00:01:aa:bb:cc:dd:ee:ff:03:06", 7, nil, store, time.Hour)
	require.NoError(t, err)
	_, _, err = p.AllocateAndCreateLease("00:01:00:01:aa:bb:cc:dd:ee:ff:03:07", 8, nil, store, time.Hour)
	require.Error(t, err)
}

func TestIANAPoolSyncFromLeaseStore(t *testing.T) {
	p := newTestIANAPool(t, nil)
	store := newTestLease6Store(t)
	ip := net.ParseIP("2001:db8::130")
	store.Lock()
	store.AddIANA(ip, "00:01:00:01:aa:bb:cc:dd:ee:ff:03:08", 9, time.Hour)
	store.Unlock()

	p.SyncFromLeaseStore(store)
	require.NoError(t, p.CheckInvariant())
	_, alloc, _, _, _ := p.Counters()
	require.Equal(t, 1, alloc)
}
