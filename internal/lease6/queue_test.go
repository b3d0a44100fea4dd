package lease6

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAsyncIOQueueSaveOne(t *testing.T) {
	store := newTestStore(t)
	q := NewAsyncIOQueue(store, 8, nil)

	ip := net.ParseIP("2001:db8::200")
	store.Lock()
	l := store.AddIANA(ip, "00:01:00:01:aa:bb:cc:dd:ee:ff:01:00", 1, time.Hour)
	clone := l.Clone()
	store.Unlock()

	q.SaveOne(clone)
	q.Stop()

	require.Equal(t, uint64(1), q.Processed())

	contents, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	require.Contains(t, string(contents), "2001:db8::200")
}

func TestAsyncIOQueueDropsWhenFull(t *testing.T) {
	store := newTestStore(t)
	q := NewAsyncIOQueue(store, 1, nil)

	for i := 0; i < 50; i++ {
		ip := net.ParseIP("2001:db8::300")
		l := &Lease{Kind: KindIANA, IP: ip, DUID: "00:01:00:01:aa:bb:cc:dd:ee:ff:01:01", IAID: uint32(i)}
		q.Enqueue(Op{Kind: OpSaveOne, Lease: l})
	}
	q.Stop()

	require.Greater(t, q.Dropped(), uint64(0))
}

func TestAsyncIOQueueSaveAll(t *testing.T) {
	store := newTestStore(t)
	q := NewAsyncIOQueue(store, 8, nil)

	prefix := net.ParseIP("2001:db8:4::")
	_, err := store.AddIAPDSafe(prefix, 56, "00:01:00:01:aa:bb:cc:dd:ee:ff:01:02", 2, time.Hour)
	require.NoError(t, err)

	q.SaveAll()
	q.Stop()

	store2, err := NewStore(store.Path())
	require.NoError(t, err)
	require.NotNil(t, store2.FindByPrefixSafe(prefix, 56))
}
