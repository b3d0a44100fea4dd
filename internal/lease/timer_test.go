package lease

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vortexnet/netd/pkg/leasestate"
)

func TestExpirationTimerWakeupSweeps(t *testing.T) {
	store := newTestStore(t)
	q := NewAsyncIOQueue(store, 8, nil)
	timer := NewExpirationTimer(store, q, time.Hour, nil)

	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:20")
	ip := net.IPv4(192, 168, 3, 10)
	store.Lock()
	store.Add(ip, mac, -time.Minute)
	store.Unlock()

	timer.Start()
	timer.Wakeup()

	require.Eventually(t, func() bool {
		l := store.FindByIPSafe(ip)
		return l != nil && l.State == leasestate.Expired
	}, time.Second, 5*time.Millisecond)

	timer.Stop()
	q.Stop()
}

func TestExpirationTimerStopIsIdempotentSafe(t *testing.T) {
	store := newTestStore(t)
	timer := NewExpirationTimer(store, nil, time.Hour, nil)
	timer.Start()
	timer.Stop()
	timer.Stop()
}
