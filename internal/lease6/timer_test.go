package lease6

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

	ip := net.ParseIP("2001:db8::400")
	store.Lock()
	store.AddIANA(ip, "00:01:00:01:aa:bb:cc:dd:ee:ff:02:00", 1, -time.Minute)
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
