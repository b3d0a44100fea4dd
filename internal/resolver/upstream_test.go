package resolver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeUpstream is a minimal UDP echo-like server used to test Forwarder
// without reaching the network, mirroring internal/dnsproxy/upstream_test.go's
// loopback-listener style.
func fakeUpstream(t *testing.T, respond func(query []byte) []byte) (addr string, stop func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 65535)
		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			n, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-done:
					return
				default:
					return
				}
			}
			reply := respond(append([]byte(nil), buf[:n]...))
			if reply != nil {
				conn.WriteToUDP(reply, raddr)
			}
		}
	}()

	return conn.LocalAddr().String(), func() {
		close(done)
		conn.Close()
	}
}

func TestForwarderForwardsAndReturnsReply(t *testing.T) {
	addr, stop := fakeUpstream(t, func(query []byte) []byte {
		return append([]byte("reply:"), query...)
	})
	defer stop()

	f := NewForwarder([]string{addr}, time.Second)
	reply, err := f.Forward([]byte("query"))
	require.NoError(t, err)
	require.Equal(t, "reply:query", string(reply))
}

func TestForwarderFailsOverToNextServer(t *testing.T) {
	deadAddr := "127.0.0.1:1"
	addr, stop := fakeUpstream(t, func(query []byte) []byte {
		return []byte("ok")
	})
	defer stop()

	f := NewForwarder([]string{deadAddr, addr}, 200*time.Millisecond)
	reply, err := f.Forward([]byte("q"))
	require.NoError(t, err)
	require.Equal(t, "ok", string(reply))
}

func TestForwarderReturnsErrorWhenAllServersFail(t *testing.T) {
	f := NewForwarder([]string{"127.0.0.1:1"}, 100*time.Millisecond)
	_, err := f.Forward([]byte("q"))
	require.Error(t, err)
}

func TestForwarderReturnsErrorWithNoServers(t *testing.T) {
	f := NewForwarder(nil, time.Second)
	_, err := f.Forward([]byte("q"))
	require.Error(t, err)
}

func TestForwarderTimesOutOnSilentServer(t *testing.T) {
	addr, stop := fakeUpstream(t, func(query []byte) []byte {
		return nil // never reply
	})
	defer stop()

	f := NewForwarder([]string{addr}, 100*time.Millisecond)
	_, err := f.Forward([]byte("q"))
	require.Error(t, err)
}
