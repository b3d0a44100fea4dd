package probe

import (
	"net"
	"testing"
	"time"
)

// Raw ICMP sockets require CAP_NET_RAW; these tests only exercise the
// fail-open path that spec §4.7 requires when the socket cannot be opened.

func TestV4ProberFailOpenWhenUnavailable(t *testing.T) {
	p := &V4Prober{available: false}
	if got := p.Ping(net.IPv4(127, 0, 0, 1), 10*time.Millisecond); got {
		t.Errorf("Ping() = true for unavailable prober, want false (fail-open)")
	}
}

func TestV6ProberFailOpenWhenUnavailable(t *testing.T) {
	p := &V6Prober{available: false}
	if got := p.Ping(net.ParseIP("::1"), 10*time.Millisecond); got {
		t.Errorf("Ping() = true for unavailable prober, want false (fail-open)")
	}
}
