// Package probe implements the ICMP conflict probe of spec §4.7: ping an
// address before handing it out, fail-open (report "no conflict") if a
// raw socket cannot be opened.
package probe

import (
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// V4Prober sends ICMP Echo Requests (type 8) and reports whether a reply
// arrives from the target before timeout, per spec §4.7. The socket is
// opened once at construction and shared across probes.
type V4Prober struct {
	conn      *icmp.PacketConn
	available bool
	logger    *slog.Logger
	mu        sync.Mutex
	seq       int
}

// NewV4Prober opens a raw ICMPv4 listening socket. If that fails (no
// privilege), it returns a prober that always reports "no conflict",
// per spec §4.7's fail-open semantics — this is not a constructor error.
func NewV4Prober(logger *slog.Logger) *V4Prober {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		if logger != nil {
			logger.Warn("ICMP probing disabled: cannot open raw socket", "error", err)
		}
		return &V4Prober{available: false, logger: logger}
	}
	return &V4Prober{conn: conn, available: true, logger: logger}
}

// Close releases the underlying socket.
func (p *V4Prober) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Ping implements pool.Prober: sends one ICMPv4 echo with id=pid, seq
// incrementing, and receive-polls until timeout or a matching echo-reply.
func (p *V4Prober) Ping(ip net.IP, timeout time.Duration) bool {
	if !p.available {
		return false
	}
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	id := os.Getpid() & 0xffff
	msg := &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte("netd-probe")},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	deadline := time.Now().Add(timeout)
	if err := p.conn.SetDeadline(deadline); err != nil {
		return false
	}
	if _, err := p.conn.WriteTo(wire, &net.IPAddr{IP: ip}); err != nil {
		return false
	}

	buf := make([]byte, 1500)
	for time.Now().Before(deadline) {
		n, _, err := p.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return false
			}
			return false
		}
		reply, err := icmp.ParseMessage(1, buf[:n])
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		if echo, ok := reply.Body.(*icmp.Echo); ok && echo.ID == id && echo.Seq == seq {
			return true
		}
	}
	return false
}

// V6Prober is the IPv6 analog: ICMPv6 echo-request (type 128), checksummed
// by the kernel per spec §4.7.
type V6Prober struct {
	conn      *icmp.PacketConn
	available bool
	logger    *slog.Logger
	mu        sync.Mutex
	seq       int
}

// NewV6Prober opens a raw ICMPv6 listening socket, fail-open on error.
func NewV6Prober(logger *slog.Logger) *V6Prober {
	conn, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		if logger != nil {
			logger.Warn("ICMPv6 probing disabled: cannot open raw socket", "error", err)
		}
		return &V6Prober{available: false, logger: logger}
	}
	return &V6Prober{conn: conn, available: true, logger: logger}
}

// Close releases the underlying socket.
func (p *V6Prober) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Ping implements pool6.Prober.
func (p *V6Prober) Ping(ip net.IP, timeout time.Duration) bool {
	if !p.available {
		return false
	}
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	id := os.Getpid() & 0xffff
	msg := &icmp.Message{
		Type: ipv6.ICMPTypeEchoRequest,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte("netd-probe")},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	deadline := time.Now().Add(timeout)
	if err := p.conn.SetDeadline(deadline); err != nil {
		return false
	}
	if _, err := p.conn.WriteTo(wire, &net.IPAddr{IP: ip}); err != nil {
		return false
	}

	buf := make([]byte, 1500)
	for time.Now().Before(deadline) {
		n, _, err := p.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return false
			}
			return false
		}
		reply, err := icmp.ParseMessage(58, buf[:n]) // 58 = ICMPv6
		if err != nil || reply.Type != ipv6.ICMPTypeEchoReply {
			continue
		}
		if echo, ok := reply.Body.(*icmp.Echo); ok && echo.ID == id && echo.Seq == seq {
			return true
		}
	}
	return false
}
