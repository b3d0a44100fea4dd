// Package dhcp4 implements the DHCPv4 StateMachine of spec §4.8: packet
// codec, option engine, and DISCOVER/REQUEST/RELEASE dispatch.
package dhcp4

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/vortexnet/netd/pkg/dhcpv4"
)

// Packet is a decoded DHCPv4 packet (RFC 2131 §2, spec §4.8).
type Packet struct {
	Op      dhcpv4.OpCode
	HType   dhcpv4.HardwareType
	HLen    byte
	Hops    byte
	XID     uint32
	Secs    uint16
	Flags   uint16
	CIAddr  net.IP
	YIAddr  net.IP
	SIAddr  net.IP
	GIAddr  net.IP
	CHAddr  net.HardwareAddr
	SName   [64]byte
	File    [128]byte
	Options Options

	// ReceivingAddr is the local address the packet arrived on, used only
	// to detect loopback per the destination rule in spec §4.8. Not part
	// of the wire format.
	ReceivingAddr net.IP
}

// DecodePacket parses a raw DHCPv4 packet, per spec §4.8 `validate`: rejects
// anything shorter than the BOOTP header plus 4 bytes, and rejects a magic
// cookie mismatch.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) < dhcpv4.BOOTPHeaderSize+4 {
		return nil, fmt.Errorf("packet too short: %d bytes (minimum %d)", len(data), dhcpv4.BOOTPHeaderSize+4)
	}

	p := &Packet{}
	p.Op = dhcpv4.OpCode(data[0])
	p.HType = dhcpv4.HardwareType(data[1])
	p.HLen = data[2]
	p.Hops = data[3]
	p.XID = binary.BigEndian.Uint32(data[4:8])
	p.Secs = binary.BigEndian.Uint16(data[8:10])
	p.Flags = binary.BigEndian.Uint16(data[10:12])
	p.CIAddr = net.IP(append([]byte(nil), data[12:16]...))
	p.YIAddr = net.IP(append([]byte(nil), data[16:20]...))
	p.SIAddr = net.IP(append([]byte(nil), data[20:24]...))
	p.GIAddr = net.IP(append([]byte(nil), data[24:28]...))

	chaddr := make([]byte, 16)
	copy(chaddr, data[28:44])
	if p.HLen > 0 && p.HLen <= 16 {
		p.CHAddr = net.HardwareAddr(chaddr[:p.HLen])
	} else {
		p.CHAddr = net.HardwareAddr(chaddr[:6])
	}

	copy(p.SName[:], data[44:108])
	copy(p.File[:], data[108:236])

	cookie := data[236:240]
	if cookie[0] != dhcpv4.MagicCookie[0] || cookie[1] != dhcpv4.MagicCookie[1] ||
		cookie[2] != dhcpv4.MagicCookie[2] || cookie[3] != dhcpv4.MagicCookie[3] {
		return nil, fmt.Errorf("invalid DHCP magic cookie: %v", cookie)
	}

	if len(data) > 240 {
		opts, err := DecodeOptions(data[240:])
		if err != nil {
			return nil, fmt.Errorf("decoding options: %w", err)
		}
		p.Options = opts
	} else {
		p.Options = make(Options)
	}

	return p, nil
}

// Encode serializes a packet to wire bytes, per spec §4.8's packet layout.
func (p *Packet) Encode() ([]byte, error) {
	optBytes := p.Options.Encode()
	buf := make([]byte, 240+len(optBytes))
	buf[0] = byte(p.Op)
	buf[1] = byte(p.HType)
	buf[2] = p.HLen
	buf[3] = p.Hops
	binary.BigEndian.PutUint32(buf[4:8], p.XID)
	binary.BigEndian.PutUint16(buf[8:10], p.Secs)
	binary.BigEndian.PutUint16(buf[10:12], p.Flags)

	if p.CIAddr != nil {
		copy(buf[12:16], p.CIAddr.To4())
	}
	if p.YIAddr != nil {
		copy(buf[16:20], p.YIAddr.To4())
	}
	if p.SIAddr != nil {
		copy(buf[20:24], p.SIAddr.To4())
	}
	if p.GIAddr != nil {
		copy(buf[24:28], p.GIAddr.To4())
	}
	if p.CHAddr != nil {
		copy(buf[28:44], p.CHAddr)
	}
	copy(buf[44:108], p.SName[:])
	copy(buf[108:236], p.File[:])
	copy(buf[236:240], dhcpv4.MagicCookie)
	copy(buf[240:], optBytes)

	return buf, nil
}

// MessageType returns the DHCP message type from option 53.
func (p *Packet) MessageType() dhcpv4.MessageType {
	if data, ok := p.Options[dhcpv4.OptionDHCPMessageType]; ok && len(data) == 1 {
		return dhcpv4.MessageType(data[0])
	}
	return 0
}

// RequestedIP returns the requested IP from option 50, or nil.
func (p *Packet) RequestedIP() net.IP {
	if data, ok := p.Options[dhcpv4.OptionRequestedIP]; ok && len(data) == 4 {
		return net.IP(data)
	}
	return nil
}

// ServerIdentifier returns the server identifier from option 54, or nil.
func (p *Packet) ServerIdentifier() net.IP {
	if data, ok := p.Options[dhcpv4.OptionServerIdentifier]; ok && len(data) == 4 {
		return net.IP(data)
	}
	return nil
}

// ClientIdentifier returns the raw client identifier from option 61.
func (p *Packet) ClientIdentifier() []byte {
	return p.Options[dhcpv4.OptionClientIdentifier]
}

// Hostname returns the hostname from option 12.
func (p *Packet) Hostname() string {
	return string(p.Options[dhcpv4.OptionHostname])
}

// IsRelayed reports whether giaddr is non-zero.
func (p *Packet) IsRelayed() bool {
	return p.GIAddr != nil && !p.GIAddr.Equal(net.IPv4zero) && !p.GIAddr.Equal(dhcpv4.ZeroIP)
}

// NewReply builds a reply packet from a request, with the common header
// fields and mandatory message-type/server-id options pre-filled, per spec
// §4.8's dispatch rules.
func (p *Packet) NewReply(msgType dhcpv4.MessageType, serverIP net.IP) *Packet {
	reply := &Packet{
		Op:      dhcpv4.OpCodeBootReply,
		HType:   p.HType,
		HLen:    p.HLen,
		XID:     p.XID,
		Flags:   p.Flags,
		CIAddr:  net.IPv4zero,
		YIAddr:  net.IPv4zero,
		SIAddr:  serverIP,
		GIAddr:  append(net.IP(nil), p.GIAddr...),
		CHAddr:  append(net.HardwareAddr(nil), p.CHAddr...),
		Options: make(Options),
	}
	reply.Options[dhcpv4.OptionDHCPMessageType] = []byte{byte(msgType)}
	reply.Options[dhcpv4.OptionServerIdentifier] = dhcpv4.IPToBytes(serverIP)
	if clientID := p.ClientIdentifier(); clientID != nil {
		reply.Options[dhcpv4.OptionClientIdentifier] = clientID
	}
	return reply
}

// Destination implements spec §4.8's reply destination rule: unicast to
// giaddr:67 when relayed, reply to the origin port when the request arrived
// over loopback, otherwise broadcast to 255.255.255.255:68.
func Destination(pkt *Packet, src net.Addr) (net.IP, int) {
	if pkt.IsRelayed() {
		return pkt.GIAddr, dhcpv4.ServerPort
	}
	if udpAddr, ok := src.(*net.UDPAddr); ok && udpAddr.IP.IsLoopback() {
		return udpAddr.IP, udpAddr.Port
	}
	return dhcpv4.BroadcastIP, dhcpv4.ClientPort
}
