package dhcp6

import (
	"fmt"
	"net"

	"github.com/vortexnet/netd/pkg/dhcpv6"
)

// Packet is the decoded form of a DHCPv6 message: a 1-byte message type, a
// 3-byte transaction id, and a TLV option stream, per spec §4.9.
type Packet struct {
	MsgType       dhcpv6.MessageType
	TransactionID [3]byte
	Options       Options

	PeerAddr *net.UDPAddr // not part of the wire format
}

// DecodePacket parses the 4-byte header and option stream, per spec §4.9.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) < dhcpv6.HeaderSize {
		return nil, fmt.Errorf("packet too short: %d bytes, need at least %d", len(data), dhcpv6.HeaderSize)
	}
	pkt := &Packet{MsgType: dhcpv6.MessageType(data[0])}
	copy(pkt.TransactionID[:], data[1:4])
	opts, err := DecodeOptions(data[4:])
	if err != nil {
		return nil, fmt.Errorf("decoding options: %w", err)
	}
	pkt.Options = opts
	return pkt, nil
}

// Encode serializes the packet back to wire format.
func (p *Packet) Encode() []byte {
	buf := make([]byte, 4)
	buf[0] = byte(p.MsgType)
	copy(buf[1:4], p.TransactionID[:])
	return append(buf, p.Options.Encode()...)
}

// NewReply builds a reply header echoing xid, per spec §4.9 "Build base:
// header with echoed xid".
func NewReply(msgType dhcpv6.MessageType, xid [3]byte) *Packet {
	return &Packet{MsgType: msgType, TransactionID: xid}
}

// ClientID returns the raw client DUID, if present.
func (p *Packet) ClientID() ([]byte, bool) { return p.Options.Get(dhcpv6.OptionClientID) }

// ServerID returns the raw server DUID, if present.
func (p *Packet) ServerID() ([]byte, bool) { return p.Options.Get(dhcpv6.OptionServerID) }

// IANARequest is the parsed content of one IA_NA option: an identity
// association id, its T1/T2 lifetimes, and an optional requested address
// pulled from a nested IAADDR sub-option, per spec §4.9's IA_NA payload
// layout `iaid(u32) | T1(u32) | T2(u32) | sub-options`.
type IANARequest struct {
	IAID          uint32
	T1, T2        uint32
	RequestedIP   net.IP
}

// IAPDRequest is the parsed content of one IA_PD option, mirroring
// IANARequest for delegated prefixes via a nested IAPREFIX sub-option.
type IAPDRequest struct {
	IAID              uint32
	T1, T2            uint32
	RequestedPrefix   net.IP
	RequestedPlen     int
}

// ParseIANA decodes an IA_NA option payload, per spec §4.9.
func ParseIANA(value []byte) (*IANARequest, error) {
	if len(value) < 12 {
		return nil, fmt.Errorf("IA_NA payload too short: %d bytes", len(value))
	}
	iaid, _ := dhcpv6.BytesToUint32(value[0:4])
	t1, _ := dhcpv6.BytesToUint32(value[4:8])
	t2, _ := dhcpv6.BytesToUint32(value[8:12])
	req := &IANARequest{IAID: iaid, T1: t1, T2: t2}

	subopts, err := DecodeOptions(value[12:])
	if err != nil {
		return nil, fmt.Errorf("decoding IA_NA sub-options: %w", err)
	}
	if addrVal, ok := subopts.Get(dhcpv6.OptionIAAddr); ok && len(addrVal) >= 16 {
		ip, err := dhcpv6.BytesToIP(addrVal[0:16])
		if err == nil {
			req.RequestedIP = ip
		}
	}
	return req, nil
}

// ParseIAPD decodes an IA_PD option payload, per spec §4.9.
func ParseIAPD(value []byte) (*IAPDRequest, error) {
	if len(value) < 12 {
		return nil, fmt.Errorf("IA_PD payload too short: %d bytes", len(value))
	}
	iaid, _ := dhcpv6.BytesToUint32(value[0:4])
	t1, _ := dhcpv6.BytesToUint32(value[4:8])
	t2, _ := dhcpv6.BytesToUint32(value[8:12])
	req := &IAPDRequest{IAID: iaid, T1: t1, T2: t2}

	subopts, err := DecodeOptions(value[12:])
	if err != nil {
		return nil, fmt.Errorf("decoding IA_PD sub-options: %w", err)
	}
	if pfxVal, ok := subopts.Get(dhcpv6.OptionIAPrefix); ok && len(pfxVal) >= 25 {
		plen := int(pfxVal[8])
		ip, err := dhcpv6.BytesToIP(pfxVal[9:25])
		if err == nil {
			req.RequestedPrefix = ip
			req.RequestedPlen = plen
		}
	}
	return req, nil
}

// BuildIAAddr encodes an IAADDR sub-option, per spec §4.9
// `address(16) | preferred(u32) | valid(u32)`.
func BuildIAAddr(ip net.IP, preferred, valid uint32) []byte {
	buf := make([]byte, 0, 24)
	buf = append(buf, dhcpv6.IPToBytes(ip)...)
	buf = append(buf, dhcpv6.Uint32ToBytes(preferred)...)
	buf = append(buf, dhcpv6.Uint32ToBytes(valid)...)
	return buf
}

// BuildIAPrefix encodes an IAPREFIX sub-option, per spec §4.9
// `preferred | valid | plen(u8) | prefix(16)`.
func BuildIAPrefix(prefix net.IP, plen int, preferred, valid uint32) []byte {
	buf := make([]byte, 0, 25)
	buf = append(buf, dhcpv6.Uint32ToBytes(preferred)...)
	buf = append(buf, dhcpv6.Uint32ToBytes(valid)...)
	buf = append(buf, byte(plen))
	buf = append(buf, dhcpv6.IPToBytes(prefix)...)
	return buf
}

// BuildStatusCode encodes a Status Code sub-option (RFC 8415 §21.13): a
// u16 status followed by an optional message string.
func BuildStatusCode(code dhcpv6.StatusCode, message string) []byte {
	buf := dhcpv6.Uint16ToBytes(uint16(code))
	return append(buf, []byte(message)...)
}

// BuildIANA wraps iaid/T1/T2 and nested sub-options into an IA_NA option
// payload.
func BuildIANA(iaid, t1, t2 uint32, subopts Options) []byte {
	buf := make([]byte, 0, 12)
	buf = append(buf, dhcpv6.Uint32ToBytes(iaid)...)
	buf = append(buf, dhcpv6.Uint32ToBytes(t1)...)
	buf = append(buf, dhcpv6.Uint32ToBytes(t2)...)
	return append(buf, subopts.Encode()...)
}

// BuildIAPD wraps iaid/T1/T2 and nested sub-options into an IA_PD option
// payload.
func BuildIAPD(iaid, t1, t2 uint32, subopts Options) []byte {
	return BuildIANA(iaid, t1, t2, subopts)
}
