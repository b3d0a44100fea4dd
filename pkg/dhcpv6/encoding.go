package dhcpv6

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

// Uint16ToBytes converts a uint16 to 2 bytes (big-endian).
func Uint16ToBytes(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// BytesToUint16 converts 2 bytes to uint16 (big-endian).
func BytesToUint16(b []byte) (uint16, error) {
	if len(b) != 2 {
		return 0, fmt.Errorf("invalid uint16 length %d: expected 2", len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}

// Uint32ToBytes converts a uint32 to 4 bytes (big-endian).
func Uint32ToBytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// BytesToUint32 converts 4 bytes to uint32 (big-endian).
func BytesToUint32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("invalid uint32 length %d: expected 4", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// IPToBytes converts a net.IP to its 16-byte representation.
func IPToBytes(ip net.IP) []byte {
	ip16 := ip.To16()
	if ip16 == nil {
		return make([]byte, 16)
	}
	return []byte(ip16)
}

// BytesToIP converts a 16-byte slice to net.IP.
func BytesToIP(b []byte) (net.IP, error) {
	if len(b) != 16 {
		return nil, fmt.Errorf("invalid IPv6 address length %d: expected 16", len(b))
	}
	out := make(net.IP, 16)
	copy(out, b)
	return out, nil
}

// DUIDToString formats a DUID's raw bytes as a colon-separated hex string,
// matching the ISC-style `duid` record key in the lease file grammar.
func DUIDToString(duid []byte) string {
	parts := make([]string, len(duid))
	for i, b := range duid {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// DUIDFromString parses a colon-separated hex DUID string back to bytes.
func DUIDFromString(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ":")
	out := make([]byte, len(parts))
	for i, p := range parts {
		var v byte
		if _, err := fmt.Sscanf(p, "%02x", &v); err != nil {
			return nil, fmt.Errorf("malformed DUID byte %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}
