package dhcpv6

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint16RoundTrip(t *testing.T) {
	b := Uint16ToBytes(4242)
	got, err := BytesToUint16(b)
	require.NoError(t, err)
	require.Equal(t, uint16(4242), got)
}

func TestUint32RoundTrip(t *testing.T) {
	b := Uint32ToBytes(123456789)
	got, err := BytesToUint32(b)
	require.NoError(t, err)
	require.Equal(t, uint32(123456789), got)
}

func TestIPRoundTrip(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	b := IPToBytes(ip)
	got, err := BytesToIP(b)
	require.NoError(t, err)
	require.True(t, ip.Equal(got))
}

func TestDUIDRoundTrip(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x00, 0x01, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	s := DUIDToString(raw)
	require.Equal(t, "00:01:00:01:aa:bb:cc:dd:ee:ff", s)
	back, err := DUIDFromString(s)
	require.NoError(t, err)
	require.Equal(t, raw, back)
}

func TestMessageTypeString(t *testing.T) {
	require.Equal(t, "SOLICIT", MessageTypeSolicit.String())
	require.Equal(t, "REPLY", MessageTypeReply.String())
	require.Equal(t, "UNKNOWN", MessageType(99).String())
}
