package dhcp6

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vortexnet/netd/pkg/dhcpv6"
)

func sampleDUID() []byte {
	return []byte{0x00, 0x01, 0x00, 0x01, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
}

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	pkt := &Packet{
		MsgType:       dhcpv6.MessageTypeSolicit,
		TransactionID: [3]byte{0x01, 0x02, 0x03},
	}
	pkt.Options.Add(dhcpv6.OptionClientID, sampleDUID())

	wire := pkt.Encode()
	decoded, err := DecodePacket(wire)
	require.NoError(t, err)
	require.Equal(t, dhcpv6.MessageTypeSolicit, decoded.MsgType)
	require.Equal(t, pkt.TransactionID, decoded.TransactionID)

	clientID, ok := decoded.ClientID()
	require.True(t, ok)
	require.Equal(t, sampleDUID(), clientID)
}

func TestDecodePacketTooShort(t *testing.T) {
	_, err := DecodePacket([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestParseIANAWithRequestedAddress(t *testing.T) {
	ip := net.ParseIP("2001:db8::10")
	subopts := Options{{Code: dhcpv6.OptionIAAddr, Value: BuildIAAddr(ip, 3600, 7200)}}
	payload := BuildIANA(42, 1800, 2880, subopts)

	req, err := ParseIANA(payload)
	require.NoError(t, err)
	require.Equal(t, uint32(42), req.IAID)
	require.Equal(t, uint32(1800), req.T1)
	require.Equal(t, uint32(2880), req.T2)
	require.True(t, ip.Equal(req.RequestedIP))
}

func TestParseIANAWithoutRequestedAddress(t *testing.T) {
	payload := BuildIANA(7, 0, 0, nil)
	req, err := ParseIANA(payload)
	require.NoError(t, err)
	require.Equal(t, uint32(7), req.IAID)
	require.Nil(t, req.RequestedIP)
}

func TestParseIAPDWithRequestedPrefix(t *testing.T) {
	prefix := net.ParseIP("2001:db8:1::")
	subopts := Options{{Code: dhcpv6.OptionIAPrefix, Value: BuildIAPrefix(prefix, 56, 3600, 7200)}}
	payload := BuildIAPD(9, 1800, 2880, subopts)

	req, err := ParseIAPD(payload)
	require.NoError(t, err)
	require.Equal(t, uint32(9), req.IAID)
	require.Equal(t, 56, req.RequestedPlen)
	require.True(t, prefix.Equal(req.RequestedPrefix))
}

func TestParseIANATooShort(t *testing.T) {
	_, err := ParseIANA([]byte{0x00, 0x01})
	require.Error(t, err)
}

func TestBuildStatusCodeRoundTrip(t *testing.T) {
	val := BuildStatusCode(dhcpv6.StatusNoAddrsAvail, "pool exhausted")
	code, err := dhcpv6.BytesToUint16(val[0:2])
	require.NoError(t, err)
	require.Equal(t, uint16(dhcpv6.StatusNoAddrsAvail), code)
	require.Equal(t, "pool exhausted", string(val[2:]))
}
