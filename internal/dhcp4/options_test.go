package dhcp4

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vortexnet/netd/pkg/dhcpv4"
)

func TestOptionsEncodeDecodeRoundTrip(t *testing.T) {
	opts := make(Options)
	opts.SetUint32(dhcpv4.OptionIPLeaseTime, 3600)
	opts.SetString(dhcpv4.OptionDomainName, "example.com")

	wire := opts.Encode()
	decoded, err := DecodeOptions(wire)
	require.NoError(t, err)
	require.Equal(t, opts[dhcpv4.OptionIPLeaseTime], decoded[dhcpv4.OptionIPLeaseTime])
	require.Equal(t, opts[dhcpv4.OptionDomainName], decoded[dhcpv4.OptionDomainName])
}

func TestOptionsDecodeHandlesPad(t *testing.T) {
	wire := []byte{byte(dhcpv4.OptionPad), byte(dhcpv4.OptionPad), byte(dhcpv4.OptionEnd)}
	decoded, err := DecodeOptions(wire)
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestOptionsDecodeTruncated(t *testing.T) {
	wire := []byte{byte(dhcpv4.OptionHostname), 5, 'a', 'b'}
	_, err := DecodeOptions(wire)
	require.Error(t, err)
}

func TestOptionsAddRejectsOverLimit(t *testing.T) {
	opts := make(Options)
	big := strings.Repeat("x", 250)
	require.NoError(t, opts.Add(dhcpv4.OptionMessage, []byte(big)))
	err := opts.Add(dhcpv4.OptionDomainName, []byte(big))
	require.Error(t, err)
}

func TestOptionsHasAndDelete(t *testing.T) {
	opts := make(Options)
	opts.SetString(dhcpv4.OptionHostname, "host")
	require.True(t, opts.Has(dhcpv4.OptionHostname))
	opts.Delete(dhcpv4.OptionHostname)
	require.False(t, opts.Has(dhcpv4.OptionHostname))
}
