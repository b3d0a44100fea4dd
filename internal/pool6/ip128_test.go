package pool6

import (
	"math/big"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIPBigRoundTrip(t *testing.T) {
	ip := net.ParseIP("2001:db8::abcd")
	n := ipToBig(ip)
	got := bigToIP(n)
	require.True(t, ip.Equal(got))
}

func TestMaskLowBitsZeroesTail(t *testing.T) {
	ip := net.ParseIP("2001:db8:3::1234")
	masked := maskLowBits(ip, 48)
	require.True(t, masked.Equal(net.ParseIP("2001:db8:3::")))
}

func TestStrideMatchesDelegatedPlenGap(t *testing.T) {
	base := ipToBig(net.ParseIP("2001:db8:3::"))
	step := stride(56)
	result := bigToIP(new(big.Int).Add(base, step))
	require.True(t, result.Equal(net.ParseIP("2001:db8:3:100::")))
}
