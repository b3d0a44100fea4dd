package pool6

import (
	"math/big"
	"net"
)

// ipToBig converts a 16-byte IPv6 address to its big-endian integer value.
func ipToBig(ip net.IP) *big.Int {
	ip16 := ip.To16()
	return new(big.Int).SetBytes(ip16)
}

// bigToIP converts a big-endian integer value back to a 16-byte IPv6
// address.
func bigToIP(n *big.Int) net.IP {
	b := n.Bytes()
	out := make(net.IP, 16)
	copy(out[16-len(b):], b)
	return out
}

// maskLowBits zeroes the low (128-plen) bits of ip, per spec §3's IA_PD
// prefix invariant.
func maskLowBits(ip net.IP, plen int) net.IP {
	n := ipToBig(ip)
	zero := 128 - plen
	if zero > 0 {
		n = new(big.Int).Rsh(n, uint(zero))
		n = new(big.Int).Lsh(n, uint(zero))
	}
	return bigToIP(n)
}

// stride returns 2^(128-delegatedPlen), the increment between consecutive
// delegated prefixes, per spec §4.6 ("increments at bit position
// delegated_plen − 1").
func stride(delegatedPlen int) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(128-delegatedPlen))
}
