package dhcp6

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vortexnet/netd/internal/lease6"
	"github.com/vortexnet/netd/internal/pool6"
	"github.com/vortexnet/netd/pkg/dhcpv6"
)

func newTestHandler(t *testing.T) (*Handler, *lease6.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := lease6.NewStore(dir + "/dhcpd6.leases")
	require.NoError(t, err)
	queue := lease6.NewAsyncIOQueue(store, 16, nil)
	t.Cleanup(queue.Stop)

	h := NewHandler(store, queue, discardLogger())

	ianaPool, err := pool6.New(pool6.Config{
		Start: net.ParseIP("2001:db8::100"),
		End:   net.ParseIP("2001:db8::1ff"),
	})
	require.NoError(t, err)

	pdPool, err := pool6.NewPD(pool6.PDConfig{
		PoolStart:     net.ParseIP("2001:db8:1::"),
		PoolEnd:       net.ParseIP("2001:db8:1:ff00::"),
		DelegatedPlen: 56,
	})
	require.NoError(t, err)

	h.AddSubnet(Subnet{
		IANAPool:         ianaPool,
		PDPool:           pdPool,
		DNSServers:       []net.IP{net.ParseIP("2001:db8::53")},
		DomainSearch:     []string{"example.com"},
		DefaultLeaseTime: time.Hour,
		MaxLeaseTime:     2 * time.Hour,
		ServerDUID:       []byte{0x00, 0x01, 0x00, 0x01, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66},
	})

	return h, store
}

func clientDUID(last byte) []byte {
	return []byte{0x00, 0x01, 0x00, 0x01, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, last}
}

func solicitPacket(duid []byte, iaid uint32) *Packet {
	pkt := &Packet{MsgType: dhcpv6.MessageTypeSolicit, TransactionID: [3]byte{1, 2, 3}}
	pkt.Options.Add(dhcpv6.OptionClientID, duid)
	pkt.Options.Add(dhcpv6.OptionIANA, BuildIANA(iaid, 0, 0, nil))
	pkt.Options.Add(dhcpv6.OptionIAPD, BuildIAPD(iaid, 0, 0, nil))
	return pkt
}

func TestHandleSolicitAdvertisesAddressAndPrefix(t *testing.T) {
	h, _ := newTestHandler(t)
	duid := clientDUID(0x01)

	reply, err := h.HandlePacket(solicitPacket(duid, 1))
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, dhcpv6.MessageTypeAdvertise, reply.MsgType)

	ianaVal, ok := reply.Options.Get(dhcpv6.OptionIANA)
	require.True(t, ok)
	subopts, err := DecodeOptions(ianaVal[12:])
	require.NoError(t, err)
	require.True(t, subopts.Has(dhcpv6.OptionIAAddr))

	iapdVal, ok := reply.Options.Get(dhcpv6.OptionIAPD)
	require.True(t, ok)
	pdSubopts, err := DecodeOptions(iapdVal[12:])
	require.NoError(t, err)
	require.True(t, pdSubopts.Has(dhcpv6.OptionIAPrefix))

	dns, ok := reply.Options.Get(dhcpv6.OptionDNSServers)
	require.True(t, ok)
	require.Len(t, dns, 16)
}

func TestHandleSolicitIsIdempotent(t *testing.T) {
	h, _ := newTestHandler(t)
	duid := clientDUID(0x02)

	r1, err := h.HandlePacket(solicitPacket(duid, 5))
	require.NoError(t, err)
	r2, err := h.HandlePacket(solicitPacket(duid, 5))
	require.NoError(t, err)

	iana1, _ := r1.Options.Get(dhcpv6.OptionIANA)
	iana2, _ := r2.Options.Get(dhcpv6.OptionIANA)
	require.Equal(t, iana1, iana2)
}

func TestHandleRequestReturnsReply(t *testing.T) {
	h, _ := newTestHandler(t)
	duid := clientDUID(0x03)

	pkt := solicitPacket(duid, 7)
	pkt.MsgType = dhcpv6.MessageTypeRequest

	reply, err := h.HandlePacket(pkt)
	require.NoError(t, err)
	require.Equal(t, dhcpv6.MessageTypeReply, reply.MsgType)
}

func TestHandleReleaseFreesAddress(t *testing.T) {
	h, store := newTestHandler(t)
	duid := clientDUID(0x04)

	advertise, err := h.HandlePacket(solicitPacket(duid, 9))
	require.NoError(t, err)
	ianaVal, _ := advertise.Options.Get(dhcpv6.OptionIANA)
	subopts, _ := DecodeOptions(ianaVal[12:])
	addrVal, _ := subopts.Get(dhcpv6.OptionIAAddr)
	ip, err := dhcpv6.BytesToIP(addrVal[0:16])
	require.NoError(t, err)

	rel := solicitPacket(duid, 9)
	rel.MsgType = dhcpv6.MessageTypeRelease

	reply, err := h.HandlePacket(rel)
	require.NoError(t, err)
	require.Equal(t, dhcpv6.MessageTypeReply, reply.MsgType)

	l := store.FindByIPSafe(ip)
	require.NotNil(t, l)
	require.Equal(t, "released", l.State.String())
}

func TestHandleDeclineMarksConflict(t *testing.T) {
	h, _ := newTestHandler(t)
	duid := clientDUID(0x05)

	advertise, err := h.HandlePacket(solicitPacket(duid, 11))
	require.NoError(t, err)
	ianaVal, _ := advertise.Options.Get(dhcpv6.OptionIANA)
	subopts, _ := DecodeOptions(ianaVal[12:])
	addrVal, _ := subopts.Get(dhcpv6.OptionIAAddr)
	ip, err := dhcpv6.BytesToIP(addrVal[0:16])
	require.NoError(t, err)

	pkt := &Packet{MsgType: dhcpv6.MessageTypeDecline, TransactionID: [3]byte{9, 9, 9}}
	pkt.Options.Add(dhcpv6.OptionClientID, duid)
	pkt.Options.Add(dhcpv6.OptionIANA, BuildIANA(11, 0, 0, Options{{Code: dhcpv6.OptionIAAddr, Value: BuildIAAddr(ip, 0, 0)}}))

	reply, err := h.HandlePacket(pkt)
	require.NoError(t, err)
	require.Equal(t, dhcpv6.MessageTypeReply, reply.MsgType)

	ianaVal2, _ := reply.Options.Get(dhcpv6.OptionIANA)
	subopts2, _ := DecodeOptions(ianaVal2[12:])
	statusVal, ok := subopts2.Get(dhcpv6.OptionStatusCode)
	require.True(t, ok)
	status, _ := dhcpv6.BytesToUint16(statusVal[0:2])
	require.Equal(t, uint16(dhcpv6.StatusSuccess), status)
}

func TestHandleUnsupportedMessageTypeDrawsNoReply(t *testing.T) {
	h, _ := newTestHandler(t)
	pkt := &Packet{MsgType: dhcpv6.MessageTypeReconfigure, TransactionID: [3]byte{0, 0, 0}}

	reply, err := h.HandlePacket(pkt)
	require.NoError(t, err)
	require.Nil(t, reply)
}
