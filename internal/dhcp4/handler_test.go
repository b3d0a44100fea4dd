package dhcp4

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vortexnet/netd/internal/lease"
	"github.com/vortexnet/netd/internal/pool"
	"github.com/vortexnet/netd/pkg/dhcpv4"
)

func newTestHandler(t *testing.T) (*Handler, *lease.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := lease.NewStore(dir + "/dhcpd.leases")
	require.NoError(t, err)
	queue := lease.NewAsyncIOQueue(store, 16, nil)
	t.Cleanup(queue.Stop)

	h := NewHandler(store, queue, discardLogger())

	_, network, err := net.ParseCIDR("192.168.1.0/24")
	require.NoError(t, err)
	p, err := pool.New(pool.Config{
		Start:   net.IPv4(192, 168, 1, 100),
		End:     net.IPv4(192, 168, 1, 199),
		Network: network,
		Router:  net.IPv4(192, 168, 1, 1),
	})
	require.NoError(t, err)

	h.AddSubnet(Subnet{
		Network:          network,
		Router:           net.IPv4(192, 168, 1, 1),
		DNSServers:       []net.IP{net.IPv4(192, 168, 1, 1)},
		DefaultLeaseTime: time.Hour,
		RenewalTime:      30 * time.Minute,
		RebindTime:       52 * time.Minute,
	}, p)

	return h, store
}

func discoverPacket(mac net.HardwareAddr) *Packet {
	p := &Packet{
		Op:      dhcpv4.OpCodeBootRequest,
		HType:   dhcpv4.HardwareTypeEthernet,
		HLen:    6,
		XID:     1,
		CIAddr:  net.IPv4zero,
		YIAddr:  net.IPv4zero,
		SIAddr:  net.IPv4zero,
		GIAddr:  net.IPv4zero,
		CHAddr:  mac,
		Options: make(Options),
	}
	p.Options[dhcpv4.OptionDHCPMessageType] = []byte{byte(dhcpv4.MessageTypeDiscover)}
	return p
}

func TestHandlePacketEchoesRelayAgentInfo(t *testing.T) {
	h, _ := newTestHandler(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:02")

	req := discoverPacket(mac)
	req.Options[dhcpv4.OptionRelayAgentInfo] = []byte{dhcpv4.RelaySubOptionCircuitID, 3, 'e', 't', '0'}

	reply, err := h.HandlePacket(req)
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, req.Options[dhcpv4.OptionRelayAgentInfo], reply.Options[dhcpv4.OptionRelayAgentInfo])
}

func TestHandleDiscoverOffersAddress(t *testing.T) {
	h, _ := newTestHandler(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:01")

	reply, err := h.HandlePacket(discoverPacket(mac))
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, dhcpv4.MessageTypeOffer, reply.MessageType())
	require.True(t, reply.YIAddr.To4() != nil)
	require.NotEmpty(t, reply.Options[dhcpv4.OptionSubnetMask])
	require.NotEmpty(t, reply.Options[dhcpv4.OptionRouter])
}

func TestHandleDiscoverIsIdempotent(t *testing.T) {
	h, _ := newTestHandler(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:02")

	r1, err := h.HandlePacket(discoverPacket(mac))
	require.NoError(t, err)
	r2, err := h.HandlePacket(discoverPacket(mac))
	require.NoError(t, err)
	require.True(t, r1.YIAddr.Equal(r2.YIAddr))
}

func TestHandleRequestSelectingAcks(t *testing.T) {
	h, _ := newTestHandler(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:03")

	offer, err := h.HandlePacket(discoverPacket(mac))
	require.NoError(t, err)

	req := discoverPacket(mac)
	req.Options[dhcpv4.OptionDHCPMessageType] = []byte{byte(dhcpv4.MessageTypeRequest)}
	req.Options[dhcpv4.OptionRequestedIP] = dhcpv4.IPToBytes(offer.YIAddr)
	req.Options[dhcpv4.OptionServerIdentifier] = dhcpv4.IPToBytes(offer.SIAddr)

	ack, err := h.HandlePacket(req)
	require.NoError(t, err)
	require.Equal(t, dhcpv4.MessageTypeAck, ack.MessageType())
	require.True(t, ack.YIAddr.Equal(offer.YIAddr))
}

func TestHandleRequestSelectingWrongMACNaks(t *testing.T) {
	h, _ := newTestHandler(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:04")
	otherMac, _ := net.ParseMAC("aa:bb:cc:dd:ee:05")

	offer, err := h.HandlePacket(discoverPacket(mac))
	require.NoError(t, err)

	req := discoverPacket(otherMac)
	req.Options[dhcpv4.OptionDHCPMessageType] = []byte{byte(dhcpv4.MessageTypeRequest)}
	req.Options[dhcpv4.OptionRequestedIP] = dhcpv4.IPToBytes(offer.YIAddr)
	req.Options[dhcpv4.OptionServerIdentifier] = dhcpv4.IPToBytes(offer.SIAddr)

	nak, err := h.HandlePacket(req)
	require.NoError(t, err)
	require.Equal(t, dhcpv4.MessageTypeNak, nak.MessageType())
}

func TestHandleRequestRenewing(t *testing.T) {
	h, _ := newTestHandler(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:06")

	offer, err := h.HandlePacket(discoverPacket(mac))
	require.NoError(t, err)

	req := discoverPacket(mac)
	req.Options[dhcpv4.OptionDHCPMessageType] = []byte{byte(dhcpv4.MessageTypeRequest)}
	req.CIAddr = offer.YIAddr

	ack, err := h.HandlePacket(req)
	require.NoError(t, err)
	require.Equal(t, dhcpv4.MessageTypeAck, ack.MessageType())
	require.True(t, ack.CIAddr.Equal(offer.YIAddr))
}

func TestHandleInformReturnsOptionsOnly(t *testing.T) {
	h, _ := newTestHandler(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:08")

	inform := discoverPacket(mac)
	inform.Options[dhcpv4.OptionDHCPMessageType] = []byte{byte(dhcpv4.MessageTypeInform)}
	inform.CIAddr = net.IPv4(192, 168, 1, 50)

	reply, err := h.HandlePacket(inform)
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, dhcpv4.MessageTypeAck, reply.MessageType())
	require.True(t, reply.YIAddr.Equal(net.IPv4zero))
	require.True(t, reply.CIAddr.Equal(inform.CIAddr))
	require.NotEmpty(t, reply.Options[dhcpv4.OptionRouter])
	require.NotContains(t, reply.Options, dhcpv4.OptionIPLeaseTime)
	require.NotContains(t, reply.Options, dhcpv4.OptionRenewalTime)
	require.NotContains(t, reply.Options, dhcpv4.OptionRebindingTime)
}

func TestHandleReleaseFreesAddress(t *testing.T) {
	h, store := newTestHandler(t)
	mac, _ := net.ParseMAC("aa:bb:cc:dd:ee:07")

	offer, err := h.HandlePacket(discoverPacket(mac))
	require.NoError(t, err)

	rel := discoverPacket(mac)
	rel.Options[dhcpv4.OptionDHCPMessageType] = []byte{byte(dhcpv4.MessageTypeRelease)}
	rel.CIAddr = offer.YIAddr

	reply, err := h.HandlePacket(rel)
	require.NoError(t, err)
	require.Nil(t, reply)

	l := store.FindByIPSafe(offer.YIAddr)
	require.NotNil(t, l)
	require.Equal(t, "released", l.State.String())
}
