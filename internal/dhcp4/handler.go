package dhcp4

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/vortexnet/netd/internal/lease"
	"github.com/vortexnet/netd/internal/pool"
	"github.com/vortexnet/netd/pkg/dhcpv4"
	"github.com/vortexnet/netd/pkg/leasestate"
)

// Subnet holds the per-subnet parameters the handler needs to build
// replies, per spec §3's subnet/pool association and §4.8's option list.
type Subnet struct {
	Network          *net.IPNet
	Router           net.IP
	DNSServers       []net.IP
	NTPServers       []net.IP
	DomainName       string
	DefaultLeaseTime time.Duration
	RenewalTime      time.Duration
	RebindTime       time.Duration
}

// subnetBinding pairs a Subnet with the Pool serving it.
type subnetBinding struct {
	subnet Subnet
	pool   *pool.Pool
}

// Handler implements the DHCPv4 StateMachine of spec §4.8: dispatch by
// message type, one AddressPool and one LeaseStore shared across subnets.
type Handler struct {
	store    *lease.Store
	queue    *lease.AsyncIOQueue
	bindings []subnetBinding
	logger   *slog.Logger
}

// NewHandler builds a Handler over an already-populated set of subnet/pool
// bindings and the shared lease store.
func NewHandler(store *lease.Store, queue *lease.AsyncIOQueue, logger *slog.Logger) *Handler {
	return &Handler{store: store, queue: queue, logger: logger}
}

// AddSubnet registers a subnet and the pool that serves it. Subnets are
// matched in registration order.
func (h *Handler) AddSubnet(s Subnet, p *pool.Pool) {
	h.bindings = append(h.bindings, subnetBinding{subnet: s, pool: p})
}

// HandlePacket dispatches by message type, per spec §4.8's dispatch table.
func (h *Handler) HandlePacket(pkt *Packet) (*Packet, error) {
	msgType := pkt.MessageType()

	h.logger.Debug("received DHCPv4 packet",
		"msg_type", msgType.String(),
		"mac", pkt.CHAddr.String(),
		"xid", fmt.Sprintf("%08x", pkt.XID))

	var reply *Packet
	var err error
	switch msgType {
	case dhcpv4.MessageTypeDiscover:
		reply, err = h.handleDiscover(pkt)
	case dhcpv4.MessageTypeRequest:
		reply, err = h.handleRequest(pkt)
	case dhcpv4.MessageTypeRelease:
		h.handleRelease(pkt)
		return nil, nil
	case dhcpv4.MessageTypeInform:
		reply, err = h.handleInform(pkt)
	default:
		h.logger.Warn("unsupported DHCPv4 message type", "msg_type", msgType.String(), "mac", pkt.CHAddr.String())
		return nil, nil
	}
	if reply != nil {
		echoRelayAgentInfo(pkt, reply)
	}
	return reply, err
}

// echoRelayAgentInfo copies a relaying agent's Option 82 (RFC 3046) from
// request to reply unmodified, as required of any server that
// understands the option: the relay strips it again before forwarding
// the reply on to the client.
func echoRelayAgentInfo(req, reply *Packet) {
	if data, ok := req.Options[dhcpv4.OptionRelayAgentInfo]; ok {
		reply.Options[dhcpv4.OptionRelayAgentInfo] = data
	}
}

// findBinding locates the subnet (and its pool) whose network contains ip.
// With a single configured subnet it is returned regardless of ip, matching
// the common single-subnet deployment.
func (h *Handler) findBinding(ip net.IP) *subnetBinding {
	if len(h.bindings) == 1 {
		return &h.bindings[0]
	}
	for i := range h.bindings {
		if h.bindings[i].subnet.Network != nil && h.bindings[i].subnet.Network.Contains(ip) {
			return &h.bindings[i]
		}
	}
	return nil
}

// findSubnetForPacket picks the binding a packet belongs to, per spec §4.8:
// giaddr when relayed, otherwise ciaddr when set, otherwise fall back to
// the first registered subnet.
func (h *Handler) findSubnetForPacket(pkt *Packet) *subnetBinding {
	if pkt.IsRelayed() {
		return h.findBinding(pkt.GIAddr)
	}
	if pkt.CIAddr != nil && !pkt.CIAddr.Equal(net.IPv4zero) {
		return h.findBinding(pkt.CIAddr)
	}
	if len(h.bindings) > 0 {
		return &h.bindings[0]
	}
	return nil
}

// serverIdentifier returns the surrogate server IP for a subnet: its router
// address, per spec §4.8 "server identifier uses the router address as the
// server IP surrogate when a server-bound address is not otherwise
// available."
func serverIdentifier(b *subnetBinding) net.IP {
	return b.subnet.Router
}

// handleDiscover processes DHCPDISCOVER, per spec §4.8.
func (h *Handler) handleDiscover(pkt *Packet) (*Packet, error) {
	mac := pkt.CHAddr

	b := h.findSubnetForPacket(pkt)
	if b == nil {
		h.logger.Warn("no matching subnet for DISCOVER", "mac", mac.String())
		return nil, nil
	}

	h.store.Lock()
	existing := h.store.FindByMAC(mac)
	var ip net.IP
	if existing != nil && existing.State == leasestate.Active {
		ip = append(net.IP(nil), existing.IP...)
		h.store.Unlock()
	} else {
		h.store.Unlock()
		l, err := b.pool.AllocateAndCreateLease(mac, pkt.RequestedIP(), h.store, b.subnet.DefaultLeaseTime)
		if err != nil {
			h.logger.Warn("DISCOVER: pool allocation failed", "mac", mac.String(), "error", err)
			return nil, nil
		}
		ip = l.IP
		h.queue.SaveOne(l)
	}

	return h.buildOffer(pkt, ip, b), nil
}

// buildOffer constructs a DHCPOFFER with the mandatory options of spec
// §4.8: 53/1/3/51/54, and 6 when DNS servers are configured.
func (h *Handler) buildOffer(pkt *Packet, ip net.IP, b *subnetBinding) *Packet {
	serverIP := serverIdentifier(b)
	reply := pkt.NewReply(dhcpv4.MessageTypeOffer, serverIP)
	reply.YIAddr = ip
	h.setSubnetOptions(reply, b)
	return reply
}

// handleRequest processes DHCPREQUEST, per spec §4.8's two cases: selecting
// (option 54 present) and renewing/rebinding (ciaddr set, no option 54).
func (h *Handler) handleRequest(pkt *Packet) (*Packet, error) {
	mac := pkt.CHAddr
	serverID := pkt.ServerIdentifier()
	requestedIP := pkt.RequestedIP()

	b := h.findSubnetForPacket(pkt)
	if b == nil {
		return h.buildNAK(pkt, nil, "no matching subnet"), nil
	}

	if serverID != nil {
		// Selecting: look up the lease by the requested IP.
		if requestedIP == nil {
			return h.buildNAK(pkt, b, "selecting without requested IP"), nil
		}
		h.store.Lock()
		l := h.store.FindByIP(requestedIP)
		owned := l != nil && l.MAC.String() == mac.String()
		h.store.Unlock()
		if !owned {
			return h.buildNAK(pkt, b, "requested IP not owned by this client"), nil
		}
		renewed, err := h.store.RenewSafe(requestedIP, b.subnet.DefaultLeaseTime)
		if err != nil {
			return nil, fmt.Errorf("renewing lease for %s: %w", mac, err)
		}
		reply := pkt.NewReply(dhcpv4.MessageTypeAck, serverIdentifier(b))
		reply.YIAddr = renewed.IP
		h.setSubnetOptions(reply, b)
		return reply, nil
	}

	if pkt.CIAddr != nil && !pkt.CIAddr.Equal(net.IPv4zero) {
		// Renewing/rebinding: look up by ciaddr.
		h.store.Lock()
		l := h.store.FindByIP(pkt.CIAddr)
		exists := l != nil
		h.store.Unlock()
		if !exists {
			return h.buildNAK(pkt, b, "no lease for ciaddr"), nil
		}
		renewed, err := h.store.RenewSafe(pkt.CIAddr, b.subnet.DefaultLeaseTime)
		if err != nil {
			return nil, fmt.Errorf("renewing lease for %s: %w", mac, err)
		}
		reply := pkt.NewReply(dhcpv4.MessageTypeAck, serverIdentifier(b))
		reply.YIAddr = renewed.IP
		reply.CIAddr = pkt.CIAddr
		h.setSubnetOptions(reply, b)
		return reply, nil
	}

	return h.buildNAK(pkt, b, "no IP address in request"), nil
}

// handleRelease processes DHCPRELEASE, per spec §4.8: release the lease and
// the pool entry for ciaddr.
func (h *Handler) handleRelease(pkt *Packet) {
	ip := pkt.CIAddr
	if ip == nil || ip.Equal(net.IPv4zero) {
		return
	}
	if err := h.store.ReleaseSafe(ip); err != nil {
		h.logger.Error("RELEASE: persisting release failed", "ip", ip.String(), "error", err)
	}
	b := h.findBinding(ip)
	if b != nil {
		if err := b.pool.ReleaseIP(ip); err != nil {
			h.logger.Error("RELEASE: pool release failed", "ip", ip.String(), "error", err)
		}
	}
}

// handleInform processes DHCPINFORM, per RFC 2131 §4.3.5: the client already
// has an address (ciaddr) and wants configuration options only, so the reply
// carries no lease and yiaddr stays zero.
func (h *Handler) handleInform(pkt *Packet) (*Packet, error) {
	b := h.findSubnetForPacket(pkt)
	if b == nil {
		h.logger.Warn("no matching subnet for INFORM", "mac", pkt.CHAddr.String())
		return nil, nil
	}

	reply := pkt.NewReply(dhcpv4.MessageTypeAck, serverIdentifier(b))
	reply.CIAddr = pkt.CIAddr
	reply.YIAddr = net.IPv4zero
	h.setSubnetOptions(reply, b)
	delete(reply.Options, dhcpv4.OptionIPLeaseTime)
	delete(reply.Options, dhcpv4.OptionRenewalTime)
	delete(reply.Options, dhcpv4.OptionRebindingTime)

	return reply, nil
}

// buildNAK constructs a DHCPNAK.
func (h *Handler) buildNAK(pkt *Packet, b *subnetBinding, reason string) *Packet {
	h.logger.Warn("DHCPNAK", "mac", pkt.CHAddr.String(), "reason", reason)
	serverIP := net.IPv4zero
	if b != nil {
		serverIP = serverIdentifier(b)
	}
	reply := pkt.NewReply(dhcpv4.MessageTypeNak, serverIP)
	if reason != "" {
		reply.Options.SetString(dhcpv4.OptionMessage, reason)
	}
	return reply
}

// setSubnetOptions populates the mandatory and configured reply options of
// spec §4.8.
func (h *Handler) setSubnetOptions(reply *Packet, b *subnetBinding) {
	if b.subnet.Network != nil {
		reply.Options[dhcpv4.OptionSubnetMask] = []byte(b.subnet.Network.Mask)
	}
	if b.subnet.Router != nil {
		reply.Options[dhcpv4.OptionRouter] = dhcpv4.IPListToBytes([]net.IP{b.subnet.Router})
	}
	if len(b.subnet.DNSServers) > 0 {
		reply.Options[dhcpv4.OptionDomainNameServer] = dhcpv4.IPListToBytes(b.subnet.DNSServers)
	}
	if len(b.subnet.NTPServers) > 0 {
		reply.Options[dhcpv4.OptionNTPServers] = dhcpv4.IPListToBytes(b.subnet.NTPServers)
	}
	if b.subnet.DomainName != "" {
		reply.Options.SetString(dhcpv4.OptionDomainName, b.subnet.DomainName)
	}
	if b.subnet.Network != nil {
		netU := dhcpv4.IPToUint32(b.subnet.Network.IP.To4())
		maskU := dhcpv4.IPToUint32(net.IP(b.subnet.Network.Mask))
		broadcast := dhcpv4.Uint32ToIP(netU | ^maskU)
		reply.Options[dhcpv4.OptionBroadcastAddress] = dhcpv4.IPToBytes(broadcast)
	}
	if b.subnet.DefaultLeaseTime > 0 {
		reply.Options.SetUint32(dhcpv4.OptionIPLeaseTime, uint32(b.subnet.DefaultLeaseTime.Seconds()))
		reply.Options.SetUint32(dhcpv4.OptionRenewalTime, uint32(b.subnet.RenewalTime.Seconds()))
		reply.Options.SetUint32(dhcpv4.OptionRebindingTime, uint32(b.subnet.RebindTime.Seconds()))
	}
}
