package dhcp6

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/vortexnet/netd/internal/lease6"
	"github.com/vortexnet/netd/internal/pool6"
	"github.com/vortexnet/netd/pkg/dhcpv6"
)

// Subnet holds the per-link parameters the handler needs to build replies,
// per spec §4.9's option list and §4.6's pool association.
type Subnet struct {
	Network          *net.IPNet
	IANAPool         *pool6.IANAPool
	PDPool           *pool6.PDPool
	DNSServers       []net.IP
	SNTPServers      []net.IP
	DomainSearch     []string
	InfoRefreshTime  time.Duration
	Preference       byte
	SIPServerDomain  string
	BootfileURL      string
	DefaultLeaseTime time.Duration
	MaxLeaseTime     time.Duration
	ServerDUID       []byte
}

// subnetBinding pairs a Subnet with the link it serves. Unlike dhcp4's
// Handler, no address matching is done: the first registered subnet
// always matches.
type subnetBinding struct {
	subnet Subnet
}

// Handler implements the DHCPv6 StateMachine of spec §4.9: dispatch by
// message type, shared lease store across links.
type Handler struct {
	store    *lease6.Store
	queue    *lease6.AsyncIOQueue
	bindings []subnetBinding
	logger   *slog.Logger
}

// NewHandler builds a Handler over the shared v6 lease store.
func NewHandler(store *lease6.Store, queue *lease6.AsyncIOQueue, logger *slog.Logger) *Handler {
	return &Handler{store: store, queue: queue, logger: logger}
}

// AddSubnet registers a subnet binding. Every request is served by the
// first registered binding; bindings added after it are not consulted.
func (h *Handler) AddSubnet(s Subnet) {
	h.bindings = append(h.bindings, subnetBinding{subnet: s})
}

func (h *Handler) findSubnet() *subnetBinding {
	if len(h.bindings) == 0 {
		return nil
	}
	return &h.bindings[0]
}

// HandlePacket dispatches by message type, per spec §4.9's dispatch table.
// Message types outside the recognized set draw no reply.
func (h *Handler) HandlePacket(pkt *Packet) (*Packet, error) {
	clientID, _ := pkt.ClientID()
	h.logger.Debug("received DHCPv6 packet",
		"msg_type", pkt.MsgType.String(),
		"duid", dhcpv6.DUIDToString(clientID),
		"xid", fmt.Sprintf("%02x%02x%02x", pkt.TransactionID[0], pkt.TransactionID[1], pkt.TransactionID[2]))

	switch pkt.MsgType {
	case dhcpv6.MessageTypeSolicit:
		return h.handle(pkt, dhcpv6.MessageTypeAdvertise)
	case dhcpv6.MessageTypeRequest, dhcpv6.MessageTypeRenew, dhcpv6.MessageTypeRebind,
		dhcpv6.MessageTypeRelease, dhcpv6.MessageTypeDecline:
		return h.handle(pkt, dhcpv6.MessageTypeReply)
	default:
		h.logger.Warn("unsupported DHCPv6 message type", "msg_type", pkt.MsgType.String())
		return nil, nil
	}
}

// handle builds the base reply and processes any IA_NA/IA_PD options
// present, per spec §4.9.
func (h *Handler) handle(pkt *Packet, replyType dhcpv6.MessageType) (*Packet, error) {
	b := h.findSubnet()
	if b == nil {
		h.logger.Warn("no configured subnet for DHCPv6 request")
		return nil, nil
	}

	clientID, hasClientID := pkt.ClientID()
	if !hasClientID {
		h.logger.Warn("DHCPv6 request missing ClientID, dropping")
		return nil, nil
	}
	duid := dhcpv6.DUIDToString(clientID)

	reply := NewReply(replyType, pkt.TransactionID)
	serverID := b.subnet.ServerDUID
	reply.Options.Add(dhcpv6.OptionServerID, serverID)
	reply.Options.Add(dhcpv6.OptionClientID, clientID)

	for _, ianaVal := range pkt.Options.GetAll(dhcpv6.OptionIANA) {
		req, err := ParseIANA(ianaVal)
		if err != nil {
			h.logger.Warn("malformed IA_NA option", "error", err)
			continue
		}
		reply.Options.Add(dhcpv6.OptionIANA, h.handleIANA(pkt.MsgType, b, duid, req))
	}

	for _, iapdVal := range pkt.Options.GetAll(dhcpv6.OptionIAPD) {
		req, err := ParseIAPD(iapdVal)
		if err != nil {
			h.logger.Warn("malformed IA_PD option", "error", err)
			continue
		}
		reply.Options.Add(dhcpv6.OptionIAPD, h.handleIAPD(pkt.MsgType, b, duid, req))
	}

	h.appendConfiguredOptions(reply, pkt, b)
	return reply, nil
}

// handleIANA processes one IA_NA per spec §4.9: RELEASE confirms release
// with Status=Success, DECLINE marks the address CONFLICT, otherwise
// allocate (or renew an existing binding, per §4.6) and report the result.
func (h *Handler) handleIANA(msgType dhcpv6.MessageType, b *subnetBinding, duid string, req *IANARequest) []byte {
	if b.subnet.IANAPool == nil {
		return BuildIANA(req.IAID, 0, 0, Options{{Code: dhcpv6.OptionStatusCode, Value: BuildStatusCode(dhcpv6.StatusNoAddrsAvail, "no address pool configured")}})
	}

	switch msgType {
	case dhcpv6.MessageTypeRelease:
		l := h.store.FindByDUIDIAIDSafe(duid, req.IAID, lease6.KindIANA)
		if l != nil {
			if err := h.store.ReleaseIPSafe(l.IP); err != nil {
				h.logger.Error("RELEASE: persisting IA_NA release failed", "ip", l.IP.String(), "error", err)
			}
			if err := b.subnet.IANAPool.ReleaseIP(l.IP); err != nil {
				h.logger.Error("RELEASE: pool release failed", "ip", l.IP.String(), "error", err)
			}
		}
		return BuildIANA(req.IAID, 0, 0, Options{{Code: dhcpv6.OptionStatusCode, Value: BuildStatusCode(dhcpv6.StatusSuccess, "")}})

	case dhcpv6.MessageTypeDecline:
		if req.RequestedIP != nil {
			if err := b.subnet.IANAPool.MarkConflict(req.RequestedIP); err != nil {
				h.logger.Error("DECLINE: marking IA_NA conflict failed", "ip", req.RequestedIP.String(), "error", err)
			}
		}
		return BuildIANA(req.IAID, 0, 0, Options{{Code: dhcpv6.OptionStatusCode, Value: BuildStatusCode(dhcpv6.StatusSuccess, "")}})

	default:
		l, _, err := b.subnet.IANAPool.AllocateAndCreateLease(duid, req.IAID, req.RequestedIP, h.store, b.subnet.DefaultLeaseTime)
		if err != nil {
			h.logger.Warn("IA_NA allocation failed", "duid", duid, "iaid", req.IAID, "error", err)
			return BuildIANA(req.IAID, 0, 0, Options{{Code: dhcpv6.OptionStatusCode, Value: BuildStatusCode(dhcpv6.StatusNoAddrsAvail, "")}})
		}
		h.queue.SaveOne(l)
		preferred := uint32(b.subnet.DefaultLeaseTime.Seconds())
		valid := uint32(b.subnet.MaxLeaseTime.Seconds())
		t1 := preferred / 2
		t2 := preferred * 4 / 5
		sub := Options{{Code: dhcpv6.OptionIAAddr, Value: BuildIAAddr(l.IP, preferred, valid)}}
		return BuildIANA(req.IAID, t1, t2, sub)
	}
}

// handleIAPD processes one IA_PD, symmetric to handleIANA per spec §4.9.
func (h *Handler) handleIAPD(msgType dhcpv6.MessageType, b *subnetBinding, duid string, req *IAPDRequest) []byte {
	if b.subnet.PDPool == nil {
		return BuildIAPD(req.IAID, 0, 0, Options{{Code: dhcpv6.OptionStatusCode, Value: BuildStatusCode(dhcpv6.StatusNoPrefixAvail, "no delegated-prefix pool configured")}})
	}

	switch msgType {
	case dhcpv6.MessageTypeRelease:
		l := h.store.FindByDUIDIAIDSafe(duid, req.IAID, lease6.KindIAPD)
		if l != nil {
			if err := h.store.ReleasePrefixSafe(l.Prefix, l.PrefixLen); err != nil {
				h.logger.Error("RELEASE: persisting IA_PD release failed", "prefix", l.Prefix.String(), "error", err)
			}
			if err := b.subnet.PDPool.ReleasePrefix(l.Prefix, l.PrefixLen); err != nil {
				h.logger.Error("RELEASE: PD pool release failed", "prefix", l.Prefix.String(), "error", err)
			}
		}
		return BuildIAPD(req.IAID, 0, 0, Options{{Code: dhcpv6.OptionStatusCode, Value: BuildStatusCode(dhcpv6.StatusSuccess, "")}})

	case dhcpv6.MessageTypeDecline:
		if req.RequestedPrefix != nil {
			if err := b.subnet.PDPool.MarkConflict(req.RequestedPrefix, req.RequestedPlen); err != nil {
				h.logger.Error("DECLINE: marking IA_PD conflict failed", "prefix", req.RequestedPrefix.String(), "error", err)
			}
		}
		return BuildIAPD(req.IAID, 0, 0, Options{{Code: dhcpv6.OptionStatusCode, Value: BuildStatusCode(dhcpv6.StatusSuccess, "")}})

	default:
		l, _, err := b.subnet.PDPool.AllocateAndCreateLease(duid, req.IAID, req.RequestedPrefix, req.RequestedPlen, h.store, b.subnet.DefaultLeaseTime)
		if err != nil {
			h.logger.Warn("IA_PD allocation failed", "duid", duid, "iaid", req.IAID, "error", err)
			return BuildIAPD(req.IAID, 0, 0, Options{{Code: dhcpv6.OptionStatusCode, Value: BuildStatusCode(dhcpv6.StatusNoPrefixAvail, "")}})
		}
		h.queue.SaveOne(l)
		preferred := uint32(b.subnet.DefaultLeaseTime.Seconds())
		valid := uint32(b.subnet.MaxLeaseTime.Seconds())
		t1 := preferred / 2
		t2 := preferred * 4 / 5
		sub := Options{{Code: dhcpv6.OptionIAPrefix, Value: BuildIAPrefix(l.Prefix, l.PrefixLen, preferred, valid)}}
		return BuildIAPD(req.IAID, t1, t2, sub)
	}
}

// appendConfiguredOptions appends the options the ORO or policy requires,
// per spec §4.9's closing clause.
func (h *Handler) appendConfiguredOptions(reply *Packet, pkt *Packet, b *subnetBinding) {
	oro, _ := pkt.Options.Get(dhcpv6.OptionORO)

	if wants(oro, dhcpv6.OptionDNSServers) && len(b.subnet.DNSServers) > 0 {
		var buf []byte
		for _, ip := range b.subnet.DNSServers {
			buf = append(buf, dhcpv6.IPToBytes(ip)...)
		}
		reply.Options.Add(dhcpv6.OptionDNSServers, buf)
	}
	if wants(oro, dhcpv6.OptionDomainSearch) && len(b.subnet.DomainSearch) > 0 {
		reply.Options.Add(dhcpv6.OptionDomainSearch, encodeDomainSearchList(b.subnet.DomainSearch))
	}
	if wants(oro, dhcpv6.OptionSNTPServers) && len(b.subnet.SNTPServers) > 0 {
		var buf []byte
		for _, ip := range b.subnet.SNTPServers {
			buf = append(buf, dhcpv6.IPToBytes(ip)...)
		}
		reply.Options.Add(dhcpv6.OptionSNTPServers, buf)
	}
	if wants(oro, dhcpv6.OptionInfoRefreshTime) && b.subnet.InfoRefreshTime > 0 {
		reply.Options.Add(dhcpv6.OptionInfoRefreshTime, dhcpv6.Uint32ToBytes(uint32(b.subnet.InfoRefreshTime.Seconds())))
	}
	if b.subnet.Preference > 0 {
		reply.Options.Add(dhcpv6.OptionPreference, []byte{b.subnet.Preference})
	}
	if wants(oro, dhcpv6.OptionSIPServerDomain) && b.subnet.SIPServerDomain != "" {
		reply.Options.Add(dhcpv6.OptionSIPServerDomain, encodeDomainLabels(b.subnet.SIPServerDomain))
	}
	if wants(oro, dhcpv6.OptionBootfileURL) && b.subnet.BootfileURL != "" {
		reply.Options.Add(dhcpv6.OptionBootfileURL, []byte(b.subnet.BootfileURL))
	}
}

// wants reports whether code appears in an Option Request Option payload,
// or whether oro itself is absent (in which case policy alone governs).
func wants(oro []byte, code dhcpv6.OptionCode) bool {
	if len(oro) == 0 {
		return true
	}
	for i := 0; i+1 < len(oro); i += 2 {
		if dhcpv6.OptionCode(oro[i])<<8|dhcpv6.OptionCode(oro[i+1]) == code {
			return true
		}
	}
	return false
}

// encodeDomainSearchList label-encodes each comma-delimited search domain,
// per spec §4.9's "RFC 1035 label-encoded, comma-delimited" domain search
// list.
func encodeDomainSearchList(domains []string) []byte {
	var buf []byte
	for _, d := range domains {
		buf = append(buf, encodeDomainLabels(d)...)
	}
	return buf
}

func encodeDomainLabels(domain string) []byte {
	var buf []byte
	start := 0
	for i := 0; i <= len(domain); i++ {
		if i == len(domain) || domain[i] == '.' {
			label := domain[start:i]
			buf = append(buf, byte(len(label)))
			buf = append(buf, label...)
			start = i + 1
		}
	}
	buf = append(buf, 0)
	return buf
}
