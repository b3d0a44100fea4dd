package iscconf

import (
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// DHCPv6Host is a static reservation inside a subnet6 block, keyed by
// DUID rather than MAC per RFC 8415.
type DHCPv6Host struct {
	Name         string
	DUID         string
	FixedAddress net.IP
}

// DHCPv6Subnet is one `subnet6 <addr>/<plen> { ... }` block.
type DHCPv6Subnet struct {
	Network         net.IP
	Plen            int
	RangeStart      net.IP
	RangeEnd        net.IP
	PDPrefix        net.IP
	PDPoolEnd       net.IP
	DelegatedPlen   int
	DNSServers      []net.IP
	SNTPServers     []net.IP
	DomainSearch    []string
	InfoRefreshTime time.Duration
	Preference      byte
	SIPServerDomain string
	BootfileURL     string
	Hosts           []DHCPv6Host
}

// DHCPv6Config is the result of parsing a DHCPv6 config file per spec
// §6's `subnet6 <addr>/<plen> { range6 …; prefix6 …/<dplen>;
// option dhcp6.*; host { ... } }` grammar.
type DHCPv6Config struct {
	Subnets []DHCPv6Subnet
}

// ParseDHCPv6 reads a DHCPv6 config file, matching the DHCPv4 parser's
// skip-and-warn policy for malformed blocks.
func ParseDHCPv6(r io.Reader) (*DHCPv6Config, []error) {
	sc := newLineScanner(r)
	cfg := &DHCPv6Config{}
	var warnings []error

	for {
		line, ok := sc.next()
		if !ok {
			break
		}
		toks := fields(line)
		if len(toks) == 0 {
			continue
		}
		if strings.HasPrefix(toks[0], "subnet6") {
			subnet, err := parseDHCPv6Subnet(sc, line)
			if err != nil {
				warnings = append(warnings, err)
				continue
			}
			cfg.Subnets = append(cfg.Subnets, *subnet)
		}
		// Unrecognized top-level tokens outside subnet6 blocks are
		// ignored, matching config_v6.c's "keep unknown options ignored,
		// not fatal" policy.
	}
	if err := sc.err(); err != nil {
		warnings = append(warnings, err)
	}
	return cfg, warnings
}

func parseDHCPv6Subnet(sc *lineScanner, headerLine string) (*DHCPv6Subnet, error) {
	// "subnet6 2001:db8:1::/64 {"
	headerLine = strings.TrimSuffix(strings.TrimSpace(headerLine), "{")
	toks := strings.Fields(headerLine)
	if len(toks) < 2 {
		return nil, errAtLine(sc.line, "malformed subnet6 header %q", headerLine)
	}
	network, plen := splitPrefix(toks[1])
	subnet := &DHCPv6Subnet{Network: network, Plen: plen}

	for {
		line, ok := sc.next()
		if !ok {
			return nil, errAtLine(sc.line, "unterminated subnet6 block")
		}
		if line == "}" {
			return subnet, nil
		}
		if strings.HasPrefix(line, "host") {
			host, err := parseDHCPv6Host(sc, line)
			if err != nil {
				continue
			}
			subnet.Hosts = append(subnet.Hosts, *host)
			continue
		}
		parseDHCPv6SubnetOption(subnet, line)
	}
}

func parseDHCPv6SubnetOption(subnet *DHCPv6Subnet, line string) {
	switch {
	case strings.HasPrefix(line, "range6"):
		toks := fields(line)
		if len(toks) >= 3 {
			subnet.RangeStart = net.ParseIP(toks[1])
			subnet.RangeEnd = net.ParseIP(toks[2])
		}
	case strings.HasPrefix(line, "prefix6"):
		toks := fields(line)
		if len(toks) >= 3 {
			subnet.PDPrefix = net.ParseIP(toks[1])
			subnet.PDPoolEnd = net.ParseIP(toks[2])
			_, plen := splitPrefix(toks[2])
			if plen == 0 && len(toks) >= 4 {
				_, plen = splitPrefix(toks[3])
			}
			subnet.DelegatedPlen = plen
		}
	case strings.HasPrefix(line, "option dhcp6.name-servers"):
		subnet.DNSServers = parseIPList(optionArgs(line, "option dhcp6.name-servers"))
	case strings.HasPrefix(line, "option dhcp6.sntp-servers"):
		subnet.SNTPServers = parseIPList(optionArgs(line, "option dhcp6.sntp-servers"))
	case strings.HasPrefix(line, "option dhcp6.domain-search"):
		for _, d := range optionArgs(line, "option dhcp6.domain-search") {
			subnet.DomainSearch = append(subnet.DomainSearch, unquote(strings.TrimSuffix(d, ",")))
		}
	case strings.HasPrefix(line, "option dhcp6.info-refresh-time"):
		args := optionArgs(line, "option dhcp6.info-refresh-time")
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				subnet.InfoRefreshTime = time.Duration(n) * time.Second
			}
		}
	case strings.HasPrefix(line, "option dhcp6.preference"):
		args := optionArgs(line, "option dhcp6.preference")
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				subnet.Preference = byte(n)
			}
		}
	case strings.HasPrefix(line, "option dhcp6.sip-server-domain"):
		args := optionArgs(line, "option dhcp6.sip-server-domain")
		if len(args) > 0 {
			subnet.SIPServerDomain = unquote(args[0])
		}
	case strings.HasPrefix(line, "option dhcp6.bootfile-url"):
		args := optionArgs(line, "option dhcp6.bootfile-url")
		if len(args) > 0 {
			subnet.BootfileURL = unquote(args[0])
		}
	}
}

func parseDHCPv6Host(sc *lineScanner, headerLine string) (*DHCPv6Host, error) {
	host := &DHCPv6Host{}
	headerLine = strings.TrimSuffix(strings.TrimSpace(headerLine), "{")
	toks := strings.Fields(headerLine)
	if len(toks) > 1 {
		host.Name = toks[1]
	}

	for {
		line, ok := sc.next()
		if !ok {
			return nil, errAtLine(sc.line, "unterminated host block")
		}
		if line == "}" {
			return host, nil
		}
		switch {
		case strings.HasPrefix(line, "host-identifier option dhcp6.client-id"):
			args := optionArgs(line, "host-identifier option dhcp6.client-id")
			if len(args) > 0 {
				host.DUID = strings.TrimSuffix(args[0], ";")
			}
		case strings.HasPrefix(line, "fixed-address6"):
			toks := fields(line)
			if len(toks) > 1 {
				host.FixedAddress = net.ParseIP(toks[1])
			}
		case strings.HasPrefix(line, "option dhcp6.hostname"):
			args := optionArgs(line, "option dhcp6.hostname")
			if len(args) > 0 {
				host.Name = unquote(args[0])
			}
		}
	}
}

// optionArgs returns the whitespace-separated tokens (with a trailing
// ';' stripped) following the given option keyword prefix.
func optionArgs(line, prefix string) []string {
	rest := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	rest = strings.TrimSuffix(rest, ";")
	if rest == "" {
		return nil
	}
	return strings.Fields(rest)
}

// splitPrefix parses "addr/plen" into its address and integer prefix
// length parts.
func splitPrefix(s string) (net.IP, int) {
	s = strings.TrimSuffix(s, ";")
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return net.ParseIP(s), 0
	}
	plen, _ := strconv.Atoi(parts[1])
	return net.ParseIP(parts[0]), plen
}
