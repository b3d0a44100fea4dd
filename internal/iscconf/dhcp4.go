package iscconf

import (
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// DHCPv4Host is a static reservation inside a subnet block.
type DHCPv4Host struct {
	Name         string
	MAC          net.HardwareAddr
	FixedAddress net.IP
}

// DHCPv4Subnet is one `subnet <net> netmask <mask> { ... }` block.
type DHCPv4Subnet struct {
	Network          net.IP
	Netmask          net.IP
	RangeStart       net.IP
	RangeEnd         net.IP
	Router           net.IP
	DNSServers       []net.IP
	DomainName       string
	DefaultLeaseTime time.Duration
	MaxLeaseTime     time.Duration
	Hosts            []DHCPv4Host
}

// DHCPv4Config is the result of parsing a full ISC-dhcpd-subset config
// file, per spec §6's field list (subnet/host/range/option/
// default-lease-time/max-lease-time/authoritative/ping-check/
// ping-timeout/ddns-update-style).
type DHCPv4Config struct {
	Authoritative    bool
	DefaultLeaseTime time.Duration
	MaxLeaseTime     time.Duration
	PingCheck        bool
	PingTimeout      time.Duration
	DDNSUpdateStyle  string
	DNSServers       []net.IP
	Subnets          []DHCPv4Subnet
}

// ParseDHCPv4 reads a DHCPv4 config file, skipping malformed lines with
// an error return per-line collected as warnings rather than aborting
// the whole parse, matching spec §7's "malformed input: skip the block,
// log a warning" policy for config/lease-file blocks.
func ParseDHCPv4(r io.Reader) (*DHCPv4Config, []error) {
	sc := newLineScanner(r)
	cfg := &DHCPv4Config{}
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
		if toks[0] == "subnet" {
			subnet, err := parseDHCPv4Subnet(sc, toks)
			if err != nil {
				warnings = append(warnings, err)
				continue
			}
			cfg.Subnets = append(cfg.Subnets, *subnet)
			continue
		}
		if err := parseDHCPv4Global(cfg, toks); err != nil {
			warnings = append(warnings, errAtLine(sc.line, "%v", err))
		}
	}
	if err := sc.err(); err != nil {
		warnings = append(warnings, err)
	}
	return cfg, warnings
}

func parseDHCPv4Global(cfg *DHCPv4Config, toks []string) error {
	switch toks[0] {
	case "authoritative":
		cfg.Authoritative = true
	case "default-lease-time":
		return setDuration(&cfg.DefaultLeaseTime, toks)
	case "max-lease-time":
		return setDuration(&cfg.MaxLeaseTime, toks)
	case "ping-check":
		cfg.PingCheck = len(toks) > 1 && toks[1] == "true"
	case "ping-timeout":
		d, err := parseSecondsArg(toks)
		if err != nil {
			return err
		}
		cfg.PingTimeout = d
	case "ddns-update-style":
		if len(toks) > 1 {
			cfg.DDNSUpdateStyle = toks[1]
		}
	case "option":
		return parseDHCPv4GlobalOption(cfg, toks[1:])
	}
	return nil
}

func parseDHCPv4GlobalOption(cfg *DHCPv4Config, toks []string) error {
	if len(toks) == 0 {
		return nil
	}
	if toks[0] == "domain-name-servers" {
		cfg.DNSServers = parseIPList(toks[1:])
	}
	return nil
}

func parseDHCPv4Subnet(sc *lineScanner, header []string) (*DHCPv4Subnet, error) {
	// "subnet <net> netmask <mask> {"
	if len(header) < 4 {
		return nil, errAtLine(sc.line, "malformed subnet header %q", header)
	}
	subnet := &DHCPv4Subnet{
		Network: net.ParseIP(header[1]),
		Netmask: net.ParseIP(header[3]),
	}

	for {
		line, ok := sc.next()
		if !ok {
			return nil, errAtLine(sc.line, "unterminated subnet block")
		}
		if line == "}" {
			return subnet, nil
		}
		toks := fields(line)
		if len(toks) == 0 {
			continue
		}
		if toks[0] == "host" {
			host, err := parseDHCPv4Host(sc, toks)
			if err != nil {
				continue
			}
			subnet.Hosts = append(subnet.Hosts, *host)
			continue
		}
		parseDHCPv4SubnetOption(subnet, toks)
	}
}

func parseDHCPv4SubnetOption(subnet *DHCPv4Subnet, toks []string) {
	switch toks[0] {
	case "range":
		if len(toks) >= 3 {
			subnet.RangeStart = net.ParseIP(toks[1])
			subnet.RangeEnd = net.ParseIP(toks[2])
		}
	case "default-lease-time":
		setDuration(&subnet.DefaultLeaseTime, toks)
	case "max-lease-time":
		setDuration(&subnet.MaxLeaseTime, toks)
	case "option":
		parseDHCPv4SubnetSuboption(subnet, toks[1:])
	}
}

func parseDHCPv4SubnetSuboption(subnet *DHCPv4Subnet, toks []string) {
	if len(toks) == 0 {
		return
	}
	switch toks[0] {
	case "routers":
		if len(toks) > 1 {
			subnet.Router = net.ParseIP(toks[1])
		}
	case "domain-name":
		if len(toks) > 1 {
			subnet.DomainName = unquote(toks[1])
		}
	case "domain-name-servers":
		subnet.DNSServers = parseIPList(toks[1:])
	}
}

func parseDHCPv4Host(sc *lineScanner, header []string) (*DHCPv4Host, error) {
	host := &DHCPv4Host{}
	if len(header) > 1 {
		host.Name = header[1]
	}

	for {
		line, ok := sc.next()
		if !ok {
			return nil, errAtLine(sc.line, "unterminated host block")
		}
		if line == "}" {
			return host, nil
		}
		toks := fields(line)
		if len(toks) == 0 {
			continue
		}
		switch toks[0] {
		case "hardware-ethernet", "hardware":
			macTok := toks[len(toks)-1]
			if mac, err := net.ParseMAC(macTok); err == nil {
				host.MAC = mac
			}
		case "fixed-address":
			if len(toks) > 1 {
				host.FixedAddress = net.ParseIP(toks[1])
			}
		case "option":
			if len(toks) > 2 && toks[1] == "host-name" {
				host.Name = unquote(toks[2])
			}
		}
	}
}

func setDuration(dst *time.Duration, toks []string) error {
	if len(toks) < 2 {
		return nil
	}
	n, err := strconv.Atoi(toks[1])
	if err != nil {
		return err
	}
	*dst = time.Duration(n) * time.Second
	return nil
}

func parseSecondsArg(toks []string) (time.Duration, error) {
	if len(toks) < 2 {
		return 0, nil
	}
	n, err := strconv.Atoi(toks[1])
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parseIPList(toks []string) []net.IP {
	var ips []net.IP
	for _, t := range toks {
		t = strings.TrimSuffix(t, ",")
		if ip := net.ParseIP(t); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}
