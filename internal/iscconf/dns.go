package iscconf

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DNSZone is one `zone "<name>" { type master; file "<f>"; };` block.
type DNSZone struct {
	Name string
	Type string
	File string
}

// DNSConfig is the result of parsing a DNS server config file per spec
// §6's nested `options { listen_ip …; port …; zones_dir …; }` and
// `zone "<name>" { ... }` grammar, with `include "<path>";` expanded
// inline.
type DNSConfig struct {
	ListenIP   string
	Port       int
	ZonesDir   string
	Forwarders []string
	Zones      []DNSZone
}

// ParseDNSFile opens path and parses it, following any `include`
// directives relative to path's directory.
func ParseDNSFile(path string) (*DNSConfig, []error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, []error{err}
	}
	defer f.Close()
	return parseDNSReader(f, dirOf(path))
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func parseDNSReader(r io.Reader, baseDir string) (*DNSConfig, []error) {
	sc := newLineScanner(r)
	cfg := &DNSConfig{}
	var warnings []error

	for {
		line, ok := sc.next()
		if !ok {
			break
		}
		switch {
		case strings.HasPrefix(line, "include"):
			path, err := parseIncludePath(line)
			if err != nil {
				warnings = append(warnings, errAtLine(sc.line, "%v", err))
				continue
			}
			if !strings.HasPrefix(path, "/") {
				path = baseDir + "/" + path
			}
			included, incWarnings := ParseDNSFile(path)
			warnings = append(warnings, incWarnings...)
			if included != nil {
				mergeDNSConfig(cfg, included)
			}
		case strings.HasPrefix(line, "options"):
			if err := parseDNSOptionsBlock(sc, cfg); err != nil {
				warnings = append(warnings, err)
			}
		case strings.HasPrefix(line, "zone"):
			zone, err := parseDNSZoneBlock(sc, line)
			if err != nil {
				warnings = append(warnings, err)
				continue
			}
			cfg.Zones = append(cfg.Zones, *zone)
		}
	}
	if err := sc.err(); err != nil {
		warnings = append(warnings, err)
	}
	return cfg, warnings
}

func mergeDNSConfig(dst, src *DNSConfig) {
	if src.ListenIP != "" {
		dst.ListenIP = src.ListenIP
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.ZonesDir != "" {
		dst.ZonesDir = src.ZonesDir
	}
	dst.Forwarders = append(dst.Forwarders, src.Forwarders...)
	dst.Zones = append(dst.Zones, src.Zones...)
}

func parseIncludePath(line string) (string, error) {
	start := strings.IndexByte(line, '"')
	end := strings.LastIndexByte(line, '"')
	if start < 0 || end <= start {
		return "", fmt.Errorf("include needs a quoted path: %q", line)
	}
	return line[start+1 : end], nil
}

func parseDNSOptionsBlock(sc *lineScanner, cfg *DNSConfig) error {
	for {
		line, ok := sc.next()
		if !ok {
			return errAtLine(sc.line, "unterminated options block")
		}
		if line == "}" || line == "};" {
			return nil
		}
		toks := fields(line)
		if len(toks) < 2 {
			continue
		}
		switch toks[0] {
		case "listen_ip":
			cfg.ListenIP = toks[1]
		case "port":
			if n, err := strconv.Atoi(toks[1]); err == nil {
				cfg.Port = n
			}
		case "zones_dir":
			cfg.ZonesDir = unquote(toks[1])
		case "forwarders":
			cfg.Forwarders = append(cfg.Forwarders, toks[1:]...)
		}
	}
}

func parseDNSZoneBlock(sc *lineScanner, headerLine string) (*DNSZone, error) {
	// `zone "name.example.com" {`
	start := strings.IndexByte(headerLine, '"')
	end := strings.LastIndexByte(headerLine, '"')
	zone := &DNSZone{}
	if start >= 0 && end > start {
		zone.Name = headerLine[start+1 : end]
	}

	for {
		line, ok := sc.next()
		if !ok {
			return nil, errAtLine(sc.line, "unterminated zone block")
		}
		if line == "}" || line == "};" {
			return zone, nil
		}
		toks := fields(line)
		if len(toks) < 2 {
			continue
		}
		switch toks[0] {
		case "type":
			zone.Type = toks[1]
		case "file":
			zone.File = unquote(toks[1])
		}
	}
}
