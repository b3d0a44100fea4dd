package resolver

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/miekg/dns"
)

// Zone holds the authoritative records this server answers from directly,
// per spec §4.12's "try authoritative zone lookup first". Adapted from
// internal/dnsproxy/zone.go, trimmed to the record types and lookup shape
// the resolver pipeline needs; lease-registration helpers have no caller
// in this spec and are dropped. Add appends, so one name can hold several
// records of the same type.
type Zone struct {
	mu      sync.RWMutex
	records map[string][]dns.RR // key: lowercase fqdn + "|" + qtype
}

// NewZone creates an empty authoritative zone.
func NewZone() *Zone {
	return &Zone{records: make(map[string][]dns.RR)}
}

func zoneKey(name string, qtype uint16) string {
	return strings.ToLower(dns.Fqdn(name)) + "|" + dns.TypeToString[qtype]
}

// Add appends rr to the record set for rr's name+type.
func (z *Zone) Add(rr dns.RR) {
	z.mu.Lock()
	defer z.mu.Unlock()
	key := zoneKey(rr.Header().Name, rr.Header().Rrtype)
	z.records[key] = append(z.records[key], rr)
}

// Lookup returns copies of every record for name+qtype, or nil on a miss.
// Types outside spec §4.12's recognized set (A, AAAA, CNAME, NS, PTR) are
// always reported as misses so the forwarder path runs, per §4.12's
// closing clause on SOA and unlisted types.
func (z *Zone) Lookup(name string, qtype uint16) []dns.RR {
	if !answerable(qtype) {
		return nil
	}
	z.mu.RLock()
	defer z.mu.RUnlock()
	rrs := z.records[zoneKey(name, qtype)]
	if len(rrs) == 0 {
		return nil
	}
	out := make([]dns.RR, len(rrs))
	for i, rr := range rrs {
		out[i] = dns.Copy(rr)
	}
	return out
}

// LoadFile reads a zone master file (the file an iscconf.DNSZone block
// points at) and adds every record it contains. origin is used to expand
// relative names ("@", bare labels) per RFC 1035 master-file syntax.
func (z *Zone) LoadFile(path, origin string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return z.LoadReader(f, path, origin)
}

// LoadReader parses zone master-file syntax from r via miekg/dns's
// ZoneParser, adding every parsed record.
func (z *Zone) LoadReader(r io.Reader, filename, origin string) error {
	zp := dns.NewZoneParser(r, dns.Fqdn(origin), filename)
	n := 0
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		z.Add(rr)
		n++
	}
	if err := zp.Err(); err != nil {
		return fmt.Errorf("zone file %s: %w", filename, err)
	}
	if n == 0 {
		return fmt.Errorf("zone file %s: no records parsed", filename)
	}
	return nil
}

// Count returns the total number of records loaded.
func (z *Zone) Count() int {
	z.mu.RLock()
	defer z.mu.RUnlock()
	n := 0
	for _, rrs := range z.records {
		n += len(rrs)
	}
	return n
}

func answerable(qtype uint16) bool {
	switch qtype {
	case dns.TypeA, dns.TypeAAAA, dns.TypeCNAME, dns.TypeNS, dns.TypePTR:
		return true
	default:
		return false
	}
}
