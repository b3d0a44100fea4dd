// Package resolver implements the DNS Resolver of spec §4.12: an
// authoritative-zone-first, then-cache, then-upstream-forward pipeline
// over single-question datagrams. Adapted from internal/dnsproxy/server.go's
// overall dispatch shape, but reworked around github.com/miekg/dns's
// Msg/RR API for parsing, packing, and the CNAME/NS/PTR label compression
// spec §4.12 calls for, rather than the teacher's own raw-byte DoH/proxy
// plumbing (which has no authoritative-answer-construction concern).
package resolver

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// defaultForwardTTL is the fixed TTL applied to cache entries populated
// from a successful upstream forward, per spec §4.12 "default 60 s".
const defaultForwardTTL = 60 * time.Second

// Resolver implements the per-datagram DNS resolution pipeline.
type Resolver struct {
	zone      *Zone
	cache     cacheStore
	forwarder *Forwarder
	log       *QueryLog
	logger    *slog.Logger
}

// cacheStore is the subset of *dnscache.Cache the resolver depends on,
// so tests can substitute a fake without importing dnscache.
type cacheStore interface {
	Insert(name string, response []byte, ttl time.Duration) error
	Lookup(name string) ([]byte, bool)
}

// New builds a Resolver over an authoritative zone, a response cache, and
// an upstream forwarder. log may be nil to disable query logging.
func New(zone *Zone, cache cacheStore, forwarder *Forwarder, log *QueryLog, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{zone: zone, cache: cache, forwarder: forwarder, log: log, logger: logger}
}

// cacheKey combines a name and query type into the single string key the
// cache trie indexes on, since spec §4.11's cache stores one response per
// name but the resolver must distinguish A from AAAA from PTR etc. for
// the same name.
func cacheKey(name string, qtype uint16) string {
	return strings.ToLower(dns.Fqdn(name)) + "." + dns.TypeToString[qtype]
}

// Resolve answers one raw query datagram from source, per spec §4.12's
// single-question path: authoritative zone first, then cache, then
// upstream forward with a fixed-TTL cache fill on success.
func (r *Resolver) Resolve(query []byte, source string) ([]byte, error) {
	start := time.Now()

	req := new(dns.Msg)
	if err := req.Unpack(query); err != nil {
		return nil, fmt.Errorf("resolver: parsing query: %w", err)
	}
	if len(req.Question) != 1 {
		return nil, fmt.Errorf("resolver: expected single-question datagram, got %d", len(req.Question))
	}
	q := req.Question[0]

	if rrs := r.zone.Lookup(q.Name, q.Qtype); rrs != nil {
		reply := new(dns.Msg)
		reply.SetReply(req)
		reply.Authoritative = true
		reply.Answer = rrs
		packed, err := reply.Pack()
		if err != nil {
			return nil, fmt.Errorf("resolver: packing authoritative reply: %w", err)
		}
		r.logQuery(q, source, "authoritative", start)
		return packed, nil
	}

	key := cacheKey(q.Name, q.Qtype)
	if cached, ok := r.cache.Lookup(key); ok {
		reply := append([]byte(nil), cached...)
		patchTransactionID(reply, req.Id)
		r.logQuery(q, source, "cached", start)
		return reply, nil
	}

	reply, err := r.forwarder.Forward(query)
	if err != nil {
		r.logQuery(q, source, "failed", start)
		return nil, fmt.Errorf("resolver: forwarding query: %w", err)
	}
	if err := r.cache.Insert(key, reply, defaultForwardTTL); err != nil {
		r.logger.Warn("dns cache insert failed", "name", q.Name, "error", err)
	}
	r.logQuery(q, source, "forwarded", start)
	return reply, nil
}

// patchTransactionID overwrites the first two bytes of a cached reply
// with the requesting client's transaction id, per spec §4.12's closing
// clause on serving from cache.
func patchTransactionID(reply []byte, id uint16) {
	if len(reply) < 2 {
		return
	}
	binary.BigEndian.PutUint16(reply[0:2], id)
}

func (r *Resolver) logQuery(q dns.Question, source, status string, start time.Time) {
	if r.log == nil {
		return
	}
	r.log.Add(QueryLogEntry{
		Timestamp: start,
		Name:      q.Name,
		Type:      dns.TypeToString[q.Qtype],
		Source:    source,
		Status:    status,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0,
	})
}
