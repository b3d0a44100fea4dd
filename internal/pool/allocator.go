// Package pool implements the DHCPv4 AddressPool of spec §4.5: a
// fixed-capacity array of per-IP entries carrying a slot state machine
// (AVAILABLE/ALLOCATED/RESERVED/EXCLUDED/CONFLICT/UNKNOWN), with counters
// kept consistent under one coarse lock per pool.
package pool

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/vortexnet/netd/internal/lease"
	"github.com/vortexnet/netd/pkg/dhcpv4"
	"github.com/vortexnet/netd/pkg/leasestate"
)

// EntryState is the state of one PoolEntry (spec §3 "PoolEntry (v4)").
type EntryState int

const (
	Available EntryState = iota
	Allocated
	Reserved
	Excluded
	Conflict
	Unknown
)

func (s EntryState) String() string {
	switch s {
	case Available:
		return "AVAILABLE"
	case Allocated:
		return "ALLOCATED"
	case Reserved:
		return "RESERVED"
	case Excluded:
		return "EXCLUDED"
	case Conflict:
		return "CONFLICT"
	default:
		return "UNKNOWN"
	}
}

// Entry is one slot in the pool: an IPv4 address and its current state.
type Entry struct {
	IP            net.IP
	State         EntryState
	LastAllocated time.Time
	MAC           net.HardwareAddr // owning MAC, set when not AVAILABLE/EXCLUDED
	LeaseID       uint64           // back-reference; 0 = none
}

// Prober probes an address for liveness before handing it out (spec §4.7).
// A nil Prober means ICMP probing is disabled for this pool.
type Prober interface {
	Ping(ip net.IP, timeout time.Duration) bool
}

// Reservation is a static host reservation from config: a MAC bound to a
// fixed address.
type Reservation struct {
	MAC net.HardwareAddr
	IP  net.IP
}

// Pool is the Pool of spec §3/§4.5: a subnet handle, a fixed-capacity
// array of entries indexed by offset from the range start, and five
// counters (available, allocated, reserved, excluded, conflict) kept
// consistent with the entry states.
type Pool struct {
	mu sync.Mutex

	startU uint32
	endU   uint32
	size   uint32
	entries []Entry

	probeEnabled bool
	probeTimeout time.Duration
	prober       Prober

	reservations []Reservation

	available int
	allocated int
	reserved  int
	excluded  int
	conflict  int
}

// Config groups the parameters needed to materialize a Pool.
type Config struct {
	Start        net.IP
	End          net.IP
	Network      *net.IPNet
	Router       net.IP
	Reservations []Reservation
	ProbeEnabled bool
	ProbeTimeout time.Duration
	Prober       Prober
}

// New materializes one entry per IP in [start,end], marks the network and
// broadcast addresses and the router EXCLUDED, marks configured host
// reservations RESERVED, per spec §4.5 `init`.
func New(cfg Config) (*Pool, error) {
	startU := dhcpv4.IPToUint32(cfg.Start.To4())
	endU := dhcpv4.IPToUint32(cfg.End.To4())
	if endU < startU {
		return nil, fmt.Errorf("pool range end %s before start %s", cfg.End, cfg.Start)
	}
	size := endU - startU + 1
	p := &Pool{
		startU:       startU,
		endU:         endU,
		size:         size,
		entries:      make([]Entry, size),
		probeEnabled: cfg.ProbeEnabled,
		probeTimeout: cfg.ProbeTimeout,
		prober:       cfg.Prober,
		reservations: cfg.Reservations,
	}
	for i := range p.entries {
		p.entries[i] = Entry{IP: dhcpv4.Uint32ToIP(startU + uint32(i)), State: Available}
	}
	p.available = int(size)

	if cfg.Network != nil {
		netAddr := dhcpv4.IPToUint32(cfg.Network.IP.To4())
		ones, _ := cfg.Network.Mask.Size()
		bcastMask := ^uint32(0) >> uint(ones)
		bcastAddr := netAddr | bcastMask
		p.excludeAddr(netAddr)
		p.excludeAddr(bcastAddr)
	}
	if cfg.Router != nil {
		p.excludeAddr(dhcpv4.IPToUint32(cfg.Router.To4()))
	}
	for _, r := range cfg.Reservations {
		if off, ok := p.offsetOf(r.IP); ok {
			p.entries[off].State = Reserved
			p.reserved++
			p.available--
		}
	}
	return p, nil
}

func (p *Pool) excludeAddr(u uint32) {
	if u < p.startU || u > p.endU {
		return
	}
	off := u - p.startU
	if p.entries[off].State == Available {
		p.entries[off].State = Excluded
		p.excluded++
		p.available--
	}
}

// SyncFromLeaseStore flips entries to ALLOCATED for every ACTIVE lease in
// range, recording MAC and start time, per spec §4.5 `init`'s final step.
func (p *Pool) SyncFromLeaseStore(store *lease.Store) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range store.AllSafe() {
		if l.State != leasestate.Active {
			continue
		}
		off, ok := p.offsetOf(l.IP)
		if !ok {
			continue
		}
		e := &p.entries[off]
		if e.State == Available {
			p.available--
		} else if e.State == Reserved {
			p.reserved--
		}
		e.State = Allocated
		e.MAC = l.MAC
		e.LastAllocated = l.Start
		e.LeaseID = l.ID
		p.allocated++
	}
}

func (p *Pool) offsetOf(ip net.IP) (uint32, bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, false
	}
	u := dhcpv4.IPToUint32(ip4)
	if u < p.startU || u > p.endU {
		return 0, false
	}
	return u - p.startU, true
}

// Size returns the number of entries in the pool.
func (p *Pool) Size() int { return int(p.size) }

// Counters returns a snapshot of the four live counters plus conflict,
// for the invariant check in spec §8 property 1.
func (p *Pool) Counters() (available, allocated, reserved, excluded, conflict int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available, p.allocated, p.reserved, p.excluded, p.conflict
}

// CheckInvariant recomputes the true histogram of entry states and
// compares it against the live counters, per spec §8 property 1.
func (p *Pool) CheckInvariant() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var avail, alloc, resv, excl, conf int
	for _, e := range p.entries {
		switch e.State {
		case Available:
			avail++
		case Allocated:
			alloc++
		case Reserved:
			resv++
		case Excluded:
			excl++
		case Conflict:
			conf++
		}
	}
	if avail != p.available || alloc != p.allocated || resv != p.reserved || excl != p.excluded || conf != p.conflict {
		return fmt.Errorf("pool invariant violated: counters (%d,%d,%d,%d,%d) != histogram (%d,%d,%d,%d,%d)",
			p.available, p.allocated, p.reserved, p.excluded, p.conflict, avail, alloc, resv, excl, conf)
	}
	if avail+alloc+resv+excl+conf != int(p.size) {
		return fmt.Errorf("pool invariant violated: counters sum %d != pool size %d", avail+alloc+resv+excl+conf, p.size)
	}
	return nil
}

// reservationFor returns the configured reservation matching mac, if any.
func (p *Pool) reservationFor(mac net.HardwareAddr) (net.IP, bool) {
	for _, r := range p.reservations {
		if r.MAC.String() == mac.String() {
			return r.IP, true
		}
	}
	return net.IP{}, false
}

// findAllocatedTo returns the offset of the entry already ALLOCATED to
// mac, if any.
func (p *Pool) findAllocatedTo(mac net.HardwareAddr) (uint32, bool) {
	for i := range p.entries {
		if p.entries[i].State == Allocated && p.entries[i].MAC != nil && p.entries[i].MAC.String() == mac.String() {
			return uint32(i), true
		}
	}
	return 0, false
}

func (p *Pool) probe(ip net.IP) bool {
	if !p.probeEnabled || p.prober == nil {
		return false
	}
	return p.prober.Ping(ip, p.probeTimeout)
}

// Allocate implements spec §4.5 `allocate`: reservation, idempotent
// re-offer, requested-IP, then linear scan, each step optionally
// ICMP-probing. Caller must hold the pool lock (see AllocateAndCreateLease
// for the locked, persisting entry point).
func (p *Pool) Allocate(mac net.HardwareAddr, requestedIP net.IP) (net.IP, error) {
	if resIP, ok := p.reservationFor(mac); ok {
		return resIP, nil
	}
	if off, ok := p.findAllocatedTo(mac); ok {
		return p.entries[off].IP, nil
	}
	if requestedIP != nil && !requestedIP.Equal(net.IPv4zero) {
		if off, ok := p.offsetOf(requestedIP); ok && p.entries[off].State == Available {
			if p.probe(p.entries[off].IP) {
				p.markConflictAt(off)
			} else {
				p.reserveAt(off, mac)
				return p.entries[off].IP, nil
			}
		}
	}
	for off := range p.entries {
		if p.entries[off].State != Available {
			continue
		}
		if p.probe(p.entries[off].IP) {
			p.markConflictAt(uint32(off))
			continue
		}
		p.reserveAt(uint32(off), mac)
		return p.entries[off].IP, nil
	}
	return nil, fmt.Errorf("no available IPs")
}

func (p *Pool) reserveAt(off uint32, mac net.HardwareAddr) {
	e := &p.entries[off]
	e.State = Allocated
	e.MAC = append(net.HardwareAddr(nil), mac...)
	e.LastAllocated = time.Now()
	p.available--
	p.allocated++
}

func (p *Pool) markConflictAt(off uint32) {
	e := &p.entries[off]
	if e.State == Available {
		p.available--
	}
	e.State = Conflict
	p.conflict++
}

// ReserveIP marks ip ALLOCATED to mac directly, adjusting exactly one
// counter pair, per spec §4.5 `reserve_ip`.
func (p *Pool) ReserveIP(ip net.IP, mac net.HardwareAddr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	off, ok := p.offsetOf(ip)
	if !ok {
		return fmt.Errorf("%s not in pool range", ip)
	}
	if p.entries[off].State != Available {
		return fmt.Errorf("%s is not AVAILABLE", ip)
	}
	p.reserveAt(off, mac)
	return nil
}

// ReleaseIP returns an ALLOCATED entry to AVAILABLE, per spec §4.5
// `release_ip`.
func (p *Pool) ReleaseIP(ip net.IP) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	off, ok := p.offsetOf(ip)
	if !ok {
		return fmt.Errorf("%s not in pool range", ip)
	}
	e := &p.entries[off]
	if e.State != Allocated {
		return nil
	}
	e.State = Available
	e.MAC = nil
	e.LeaseID = 0
	p.allocated--
	p.available++
	return nil
}

// MarkConflict marks ip CONFLICT, per spec §4.5 `mark_conflict`.
func (p *Pool) MarkConflict(ip net.IP) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	off, ok := p.offsetOf(ip)
	if !ok {
		return fmt.Errorf("%s not in pool range", ip)
	}
	p.markConflictAt(off)
	return nil
}

// AllocateAndCreateLease performs Allocate and, on success, commits a
// lease to store atomically under the lock, per spec §4.5
// `allocate_and_create_lease`. The pool lock is acquired before the store
// lock, the fixed order spec §5 requires to prevent deadlock.
func (p *Pool) AllocateAndCreateLease(mac net.HardwareAddr, requestedIP net.IP, store *lease.Store, leaseSecs time.Duration) (*lease.Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ip, err := p.Allocate(mac, requestedIP)
	if err != nil {
		return nil, err
	}

	store.Lock()
	l := store.Add(ip, mac, leaseSecs)
	clone := l.Clone()
	store.Unlock()

	if off, ok := p.offsetOf(ip); ok {
		p.entries[off].LeaseID = l.ID
	}

	if err := store.Append(clone); err != nil {
		return clone, err
	}
	return clone, nil
}

// Contains reports whether ip falls within the pool's range.
func (p *Pool) Contains(ip net.IP) bool {
	_, ok := p.offsetOf(ip)
	return ok
}
