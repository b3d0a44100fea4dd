// Package pool6 implements the DHCPv6 AddressPool and PDPool of spec §4.6:
// entry arrays over IPv6 address/prefix ranges, generalizing
// internal/pool's v4 entry-state machine to 128-bit arithmetic and to
// DUID+IAID ownership instead of MAC ownership.
package pool6

import (
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/vortexnet/netd/internal/lease6"
	"github.com/vortexnet/netd/pkg/leasestate"
)

// EntryState is the state of one pool slot (spec §3 "PoolEntry (v6)").
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

// maxPoolEntries caps the materialized range, per spec §4.6 "capped at a
// compile-time maximum" — a /64 pool otherwise has no practical in-memory
// representation.
const maxPoolEntries = 1 << 16

// IANAEntry is one slot in the address pool.
type IANAEntry struct {
	IP            net.IP
	State         EntryState
	LastAllocated time.Time
	DUID          string
	IAID          uint32
	LeaseID       uint64
}

// Prober probes an address for liveness before handing it out (spec §4.7).
type Prober interface {
	Ping(ip net.IP, timeout time.Duration) bool
}

// Reservation is a static host reservation from config: a DUID bound to a
// fixed address.
type Reservation struct {
	DUID string
	IP   net.IP
}

// IANAPool is the v6 AddressPool of spec §4.6.
type IANAPool struct {
	mu sync.Mutex

	start   *big.Int
	end     *big.Int
	entries []IANAEntry
	index   map[string]int // ip.String() -> entry offset

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

// Config groups the parameters needed to materialize an IANAPool.
type Config struct {
	Start        net.IP
	End          net.IP
	Router       net.IP
	Reservations []Reservation
	ProbeEnabled bool
	ProbeTimeout time.Duration
	Prober       Prober
}

// New materializes one entry per address in [start,end], capped at
// maxPoolEntries, marks the router EXCLUDED, and marks configured host
// reservations RESERVED, per spec §4.6 `init`.
func New(cfg Config) (*IANAPool, error) {
	start := ipToBig(cfg.Start)
	end := ipToBig(cfg.End)
	if end.Cmp(start) < 0 {
		return nil, fmt.Errorf("pool range end %s before start %s", cfg.End, cfg.Start)
	}
	count := new(big.Int).Sub(end, start)
	count.Add(count, big.NewInt(1))
	if !count.IsInt64() || count.Int64() > maxPoolEntries {
		return nil, fmt.Errorf("pool range %s-%s exceeds maximum of %d entries", cfg.Start, cfg.End, maxPoolEntries)
	}
	size := int(count.Int64())

	p := &IANAPool{
		start:        start,
		end:          end,
		entries:      make([]IANAEntry, size),
		index:        make(map[string]int, size),
		probeEnabled: cfg.ProbeEnabled,
		probeTimeout: cfg.ProbeTimeout,
		prober:       cfg.Prober,
		reservations: cfg.Reservations,
	}
	cur := new(big.Int).Set(start)
	for i := 0; i < size; i++ {
		ip := bigToIP(cur)
		p.entries[i] = IANAEntry{IP: ip, State: Available}
		p.index[ip.String()] = i
		cur.Add(cur, big.NewInt(1))
	}
	p.available = size

	if cfg.Router != nil {
		p.excludeIP(cfg.Router)
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

func (p *IANAPool) excludeIP(ip net.IP) {
	off, ok := p.offsetOf(ip)
	if !ok {
		return
	}
	if p.entries[off].State == Available {
		p.entries[off].State = Excluded
		p.excluded++
		p.available--
	}
}

func (p *IANAPool) offsetOf(ip net.IP) (int, bool) {
	off, ok := p.index[ip.String()]
	return off, ok
}

// SyncFromLeaseStore applies the state mapping of spec §4.6: ACTIVE ->
// ALLOCATED, RESERVED -> RESERVED, ABANDONED -> CONFLICT, everything else
// -> AVAILABLE.
func (p *IANAPool) SyncFromLeaseStore(store *lease6.Store) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range store.AllSafe() {
		if l.Kind != lease6.KindIANA {
			continue
		}
		off, ok := p.offsetOf(l.IP)
		if !ok {
			continue
		}
		e := &p.entries[off]
		switch l.State {
		case leasestate.Active:
			p.transitionTo(e, Allocated)
			e.DUID = l.DUID
			e.IAID = l.IAID
			e.LastAllocated = l.Start
			e.LeaseID = l.ID
		case leasestate.Reserved:
			p.transitionTo(e, Reserved)
		case leasestate.Abandoned:
			p.transitionTo(e, Conflict)
		default:
			p.transitionTo(e, Available)
		}
	}
}

// transitionTo adjusts the counters for e's old and new states and applies
// the new state. Caller must hold the lock.
func (p *IANAPool) transitionTo(e *IANAEntry, newState EntryState) {
	if e.State == newState {
		return
	}
	switch e.State {
	case Available:
		p.available--
	case Allocated:
		p.allocated--
	case Reserved:
		p.reserved--
	case Conflict:
		p.conflict--
	}
	switch newState {
	case Available:
		p.available++
	case Allocated:
		p.allocated++
	case Reserved:
		p.reserved++
	case Conflict:
		p.conflict++
	}
	e.State = newState
}

// Size returns the number of entries in the pool.
func (p *IANAPool) Size() int { return len(p.entries) }

// Counters returns a snapshot of the five live counters, for the invariant
// check in spec §8 property 1.
func (p *IANAPool) Counters() (available, allocated, reserved, excluded, conflict int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available, p.allocated, p.reserved, p.excluded, p.conflict
}

// CheckInvariant recomputes the true histogram of entry states and
// compares it against the live counters, per spec §8 property 1.
func (p *IANAPool) CheckInvariant() error {
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
		return fmt.Errorf("pool6 invariant violated: counters (%d,%d,%d,%d,%d) != histogram (%d,%d,%d,%d,%d)",
			p.available, p.allocated, p.reserved, p.excluded, p.conflict, avail, alloc, resv, excl, conf)
	}
	if avail+alloc+resv+excl+conf != len(p.entries) {
		return fmt.Errorf("pool6 invariant violated: counters sum %d != pool size %d", avail+alloc+resv+excl+conf, len(p.entries))
	}
	return nil
}

func (p *IANAPool) reservationFor(duid string) (net.IP, bool) {
	for _, r := range p.reservations {
		if r.DUID == duid {
			return r.IP, true
		}
	}
	return nil, false
}

func (p *IANAPool) probe(ip net.IP) bool {
	if !p.probeEnabled || p.prober == nil {
		return false
	}
	return p.prober.Ping(ip, p.probeTimeout)
}

// Contains reports whether ip falls within the pool's range.
func (p *IANAPool) Contains(ip net.IP) bool {
	_, ok := p.offsetOf(ip)
	return ok
}

// ReleaseIP returns an ALLOCATED entry to AVAILABLE, per spec §4.5/§4.6
// `release_ip`.
func (p *IANAPool) ReleaseIP(ip net.IP) error {
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
	p.transitionTo(e, Available)
	e.DUID = ""
	e.IAID = 0
	e.LeaseID = 0
	return nil
}

// MarkConflict marks ip CONFLICT, per spec §4.5/§4.6 `mark_conflict`.
func (p *IANAPool) MarkConflict(ip net.IP) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	off, ok := p.offsetOf(ip)
	if !ok {
		return fmt.Errorf("%s not in pool range", ip)
	}
	p.transitionTo(&p.entries[off], Conflict)
	return nil
}

// AllocateAndCreateLease implements spec §4.6's v6 allocate: refresh an
// existing ACTIVE IA_NA lease for duid/iaid if one exists; else honor a
// requested address if available and non-conflicting; else linear scan.
// isNew reports whether a fresh lease was created (for stats accuracy per
// spec §4.9). On persistence failure after a fresh allocation, the entry
// is rolled back to AVAILABLE.
func (p *IANAPool) AllocateAndCreateLease(duid string, iaid uint32, requestedIP net.IP, store *lease6.Store, leaseSecs time.Duration) (l *lease6.Lease, isNew bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	store.Lock()
	if existing := store.FindByDUIDIAID(duid, iaid, lease6.KindIANA); existing != nil && existing.State == leasestate.Active {
		renewed := store.RenewIP(existing.IP, leaseSecs)
		clone := renewed.Clone()
		store.Unlock()
		if off, ok := p.offsetOf(clone.IP); ok {
			p.entries[off].LastAllocated = clone.Start
		}
		if err := store.Append(clone); err != nil {
			return clone, false, err
		}
		return clone, false, nil
	}
	store.Unlock()

	if resIP, ok := p.reservationFor(duid); ok {
		return p.commitAllocation(resIP, duid, iaid, store, leaseSecs)
	}

	if requestedIP != nil {
		if off, ok := p.offsetOf(requestedIP); ok && p.entries[off].State == Available {
			if p.probeAndMark(off) {
				// fall through to scan
			} else {
				return p.commitAllocation(p.entries[off].IP, duid, iaid, store, leaseSecs)
			}
		}
	}

	for off := range p.entries {
		if p.entries[off].State != Available {
			continue
		}
		if p.probeAndMark(off) {
			continue
		}
		return p.commitAllocation(p.entries[off].IP, duid, iaid, store, leaseSecs)
	}
	return nil, false, fmt.Errorf("no available IPv6 addresses")
}

// probeAndMark probes entries[off] and, on an echo reply, marks the entry
// CONFLICT, per spec §4.6. No lease exists yet for a candidate address at
// this point, so only the pool entry is marked; a probe reply against an
// address already tied to a lease is handled by the caller via
// MarkConflict + the lease store's MarkConflict (ABANDONED).
func (p *IANAPool) probeAndMark(off int) bool {
	if !p.probe(p.entries[off].IP) {
		return false
	}
	p.transitionTo(&p.entries[off], Conflict)
	return true
}

func (p *IANAPool) commitAllocation(ip net.IP, duid string, iaid uint32, store *lease6.Store, leaseSecs time.Duration) (*lease6.Lease, bool, error) {
	off, _ := p.offsetOf(ip)
	e := &p.entries[off]
	p.transitionTo(e, Allocated)
	e.DUID = duid
	e.IAID = iaid
	e.LastAllocated = time.Now()

	store.Lock()
	l := store.AddIANA(ip, duid, iaid, leaseSecs)
	clone := l.Clone()
	store.Unlock()
	e.LeaseID = l.ID

	if err := store.Append(clone); err != nil {
		p.transitionTo(e, Available)
		e.DUID = ""
		e.IAID = 0
		e.LeaseID = 0
		return clone, true, err
	}
	return clone, true, nil
}
