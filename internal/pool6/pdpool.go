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

// PDPoolEntry is one delegated prefix slot (spec §3 "PDPoolEntry").
type PDPoolEntry struct {
	Prefix        net.IP
	PrefixLen     int
	State         EntryState
	LastAllocated time.Time
	DUID          string
	IAID          uint32
	LeaseID       uint64
}

func (e *PDPoolEntry) key() string { return fmt.Sprintf("%s/%d", e.Prefix, e.PrefixLen) }

// PDPool is the PDPool of spec §4.6: entries enumerated by striding
// through the base range at bit position `delegatedPlen - 1`.
type PDPool struct {
	mu sync.Mutex

	delegatedPlen int
	entries       []PDPoolEntry
	index         map[string]int

	probeEnabled bool
	probeTimeout time.Duration
	prober       Prober

	reservations map[string]string // duid -> "prefix/plen"

	available int
	allocated int
	reserved  int
	excluded  int
	conflict  int
}

// PDReservation is a static delegated-prefix reservation from config: a
// DUID bound to a fixed prefix/plen.
type PDReservation struct {
	DUID   string
	Prefix net.IP
	Plen   int
}

// PDConfig groups the parameters needed to materialize a PDPool.
type PDConfig struct {
	PoolStart     net.IP // base prefix, first delegated block
	PoolEnd       net.IP // upper bound on the enumeration, inclusive
	DelegatedPlen int
	Reservations  []PDReservation
	ProbeEnabled  bool
	ProbeTimeout  time.Duration
	Prober        Prober
}

// NewPD enumerates delegated prefixes from poolStart by incrementing at
// bit position delegatedPlen-1, terminating when the next prefix would
// exceed poolEnd or fails to increment (i.e. overflows), per spec §4.6,
// capped at maxPoolEntries.
func NewPD(cfg PDConfig) (*PDPool, error) {
	step := stride(cfg.DelegatedPlen)
	end := ipToBig(cfg.PoolEnd)

	p := &PDPool{
		delegatedPlen: cfg.DelegatedPlen,
		index:         make(map[string]int),
		probeEnabled:  cfg.ProbeEnabled,
		probeTimeout:  cfg.ProbeTimeout,
		prober:        cfg.Prober,
		reservations:  make(map[string]string),
	}

	cur := ipToBig(maskLowBits(cfg.PoolStart, cfg.DelegatedPlen))
	for len(p.entries) < maxPoolEntries {
		if cur.Cmp(end) > 0 {
			break
		}
		prefix := bigToIP(cur)
		e := PDPoolEntry{Prefix: prefix, PrefixLen: cfg.DelegatedPlen, State: Available}
		p.index[e.key()] = len(p.entries)
		p.entries = append(p.entries, e)

		next := new(big.Int).Add(cur, step)
		if next.Cmp(cur) <= 0 {
			break // overflow, cannot increment further
		}
		cur = next
	}
	p.available = len(p.entries)

	for _, r := range cfg.Reservations {
		key := fmt.Sprintf("%s/%d", r.Prefix, r.Plen)
		if off, ok := p.index[key]; ok {
			p.entries[off].State = Reserved
			p.reserved++
			p.available--
		}
		p.reservations[r.DUID] = key
	}
	return p, nil
}

func (p *PDPool) offsetOf(prefix net.IP, plen int) (int, bool) {
	off, ok := p.index[fmt.Sprintf("%s/%d", prefix, plen)]
	return off, ok
}

// transitionTo mirrors IANAPool's counter bookkeeping for PDPoolEntry.
// Caller must hold the lock.
func (p *PDPool) transitionTo(e *PDPoolEntry, newState EntryState) {
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
func (p *PDPool) Size() int { return len(p.entries) }

// Counters returns a snapshot of the five live counters, for the invariant
// check in spec §8 property 1.
func (p *PDPool) Counters() (available, allocated, reserved, excluded, conflict int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available, p.allocated, p.reserved, p.excluded, p.conflict
}

// CheckInvariant recomputes the true histogram of entry states and
// compares it against the live counters, per spec §8 property 1.
func (p *PDPool) CheckInvariant() error {
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
		return fmt.Errorf("pdpool invariant violated: counters (%d,%d,%d,%d,%d) != histogram (%d,%d,%d,%d,%d)",
			p.available, p.allocated, p.reserved, p.excluded, p.conflict, avail, alloc, resv, excl, conf)
	}
	if avail+alloc+resv+excl+conf != len(p.entries) {
		return fmt.Errorf("pdpool invariant violated: counters sum %d != pool size %d", avail+alloc+resv+excl+conf, len(p.entries))
	}
	return nil
}

func (p *PDPool) probe(prefix net.IP) bool {
	if !p.probeEnabled || p.prober == nil {
		return false
	}
	return p.prober.Ping(prefix, p.probeTimeout)
}

// Contains reports whether prefix/plen is an entry of this pool.
func (p *PDPool) Contains(prefix net.IP, plen int) bool {
	_, ok := p.offsetOf(prefix, plen)
	return ok
}

// SyncFromLeaseStore applies the state mapping of spec §4.6 to IA_PD
// records.
func (p *PDPool) SyncFromLeaseStore(store *lease6.Store) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range store.AllSafe() {
		if l.Kind != lease6.KindIAPD {
			continue
		}
		off, ok := p.offsetOf(l.Prefix, l.PrefixLen)
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

// ReleasePrefix returns an ALLOCATED entry to AVAILABLE, per spec §4.6
// (mirroring `release_ip`).
func (p *PDPool) ReleasePrefix(prefix net.IP, plen int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	off, ok := p.offsetOf(prefix, plen)
	if !ok {
		return fmt.Errorf("%s/%d not in pool range", prefix, plen)
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

// MarkConflict marks prefix/plen CONFLICT.
func (p *PDPool) MarkConflict(prefix net.IP, plen int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	off, ok := p.offsetOf(prefix, plen)
	if !ok {
		return fmt.Errorf("%s/%d not in pool range", prefix, plen)
	}
	p.transitionTo(&p.entries[off], Conflict)
	return nil
}

// AllocateAndCreateLease mirrors IANAPool.AllocateAndCreateLease for
// delegated prefixes, per spec §4.6 ("Allocation mirrors the address pool
// but stores prefix+plen; persistence uses add_ia_pd").
func (p *PDPool) AllocateAndCreateLease(duid string, iaid uint32, requestedPrefix net.IP, requestedPlen int, store *lease6.Store, leaseSecs time.Duration) (l *lease6.Lease, isNew bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	store.Lock()
	if existing := store.FindByDUIDIAID(duid, iaid, lease6.KindIAPD); existing != nil && existing.State == leasestate.Active {
		renewed := store.RenewPrefix(existing.Prefix, existing.PrefixLen, leaseSecs)
		clone := renewed.Clone()
		store.Unlock()
		if off, ok := p.offsetOf(clone.Prefix, clone.PrefixLen); ok {
			p.entries[off].LastAllocated = clone.Start
		}
		if err := store.Append(clone); err != nil {
			return clone, false, err
		}
		return clone, false, nil
	}
	store.Unlock()

	if key, ok := p.reservations[duid]; ok {
		if off, ok := p.index[key]; ok && (p.entries[off].State == Available || p.entries[off].State == Reserved) {
			return p.commitAllocation(p.entries[off].Prefix, p.entries[off].PrefixLen, duid, iaid, store, leaseSecs)
		}
	}

	if requestedPrefix != nil && requestedPlen == p.delegatedPlen {
		if off, ok := p.offsetOf(requestedPrefix, requestedPlen); ok && p.entries[off].State == Available {
			if !p.probeAndMark(off) {
				return p.commitAllocation(p.entries[off].Prefix, p.entries[off].PrefixLen, duid, iaid, store, leaseSecs)
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
		return p.commitAllocation(p.entries[off].Prefix, p.entries[off].PrefixLen, duid, iaid, store, leaseSecs)
	}
	return nil, false, fmt.Errorf("no available delegated prefixes")
}

func (p *PDPool) probeAndMark(off int) bool {
	if !p.probe(p.entries[off].Prefix) {
		return false
	}
	p.transitionTo(&p.entries[off], Conflict)
	return true
}

func (p *PDPool) commitAllocation(prefix net.IP, plen int, duid string, iaid uint32, store *lease6.Store, leaseSecs time.Duration) (*lease6.Lease, bool, error) {
	off, _ := p.offsetOf(prefix, plen)
	e := &p.entries[off]
	p.transitionTo(e, Allocated)
	e.DUID = duid
	e.IAID = iaid
	e.LastAllocated = time.Now()

	store.Lock()
	l := store.AddIAPD(prefix, plen, duid, iaid, leaseSecs)
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
