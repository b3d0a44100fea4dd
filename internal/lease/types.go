// Package lease implements the DHCPv4 lease database: an in-memory lease
// table backed by an ISC-dhcpd-compatible on-disk line format, a bounded
// async I/O queue, and a background expiration sweep.
package lease

import (
	"fmt"
	"net"
	"time"

	"github.com/vortexnet/netd/pkg/leasestate"
)

// Lease is a single DHCPv4 binding (spec §3, "Lease (v4)").
type Lease struct {
	ID                 uint64
	IP                 net.IP
	MAC                net.HardwareAddr
	Start              time.Time
	End                time.Time
	Tstp               time.Time // time the state was last changed
	Cltt               time.Time // client last transaction time
	State              leasestate.State
	NextBindingState   leasestate.State
	RewindBindingState leasestate.State
	ClientID           string // option 61, raw bytes; octal-escaped only in the lease file
	Hostname           string
	VendorClassID      string
	IsAbandoned        bool
	IsBootp            bool
}

// Expired reports whether the lease is logically expired: ACTIVE with an
// end time in the past (spec §3: "a lease is expired() iff state = ACTIVE
// ∧ end_time < now").
func (l *Lease) Expired() bool {
	return l.State == leasestate.Active && l.End.Before(time.Now())
}

// Validate checks the invariants spec §3/§8 require of every lease:
// end_time ≥ start_time, lease_id ≠ 0, and (if ACTIVE) end_time > start_time.
func (l *Lease) Validate() error {
	if l.ID == 0 {
		return fmt.Errorf("lease for %s has zero id", l.IP)
	}
	if l.End.Before(l.Start) {
		return fmt.Errorf("lease %d: end %s before start %s", l.ID, l.End, l.Start)
	}
	if l.State == leasestate.Active && !l.End.After(l.Start) {
		return fmt.Errorf("lease %d: active lease must have end > start", l.ID)
	}
	return nil
}

// Clone returns a deep copy, used by the `_safe` (copy-returning) accessors.
func (l *Lease) Clone() *Lease {
	c := *l
	if l.IP != nil {
		c.IP = append(net.IP(nil), l.IP...)
	}
	if l.MAC != nil {
		c.MAC = append(net.HardwareAddr(nil), l.MAC...)
	}
	return &c
}
