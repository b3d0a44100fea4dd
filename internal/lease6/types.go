// Package lease6 implements the DHCPv6 LeaseStore of spec §4.2: the same
// shape as the v4 store, generalized to two record kinds — IA_NA address
// leases and IA_PD delegated-prefix leases — keyed by DUID+IAID as well as
// by address/prefix.
package lease6

import (
	"fmt"
	"net"
	"time"

	"github.com/vortexnet/netd/pkg/leasestate"
)

// Kind distinguishes an IA_NA address lease from an IA_PD prefix lease.
type Kind int

const (
	KindIANA Kind = iota
	KindIAPD
)

func (k Kind) String() string {
	if k == KindIAPD {
		return "IA_PD"
	}
	return "IA_NA"
}

// Lease is one IA_NA or IA_PD record, per spec §4.2.
type Lease struct {
	ID        uint64
	Kind      Kind
	IP        net.IP // set for KindIANA
	Prefix    net.IP // set for KindIAPD
	PrefixLen int    // set for KindIAPD

	DUID string // hex, colon-separated
	IAID uint32

	Start              time.Time
	End                time.Time
	Tstp               time.Time
	Cltt               time.Time
	State              leasestate.State
	NextBindingState   leasestate.State
	RewindBindingState leasestate.State
}

// Key returns the address or prefix/plen string that identifies this record
// in the store's primary index.
func (l *Lease) Key() string {
	if l.Kind == KindIAPD {
		return fmt.Sprintf("%s/%d", l.Prefix, l.PrefixLen)
	}
	return l.IP.String()
}

// DUIDIAIDKey returns the composite key used by find_by_duid_iaid.
func (l *Lease) DUIDIAIDKey() string {
	return fmt.Sprintf("%s|%d|%s", l.DUID, l.IAID, l.Kind)
}

// Expired reports whether an ACTIVE lease's end time has passed.
func (l *Lease) Expired() bool {
	return l.State == leasestate.Active && l.End.Before(time.Now())
}

// Clone returns a deep copy safe to hand to a caller outside the lock.
func (l *Lease) Clone() *Lease {
	c := *l
	if l.IP != nil {
		c.IP = append(net.IP(nil), l.IP...)
	}
	if l.Prefix != nil {
		c.Prefix = append(net.IP(nil), l.Prefix...)
	}
	return &c
}
