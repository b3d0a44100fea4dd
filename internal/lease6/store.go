package lease6

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vortexnet/netd/pkg/leasestate"
)

// Store is the DHCPv6 LeaseStore of spec §4.2: IA_NA and IA_PD records
// sharing one file, one coarse lock, and one id generator, mirroring the
// v4 store's shape. Bare methods require the caller to hold the lock;
// `Safe` methods take the lock internally and return clones.
type Store struct {
	mu      sync.Mutex
	path    string
	leases  []*Lease
	byKey   map[string]*Lease // Key() -> lease (address or prefix/plen)
	byDI    map[string]*Lease // DUIDIAIDKey() -> lease
	idIndex map[uint64]*Lease // ID -> lease
	nextID  uint64
}

// NewStore opens path, loading any existing records, per spec §4.2.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:    path,
		byKey:   make(map[string]*Lease),
		byDI:    make(map[string]*Lease),
		idIndex: make(map[uint64]*Lease),
	}
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("loading IPv6 lease database %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }
func (s *Store) Path() string { return s.path }

func (s *Store) GenerateID() uint64 {
	s.nextID++
	return s.nextID
}

// index inserts l, replacing any prior record with the same key — this is
// how load-time duplicates (spec §4.2 "duplicates... overwrite the older
// entry") and runtime re-adds both work. Caller must hold the lock.
func (s *Store) index(l *Lease) {
	key := l.Key()
	if old, ok := s.byKey[key]; ok {
		s.unindex(old)
	}
	s.byKey[key] = l
	s.byDI[l.DUIDIAIDKey()] = l
	s.idIndex[l.ID] = l
	s.leases = append(s.leases, l)
}

func (s *Store) unindex(l *Lease) {
	delete(s.byKey, l.Key())
	if cur, ok := s.byDI[l.DUIDIAIDKey()]; ok && cur.ID == l.ID {
		delete(s.byDI, l.DUIDIAIDKey())
	}
	delete(s.idIndex, l.ID)
	for i, existing := range s.leases {
		if existing.ID == l.ID {
			s.leases = append(s.leases[:i], s.leases[i+1:]...)
			break
		}
	}
}

// FindByID returns the lease with the given internal id. Caller must hold
// the lock.
func (s *Store) FindByID(id uint64) *Lease { return s.idIndex[id] }

// FindByIDSafe returns a clone of the lease with the given internal id.
func (s *Store) FindByIDSafe(id uint64) *Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.idIndex[id]; l != nil {
		return l.Clone()
	}
	return nil
}

// FindByIP returns the IA_NA lease for ip. Caller must hold the lock.
func (s *Store) FindByIP(ip net.IP) *Lease { return s.byKey[ip.String()] }

// FindByPrefix returns the IA_PD lease for prefix/plen. Caller must hold
// the lock.
func (s *Store) FindByPrefix(prefix net.IP, plen int) *Lease {
	return s.byKey[fmt.Sprintf("%s/%d", prefix, plen)]
}

// FindByDUIDIAID returns the lease of the given kind for duid/iaid, or nil.
// Caller must hold the lock.
func (s *Store) FindByDUIDIAID(duid string, iaid uint32, kind Kind) *Lease {
	return s.byDI[fmt.Sprintf("%s|%d|%s", duid, iaid, kind)]
}

func (s *Store) FindByIPSafe(ip net.IP) *Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.byKey[ip.String()]; l != nil {
		return l.Clone()
	}
	return nil
}

func (s *Store) FindByPrefixSafe(prefix net.IP, plen int) *Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.FindByPrefix(prefix, plen); l != nil {
		return l.Clone()
	}
	return nil
}

func (s *Store) FindByDUIDIAIDSafe(duid string, iaid uint32, kind Kind) *Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.FindByDUIDIAID(duid, iaid, kind); l != nil {
		return l.Clone()
	}
	return nil
}

func (s *Store) CountSafe() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leases)
}

func (s *Store) AllSafe() []*Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Lease, len(s.leases))
	for i, l := range s.leases {
		out[i] = l.Clone()
	}
	return out
}

// AddIANA creates a new ACTIVE IA_NA lease, per spec §4.2 `add_ia_na`.
// Caller must hold the lock.
func (s *Store) AddIANA(ip net.IP, duid string, iaid uint32, leaseSecs time.Duration) *Lease {
	now := time.Now()
	l := &Lease{
		ID:                 s.GenerateID(),
		Kind:               KindIANA,
		IP:                 append(net.IP(nil), ip...),
		DUID:               duid,
		IAID:               iaid,
		Start:              now,
		End:                now.Add(leaseSecs),
		Tstp:               now,
		Cltt:               now,
		State:              leasestate.Active,
		NextBindingState:   leasestate.Free,
		RewindBindingState: leasestate.Free,
	}
	s.index(l)
	return l
}

// AddIAPD creates a new ACTIVE IA_PD lease, per spec §4.2 `add_ia_pd`.
// Caller must hold the lock.
func (s *Store) AddIAPD(prefix net.IP, plen int, duid string, iaid uint32, leaseSecs time.Duration) *Lease {
	now := time.Now()
	l := &Lease{
		ID:                 s.GenerateID(),
		Kind:               KindIAPD,
		Prefix:             append(net.IP(nil), prefix...),
		PrefixLen:          plen,
		DUID:               duid,
		IAID:               iaid,
		Start:              now,
		End:                now.Add(leaseSecs),
		Tstp:               now,
		Cltt:               now,
		State:              leasestate.Active,
		NextBindingState:   leasestate.Free,
		RewindBindingState: leasestate.Free,
	}
	s.index(l)
	return l
}

func (s *Store) AddIANASafe(ip net.IP, duid string, iaid uint32, leaseSecs time.Duration) (*Lease, error) {
	s.mu.Lock()
	l := s.AddIANA(ip, duid, iaid, leaseSecs)
	clone := l.Clone()
	s.mu.Unlock()
	if err := s.Append(clone); err != nil {
		return clone, err
	}
	return clone, nil
}

func (s *Store) AddIAPDSafe(prefix net.IP, plen int, duid string, iaid uint32, leaseSecs time.Duration) (*Lease, error) {
	s.mu.Lock()
	l := s.AddIAPD(prefix, plen, duid, iaid, leaseSecs)
	clone := l.Clone()
	s.mu.Unlock()
	if err := s.Append(clone); err != nil {
		return clone, err
	}
	return clone, nil
}

// ReleaseIP marks the IA_NA lease for ip RELEASED, per spec §4.2
// `release_ip`. Caller must hold the lock.
func (s *Store) ReleaseIP(ip net.IP) bool {
	l := s.byKey[ip.String()]
	if l == nil {
		return false
	}
	now := time.Now()
	l.State = leasestate.Released
	l.End = now
	l.Tstp = now
	l.Cltt = now
	return true
}

// ReleasePrefix marks the IA_PD lease for prefix/plen RELEASED, per spec
// §4.2 `release_prefix`. Caller must hold the lock.
func (s *Store) ReleasePrefix(prefix net.IP, plen int) bool {
	l := s.FindByPrefix(prefix, plen)
	if l == nil {
		return false
	}
	now := time.Now()
	l.State = leasestate.Released
	l.End = now
	l.Tstp = now
	l.Cltt = now
	return true
}

func (s *Store) ReleaseIPSafe(ip net.IP) error {
	s.mu.Lock()
	ok := s.ReleaseIP(ip)
	var clone *Lease
	if ok {
		clone = s.byKey[ip.String()].Clone()
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Append(clone)
}

func (s *Store) ReleasePrefixSafe(prefix net.IP, plen int) error {
	s.mu.Lock()
	ok := s.ReleasePrefix(prefix, plen)
	var clone *Lease
	if ok {
		clone = s.FindByPrefix(prefix, plen).Clone()
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Append(clone)
}

// RenewIP refreshes start/end/cltt and returns the IA_NA lease to ACTIVE,
// per spec §4.2 `renew_ip`. Caller must hold the lock.
func (s *Store) RenewIP(ip net.IP, leaseSecs time.Duration) *Lease {
	l := s.byKey[ip.String()]
	if l == nil {
		return nil
	}
	now := time.Now()
	l.Start = now
	l.End = now.Add(leaseSecs)
	l.Cltt = now
	l.State = leasestate.Active
	return l
}

// RenewPrefix is the IA_PD analog of RenewIP, per spec §4.2 `renew_prefix`.
// Caller must hold the lock.
func (s *Store) RenewPrefix(prefix net.IP, plen int, leaseSecs time.Duration) *Lease {
	l := s.FindByPrefix(prefix, plen)
	if l == nil {
		return nil
	}
	now := time.Now()
	l.Start = now
	l.End = now.Add(leaseSecs)
	l.Cltt = now
	l.State = leasestate.Active
	return l
}

func (s *Store) RenewIPSafe(ip net.IP, leaseSecs time.Duration) (*Lease, error) {
	s.mu.Lock()
	l := s.RenewIP(ip, leaseSecs)
	var clone *Lease
	if l != nil {
		clone = l.Clone()
	}
	s.mu.Unlock()
	if clone == nil {
		return nil, nil
	}
	return clone, s.Append(clone)
}

func (s *Store) RenewPrefixSafe(prefix net.IP, plen int, leaseSecs time.Duration) (*Lease, error) {
	s.mu.Lock()
	l := s.RenewPrefix(prefix, plen, leaseSecs)
	var clone *Lease
	if l != nil {
		clone = l.Clone()
	}
	s.mu.Unlock()
	if clone == nil {
		return nil, nil
	}
	return clone, s.Append(clone)
}

// MarkExpiredOlder scans all ACTIVE leases and flips any with end < now to
// EXPIRED, per spec §4.2 `mark_expired_older`. Caller must hold the lock.
func (s *Store) MarkExpiredOlder() int {
	now := time.Now()
	n := 0
	for _, l := range s.leases {
		if l.State == leasestate.Active && l.End.Before(now) {
			l.State = leasestate.Expired
			l.Tstp = now
			n++
		}
	}
	return n
}

// Cleanup removes EXPIRED/RELEASED records in place, preserving order, per
// spec §4.2 `cleanup`. Caller must hold the lock.
func (s *Store) Cleanup() int {
	kept := s.leases[:0:0]
	removed := 0
	for _, l := range s.leases {
		if l.State == leasestate.Expired || l.State == leasestate.Released {
			delete(s.byKey, l.Key())
			if cur, ok := s.byDI[l.DUIDIAIDKey()]; ok && cur.ID == l.ID {
				delete(s.byDI, l.DUIDIAIDKey())
			}
			delete(s.idIndex, l.ID)
			removed++
			continue
		}
		kept = append(kept, l)
	}
	s.leases = kept
	return removed
}

// MarkReserved sets a lease's state to RESERVED, per spec §4.2
// `mark_reserved`. Caller must hold the lock.
func (s *Store) MarkReserved(id uint64) error {
	l := s.idIndex[id]
	if l == nil {
		return fmt.Errorf("no lease with id %d", id)
	}
	l.State = leasestate.Reserved
	return nil
}

// MarkConflict sets a lease's state to ABANDONED, per spec §4.2
// `mark_conflict (sets ABANDONED)`. Caller must hold the lock.
func (s *Store) MarkConflict(id uint64) error {
	l := s.idIndex[id]
	if l == nil {
		return fmt.Errorf("no lease with id %d", id)
	}
	l.State = leasestate.Abandoned
	return nil
}

// SetState sets a lease's state directly, per spec §4.2 `set_state`.
// Caller must hold the lock.
func (s *Store) SetState(id uint64, state leasestate.State) error {
	l := s.idIndex[id]
	if l == nil {
		return fmt.Errorf("no lease with id %d", id)
	}
	l.State = state
	return nil
}

// Load reads the ISC-format IPv6 lease file into memory, skipping malformed
// blocks, per spec §4.2.
func (s *Store) Load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "authoring-byte-order") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "lease "):
			ipStr, block, err := readBlock6(line, scanner, 2)
			if err != nil {
				continue
			}
			l, err := parseIANABlock(ipStr, block)
			if err != nil {
				continue
			}
			l.ID = s.nextID + 1
			s.nextID++
			s.index(l)
		case strings.HasPrefix(line, "prefix "):
			keyStr, block, err := readBlock6(line, scanner, 2)
			if err != nil {
				continue
			}
			l, err := parseIAPDBlock(keyStr, block)
			if err != nil {
				continue
			}
			l.ID = s.nextID + 1
			s.nextID++
			s.index(l)
		}
	}
	return scanner.Err()
}

// readBlock6 consumes a "<kw> <key> {" header and the lines up to the
// matching closing brace.
func readBlock6(header string, scanner *bufio.Scanner, keyField int) (key string, lines []string, err error) {
	fields := strings.Fields(header)
	if len(fields) < 3 || fields[keyField] != "{" {
		return "", nil, fmt.Errorf("malformed block header %q", header)
	}
	key = fields[1]
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "}" {
			return key, lines, nil
		}
		lines = append(lines, line)
	}
	return "", nil, fmt.Errorf("unterminated block for %s", key)
}

func parseIANABlock(ipStr string, lines []string) (*Lease, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, fmt.Errorf("bad lease ipv6 %q", ipStr)
	}
	l := &Lease{Kind: KindIANA, IP: ip, NextBindingState: leasestate.Free, RewindBindingState: leasestate.Free}
	if err := parseCommonBlockLines(l, lines); err != nil {
		return nil, err
	}
	if l.DUID == "" {
		return nil, fmt.Errorf("lease %s missing duid", ipStr)
	}
	return l, nil
}

func parseIAPDBlock(keyStr string, lines []string) (*Lease, error) {
	parts := strings.SplitN(keyStr, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("bad prefix key %q", keyStr)
	}
	prefix := net.ParseIP(parts[0])
	if prefix == nil {
		return nil, fmt.Errorf("bad prefix ipv6 %q", parts[0])
	}
	plen, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("bad prefix length %q: %w", parts[1], err)
	}
	l := &Lease{Kind: KindIAPD, Prefix: prefix, PrefixLen: plen, NextBindingState: leasestate.Free, RewindBindingState: leasestate.Free}
	if err := parseCommonBlockLines(l, lines); err != nil {
		return nil, err
	}
	if l.DUID == "" {
		return nil, fmt.Errorf("prefix %s missing duid", keyStr)
	}
	return l, nil
}

func parseCommonBlockLines(l *Lease, lines []string) error {
	for _, raw := range lines {
		line := strings.TrimSuffix(strings.TrimSpace(raw), ";")
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "starts "):
			if t, err := parseTime(strings.TrimPrefix(line, "starts ")); err == nil {
				l.Start = t
			}
		case strings.HasPrefix(line, "ends "):
			if t, err := parseTime(strings.TrimPrefix(line, "ends ")); err == nil {
				l.End = t
			}
		case strings.HasPrefix(line, "tstp "):
			if t, err := parseTime(strings.TrimPrefix(line, "tstp ")); err == nil {
				l.Tstp = t
			}
		case strings.HasPrefix(line, "cltt "):
			if t, err := parseTime(strings.TrimPrefix(line, "cltt ")); err == nil {
				l.Cltt = t
			}
		case strings.HasPrefix(line, "duid "):
			l.DUID = unquote6(strings.TrimPrefix(line, "duid "))
		case strings.HasPrefix(line, "iaid "):
			v, err := strconv.ParseUint(strings.TrimPrefix(line, "iaid "), 10, 32)
			if err == nil {
				l.IAID = uint32(v)
			}
		case strings.HasPrefix(line, "next binding state "):
			l.NextBindingState = leasestate.Parse(strings.TrimPrefix(line, "next binding state "))
		case strings.HasPrefix(line, "rewind binding state "):
			l.RewindBindingState = leasestate.Parse(strings.TrimPrefix(line, "rewind binding state "))
		case strings.HasPrefix(line, "binding state "):
			l.State = leasestate.Parse(strings.TrimPrefix(line, "binding state "))
		default:
			// unknown key: skip per spec §4.2
		}
	}
	return nil
}

func unquote6(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// Save performs a full atomic rewrite, identical in shape to the v4 store's
// Save, per spec §4.1/§4.2/§6.
func (s *Store) Save() error {
	s.mu.Lock()
	leases := make([]*Lease, len(s.leases))
	copy(leases, s.leases)
	s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("opening temp IPv6 lease file %s: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# DHCPv6 lease database")
	fmt.Fprintln(w, "authoring-byte-order little-endian;")
	for _, l := range leases {
		if l.State == leasestate.Free {
			continue
		}
		writeLeaseBlock6(w, l)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing temp IPv6 lease file %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsyncing temp IPv6 lease file %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp IPv6 lease file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmp, s.path, err)
	}
	if dir, err := os.Open(filepath.Dir(s.path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}

// Append writes a single record to the end of the lease file, per spec
// §4.2's shared `append(lease)` path.
func (s *Store) Append(l *Lease) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening IPv6 lease file for append %s: %w", s.path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	writeLeaseBlock6(w, l)
	if err := w.Flush(); err != nil {
		return fmt.Errorf("appending IPv6 lease record to %s: %w", s.path, err)
	}
	return f.Sync()
}

func writeLeaseBlock6(w *bufio.Writer, l *Lease) {
	if l.Kind == KindIAPD {
		fmt.Fprintf(w, "prefix %s/%d {\n", l.Prefix, l.PrefixLen)
	} else {
		fmt.Fprintf(w, "lease %s {\n", l.IP)
	}
	fmt.Fprintf(w, "  starts %s;\n", formatTime(l.Start))
	fmt.Fprintf(w, "  ends %s;\n", formatTime(l.End))
	fmt.Fprintf(w, "  tstp %s;\n", formatTime(l.Tstp))
	fmt.Fprintf(w, "  cltt %s;\n", formatTime(l.Cltt))
	fmt.Fprintf(w, "  duid \"%s\";\n", l.DUID)
	fmt.Fprintf(w, "  iaid %d;\n", l.IAID)
	fmt.Fprintf(w, "  binding state %s;\n", l.State)
	fmt.Fprintf(w, "  next binding state %s;\n", l.NextBindingState)
	fmt.Fprintf(w, "  rewind binding state %s;\n", l.RewindBindingState)
	fmt.Fprintln(w, "}")
}
