package lease

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vortexnet/netd/pkg/leasestate"
)

// Store is the LeaseStore of spec §4.1: a sequence of leases with no
// capacity limit (Add never refuses a lease for lack of room), a
// path, and a monotonically increasing lease-id generator, protected by one
// coarse lock. Bare methods require the caller to hold the lock (Lock/
// Unlock); the `Safe` suffix methods take the lock internally and return
// clones, per spec's "_safe variant of each mutator" convention.
type Store struct {
	mu       sync.Mutex
	path     string
	leases   []*Lease
	byIP     map[string]*Lease
	byMAC    map[string]*Lease
	byID     map[uint64]*Lease
	nextID   uint64
}

// NewStore opens path, loading any existing lease records, per spec §4.1
// `init(path)`.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:  path,
		byIP:  make(map[string]*Lease),
		byMAC: make(map[string]*Lease),
		byID:  make(map[uint64]*Lease),
	}
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("loading lease database %s: %w", path, err)
	}
	return s, nil
}

// Lock acquires the coarse store lock for bare-method use.
func (s *Store) Lock() { s.mu.Lock() }

// Unlock releases the coarse store lock.
func (s *Store) Unlock() { s.mu.Unlock() }

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// GenerateID returns the next monotonic lease id. Caller must hold the lock.
func (s *Store) GenerateID() uint64 {
	s.nextID++
	return s.nextID
}

// index adds l to the in-memory indexes, replacing any prior entry with the
// same IP. Caller must hold the lock.
func (s *Store) index(l *Lease) {
	ipKey := l.IP.String()
	if old, ok := s.byIP[ipKey]; ok {
		s.unindex(old)
	}
	s.byIP[ipKey] = l
	if l.MAC != nil {
		s.byMAC[l.MAC.String()] = l
	}
	s.byID[l.ID] = l
	s.leases = append(s.leases, l)
}

// unindex removes l from the in-memory indexes and the ordered slice.
// Caller must hold the lock.
func (s *Store) unindex(l *Lease) {
	delete(s.byIP, l.IP.String())
	if l.MAC != nil {
		if cur, ok := s.byMAC[l.MAC.String()]; ok && cur.ID == l.ID {
			delete(s.byMAC, l.MAC.String())
		}
	}
	delete(s.byID, l.ID)
	for i, existing := range s.leases {
		if existing.ID == l.ID {
			s.leases = append(s.leases[:i], s.leases[i+1:]...)
			break
		}
	}
}

// FindByID returns the lease with the given id, or nil. Caller must hold
// the lock; the returned pointer is valid only while the lock is held.
func (s *Store) FindByID(id uint64) *Lease { return s.byID[id] }

// FindByIP returns the lease for ip, or nil. Caller must hold the lock.
func (s *Store) FindByIP(ip net.IP) *Lease { return s.byIP[ip.String()] }

// FindByMAC returns the lease for mac, or nil. Caller must hold the lock.
func (s *Store) FindByMAC(mac net.HardwareAddr) *Lease { return s.byMAC[mac.String()] }

// FindByIDSafe, FindByIPSafe, FindByMACSafe take the lock internally and
// return a clone.
func (s *Store) FindByIDSafe(id uint64) *Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.byID[id]; l != nil {
		return l.Clone()
	}
	return nil
}

func (s *Store) FindByIPSafe(ip net.IP) *Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.byIP[ip.String()]; l != nil {
		return l.Clone()
	}
	return nil
}

func (s *Store) FindByMACSafe(mac net.HardwareAddr) *Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.byMAC[mac.String()]; l != nil {
		return l.Clone()
	}
	return nil
}

// CountSafe returns the number of leases currently tracked.
func (s *Store) CountSafe() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leases)
}

// AllSafe returns clones of every lease.
func (s *Store) AllSafe() []*Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Lease, len(s.leases))
	for i, l := range s.leases {
		out[i] = l.Clone()
	}
	return out
}

// Add creates a new ACTIVE lease for ip/mac with the given lease duration,
// per spec §4.1 `add`. Caller must hold the lock.
func (s *Store) Add(ip net.IP, mac net.HardwareAddr, leaseSecs time.Duration) *Lease {
	now := time.Now()
	l := &Lease{
		ID:                 s.GenerateID(),
		IP:                 append(net.IP(nil), ip...),
		MAC:                append(net.HardwareAddr(nil), mac...),
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

// AddSafe takes the lock, calls Add, appends the record, and returns a
// clone.
func (s *Store) AddSafe(ip net.IP, mac net.HardwareAddr, leaseSecs time.Duration) (*Lease, error) {
	s.mu.Lock()
	l := s.Add(ip, mac, leaseSecs)
	clone := l.Clone()
	s.mu.Unlock()
	if err := s.Append(clone); err != nil {
		return clone, err
	}
	return clone, nil
}

// Release marks the lease for ip RELEASED, per spec §4.1 `release`. Caller
// must hold the lock. Returns false if no such lease exists.
func (s *Store) Release(ip net.IP) bool {
	l := s.byIP[ip.String()]
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

// ReleaseSafe takes the lock, releases, and persists.
func (s *Store) ReleaseSafe(ip net.IP) error {
	s.mu.Lock()
	ok := s.Release(ip)
	var clone *Lease
	if ok {
		clone = s.byIP[ip.String()].Clone()
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Append(clone)
}

// Renew refreshes start/end/cltt and returns the lease to ACTIVE, per spec
// §4.1 `renew`. Caller must hold the lock. Returns nil if no such lease
// exists.
func (s *Store) Renew(ip net.IP, leaseSecs time.Duration) *Lease {
	l := s.byIP[ip.String()]
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

// RenewSafe takes the lock, renews, persists, and returns a clone.
func (s *Store) RenewSafe(ip net.IP, leaseSecs time.Duration) (*Lease, error) {
	s.mu.Lock()
	l := s.Renew(ip, leaseSecs)
	var clone *Lease
	if l != nil {
		clone = l.Clone()
	}
	s.mu.Unlock()
	if clone == nil {
		return nil, nil
	}
	if err := s.Append(clone); err != nil {
		return clone, err
	}
	return clone, nil
}

// ExpireOld scans all ACTIVE leases and flips any with end < now to
// EXPIRED, per spec §4.1 `expire_old`. Returns the count flipped. Caller
// must hold the lock.
func (s *Store) ExpireOld() int {
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

// CleanupExpired removes EXPIRED/RELEASED leases in place, preserving
// order, per spec §4.1 `cleanup_expired`. Returns the count removed.
// Caller must hold the lock.
func (s *Store) CleanupExpired() int {
	kept := s.leases[:0:0]
	removed := 0
	for _, l := range s.leases {
		if l.State == leasestate.Expired || l.State == leasestate.Released {
			delete(s.byIP, l.IP.String())
			if l.MAC != nil {
				if cur, ok := s.byMAC[l.MAC.String()]; ok && cur.ID == l.ID {
					delete(s.byMAC, l.MAC.String())
				}
			}
			delete(s.byID, l.ID)
			removed++
			continue
		}
		kept = append(kept, l)
	}
	s.leases = kept
	return removed
}

// Print renders the whole store for diagnostics, per spec §4.1 `print`.
func (s *Store) Print() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, l := range s.leases {
		fmt.Fprintf(&b, "%s %s %s\n", l.IP, l.MAC, l.State)
	}
	return b.String()
}

// Load reads the ISC-format lease file at s.path into memory, skipping
// malformed blocks rather than failing. Skipped blocks are dropped
// silently: no warning is logged and no count of them is kept. Missing
// file is not an error — a fresh store starts empty.
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
	var maxID uint64
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "authoring-byte-order") {
			continue
		}
		if !strings.HasPrefix(line, "lease ") {
			continue
		}
		ipStr, block, rest, err := readBlock(line, scanner)
		_ = rest
		if err != nil {
			continue // skip malformed block
		}
		l, err := parseLeaseBlock(ipStr, block)
		if err != nil {
			continue // skip malformed block
		}
		l.ID = s.nextID + 1
		s.nextID++
		if l.ID > maxID {
			maxID = l.ID
		}
		s.index(l)
	}
	return scanner.Err()
}

// readBlock consumes a "lease <ip> {" header line plus the scanner lines up
// to the matching closing brace, returning the ip string and the raw block
// lines.
func readBlock(header string, scanner *bufio.Scanner) (ip string, lines []string, rest string, err error) {
	fields := strings.Fields(header)
	if len(fields) < 3 || fields[2] != "{" {
		return "", nil, "", fmt.Errorf("malformed lease header %q", header)
	}
	ip = fields[1]
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "}" {
			return ip, lines, "", nil
		}
		lines = append(lines, line)
	}
	return "", nil, "", fmt.Errorf("unterminated lease block for %s", ip)
}

// parseLeaseBlock turns the raw lines of a `lease <ip> { ... }` block into
// a Lease, per the recognized block keys in spec §4.1.
func parseLeaseBlock(ipStr string, lines []string) (*Lease, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, fmt.Errorf("bad lease ip %q", ipStr)
	}
	l := &Lease{IP: ip, NextBindingState: leasestate.Free, RewindBindingState: leasestate.Free}
	for _, raw := range lines {
		line := strings.TrimSuffix(strings.TrimSpace(raw), ";")
		if line == "" {
			continue
		}
		switch {
		case line == "abandoned":
			l.IsAbandoned = true
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
		case strings.HasPrefix(line, "hardware ethernet "):
			macStr := strings.TrimPrefix(line, "hardware ethernet ")
			if mac, err := net.ParseMAC(macStr); err == nil {
				l.MAC = mac
			}
		case strings.HasPrefix(line, "uid "):
			l.ClientID = unescapeOctal(unquote(strings.TrimPrefix(line, "uid ")))
		case strings.HasPrefix(line, "client-hostname "):
			l.Hostname = unquote(strings.TrimPrefix(line, "client-hostname "))
		case strings.HasPrefix(line, "vendor-class-identifier "):
			l.VendorClassID = unquote(strings.TrimPrefix(line, "vendor-class-identifier "))
		case strings.HasPrefix(line, "next binding state "):
			l.NextBindingState = leasestate.Parse(strings.TrimPrefix(line, "next binding state "))
		case strings.HasPrefix(line, "rewind binding state "):
			l.RewindBindingState = leasestate.Parse(strings.TrimPrefix(line, "rewind binding state "))
		case strings.HasPrefix(line, "binding state "):
			l.State = leasestate.Parse(strings.TrimPrefix(line, "binding state "))
		default:
			// unknown key: skip per spec §4.1
		}
	}
	if l.MAC == nil {
		return nil, fmt.Errorf("lease %s missing hardware ethernet", ipStr)
	}
	return l, nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// Save performs a full atomic rewrite of the lease file: write to
// "<path>.tmp", fsync, rename, fsync the directory, per spec §4.1/§6.
// On failure the in-memory state and the existing on-disk file are
// untouched.
func (s *Store) Save() error {
	s.mu.Lock()
	leases := make([]*Lease, len(s.leases))
	copy(leases, s.leases)
	s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("opening temp lease file %s: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# DHCPv4 lease database")
	fmt.Fprintln(w, "authoring-byte-order little-endian;")
	for _, l := range leases {
		if l.State == leasestate.Free {
			continue
		}
		writeLeaseBlock(w, l)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing temp lease file %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsyncing temp lease file %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp lease file %s: %w", tmp, err)
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

// Append writes a single lease record to the end of the lease file without
// rewriting it, per spec §4.1 `append(lease)` — the append-log path used
// between full rewrites.
func (s *Store) Append(l *Lease) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening lease file for append %s: %w", s.path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	writeLeaseBlock(w, l)
	if err := w.Flush(); err != nil {
		return fmt.Errorf("appending lease record to %s: %w", s.path, err)
	}
	return f.Sync()
}

func writeLeaseBlock(w *bufio.Writer, l *Lease) {
	fmt.Fprintf(w, "lease %s {\n", l.IP)
	fmt.Fprintf(w, "  starts %s;\n", formatTime(l.Start))
	fmt.Fprintf(w, "  ends %s;\n", formatTime(l.End))
	fmt.Fprintf(w, "  tstp %s;\n", formatTime(l.Tstp))
	fmt.Fprintf(w, "  cltt %s;\n", formatTime(l.Cltt))
	fmt.Fprintf(w, "  hardware ethernet %s;\n", l.MAC)
	if l.ClientID != "" {
		fmt.Fprintf(w, "  uid \"%s\";\n", escapeOctal(l.ClientID))
	}
	if l.Hostname != "" {
		fmt.Fprintf(w, "  client-hostname \"%s\";\n", l.Hostname)
	}
	if l.VendorClassID != "" {
		fmt.Fprintf(w, "  vendor-class-identifier \"%s\";\n", l.VendorClassID)
	}
	fmt.Fprintf(w, "  binding state %s;\n", l.State)
	fmt.Fprintf(w, "  next binding state %s;\n", l.NextBindingState)
	fmt.Fprintf(w, "  rewind binding state %s;\n", l.RewindBindingState)
	if l.IsAbandoned {
		fmt.Fprintln(w, "  abandoned;")
	}
	fmt.Fprintln(w, "}")
}
