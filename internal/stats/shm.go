// Package stats implements the StatsExporter of spec §4.13: a
// fixed-layout struct mapped into POSIX named shared memory, updated by
// the server with machine atomics and read by external dashboards
// without synchronization. Grounded on the original DHCPv4 server's
// shm_stats.h layout (time_t start_time; u64 pkt_received, pkt_processed,
// leases_active, errors_count;), reimplemented over golang.org/x/sys/unix's
// mmap/open bindings rather than cgo shm_open, since Linux's shm_open is
// itself just open() under /dev/shm.
package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// layout mirrors struct server_v4_stats_t / server_v6_stats_t: a 64-bit
// start_time followed by four 64-bit atomic counters, plus a fifth
// counter (pkt_dropped) appended after them, 48 bytes total.
// The fields are accessed only through atomic.*64 on their addresses;
// the struct itself is never copied as a value.
type layout struct {
	startTime    int64
	pktReceived  uint64
	pktProcessed uint64
	leasesActive uint64
	errorsCount  uint64
	pktDropped   uint64
}

const layoutSize = int(unsafe.Sizeof(layout{}))

// Exporter owns one mapped shared-memory region.
type Exporter struct {
	fd   int
	mem  []byte
	data *layout
}

// Open maps the named shared-memory region read-write, creating it if
// absent, and stamps start_time to now. name should be the POSIX shm
// name used by the original server, e.g. "/dhcpv4_stats" or
// "/dhcpv6_stats"; Linux shm objects live under /dev/shm so the leading
// slash is stripped into a plain filename there.
func Open(name string) (*Exporter, error) {
	path := filepath.Join("/dev/shm", filepath.Base(name))

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("stats: opening %s: %w", path, err)
	}

	if err := unix.Ftruncate(fd, int64(layoutSize)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stats: sizing %s: %w", path, err)
	}

	mem, err := unix.Mmap(fd, 0, layoutSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stats: mmap %s: %w", path, err)
	}

	e := &Exporter{
		fd:   fd,
		mem:  mem,
		data: (*layout)(unsafe.Pointer(&mem[0])),
	}
	atomic.StoreInt64(&e.data.startTime, time.Now().Unix())
	return e, nil
}

// IncPacketsReceived bumps pkt_received, called on every recvfrom
// success per spec §4.13.
func (e *Exporter) IncPacketsReceived() {
	atomic.AddUint64(&e.data.pktReceived, 1)
}

// IncPacketsProcessed bumps pkt_processed, called on every successful
// state-machine run.
func (e *Exporter) IncPacketsProcessed() {
	atomic.AddUint64(&e.data.pktProcessed, 1)
}

// AddActiveLeases applies a signed delta to leases_active on lease
// creation (+1) or release (-1).
func (e *Exporter) AddActiveLeases(delta int64) {
	if delta >= 0 {
		atomic.AddUint64(&e.data.leasesActive, uint64(delta))
		return
	}
	atomic.AddUint64(&e.data.leasesActive, ^uint64(-delta-1))
}

// SetActiveLeases overwrites leases_active outright. Nothing in this
// module calls it; the daemons keep leases_active through AddActiveLeases.
func (e *Exporter) SetActiveLeases(n uint64) {
	atomic.StoreUint64(&e.data.leasesActive, n)
}

// IncErrors bumps errors_count.
func (e *Exporter) IncErrors() {
	atomic.AddUint64(&e.data.errorsCount, 1)
}

// IncDropped bumps pkt_dropped, called when the worker pool's task queue
// rejects a packet because it is full. Operations dropped by a full lease
// AsyncIOQueue are counted only by that queue's own Dropped counter.
func (e *Exporter) IncDropped() {
	atomic.AddUint64(&e.data.pktDropped, 1)
}

// Snapshot is a point-in-time, synchronization-free copy of the
// shared-memory fields, used by both the dashboard monitor and the
// Prometheus mirror.
type Snapshot struct {
	StartTime    time.Time
	PktReceived  uint64
	PktProcessed uint64
	LeasesActive uint64
	ErrorsCount  uint64
	PktDropped   uint64
}

// Read loads a Snapshot from the exporter's own mapped memory.
func (e *Exporter) Read() Snapshot {
	return readLayout(e.data)
}

func readLayout(d *layout) Snapshot {
	return Snapshot{
		StartTime:    time.Unix(atomic.LoadInt64(&d.startTime), 0),
		PktReceived:  atomic.LoadUint64(&d.pktReceived),
		PktProcessed: atomic.LoadUint64(&d.pktProcessed),
		LeasesActive: atomic.LoadUint64(&d.leasesActive),
		ErrorsCount:  atomic.LoadUint64(&d.errorsCount),
		PktDropped:   atomic.LoadUint64(&d.pktDropped),
	}
}

// Close unmaps the region and closes the backing file descriptor. The
// shared-memory object itself is left in /dev/shm for a subsequent
// monitor to still observe the last-written values.
func (e *Exporter) Close() error {
	if err := unix.Munmap(e.mem); err != nil {
		return fmt.Errorf("stats: munmap: %w", err)
	}
	return unix.Close(e.fd)
}

// Unlink removes the named shared-memory object from /dev/shm entirely.
// Call this only on final server shutdown, not on a routine Close.
func Unlink(name string) error {
	path := filepath.Join("/dev/shm", filepath.Base(name))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stats: unlinking %s: %w", path, err)
	}
	return nil
}

// OpenReadOnly maps an existing shared-memory region read-only, for the
// monitor CLI (spec §6 "opens /dhcpv4_stats or /dhcpv6_stats, mmaps
// read-only"). It errors if the region does not already exist.
func OpenReadOnly(name string) (*ReadOnlyExporter, error) {
	path := filepath.Join("/dev/shm", filepath.Base(name))

	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("stats: opening %s: %w", path, err)
	}

	mem, err := unix.Mmap(fd, 0, layoutSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stats: mmap %s: %w", path, err)
	}

	return &ReadOnlyExporter{
		fd:   fd,
		mem:  mem,
		data: (*layout)(unsafe.Pointer(&mem[0])),
	}, nil
}

// ReadOnlyExporter is the monitor-side handle onto a live server's
// shared-memory region.
type ReadOnlyExporter struct {
	fd   int
	mem  []byte
	data *layout
}

// Read loads a Snapshot without any locking, tolerating momentary
// inconsistency between fields as the spec allows.
func (r *ReadOnlyExporter) Read() Snapshot {
	return readLayout(r.data)
}

// Close unmaps the region.
func (r *ReadOnlyExporter) Close() error {
	if err := unix.Munmap(r.mem); err != nil {
		return fmt.Errorf("stats: munmap: %w", err)
	}
	return unix.Close(r.fd)
}
