// Command monitor is the live-stats dashboard consumer of spec §6: it
// opens a named POSIX shared-memory stats segment read-only, mmaps it,
// and renders a textual dashboard, polling at a fixed interval without
// any synchronization with the writing server.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vortexnet/netd/internal/stats"
)

func main() {
	segment := flag.String("segment", "/dhcpv4_stats", "shared-memory segment name (e.g. /dhcpv4_stats, /dhcpv6_stats, /dns_stats)")
	interval := flag.Duration("interval", time.Second, "refresh interval")
	once := flag.Bool("once", false, "print one snapshot and exit")
	flag.Parse()

	r, err := stats.OpenReadOnly(*segment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: opening %s: %v\n", *segment, err)
		os.Exit(1)
	}
	defer r.Close()

	if *once {
		render(*segment, r.Read())
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	render(*segment, r.Read())
	for {
		select {
		case <-ticker.C:
			render(*segment, r.Read())
		case <-sigCh:
			return
		}
	}
}

// render prints one dashboard frame. The server writes every field with
// a plain atomic store and the monitor reads without locking, so a given
// frame can show counters that are momentarily inconsistent with each
// other — this is the tolerated behavior spec §4.13 describes, not a bug.
func render(segment string, s stats.Snapshot) {
	fmt.Print("\033[H\033[2J")
	fmt.Printf("netd stats monitor — %s\n", segment)
	fmt.Printf("uptime:           %s\n", time.Since(s.StartTime).Round(time.Second))
	fmt.Printf("packets received: %d\n", s.PktReceived)
	fmt.Printf("packets processed:%d\n", s.PktProcessed)
	fmt.Printf("active leases:    %d\n", s.LeasesActive)
	fmt.Printf("errors:           %d\n", s.ErrorsCount)
	fmt.Printf("dropped:          %d\n", s.PktDropped)
}
