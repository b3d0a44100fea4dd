package stats

import (
	"context"
	"time"

	"github.com/vortexnet/netd/internal/metrics"
)

// MirrorToPrometheus polls e on interval and copies its counters into
// the netd_shm_* gauges labeled by daemon, until ctx is cancelled. This
// is the "ambient observability enrichment" SPEC_FULL.md calls for
// alongside the shared-memory struct itself — the shared-memory region
// is the contract external dashboards read directly, Prometheus is an
// additional ported-from-the-teacher convenience.
func MirrorToPrometheus(ctx context.Context, e *Exporter, daemon string, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := e.Read()
			metrics.StatsPacketsReceived.WithLabelValues(daemon).Set(float64(snap.PktReceived))
			metrics.StatsPacketsProcessed.WithLabelValues(daemon).Set(float64(snap.PktProcessed))
			metrics.StatsLeasesActive.WithLabelValues(daemon).Set(float64(snap.LeasesActive))
			metrics.StatsErrorsCount.WithLabelValues(daemon).Set(float64(snap.ErrorsCount))
			metrics.StatsPacketsDropped.WithLabelValues(daemon).Set(float64(snap.PktDropped))
		}
	}
}
