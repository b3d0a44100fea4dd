package config

import "time"

// Default configuration values.
const (
	DefaultInterface = "eth0"
	DefaultLogLevel  = "info"
	DefaultLeaseDB   = "/var/lib/netd/leases.db"
	DefaultPIDFile   = "/run/netd.pid"

	DefaultWorkerPoolSize      = 16
	DefaultWorkerQueueCapacity = 1024
	DefaultIOQueueDepth        = 256
	DefaultRequestBacklog      = 512

	DefaultLeaseTime          = 12 * time.Hour
	DefaultMaxLeaseTime       = 24 * time.Hour
	DefaultExpirationInterval = 30 * time.Second

	DefaultProbeTimeout       = 500 * time.Millisecond
	DefaultProbeCacheTTL      = 10 * time.Second
	DefaultParallelProbeCount = 3

	DefaultDHCPv4StatsSegment = "/dhcpv4_stats"
	DefaultDHCPv6StatsSegment = "/dhcpv6_stats"
	DefaultDNSStatsSegment    = "/dns_stats"

	DefaultMetricsListen = "0.0.0.0:9090"

	DefaultResolverUpstream = "1.1.1.1:53"
	DefaultForwardTimeout   = 2 * time.Second
	DefaultDNSCacheSize     = 10000
	DefaultQueryLogEntries  = 1000
)
