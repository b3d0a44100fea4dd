// Package config handles TOML configuration parsing for netd's
// daemon-level settings — the ambient knobs the ISC-dhcpd-subset grammar
// (internal/iscconf) has no room for: worker pool sizing, queue
// capacities, timer intervals, shared-memory segment names, the
// Prometheus listen address, and the DNS upstream forwarder list.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level daemon configuration, decoded from TOML.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Workers  WorkersConfig  `toml:"workers"`
	Lease    LeaseConfig    `toml:"lease"`
	Probe    ProbeConfig    `toml:"probe"`
	Stats    StatsConfig    `toml:"stats"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Resolver ResolverConfig `toml:"resolver"`
}

// ServerConfig holds identity and file-path settings shared by every
// daemon binary (cmd/dhcpv4, cmd/dhcpv6, cmd/dnsd).
type ServerConfig struct {
	Interface  string `toml:"interface"`
	ServerID   string `toml:"server_id"`
	LogLevel   string `toml:"log_level"`
	LeaseDB    string `toml:"lease_db"`
	ConfigFile string `toml:"config_file"`
	PIDFile    string `toml:"pid_file"`
}

// WorkersConfig sizes the request-handling worker pool (spec §4.10) and
// the async lease I/O queue (spec §4.1/§4.2).
type WorkersConfig struct {
	PoolSize       int `toml:"pool_size"`
	QueueCapacity  int `toml:"queue_capacity"`
	IOQueueDepth   int `toml:"io_queue_depth"`
	RequestBacklog int `toml:"request_backlog"`
}

// LeaseConfig holds lease-lifecycle timer settings (spec §4.1/§4.2's
// ExpirationTimer and default/max lease durations used when a subnet
// block in internal/iscconf doesn't override them).
type LeaseConfig struct {
	DefaultLeaseTime   string `toml:"default_lease_time"`
	MaxLeaseTime       string `toml:"max_lease_time"`
	ExpirationInterval string `toml:"expiration_interval"`
}

// ProbeConfig holds ICMP conflict-detection settings (spec §4.7).
type ProbeConfig struct {
	Enabled  bool   `toml:"enabled"`
	Timeout  string `toml:"timeout"`
	CacheTTL string `toml:"cache_ttl"`
	Parallel int    `toml:"parallel_count"`
}

// StatsConfig names the POSIX shared-memory segments spec §4.13 exports,
// one per daemon.
type StatsConfig struct {
	DHCPv4SegmentName string `toml:"dhcpv4_segment_name"`
	DHCPv6SegmentName string `toml:"dhcpv6_segment_name"`
	DNSSegmentName    string `toml:"dns_segment_name"`
}

// MetricsConfig holds the Prometheus exporter listen address.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// ResolverConfig holds the DNS resolver's upstream forwarder settings
// (spec §4.12) and query-log persistence path.
type ResolverConfig struct {
	Upstreams       []string `toml:"upstreams"`
	ForwardTimeout  string   `toml:"forward_timeout"`
	CacheSize       int      `toml:"cache_size"`
	QueryLogPath    string   `toml:"query_log_path"`
	QueryLogEntries int      `toml:"query_log_entries"`
}

// Load reads and parses a TOML config file, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Interface == "" {
		cfg.Server.Interface = DefaultInterface
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.LeaseDB == "" {
		cfg.Server.LeaseDB = DefaultLeaseDB
	}
	if cfg.Server.PIDFile == "" {
		cfg.Server.PIDFile = DefaultPIDFile
	}

	if cfg.Workers.PoolSize == 0 {
		cfg.Workers.PoolSize = DefaultWorkerPoolSize
	}
	if cfg.Workers.QueueCapacity == 0 {
		cfg.Workers.QueueCapacity = DefaultWorkerQueueCapacity
	}
	if cfg.Workers.IOQueueDepth == 0 {
		cfg.Workers.IOQueueDepth = DefaultIOQueueDepth
	}
	if cfg.Workers.RequestBacklog == 0 {
		cfg.Workers.RequestBacklog = DefaultRequestBacklog
	}

	if cfg.Lease.DefaultLeaseTime == "" {
		cfg.Lease.DefaultLeaseTime = DefaultLeaseTime.String()
	}
	if cfg.Lease.MaxLeaseTime == "" {
		cfg.Lease.MaxLeaseTime = DefaultMaxLeaseTime.String()
	}
	if cfg.Lease.ExpirationInterval == "" {
		cfg.Lease.ExpirationInterval = DefaultExpirationInterval.String()
	}

	if cfg.Probe.Timeout == "" {
		cfg.Probe.Timeout = DefaultProbeTimeout.String()
	}
	if cfg.Probe.CacheTTL == "" {
		cfg.Probe.CacheTTL = DefaultProbeCacheTTL.String()
	}
	if cfg.Probe.Parallel == 0 {
		cfg.Probe.Parallel = DefaultParallelProbeCount
	}

	if cfg.Stats.DHCPv4SegmentName == "" {
		cfg.Stats.DHCPv4SegmentName = DefaultDHCPv4StatsSegment
	}
	if cfg.Stats.DHCPv6SegmentName == "" {
		cfg.Stats.DHCPv6SegmentName = DefaultDHCPv6StatsSegment
	}
	if cfg.Stats.DNSSegmentName == "" {
		cfg.Stats.DNSSegmentName = DefaultDNSStatsSegment
	}

	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}

	if len(cfg.Resolver.Upstreams) == 0 {
		cfg.Resolver.Upstreams = []string{DefaultResolverUpstream}
	}
	if cfg.Resolver.ForwardTimeout == "" {
		cfg.Resolver.ForwardTimeout = DefaultForwardTimeout.String()
	}
	if cfg.Resolver.CacheSize == 0 {
		cfg.Resolver.CacheSize = DefaultDNSCacheSize
	}
	if cfg.Resolver.QueryLogEntries == 0 {
		cfg.Resolver.QueryLogEntries = DefaultQueryLogEntries
	}
}

func validate(cfg *Config) error {
	if cfg.Server.ServerID != "" {
		if ip := net.ParseIP(cfg.Server.ServerID); ip == nil {
			return fmt.Errorf("server.server_id %q is not a valid IP address", cfg.Server.ServerID)
		}
	}
	if _, err := time.ParseDuration(cfg.Lease.DefaultLeaseTime); err != nil {
		return fmt.Errorf("lease.default_lease_time: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Lease.MaxLeaseTime); err != nil {
		return fmt.Errorf("lease.max_lease_time: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Lease.ExpirationInterval); err != nil {
		return fmt.Errorf("lease.expiration_interval: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Probe.Timeout); err != nil {
		return fmt.Errorf("probe.timeout: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Probe.CacheTTL); err != nil {
		return fmt.Errorf("probe.cache_ttl: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Resolver.ForwardTimeout); err != nil {
		return fmt.Errorf("resolver.forward_timeout: %w", err)
	}
	for _, addr := range cfg.Resolver.Upstreams {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("resolver.upstreams: invalid address %q: %w", addr, err)
		}
	}
	return nil
}

// ServerIP returns the parsed server identifier IP, or nil if unset.
func (cfg *Config) ServerIP() net.IP {
	if cfg.Server.ServerID == "" {
		return nil
	}
	return net.ParseIP(cfg.Server.ServerID)
}

// LeaseTimeDuration returns the configured default lease time as a
// time.Duration.
func (cfg *Config) LeaseTimeDuration() time.Duration {
	d, err := time.ParseDuration(cfg.Lease.DefaultLeaseTime)
	if err != nil {
		return DefaultLeaseTime
	}
	return d
}

// MaxLeaseTimeDuration returns the configured max lease time.
func (cfg *Config) MaxLeaseTimeDuration() time.Duration {
	d, err := time.ParseDuration(cfg.Lease.MaxLeaseTime)
	if err != nil {
		return DefaultMaxLeaseTime
	}
	return d
}

// ProbeTimeoutDuration returns the configured ICMP probe timeout.
func (cfg *Config) ProbeTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(cfg.Probe.Timeout)
	if err != nil {
		return DefaultProbeTimeout
	}
	return d
}

// ForwardTimeoutDuration returns the configured DNS upstream forward
// timeout.
func (cfg *Config) ForwardTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(cfg.Resolver.ForwardTimeout)
	if err != nil {
		return DefaultForwardTimeout
	}
	return d
}
