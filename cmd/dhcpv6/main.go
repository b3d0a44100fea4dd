// Command dhcpv6 is the DHCPv6 daemon of spec §4.9: one UDP listener on
// :547, a fixed worker pool dispatching SOLICIT/REQUEST/RENEW/REBIND/
// RELEASE/DECLINE packets to the StateMachine, IA_NA and IA_PD pools, and
// a POSIX shared-memory stats segment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vortexnet/netd/internal/config"
	"github.com/vortexnet/netd/internal/dhcp6"
	"github.com/vortexnet/netd/internal/iscconf"
	"github.com/vortexnet/netd/internal/lease6"
	"github.com/vortexnet/netd/internal/logging"
	"github.com/vortexnet/netd/internal/metrics"
	"github.com/vortexnet/netd/internal/pool6"
	"github.com/vortexnet/netd/internal/probe"
	"github.com/vortexnet/netd/internal/stats"
	"github.com/vortexnet/netd/internal/workerpool"
	"github.com/vortexnet/netd/pkg/dhcpv6"
)

func main() {
	configPath := flag.String("config", "/etc/netd/dhcpv6.toml", "path to daemon TOML config")
	subnetsPath := flag.String("subnets", "/etc/netd/dhcpv6.conf", "path to ISC-dhcpd-subset subnet6 config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Server.LogLevel, os.Stdout)
	logger.Info("dhcpv6 starting", "config", *configPath, "subnets", *subnetsPath)

	store, err := lease6.NewStore(cfg.Server.LeaseDB)
	if err != nil {
		logger.Error("failed to open lease database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	queue := lease6.NewAsyncIOQueue(store, cfg.Workers.IOQueueDepth, logger)
	defer queue.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timer := lease6.NewExpirationTimer(store, queue, mustDuration(cfg.Lease.ExpirationInterval), logger)
	timer.Start()
	defer timer.Stop()

	serverDUID := serverDUIDFor(cfg, logger)
	handler := dhcp6.NewHandler(store, queue, logger)

	if err := loadSubnets(*subnetsPath, handler, cfg, store, serverDUID, logger); err != nil {
		logger.Error("failed to load subnet6 config", "error", err)
		os.Exit(1)
	}

	shm, err := stats.Open(cfg.Stats.DHCPv6SegmentName)
	if err != nil {
		logger.Warn("failed to open shared-memory stats segment", "error", err)
	} else {
		defer shm.Close()
		go stats.MirrorToPrometheus(ctx, shm, "dhcpv6", 2*time.Second)
	}

	conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: dhcpv6.ServerPort})
	if err != nil {
		logger.Error("failed to bind UDP listener", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("listening", "addr", conn.LocalAddr())

	workers := workerpool.New(cfg.Workers.PoolSize, cfg.Workers.QueueCapacity, logger)
	defer workers.Destroy(workerpool.ShutdownDrain)

	metrics.ServerStartTime.SetToCurrentTime()

	go serveLoop(conn, workers, handler, shm, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			// Reapplication of a reloaded subnet6 config is an open
			// question per spec §9: unlike cmd/dhcpv4, no hot-swap path
			// exists from a running Handler to a freshly-parsed set of
			// bindings, so SIGHUP only records that a reload was asked
			// for.
			reloadRequested.Store(true)
			logger.Info("received SIGHUP, reload requested (not yet applied)")
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("shutting down", "signal", sig.String())
			cancel()
			return
		}
	}
}

var reloadRequested atomic.Bool

// serveLoop reads datagrams off the socket and dispatches each to the
// worker pool, per spec §4.10's "one task per received datagram" model.
func serveLoop(conn *net.UDPConn, wp *workerpool.Pool, handler *dhcp6.Handler, shm *stats.Exporter, logger *slog.Logger) {
	buf := make([]byte, 1500)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			logger.Error("read error", "error", err)
			continue
		}
		if shm != nil {
			shm.IncPacketsReceived()
		}
		data := append([]byte(nil), buf[:n]...)
		srcAddr := addr
		err = wp.Add(func(arg any) {
			handlePacket(conn, data, srcAddr, handler, shm, logger)
		}, nil)
		if err != nil {
			logger.Warn("worker pool rejected packet", "error", err)
			if shm != nil {
				shm.IncDropped()
			}
		}
	}
}

func handlePacket(conn *net.UDPConn, data []byte, src *net.UDPAddr, handler *dhcp6.Handler, shm *stats.Exporter, logger *slog.Logger) {
	pkt, err := dhcp6.DecodePacket(data)
	if err != nil {
		logger.Debug("dropping malformed packet", "error", err, "src", src)
		if shm != nil {
			shm.IncErrors()
		}
		return
	}
	pkt.PeerAddr = src

	reply, err := handler.HandlePacket(pkt)
	if err != nil {
		logger.Debug("packet handling error", "error", err, "src", src)
		if shm != nil {
			shm.IncErrors()
		}
		return
	}
	if reply == nil {
		return
	}

	out := reply.Encode()
	if _, err := conn.WriteToUDP(out, src); err != nil {
		logger.Warn("failed to send reply", "error", err, "dst", src)
		return
	}
	if shm != nil {
		shm.IncPacketsProcessed()
	}
}

// loadSubnets parses the ISC-dhcpd-subset subnet6 config at path and
// rebuilds the handler's subnet bindings and pools from scratch.
func loadSubnets(path string, handler *dhcp6.Handler, cfg *config.Config, store *lease6.Store, serverDUID []byte, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	parsed, warnings := iscconf.ParseDHCPv6(f)
	for _, w := range warnings {
		logger.Warn("subnet6 config warning", "error", w)
	}

	for _, s := range parsed.Subnets {
		network := &net.IPNet{IP: s.Network, Mask: net.CIDRMask(s.Plen, 128)}

		leaseTime := cfg.LeaseTimeDuration()
		maxLeaseTime := cfg.MaxLeaseTimeDuration()

		var ianaPool *pool6.IANAPool
		if s.RangeStart != nil && s.RangeEnd != nil {
			var reservations []pool6.Reservation
			for _, h := range s.Hosts {
				if h.DUID != "" && h.FixedAddress != nil {
					reservations = append(reservations, pool6.Reservation{DUID: h.DUID, IP: h.FixedAddress})
				}
			}
			ianaPool, err = pool6.New(pool6.Config{
				Start:        s.RangeStart,
				End:          s.RangeEnd,
				Reservations: reservations,
				ProbeEnabled: cfg.Probe.Enabled,
				ProbeTimeout: cfg.ProbeTimeoutDuration(),
				Prober:       probeFor(cfg, logger),
			})
			if err != nil {
				return fmt.Errorf("subnet6 %s/%d: %w", s.Network, s.Plen, err)
			}
			ianaPool.SyncFromLeaseStore(store)
		}

		var pdPool *pool6.PDPool
		if s.PDPrefix != nil && s.PDPoolEnd != nil {
			pdPool, err = pool6.NewPD(pool6.PDConfig{
				PoolStart:     s.PDPrefix,
				PoolEnd:       s.PDPoolEnd,
				DelegatedPlen: s.DelegatedPlen,
				ProbeEnabled:  cfg.Probe.Enabled,
				ProbeTimeout:  cfg.ProbeTimeoutDuration(),
				Prober:        probeFor(cfg, logger),
			})
			if err != nil {
				return fmt.Errorf("subnet6 %s/%d prefix6: %w", s.Network, s.Plen, err)
			}
			pdPool.SyncFromLeaseStore(store)
		}

		handler.AddSubnet(dhcp6.Subnet{
			Network:          network,
			IANAPool:         ianaPool,
			PDPool:           pdPool,
			DNSServers:       s.DNSServers,
			SNTPServers:      s.SNTPServers,
			DomainSearch:     s.DomainSearch,
			InfoRefreshTime:  s.InfoRefreshTime,
			Preference:       s.Preference,
			SIPServerDomain:  s.SIPServerDomain,
			BootfileURL:      s.BootfileURL,
			DefaultLeaseTime: leaseTime,
			MaxLeaseTime:     maxLeaseTime,
			ServerDUID:       serverDUID,
		})
	}
	return nil
}

// serverDUIDFor builds a DUID-LL (RFC 8415 §11.2) from the configured
// interface's hardware address, falling back to a DUID derived from the
// server_id IP if the interface can't be read.
func serverDUIDFor(cfg *config.Config, logger *slog.Logger) []byte {
	if iface, err := net.InterfaceByName(cfg.Server.Interface); err == nil && len(iface.HardwareAddr) == 6 {
		duid := make([]byte, 4+len(iface.HardwareAddr))
		duid[0], duid[1] = 0, 3 // DUID-LL
		duid[2], duid[3] = 0, 1 // hardware type Ethernet
		copy(duid[4:], iface.HardwareAddr)
		return duid
	}
	logger.Warn("could not read interface hardware address, deriving DUID from server_id", "interface", cfg.Server.Interface)
	ip := cfg.ServerIP()
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 1)
	}
	ip = ip.To16()
	duid := make([]byte, 4+6)
	duid[0], duid[1] = 0, 3
	duid[2], duid[3] = 0, 1
	copy(duid[4:], ip[10:16])
	return duid
}

var cachedProber *probe.V6Prober

func probeFor(cfg *config.Config, logger *slog.Logger) pool6.Prober {
	if !cfg.Probe.Enabled {
		return nil
	}
	if cachedProber == nil {
		cachedProber = probe.NewV6Prober(logger)
	}
	return cachedProber
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
