// Command dhcpv4 is the DHCPv4 daemon of spec §4.8: one UDP listener on
// :67, a fixed worker pool dispatching DISCOVER/REQUEST/RELEASE packets to
// the StateMachine, an ISC-compatible lease database, and a POSIX
// shared-memory stats segment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vortexnet/netd/internal/config"
	"github.com/vortexnet/netd/internal/dhcp4"
	"github.com/vortexnet/netd/internal/iscconf"
	"github.com/vortexnet/netd/internal/lease"
	"github.com/vortexnet/netd/internal/logging"
	"github.com/vortexnet/netd/internal/metrics"
	"github.com/vortexnet/netd/internal/pool"
	"github.com/vortexnet/netd/internal/probe"
	"github.com/vortexnet/netd/internal/stats"
	"github.com/vortexnet/netd/internal/workerpool"
	"github.com/vortexnet/netd/pkg/dhcpv4"
)

func main() {
	configPath := flag.String("config", "/etc/netd/dhcpv4.toml", "path to daemon TOML config")
	subnetsPath := flag.String("subnets", "/etc/netd/dhcpv4.conf", "path to ISC-dhcpd-subset subnet config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Server.LogLevel, os.Stdout)
	logger.Info("dhcpv4 starting", "config", *configPath, "subnets", *subnetsPath)

	store, err := lease.NewStore(cfg.Server.LeaseDB)
	if err != nil {
		logger.Error("failed to open lease database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	queue := lease.NewAsyncIOQueue(store, cfg.Workers.IOQueueDepth, logger)
	defer queue.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	timer := lease.NewExpirationTimer(store, queue, mustDuration(cfg.Lease.ExpirationInterval), logger)
	timer.Start()
	defer timer.Stop()

	handler := dhcp4.NewHandler(store, queue, logger)

	pools, err := loadSubnets(*subnetsPath, handler, cfg, store, logger)
	if err != nil {
		logger.Error("failed to load subnet config", "error", err)
		os.Exit(1)
	}
	logger.Info("subnets loaded", "count", len(pools))

	shm, err := stats.Open(cfg.Stats.DHCPv4SegmentName)
	if err != nil {
		logger.Warn("failed to open shared-memory stats segment", "error", err)
	} else {
		defer shm.Close()
		go stats.MirrorToPrometheus(ctx, shm, "dhcpv4", 2*time.Second)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: dhcpv4.ServerPort})
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
			logger.Info("received SIGHUP, reloading subnet config")
			newPools, err := loadSubnets(*subnetsPath, handler, cfg, store, logger)
			if err != nil {
				logger.Error("failed to reload subnet config", "error", err)
				continue
			}
			pools = newPools
			logger.Info("subnet config reloaded", "count", len(pools))
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("shutting down", "signal", sig.String())
			cancel()
			return
		}
	}
}

// serveLoop reads datagrams off the socket and dispatches each to the
// worker pool, per spec §4.10's "one task per received datagram" model.
func serveLoop(conn *net.UDPConn, wp *workerpool.Pool, handler *dhcp4.Handler, shm *stats.Exporter, logger *slog.Logger) {
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

func handlePacket(conn *net.UDPConn, data []byte, src *net.UDPAddr, handler *dhcp4.Handler, shm *stats.Exporter, logger *slog.Logger) {
	pkt, err := dhcp4.DecodePacket(data)
	if err != nil {
		logger.Debug("dropping malformed packet", "error", err, "src", src)
		if shm != nil {
			shm.IncErrors()
		}
		return
	}
	pkt.ReceivingAddr = conn.LocalAddr().(*net.UDPAddr).IP

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

	out, err := reply.Encode()
	if err != nil {
		logger.Error("failed to encode reply", "error", err)
		return
	}

	dstIP, dstPort := dhcp4.Destination(reply, src)
	if _, err := conn.WriteToUDP(out, &net.UDPAddr{IP: dstIP, Port: dstPort}); err != nil {
		logger.Warn("failed to send reply", "error", err, "dst", dstIP)
		return
	}
	if shm != nil {
		shm.IncPacketsProcessed()
	}
}

// loadSubnets parses the ISC-dhcpd-subset config at path and rebuilds the
// handler's subnet bindings and pools from scratch.
func loadSubnets(path string, handler *dhcp4.Handler, cfg *config.Config, store *lease.Store, logger *slog.Logger) ([]*pool.Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	parsed, warnings := iscconf.ParseDHCPv4(f)
	for _, w := range warnings {
		logger.Warn("subnet config warning", "error", w)
	}

	var pools []*pool.Pool
	for _, s := range parsed.Subnets {
		maskLen, _ := net.IPMask(s.Netmask.To4()).Size()
		network := &net.IPNet{IP: s.Network.To4(), Mask: net.CIDRMask(maskLen, 32)}

		var reservations []pool.Reservation
		for _, h := range s.Hosts {
			if h.MAC != nil && h.FixedAddress != nil {
				reservations = append(reservations, pool.Reservation{MAC: h.MAC, IP: h.FixedAddress})
			}
		}

		leaseTime := s.DefaultLeaseTime
		if leaseTime == 0 {
			leaseTime = cfg.LeaseTimeDuration()
		}

		p, err := pool.New(pool.Config{
			Start:        s.RangeStart,
			End:          s.RangeEnd,
			Network:      network,
			Router:       s.Router,
			Reservations: reservations,
			ProbeEnabled: cfg.Probe.Enabled,
			ProbeTimeout: cfg.ProbeTimeoutDuration(),
			Prober:       probeFor(cfg, logger),
		})
		if err != nil {
			return nil, fmt.Errorf("subnet %s: %w", s.Network, err)
		}
		p.SyncFromLeaseStore(store)

		handler.AddSubnet(dhcp4.Subnet{
			Network:          network,
			Router:           s.Router,
			DNSServers:       s.DNSServers,
			DomainName:       s.DomainName,
			DefaultLeaseTime: leaseTime,
			RenewalTime:      leaseTime / 2,
			RebindTime:       leaseTime * 7 / 8,
		}, p)
		pools = append(pools, p)
	}
	return pools, nil
}

var cachedProber *probe.V4Prober

func probeFor(cfg *config.Config, logger *slog.Logger) pool.Prober {
	if !cfg.Probe.Enabled {
		return nil
	}
	if cachedProber == nil {
		cachedProber = probe.NewV4Prober(logger)
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
