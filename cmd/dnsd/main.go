// Command dnsd is the DNS daemon of spec §4.12: one UDP listener on :53,
// a fixed worker pool dispatching single-question datagrams through the
// authoritative-zone → cache → upstream-forward resolution pipeline, a
// bbolt-backed query log, and a POSIX shared-memory stats segment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vortexnet/netd/internal/config"
	"github.com/vortexnet/netd/internal/dnscache"
	"github.com/vortexnet/netd/internal/iscconf"
	"github.com/vortexnet/netd/internal/logging"
	"github.com/vortexnet/netd/internal/metrics"
	"github.com/vortexnet/netd/internal/resolver"
	"github.com/vortexnet/netd/internal/stats"
	"github.com/vortexnet/netd/internal/workerpool"
)

func main() {
	configPath := flag.String("config", "/etc/netd/dnsd.toml", "path to daemon TOML config")
	serverConfPath := flag.String("server-config", "/etc/netd/dnsd.conf", "path to DNS server config (options/zone blocks)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Server.LogLevel, os.Stdout)
	logger.Info("dnsd starting", "config", *configPath, "server-config", *serverConfPath)

	dnsCfg, warnings := iscconf.ParseDNSFile(*serverConfPath)
	for _, w := range warnings {
		logger.Warn("dns config warning", "error", w)
	}
	if dnsCfg == nil {
		logger.Error("failed to parse dns server config")
		os.Exit(1)
	}

	zone := resolver.NewZone()
	for _, z := range dnsCfg.Zones {
		path := z.File
		if !filepath.IsAbs(path) && dnsCfg.ZonesDir != "" {
			path = filepath.Join(dnsCfg.ZonesDir, path)
		}
		if err := zone.LoadFile(path, z.Name); err != nil {
			logger.Error("failed to load zone file", "zone", z.Name, "file", path, "error", err)
			os.Exit(1)
		}
		logger.Info("zone loaded", "zone", z.Name, "file", path)
	}

	upstreams := dnsCfg.Forwarders
	if len(upstreams) == 0 {
		upstreams = cfg.Resolver.Upstreams
	}
	forwarder := resolver.NewForwarder(upstreams, cfg.ForwardTimeoutDuration())

	var queryLog *resolver.QueryLog
	if cfg.Resolver.QueryLogPath != "" {
		queryLog, err = resolver.OpenQueryLog(cfg.Resolver.QueryLogPath, cfg.Resolver.QueryLogEntries)
		if err != nil {
			logger.Warn("failed to open query log, continuing without persistence", "error", err)
		} else {
			defer queryLog.Close()
		}
	}

	cache := dnscache.New()
	res := resolver.New(zone, cache, forwarder, queryLog, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shm, err := stats.Open(cfg.Stats.DNSSegmentName)
	if err != nil {
		logger.Warn("failed to open shared-memory stats segment", "error", err)
	} else {
		defer shm.Close()
		go stats.MirrorToPrometheus(ctx, shm, "dnsd", 2*time.Second)
	}

	listenIP := net.ParseIP(dnsCfg.ListenIP)
	port := dnsCfg.Port
	if port == 0 {
		port = 53
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: listenIP, Port: port})
	if err != nil {
		logger.Error("failed to bind UDP listener", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("listening", "addr", conn.LocalAddr())

	workers := workerpool.New(cfg.Workers.PoolSize, cfg.Workers.QueueCapacity, logger)
	defer workers.Destroy(workerpool.ShutdownDrain)

	metrics.ServerStartTime.SetToCurrentTime()

	go serveLoop(conn, workers, res, shm, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			logger.Info("received SIGHUP; reload of running zones is not supported, restart to pick up changes")
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("shutting down", "signal", sig.String())
			cancel()
			return
		}
	}
}

// serveLoop reads single-question datagrams off the socket and dispatches
// each to the worker pool, per spec §4.10's "one task per received
// datagram" model.
func serveLoop(conn *net.UDPConn, wp *workerpool.Pool, res *resolver.Resolver, shm *stats.Exporter, logger *slog.Logger) {
	buf := make([]byte, 512)
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
			handleQuery(conn, data, srcAddr, res, shm, logger)
		}, nil)
		if err != nil {
			logger.Warn("worker pool rejected query", "error", err)
			if shm != nil {
				shm.IncDropped()
			}
		}
	}
}

func handleQuery(conn *net.UDPConn, data []byte, src *net.UDPAddr, res *resolver.Resolver, shm *stats.Exporter, logger *slog.Logger) {
	reply, err := res.Resolve(data, src.String())
	if err != nil {
		logger.Debug("query resolution failed", "error", err, "src", src)
		if shm != nil {
			shm.IncErrors()
		}
		return
	}
	if _, err := conn.WriteToUDP(reply, src); err != nil {
		logger.Warn("failed to send reply", "error", err, "dst", src)
		return
	}
	if shm != nil {
		shm.IncPacketsProcessed()
	}
}
