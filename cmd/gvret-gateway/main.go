package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/canbridge/gvret-canet-gateway/internal/canet"
	"github.com/canbridge/gvret-canet-gateway/internal/capture"
	"github.com/canbridge/gvret-canet-gateway/internal/gateway"
	"github.com/canbridge/gvret-canet-gateway/internal/metrics"
)

// Helper implementations live in dedicated files: version.go, config.go,
// logger.go, mdns.go, metrics_logger.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("gvret-gateway %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		l.Info("shutdown_signal", "signal", s.String())
		cancel()
	}()

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })

	if err := run(ctx, cfg, l); err != nil {
		l.Error("gateway_error", "error", err)
		cancel()
		wg.Wait()
		os.Exit(1)
	}
	cancel()
	wg.Wait()
}

// run binds the GVRET listener, accepts the single analysis client, dials
// the adapter endpoints and drives the forwarding loop to completion.
// There is no reconnect policy: a fatal error ends the process.
func run(ctx context.Context, cfg *appConfig, l *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.clientListenAddr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()
	go func() { <-ctx.Done(); _ = ln.Close() }()
	l.Info("gvret_listen", "addr", ln.Addr().String())

	if cfg.mdnsEnable {
		port := 0
		if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
		cleanupMDNS, merr := startMDNS(ctx, cfg, port)
		if merr != nil {
			l.Warn("mdns_start_failed", "error", merr)
		} else {
			l.Info("mdns_started", "service", mdnsServiceType, "port", port)
			defer cleanupMDNS()
		}
	}

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
	}
	l.Info("client_connected", "remote", conn.RemoteAddr().String())

	bus0, err := canet.Dial(cfg.busEndpoint(0), cfg.dialTimeout)
	if err != nil {
		metrics.IncError(metrics.ErrDial)
		return fmt.Errorf("canet bus 0: %w", err)
	}
	defer bus0.Close()
	l.Info("canet_connected", "bus", 0, "endpoint", cfg.busEndpoint(0))

	opts := []gateway.Option{
		gateway.WithClient(conn),
		gateway.WithBus(0, bus0),
		gateway.WithRouting(cfg.routing()),
		gateway.WithLogger(l),
	}
	if ep := cfg.busEndpoint(1); ep != "" {
		bus1, derr := canet.Dial(ep, cfg.dialTimeout)
		if derr != nil {
			// Single-bus operation continues without the second adapter.
			metrics.IncError(metrics.ErrDial)
			l.Error("canet_bus1_connect_failed", "endpoint", ep, "error", derr)
		} else {
			defer bus1.Close()
			l.Info("canet_connected", "bus", 1, "endpoint", ep)
			opts = append(opts, gateway.WithBus(1, bus1))
		}
	}
	if cfg.captureFile != "" {
		cw, cerr := capture.Open(cfg.captureFile)
		if cerr != nil {
			return fmt.Errorf("capture: %w", cerr)
		}
		defer cw.Close()
		l.Info("capture_enabled", "file", cfg.captureFile)
		opts = append(opts, gateway.WithCapture(cw))
	}

	return gateway.New(opts...).Run(ctx)
}
