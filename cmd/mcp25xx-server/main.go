package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-mcp25xx/internal/cnl"
	"github.com/kstaniek/go-mcp25xx/internal/metrics"
	"github.com/kstaniek/go-mcp25xx/internal/server"
	"github.com/kstaniek/go-mcp25xx/internal/transport"
)

const shutdownTimeout = 3 * time.Second

func main() {
	cfg, err := parseFlags()
	if errors.Is(err, errInfoOnly) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	var (
		mirror *vcanMirror
		sink   transport.FrameSink
	)
	if cfg.vcanIf != "" {
		m, err := openMirror(ctx, cfg, l)
		if err != nil {
			l.Error("mirror_init_error", "error", err)
			return
		}
		mirror, sink = m, m
		defer mirror.Close()
	}

	b, err := initBackend(ctx, cfg, h, sink, l, &wg)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}
	if mirror != nil {
		mirror.run(ctx, b.SendFrame, &wg)
	}
	startErrorSampler(ctx, cfg.errSampleEvery, b.chip, l, &wg)

	srv := server.NewServer(
		server.WithHub(h),
		server.WithCodec(&cnl.Codec{}),
		server.WithSend(b.SendFrame),
		server.WithLogger(l),
		server.WithMaxClients(cfg.maxClients),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
		server.WithClassicOnly(cfg.classicOnly),
	)
	srv.SetListenAddr(cfg.listenAddr)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		port, err := listenPort(srv.Addr())
		if err != nil {
			l.Warn("mdns_port_unknown", "addr", srv.Addr(), "error", err)
			return
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date, cfg.chip)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	if debugToggle != nil {
		signal.Notify(sigCh, debugToggle)
	}
wait:
	for {
		select {
		case s := <-sigCh:
			if debugToggle != nil && s == debugToggle {
				toggleDebug(cfg.logLevel, l)
				continue
			}
			l.Info("shutdown_signal", "signal", s.String())
			break wait
		case <-ctx.Done():
			break wait
		}
	}
	cancel()
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		l.Warn("tcp_shutdown_error", "error", err)
	}
	b.close()
	wg.Wait()
}
