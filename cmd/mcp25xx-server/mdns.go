package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_mcp25xx._tcp"

// mdnsMeta is the TXT record set advertised with the service.
func mdnsMeta(cfg *appConfig) []string {
	meta := []string{
		"chip=" + cfg.chip,
		"transport=" + cfg.transport,
		"bitrate=" + cfg.nominal,
		"version=" + version,
		"commit=" + commit,
	}
	if cfg.fd() {
		meta = append(meta, "data_bitrate="+cfg.data, "fd=1")
	}
	return meta
}

// listenPort extracts the port of a bound "host:port" or ":port" address.
func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

// startMDNS registers the service via mDNS and returns a cleanup function.
// It is a no-op when disabled.
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("mcp25xx-%s", host)
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, mdnsMeta(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}
