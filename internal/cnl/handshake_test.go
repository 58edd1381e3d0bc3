package cnl

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestHandshakeLoopback(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	done := make(chan error, 1)
	go func() { done <- Handshake(context.Background(), srv, 2*time.Second) }()
	if err := Handshake(context.Background(), cli, 2*time.Second); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
}

func TestHandshakeBadHello(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()
	go func() {
		buf := make([]byte, len(Hello))
		_, _ = cli.Read(buf)
		_, _ = cli.Write([]byte("SLCANv1-FD!!"))
	}()
	if err := Handshake(context.Background(), srv, time.Second); !errors.Is(err, ErrBadHello) {
		t.Fatalf("err = %v", err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()
	start := time.Now()
	if err := Handshake(context.Background(), srv, 50*time.Millisecond); err == nil {
		t.Fatal("silent peer accepted")
	}
	if el := time.Since(start); el > time.Second {
		t.Fatalf("timeout took %v", el)
	}
}

func TestHandshakeCancelled(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	if err := Handshake(ctx, srv, 10*time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
