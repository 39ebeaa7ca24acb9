package httpserver

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"applinks.local/internal/platform/config"
)

func TestNew_UsesConfigAndHandler(t *testing.T) {
	cfg := config.Config{
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
		WriteTimeout:      4 * time.Second,
		IdleTimeout:       5 * time.Second,
	}
	handler := http.NewServeMux()

	srv := New("127.0.0.1:0", cfg, handler)
	if srv.Addr != "127.0.0.1:0" {
		t.Fatalf("Addr: got %q, want %q", srv.Addr, "127.0.0.1:0")
	}
	if srv.Handler != handler {
		t.Fatalf("Handler: got %T, want %T", srv.Handler, handler)
	}
	if srv.ReadTimeout != cfg.ReadTimeout || srv.WriteTimeout != cfg.WriteTimeout || srv.IdleTimeout != cfg.IdleTimeout {
		t.Fatalf("timeouts: got %v/%v/%v", srv.ReadTimeout, srv.WriteTimeout, srv.IdleTimeout)
	}

	if s := NewStreaming("127.0.0.1:0", cfg, handler); s.WriteTimeout != 0 || s.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("streaming timeouts: got write %v read %v", s.WriteTimeout, s.ReadTimeout)
	}
}

func TestRunWithGracefulShutdownContext_CancelStopsServer(t *testing.T) {
	srv := New("127.0.0.1:0", config.Config{ReadHeaderTimeout: 500 * time.Millisecond}, http.NewServeMux())

	stopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- RunWithGracefulShutdownContext(srv, 500*time.Millisecond, stopCtx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}
}

func TestRunAll_ListenFailureStopsOthers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	busy := New(ln.Addr().String(), config.Config{}, http.NewServeMux())
	ok := New("127.0.0.1:0", config.Config{}, http.NewServeMux())

	done := make(chan error, 1)
	go func() { done <- RunAll(context.Background(), 500*time.Millisecond, ok, busy) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected address-in-use error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunAll did not return after a server failed")
	}
}
