package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"applinks.local/internal/app/linkservice"
	"applinks.local/internal/platform/config"
	"applinks.local/internal/platform/httpserver"
)

// linkmock 是本地开发用的内存版解析服务，重启后数据清空。
func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).With("service", "linkmock"))

	svc := linkservice.New()
	srv := httpserver.New(cfg.MockAddr, cfg, linkservice.NewRouter(svc, cfg.APIKey))
	if cfg.APIKey == "" {
		slog.Warn("APPLINKS_API_KEY empty, api routes are unauthenticated")
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("linkmock listening", "addr", cfg.MockAddr)
	if err := httpserver.RunWithGracefulShutdownContext(srv, cfg.ShutdownTimeout, stopCtx); err != nil {
		log.Fatal(err)
	}
}
