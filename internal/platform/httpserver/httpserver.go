package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"applinks.local/internal/platform/config"
	"golang.org/x/sync/errgroup"
)

// New 用 cfg 里的超时构造 server，监听 addr。
func New(addr string, cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// NewStreaming 用于 SSE 这类长连接：不设 WriteTimeout，否则流会被定时掐断。
func NewStreaming(addr string, cfg config.Config, handler http.Handler) *http.Server {
	srv := New(addr, cfg, handler)
	srv.WriteTimeout = 0
	return srv
}

// RunWithGracefulShutdownContext 启动 srv，stopCtx 结束时在 shutdownTimeout 内优雅关闭。
// 先同步 Listen，端口被占用这类错误直接返回，不用等 goroutine。
func RunWithGracefulShutdownContext(srv *http.Server, shutdownTimeout time.Duration, stopCtx context.Context) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	slog.Info("http server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-stopCtx.Done():
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// 超时仍有连接没结束，强制断开
			_ = srv.Close()
			return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
		}
		slog.Info("http server stopped", "addr", ln.Addr().String())
	}
	return nil
}

// RunAll 同时运行多个 server（业务口 + admin 口）。任意一个启动失败，其余也一起关闭。
func RunAll(ctx context.Context, shutdownTimeout time.Duration, servers ...*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			return RunWithGracefulShutdownContext(srv, shutdownTimeout, gctx)
		})
	}
	return g.Wait()
}
