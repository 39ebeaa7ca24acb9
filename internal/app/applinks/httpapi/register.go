// Package httpapi 是 linkd sidecar 的 HTTP 传输层：只做 HTTP <-> SDK 的翻译，逻辑都在 applinks 包里。
package httpapi

import (
	"context"
	"time"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/app/applinks/listener"
	"applinks.local/internal/app/applinks/shortener"
	"applinks.local/internal/platform/auth"
	"applinks.local/internal/platform/httpmiddleware"
	"applinks.local/internal/platform/ratelimit"
	"github.com/go-chi/chi/v5"
)

// SDK 是 *applinks.SDK 的子集。
type SDK interface {
	Resolve(ctx context.Context, raw string) deeplink.Result
	CanResolve(raw string) bool
	CreateShortLink(ctx context.Context, req shortener.Request) (shortener.Result, error)
	RegisterListener(l listener.Listener) listener.ID
	UnregisterListener(id listener.ID) bool
}

// RegisterAPIRoutes 在 /api/v1 分组下挂载 sidecar 接口。
//
// 解析类接口不强制鉴权（sidecar 只监听内网），带了 token 就按 subject 限流，否则按 IP；
// 创建短链要求 links:create scope，并按调用方限流 10 次/分钟。
// shutdown 关闭时所有事件流立即结束，否则 http.Server.Shutdown 会一直等长连接。
func RegisterAPIRoutes(api chi.Router, sdk SDK, ts auth.TokenService, limiter *ratelimit.Limiter, shutdown <-chan struct{}) {
	api.Group(func(r chi.Router) {
		r.Use(httpmiddleware.AuthOptional(ts), httpmiddleware.RateLimit(limiter, "resolve", 600, time.Minute))
		r.Post("/resolve", NewResolveHandler(sdk))
		r.Post("/can-resolve", NewCanResolveHandler(sdk))
	})
	api.Get("/events", NewEventsHandler(sdk, 15*time.Second, shutdown))

	api.With(
		httpmiddleware.AuthRequired(ts, auth.ScopeLinksCreate),
		httpmiddleware.RateLimit(limiter, "create", 10, time.Minute),
	).Post("/links", NewCreateLinkHandler(sdk))
}
