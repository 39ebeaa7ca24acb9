package httpmiddleware

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// TraceName 把 otelhttp 建的 span 改名为 "METHOD /route/{pattern}"。
// 用 r.Use 挂在 chi 路由上，外层要有 otelhttp.NewHandler；路由模板在 next 返回后才有值。
func TraceName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		span := trace.SpanFromContext(r.Context())
		span.SetName(r.Method + " " + routePattern(r))
	})
}
