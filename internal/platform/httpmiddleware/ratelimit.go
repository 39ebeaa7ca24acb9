package httpmiddleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"applinks.local/internal/platform/auth"
	"applinks.local/internal/platform/ratelimit"
)

// ClientIP 获取真实客户端 IP。
//
// 只有 RemoteAddr 是可信代理（本机、内网、docker bridge）时才看转发头，
// 否则客户端可以伪造 X-Forwarded-For 绕过按 IP 的限流。
func ClientIP(req *http.Request) string {
	remoteHost, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		remoteHost = req.RemoteAddr
	}
	remoteIP := net.ParseIP(remoteHost)
	if remoteIP == nil || !isTrustedProxy(remoteIP) {
		return remoteHost
	}

	for _, h := range []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"} {
		v := req.Header.Get(h)
		// X-Forwarded-For 第一个是原始客户端
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		v = strings.TrimSpace(v)
		if v != "" && net.ParseIP(v) != nil {
			return v
		}
	}
	return remoteHost
}

func isTrustedProxy(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate()
}

// RateLimitKey 已认证的请求按 subject 限流，匿名请求按客户端 IP。
func RateLimitKey(r *http.Request) string {
	if id, ok := auth.GetIdentity(r.Context()); ok && id.Subject != "" {
		return "sub:" + id.Subject
	}
	return "ip:" + ClientIP(r)
}

// RateLimit 滑动窗口限流，limiter 为 nil 时不限流；redis 故障时放行。
func RateLimit(limiter *ratelimit.Limiter, prefix string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "rl:" + prefix + ":" + RateLimitKey(r)

			rlCtx, cancel := context.WithTimeout(r.Context(), 50*time.Millisecond)
			d, err := limiter.Allow(rlCtx, key, limit, window)
			cancel()
			if err != nil {
				slog.Error("rate limit check failed", "err", err, "prefix", prefix)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				if d.RetryAfter > 0 {
					// Retry-After 单位是秒，向上取整
					secs := int64((d.RetryAfter + time.Second - 1) / time.Second)
					w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
				}
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
