package httpmiddleware

import (
	"errors"
	"net/http"
	"strings"

	"applinks.local/internal/platform/auth"
)

// parseBearer 解析 Authorization header 中的 Bearer token
// 返回 token 字符串，如果格式不正确返回空字符串
func parseBearer(header string) string {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return fields[1]
}

// AuthRequired 要求请求携带有效的 JWT；scopes 非空时 token 必须全部具备。
func AuthRequired(ts auth.TokenService, scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				WriteError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			token := parseBearer(header)
			if token == "" {
				WriteError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}
			claims, err := ts.Verify(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, auth.ErrTokenExpired) {
					msg = "token expired"
				}
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				WriteError(w, http.StatusUnauthorized, msg)
				return
			}
			id := auth.IdentityFromClaims(claims)
			for _, s := range scopes {
				if !id.HasScope(s) {
					w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+s+`"`)
					WriteError(w, http.StatusForbidden, "missing scope "+s)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// AuthOptional 有合法 token 就写入 Identity，否则原样放行。限流按 Identity 分桶时需要它在前面。
func AuthOptional(ts auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := parseBearer(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := ts.Verify(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := auth.WithIdentity(r.Context(), auth.IdentityFromClaims(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
