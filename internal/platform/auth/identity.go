package auth

import (
	"context"
	"slices"
)

// Identity 是通过认证的调用方（sidecar 的上游服务），Subject 通常是服务名，TokenID 是 jti。
type Identity struct {
	Subject string
	Scopes  []string
	TokenID string
}

// IdentityFromClaims 把校验过的 token 内容转成请求级身份。
func IdentityFromClaims(c Claims) Identity {
	return Identity{Subject: c.Subject, Scopes: slices.Clone(c.Scopes), TokenID: c.ID}
}

// HasScope 精确匹配；不支持通配。
func (id Identity) HasScope(scope string) bool {
	return slices.Contains(id.Scopes, scope)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// GetIdentity 未认证的请求返回 false。
func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
