package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ScopeLinksCreate 允许通过 sidecar 创建短链。
const ScopeLinksCreate = "links:create"

var (
	// ErrTokenExpired token 签名有效但已过期，客户端应重新申请。
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid 签名、签发者、受众或格式不对。
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims 是校验通过后交给业务层的内容。ID 是 jti，日志里用来追踪单个 token。
type Claims struct {
	ID        string
	Subject   string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type TokenService interface {
	Sign(subject string, scopes ...string) (string, error)
	Verify(token string) (Claims, error)
}

type Option func(*hs256Service)

// WithPreviousSecrets 轮换密钥期间，旧密钥签的 token 仍然可以校验，但新 token 只用当前密钥签。
func WithPreviousSecrets(secrets ...string) Option {
	return func(h *hs256Service) {
		for _, s := range secrets {
			if s != "" {
				h.keys[keyID([]byte(s))] = []byte(s)
			}
		}
	}
}

// WithAudience 设置 aud；为空时不写也不校验。
func WithAudience(aud string) Option {
	return func(h *hs256Service) { h.audience = aud }
}

func NewHS256Service(secret, issuer string, ttl time.Duration, opts ...Option) (TokenService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if issuer == "" {
		return nil, errors.New("jwt issuer is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("jwt ttl must be > 0")
	}
	h := &hs256Service{
		secret: []byte(secret),
		kid:    keyID([]byte(secret)),
		keys:   map[string][]byte{},
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.keys[h.kid] = h.secret
	return h, nil
}

// keyID 取密钥 sha256 的前 8 字节，写进 header 的 kid，校验时据此选密钥。
func keyID(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:8])
}
