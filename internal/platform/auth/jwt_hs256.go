package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type hs256Service struct {
	secret   []byte
	kid      string
	keys     map[string][]byte // kid -> secret，含当前和轮换中的旧密钥
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

type jwtClaims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

func (h *hs256Service) Sign(subject string, scopes ...string) (string, error) {
	if subject == "" {
		return "", errors.New("empty subject")
	}
	for _, s := range scopes {
		if s == "" || strings.ContainsAny(s, " \t,") {
			return "", fmt.Errorf("invalid scope %q", s)
		}
	}
	now := h.now()

	claims := jwtClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    h.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.ttl)),
		},
	}
	if h.audience != "" {
		claims.Audience = jwt.ClaimStrings{h.audience}
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = h.kid
	return t.SignedString(h.secret)
}

func (h *hs256Service) Verify(tokenString string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(h.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(h.now),
	}
	if h.audience != "" {
		opts = append(opts, jwt.WithAudience(h.audience))
	}

	var parsed jwtClaims
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &parsed, h.key)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case err != nil:
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	out := Claims{ID: parsed.ID, Subject: parsed.Subject, Scopes: parsed.Scopes}
	if parsed.IssuedAt != nil {
		out.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		out.ExpiresAt = parsed.ExpiresAt.Time
	}
	return out, nil
}

// key 按 kid 选密钥；没有 kid 的老 token 只接受当前密钥。
func (h *hs256Service) key(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return h.secret, nil
	}
	secret, ok := h.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return secret, nil
}
