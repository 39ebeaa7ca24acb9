package linkapi

import "time"

// Link 是解析服务返回的链接记录（retrieve / create 共用）。
type Link struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	AliasPath      string            `json:"alias_path"`
	Domain         string            `json:"domain"`
	OriginalURL    string            `json:"original_url"`
	DeepLinkPath   string            `json:"deep_link_path"`
	DeepLinkParams map[string]string `json:"deep_link_params"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	FullURL        string            `json:"full_url"`
	VisitID        string            `json:"visit_id,omitempty"`
}

// Expired 判断链接在 now 时刻是否已过期；没有过期时间视为永不过期。
func (l Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// Visit 是服务端记录的一次点击/引流事件。
type Visit struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
	Fingerprint *string   `json:"fingerprint,omitempty"`
	Link        *Link     `json:"link,omitempty"`
}

type RetrieveLinkRequest struct {
	URL string `json:"url"`
}

type CreateLinkRequest struct {
	Domain string   `json:"domain"`
	Link   LinkData `json:"link"`
}

type LinkData struct {
	Title               string               `json:"title"`
	OriginalURL         string               `json:"original_url,omitempty"`
	DeepLinkPath        string               `json:"deep_link_path,omitempty"`
	DeepLinkParams      map[string]string    `json:"deep_link_params,omitempty"`
	ExpiresAt           *time.Time           `json:"expires_at,omitempty"`
	AliasPathAttributes *AliasPathAttributes `json:"alias_path_attributes,omitempty"`
}

// AliasPathAttributes.Type 取值 UNGUESSABLE / SHORT。
type AliasPathAttributes struct {
	Type string `json:"type"`
}

type ErrorResponse struct {
	Error ErrorDetails `json:"error"`
}

type ErrorDetails struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
