// Package linkservice 是远端解析服务的内存版实现：retrieve / create / visits 三个接口。
//
// cmd/linkmock 用它做本地联调，linkapi 的测试也跑在它上面。数据只在进程内，重启即丢。
package linkservice

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"applinks.local/internal/app/applinks/linkapi"
	"github.com/google/uuid"
)

var (
	ErrLinkNotFound  = errors.New("link not found")
	ErrVisitNotFound = errors.New("visit not found")
	ErrInvalid       = errors.New("invalid request")
)

// DefaultVisitTTL visit 记录的有效期，过期后查询返回 404。
const DefaultVisitTTL = 24 * time.Hour

// ClientInfo 是一次点击里能拿到的客户端信息。
type ClientInfo struct {
	IP        string
	UserAgent string
}

type Service struct {
	mu     sync.RWMutex
	links  map[string]linkapi.Link // key: domain + "/" + alias
	visits map[string]linkapi.Visit
	seq    uint64

	visitTTL time.Duration
	now      func() time.Time
}

type Option func(*Service)

// WithClock 测试里固定时间用。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithVisitTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.visitTTL = d
		}
	}
}

func New(opts ...Option) *Service {
	s := &Service{
		links:    make(map[string]linkapi.Link),
		visits:   make(map[string]linkapi.Visit),
		visitTTL: DefaultVisitTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create 按 alias_path_attributes.type 生成路径并保存链接。
func (s *Service) Create(req linkapi.CreateLinkRequest) (linkapi.Link, error) {
	domain := strings.ToLower(strings.TrimSpace(req.Domain))
	if domain == "" {
		return linkapi.Link{}, fmt.Errorf("%w: domain is required", ErrInvalid)
	}
	if strings.TrimSpace(req.Link.Title) == "" {
		return linkapi.Link{}, fmt.Errorf("%w: link.title is required", ErrInvalid)
	}
	if err := validateOriginalURL(req.Link.OriginalURL); err != nil {
		return linkapi.Link{}, err
	}
	strategy := "UNGUESSABLE"
	if req.Link.AliasPathAttributes != nil && req.Link.AliasPathAttributes.Type != "" {
		strategy = req.Link.AliasPathAttributes.Type
	}
	if strategy != "UNGUESSABLE" && strategy != "SHORT" {
		return linkapi.Link{}, fmt.Errorf("%w: unknown alias path type %q", ErrInvalid, strategy)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	alias, err := s.nextAliasLocked(domain, strategy)
	if err != nil {
		return linkapi.Link{}, err
	}
	now := s.now().UTC()
	link := linkapi.Link{
		ID:             "lnk_" + uuid.NewString(),
		Title:          req.Link.Title,
		AliasPath:      alias,
		Domain:         domain,
		OriginalURL:    req.Link.OriginalURL,
		DeepLinkPath:   req.Link.DeepLinkPath,
		DeepLinkParams: req.Link.DeepLinkParams,
		ExpiresAt:      req.Link.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
		FullURL:        "https://" + domain + "/" + alias,
	}
	if link.DeepLinkParams == nil {
		link.DeepLinkParams = map[string]string{}
	}
	s.links[domain+"/"+alias] = link
	return link, nil
}

func (s *Service) nextAliasLocked(domain, strategy string) (string, error) {
	if strategy == "SHORT" {
		s.seq++
		return shortAlias(s.seq)
	}
	// 32 位随机碰撞概率可以忽略，重试几次只是兜底
	for i := 0; i < 3; i++ {
		alias, err := unguessableAlias()
		if err != nil {
			return "", err
		}
		if _, taken := s.links[domain+"/"+alias]; !taken {
			return alias, nil
		}
	}
	return "", errors.New("alias generation exhausted")
}

// Seed 直接放入一条链接，缺省字段自动补齐。本地联调和测试用。
func (s *Service) Seed(link linkapi.Link) linkapi.Link {
	s.mu.Lock()
	defer s.mu.Unlock()

	link.Domain = strings.ToLower(link.Domain)
	if link.AliasPath == "" {
		s.seq++
		link.AliasPath, _ = shortAlias(s.seq)
	}
	if link.ID == "" {
		link.ID = "lnk_" + uuid.NewString()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = s.now().UTC()
	}
	if link.UpdatedAt.IsZero() {
		link.UpdatedAt = link.CreatedAt
	}
	if link.FullURL == "" {
		link.FullURL = "https://" + link.Domain + "/" + link.AliasPath
	}
	if link.DeepLinkParams == nil {
		link.DeepLinkParams = map[string]string{}
	}
	link.VisitID = ""
	s.links[link.Domain+"/"+link.AliasPath] = link
	return link
}

// Retrieve 按完整 URL 找到链接，并为这次访问生成一条 visit。
// 返回的 Link 带上新 visit 的 id。
func (s *Service) Retrieve(rawURL string, info ClientInfo) (linkapi.Link, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return linkapi.Link{}, fmt.Errorf("%w: url must be absolute", ErrInvalid)
	}
	alias := strings.Trim(u.Path, "/")
	visit, err := s.RecordVisit(u.Hostname(), alias, info)
	if err != nil {
		return linkapi.Link{}, err
	}
	link := *visit.Link
	link.VisitID = visit.ID
	return link, nil
}

// RecordVisit 为 domain/alias 上的链接记一次点击。
func (s *Service) RecordVisit(domain, alias string, info ClientInfo) (linkapi.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[strings.ToLower(domain)+"/"+alias]
	if !ok {
		return linkapi.Visit{}, ErrLinkNotFound
	}
	now := s.now().UTC()
	v := linkapi.Visit{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		UpdatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(s.visitTTL),
		IPAddress:  info.IP,
		UserAgent:  info.UserAgent,
		Link:       &link,
	}
	s.visits[v.ID] = v
	return v, nil
}

// Visit 查询 visit，过期的按不存在处理。
func (s *Service) Visit(id string) (linkapi.Visit, error) {
	s.mu.RLock()
	v, ok := s.visits[id]
	s.mu.RUnlock()
	if !ok || !v.ExpiresAt.After(s.now()) {
		return linkapi.Visit{}, ErrVisitNotFound
	}
	return v, nil
}

// DetachLink 去掉 visit 上挂的链接，模拟链接已被删除的 visit。
func (s *Service) DetachLink(visitID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[visitID]
	if !ok {
		return false
	}
	v.Link = nil
	s.visits[visitID] = v
	return true
}

// validateOriginalURL scheme 必须是 http/https，host 不能为空。
func validateOriginalURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: link.original_url is required", ErrInvalid)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || strings.TrimSpace(u.Host) == "" {
		return fmt.Errorf("%w: link.original_url must be an http(s) url", ErrInvalid)
	}
	return nil
}
