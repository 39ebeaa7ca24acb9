package deferred

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"applinks.local/internal/app/applinks/deeplink"
)

// VisitIDParam 是 referrer 字符串里携带 visit id 的参数名。
const VisitIDParam = "applinks_visit_id"

// ReferrerDetails 是安装来源查询的结果。
type ReferrerDetails struct {
	Referrer         string
	ClickTime        time.Time
	InstallBeginTime time.Time
	Instant          bool
}

// FailureKind 区分 referrer 服务的几类失败。
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureUnsupported
	FailureServiceUnavailable
)

// ReferrerError 是 Connect/Details 返回的类型化错误。
type ReferrerError struct {
	Kind FailureKind
	Code int
}

func (e *ReferrerError) Error() string {
	switch e.Kind {
	case FailureUnsupported:
		return "install referrer not supported"
	case FailureServiceUnavailable:
		return "install referrer service unavailable"
	default:
		return fmt.Sprintf("unknown install referrer error: %d", e.Code)
	}
}

// Unwrap 让 unsupported / service unavailable 可以用 errors.Is(err, deeplink.ErrUnsupportedPlatform) 判断。
func (e *ReferrerError) Unwrap() error {
	if e.Kind == FailureUnknown {
		return nil
	}
	return deeplink.ErrUnsupportedPlatform
}

// ReferrerClient 是安装来源服务的连接生命周期。
//
// 约定：每次 Connect 之后无论成败都会调用一次 Disconnect。
type ReferrerClient interface {
	Connect(ctx context.Context) error
	Details(ctx context.Context) (ReferrerDetails, error)
	Disconnect()
}

// ParseReferrer 按 & 再按 = (最多切两段) 拆分，丢弃畸形片段，不会失败。
// 重复 key 以最后一次为准。
func ParseReferrer(referrer string) map[string]string {
	out := make(map[string]string)
	if referrer == "" {
		return out
	}
	for _, pair := range strings.Split(referrer, "&") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}

// Static 返回固定的 referrer，用于 sidecar（由配置注入）和测试。
type Static struct {
	details    ReferrerDetails
	connectErr error

	mu          sync.Mutex
	connects    int
	disconnects int
}

func NewStatic(details ReferrerDetails) *Static {
	return &Static{details: details}
}

// NewUnavailable 每次 Connect 都返回给定错误；err 为 nil 时视为平台不支持。
func NewUnavailable(err error) *Static {
	if err == nil {
		err = &ReferrerError{Kind: FailureUnsupported}
	}
	return &Static{connectErr: err}
}

func (s *Static) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return s.connectErr
}

func (s *Static) Details(context.Context) (ReferrerDetails, error) {
	return s.details, nil
}

func (s *Static) Disconnect() {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
}

// Connections 返回 Connect/Disconnect 的调用次数。
func (s *Static) Connections() (connects, disconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects, s.disconnects
}
