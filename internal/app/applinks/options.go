package applinks

import (
	"log/slog"
	"net/http"
	"time"

	"applinks.local/internal/app/applinks/cache"
	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/app/applinks/deferred"
	"applinks.local/internal/app/applinks/stats"
	"applinks.local/internal/app/applinks/store"
	"github.com/redis/go-redis/v9"
)

// DefaultMaxConcurrency worker pool 同时执行的解析/网络调用数。
const DefaultMaxConcurrency = 8

// Options 构造 SDK 所需的全部配置。只有 ServerURL 必填。
type Options struct {
	ServerURL string
	// APIKey 只能是可公开的 pk_ key；sk_ 开头直接拒绝。
	APIKey string

	// Domains 配置后注册 universal stage（含子域名）。
	Domains []string
	// Schemes 是有序的：第一个用来合成 universal 链接的原生形式。
	Schemes []string
	// Stages 追加在内置 stage（timing、universal、scheme）之后。
	Stages []deeplink.Stage

	DeferredEnabled bool
	// Referrer 为 nil 且开启了延迟解析时，按平台不支持处理。
	Referrer    deferred.ReferrerClient
	Preferences store.Preferences
	Processed   store.ProcessedStore
	// LaunchedAt 写进首次启动解析的 Context，零值取 New 的时间。
	LaunchedAt time.Time

	// PendingSize 没有 listener 时最多缓冲的条目数：0 取默认值，负数表示不限。
	PendingSize    int
	MaxConcurrency int64

	HTTPClient    *http.Client
	ClientTimeout time.Duration

	// LocalCache 或 Redis 任一非 nil 时，retrieve 走两级缓存。LocalCache 随 SDK 一起关闭。
	LocalCache *cache.LocalCache
	Redis      *redis.Client

	// Stats 为 nil 时不采集解析事件。
	Stats stats.Collector

	EnableLogging bool
	// Logger 为 nil 时用 slog.Default()。
	Logger *slog.Logger
}

func (o Options) pendingSize() int {
	switch {
	case o.PendingSize == 0:
		return -1 // listener.New 里负数表示默认值
	case o.PendingSize < 0:
		return 0
	default:
		return o.PendingSize
	}
}

func (o Options) maxConcurrency() int64 {
	if o.MaxConcurrency <= 0 {
		return DefaultMaxConcurrency
	}
	return o.MaxConcurrency
}
