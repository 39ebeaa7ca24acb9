package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/app/applinks/linkapi"
	"applinks.local/internal/platform/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	notFoundSentinel = "__nil__"
	keyPrefix        = "al:link:"
)

// Retriever 与 stage.LinkRetriever 同形。
type Retriever interface {
	RetrieveLink(ctx context.Context, linkURL string) (linkapi.Link, error)
}

// LinkCache 给 retrieve-by-url 加两级缓存：L1 ristretto，L2 redis（可为 nil）。
//
// 约定：
// - 只缓存成功结果和 404（负缓存），其他错误直接透传，不缓存
// - visit_id 每次访问都不同，写缓存前去掉
// - 过期时间早于 TTL 的链接，TTL 截断到过期时刻；已过期的不缓存
type LinkCache struct {
	inner    Retriever
	client   *redis.Client
	local    *LocalCache
	ttl      time.Duration
	emptyTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewLinkCache logger 为 nil 时不输出日志。
func NewLinkCache(inner Retriever, client *redis.Client, local *LocalCache, logger *slog.Logger) *LinkCache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LinkCache{
		inner:    inner,
		client:   client,
		local:    local,
		logger:   logger,
		ttl:      10 * time.Minute,
		emptyTTL: 30 * time.Second,
		now:      time.Now,
	}
}

func (c *LinkCache) RetrieveLink(ctx context.Context, linkURL string) (linkapi.Link, error) {
	key := keyPrefix + linkURL

	if raw, ok := c.lookup(ctx, key); ok {
		if string(raw) == notFoundSentinel {
			return linkapi.Link{}, notFound()
		}
		var link linkapi.Link
		if err := json.Unmarshal(raw, &link); err == nil {
			return link, nil
		}
		// 坏数据当作未命中
		c.logger.Warn("link cache: drop undecodable entry", "key", key)
	}

	link, err := c.inner.RetrieveLink(ctx, linkURL)
	if err != nil {
		if errors.Is(err, deeplink.ErrNotFound) {
			c.storeNotFound(ctx, key)
		}
		return link, err
	}
	c.store(ctx, key, link)
	return link, nil
}

func (c *LinkCache) lookup(ctx context.Context, key string) ([]byte, bool) {
	// L1
	if c.local != nil {
		if raw, ok := c.local.Get(key); ok {
			metrics.LinkCacheOperations.WithLabelValues("l1", "hit").Inc()
			return raw, true
		}
		metrics.LinkCacheOperations.WithLabelValues("l1", "miss").Inc()
	}
	if c.client == nil {
		return nil, false
	}

	// L2
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.LinkCacheOperations.WithLabelValues("l2", "miss").Inc()
		return nil, false
	}
	if err != nil {
		c.logger.Warn("link cache: redis get failed", "err", err)
		return nil, false
	}
	metrics.LinkCacheOperations.WithLabelValues("l2", "hit").Inc()

	// 回填 L1
	if c.local != nil {
		if string(raw) == notFoundSentinel {
			c.local.SetNotFound(key)
		} else {
			c.local.Set(key, raw, c.ttl)
		}
	}
	return raw, true
}

func (c *LinkCache) store(ctx context.Context, key string, link linkapi.Link) {
	ttl := c.ttl
	if link.ExpiresAt != nil {
		left := link.ExpiresAt.Sub(c.now())
		if left <= 0 {
			return
		}
		if left < ttl {
			ttl = left
		}
	}
	link.VisitID = ""
	raw, err := json.Marshal(link)
	if err != nil {
		return
	}
	if c.local != nil {
		c.local.Set(key, raw, ttl)
	}
	if c.client != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		if err := c.client.Set(cacheCtx, key, raw, ttl).Err(); err != nil {
			c.logger.Warn("link cache: redis set failed", "err", err)
		}
	}
}

// storeNotFound 用明确哨兵值做负缓存，避免反复穿透到解析服务。
func (c *LinkCache) storeNotFound(ctx context.Context, key string) {
	if c.local != nil {
		c.local.SetNotFound(key)
	}
	if c.client != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_ = c.client.Set(cacheCtx, key, notFoundSentinel, c.emptyTTL).Err()
	}
}

// Invalidate 删除两级缓存中的条目。
func (c *LinkCache) Invalidate(ctx context.Context, linkURL string) error {
	key := keyPrefix + linkURL
	if c.local != nil {
		c.local.Del(key)
	}
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}

// Close 关闭本地缓存，redis 客户端由调用方管理。
func (c *LinkCache) Close() {
	if c.local != nil {
		c.local.Close()
		c.logger.Info("local link cache closed")
	}
}

func notFound() error {
	return &linkapi.APIError{Kind: deeplink.ErrNotFound, Status: 404, Message: "Link not found"}
}
