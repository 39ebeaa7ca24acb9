package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// LocalCache 是进程内 L1，value 是序列化后的 Link JSON 或负缓存哨兵。
// TTL 比 L2 短，多实例之间靠过期尽快收敛。
type LocalCache struct {
	cache    *ristretto.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewLocalCache maxItems 用来估算准入计数器数量，maxCost 是按字节计的容量上限。
func NewLocalCache(maxItems int64, maxCost int64) (*LocalCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10, // TinyLFU 建议取条目数的 10 倍
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &LocalCache{
		cache:    c,
		ttl:      time.Minute,
		emptyTTL: 10 * time.Second,
	}, nil
}

func (l *LocalCache) Get(key string) ([]byte, bool) {
	v, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Set 实际 TTL 取 min(l.ttl, ttl)，链接快过期时不会在 L1 里多活。
func (l *LocalCache) Set(key string, val []byte, ttl time.Duration) {
	if ttl <= 0 || ttl > l.ttl {
		ttl = l.ttl
	}
	l.cache.SetWithTTL(key, val, int64(len(val)), ttl)
}

func (l *LocalCache) SetNotFound(key string) {
	l.cache.SetWithTTL(key, []byte(notFoundSentinel), 1, l.emptyTTL)
}

// HitRatio 供 admin 口展示，没有任何访问时为 0。
func (l *LocalCache) HitRatio() float64 {
	return l.cache.Metrics.Ratio()
}

// Wait 等缓冲写入生效，测试里读自己刚写的值时需要。
func (l *LocalCache) Wait() {
	l.cache.Wait()
}

func (l *LocalCache) Del(key string) {
	l.cache.Del(key)
}

func (l *LocalCache) Close() {
	l.cache.Close()
}
