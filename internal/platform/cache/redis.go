package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions 是 linkd 用到的 redis 连接参数。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// ClientName 会出现在 CLIENT LIST 里，用服务名区分 sidecar 实例。
	ClientName string
	// PoolSize 0 时用 go-redis 默认值（10 * GOMAXPROCS）。
	PoolSize int
}

// NewRedisClient 创建客户端并 Ping 一次，连不上直接返回错误。
// 解析路径上的缓存和限流都是 fail-open，所以读写超时压得很短。
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		ClientName:   opts.ClientName,
		PoolSize:     opts.PoolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}
