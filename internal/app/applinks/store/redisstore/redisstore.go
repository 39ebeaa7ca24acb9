package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"applinks.local/internal/app/applinks/store"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "applinks:"
	opTimeout     = 800 * time.Millisecond
)

// addScript 原子地完成“检查再插入 + FIFO 裁剪”。
//
// KEYS[1] = 有序列表（插入顺序），KEYS[2] = 成员集合
// ARGV[1] = visit id，ARGV[2] = 容量
// 返回 1 表示新插入，0 表示已存在
var addScript = redis.NewScript(`
local list = KEYS[1]
local set = KEYS[2]
local id = ARGV[1]
local cap = tonumber(ARGV[2])

if redis.call("SISMEMBER", set, id) == 1 then
  return 0
end
redis.call("SADD", set, id)
redis.call("RPUSH", list, id)
while redis.call("LLEN", list) > cap do
  local oldest = redis.call("LPOP", list)
  redis.call("SREM", set, oldest)
end
return 1
`)

// ProcessedStore 用一个 LIST 记录顺序、一个 SET 做成员判断。
type ProcessedStore struct {
	client   *redis.Client
	capacity int
	listKey  string
	setKey   string
}

// NewProcessedStore prefix 为空时使用 "applinks:"；capacity <= 0 时使用 store.DefaultCapacity。
func NewProcessedStore(client *redis.Client, prefix string, capacity int) *ProcessedStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if capacity <= 0 {
		capacity = store.DefaultCapacity
	}
	return &ProcessedStore{
		client:   client,
		capacity: capacity,
		listKey:  prefix + "processed:order",
		setKey:   prefix + "processed:set",
	}
}

func (s *ProcessedStore) Contains(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.SIsMember(ctx, s.setKey, id).Result()
}

func (s *ProcessedStore) Add(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := addScript.Run(ctx, s.client, []string{s.listKey, s.setKey}, id, s.capacity).Int()
	if err != nil {
		return false, fmt.Errorf("redisstore add %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *ProcessedStore) Len(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := s.client.LLen(ctx, s.listKey).Result()
	return int(n), err
}

// List 按插入顺序返回全部 id（用于预热 BloomGuard）。
func (s *ProcessedStore) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.LRange(ctx, s.listKey, 0, -1).Result()
}

// Preferences 把首次启动标记存成一个普通 key。
type Preferences struct {
	client *redis.Client
	key    string
}

func NewPreferences(client *redis.Client, prefix string) *Preferences {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Preferences{client: client, key: prefix + "first_launch_completed"}
}

func (p *Preferences) FirstLaunchCompleted(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	v, err := p.client.Get(ctx, p.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func (p *Preferences) MarkFirstLaunchCompleted(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return p.client.Set(ctx, p.key, "1", 0).Err()
}

var (
	_ store.ProcessedStore = (*ProcessedStore)(nil)
	_ store.Lister         = (*ProcessedStore)(nil)
	_ store.Preferences    = (*Preferences)(nil)
)
