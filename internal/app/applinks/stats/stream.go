package stats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"applinks.local/internal/platform/metrics"
	"github.com/redis/go-redis/v9"
)

// StreamConfig 描述 redis stream 与消费组，空值取默认。
type StreamConfig struct {
	Stream   string
	Group    string
	Consumer string
	MaxLen   int64 // 近似裁剪长度，0 表示不裁剪
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.Stream == "" {
		c.Stream = "al:stats:resolutions"
	}
	if c.Group == "" {
		c.Group = "al:stats:writers"
	}
	if c.Consumer == "" {
		c.Consumer = "writer-1"
	}
	return c
}

// StreamCollector 把事件 XADD 到 redis stream，多实例共用一个消费组落库。
type StreamCollector struct {
	rdb    *redis.Client
	cfg    StreamConfig
	cancel context.CancelFunc
	ctx    context.Context
}

func NewStreamCollector(rdb *redis.Client, cfg StreamConfig) (*StreamCollector, error) {
	if rdb == nil {
		return nil, errors.New("nil redis client")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamCollector{rdb: rdb, cfg: cfg.withDefaults(), ctx: ctx, cancel: cancel}, nil
}

// Collect 失败只记日志。单次写入最多等 50ms，不拖慢解析路径。
func (s *StreamCollector) Collect(event ResolutionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("resolution stats: marshal failed", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: map[string]any{"event": string(data)},
	}
	if s.cfg.MaxLen > 0 {
		args.MaxLen = s.cfg.MaxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		metrics.StatsEvents.WithLabelValues("redis", "dropped").Inc()
		if s.ctx.Err() == nil {
			slog.Warn("redis stream write failed", "err", err)
		}
		return
	}
	metrics.StatsEvents.WithLabelValues("redis", "sent").Inc()
}

// Close 之后的 Collect 直接失败返回，redis 客户端由调用方管理。
func (s *StreamCollector) Close() {
	s.cancel()
}

// StreamConsumer 用消费组读 stream，读到即 ack，复用 Consumer 的批量落库。
type StreamConsumer struct {
	rdb    *redis.Client
	cfg    StreamConfig
	writer BatchWriter
	block  time.Duration
}

func NewStreamConsumer(rdb *redis.Client, cfg StreamConfig, writer BatchWriter) (*StreamConsumer, error) {
	if rdb == nil {
		return nil, errors.New("nil redis client")
	}
	c := &StreamConsumer{rdb: rdb, cfg: cfg.withDefaults(), writer: writer, block: 2 * time.Second}

	// 幂等创建消费组
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "$").Err(); err != nil && !isBusyGroup(err) {
		return nil, err
	}
	return c, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// Run 阻塞到 ctx 取消，退出前把已读到的事件写完。
func (c *StreamConsumer) Run(ctx context.Context) {
	events := make(chan ResolutionEvent, 100)

	go func() {
		defer close(events)
		for ctx.Err() == nil {
			batch, err := c.read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("redis stream read failed", "err", err)
				time.Sleep(200 * time.Millisecond)
				continue
			}
			for _, e := range batch {
				select {
				case events <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	newConsumer("redis", c.writer, events).Run(context.WithoutCancel(ctx))
}

func (c *StreamConsumer) read(ctx context.Context) ([]ResolutionEvent, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    100,
		Block:    c.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var (
		out []ResolutionEvent
		ids []string
	)
	for _, s := range res {
		for _, msg := range s.Messages {
			ids = append(ids, msg.ID)
			raw, _ := msg.Values["event"].(string)
			var e ResolutionEvent
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				slog.Error("unmarshal event failed", "err", err, "id", msg.ID)
				continue
			}
			out = append(out, e)
		}
	}
	if len(ids) > 0 {
		if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, ids...).Err(); err != nil {
			slog.Warn("redis stream ack failed", "err", err, "count", len(ids))
		}
	}
	return out, nil
}
