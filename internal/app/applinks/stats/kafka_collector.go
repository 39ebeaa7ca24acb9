package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"applinks.local/internal/platform/metrics"
	"github.com/segmentio/kafka-go"
)

// KafkaCollector 异步写 topic，按 URI 分区，同一链接的事件保持顺序。
type KafkaCollector struct {
	writer *kafka.Writer
}

func NewKafkaCollector(brokers []string, topic string) *KafkaCollector {
	k := &KafkaCollector{}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		// Async 模式下失败只能在回调里看到
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				metrics.StatsEvents.WithLabelValues("kafka", "dropped").Add(float64(len(messages)))
				slog.Error("kafka write failed", "err", err, "count", len(messages))
				return
			}
			metrics.StatsEvents.WithLabelValues("kafka", "sent").Add(float64(len(messages)))
		},
	}
	return k
}

func (k *KafkaCollector) Collect(event ResolutionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("resolution stats: marshal failed", "err", err)
		return
	}
	msg := kafka.Message{Key: []byte(event.URI), Value: data, Time: event.ResolvedAt}
	if err := k.writer.WriteMessages(context.Background(), msg); err != nil {
		metrics.StatsEvents.WithLabelValues("kafka", "dropped").Inc()
		slog.Error("kafka enqueue failed", "err", err)
	}
}

// Close flush 掉异步缓冲后返回。
func (k *KafkaCollector) Close() {
	if err := k.writer.Close(); err != nil {
		slog.Error("kafka writer close failed", "err", err)
	}
}
