package stats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// KafkaConsumer 从 topic 读事件，复用 Consumer 的批量落库逻辑。
type KafkaConsumer struct {
	reader *kafka.Reader
	writer BatchWriter
}

func NewKafkaConsumer(brokers []string, topic string, writer BatchWriter) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  "applinks-resolution-stats",
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		writer: writer,
	}
}

func (k *KafkaConsumer) Run(ctx context.Context) {
	events := make(chan ResolutionEvent, 100)

	// 读取协程：ctx 取消后关闭 channel，Consumer 写完剩余批次退出
	go func() {
		defer close(events)
		for {
			msg, err := k.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("kafka read failed", "err", err)
				continue
			}
			var event ResolutionEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				slog.Error("unmarshal event failed", "err", err)
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	newConsumer("kafka", k.writer, events).Run(context.WithoutCancel(ctx))
}

func (k *KafkaConsumer) Close() {
	if err := k.reader.Close(); err != nil {
		slog.Error("kafka reader close failed", "err", err)
	}
}
