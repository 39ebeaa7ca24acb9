package stats

import (
	"context"
	"log/slog"
	"time"

	"applinks.local/internal/platform/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BatchWriter 把一批事件落库。
type BatchWriter interface {
	WriteBatch(ctx context.Context, batch []ResolutionEvent) error
}

// PGWriter 用 COPY 批量写入 applinks_resolution_events。
type PGWriter struct {
	db *pgxpool.Pool
}

func NewPGWriter(db *pgxpool.Pool) *PGWriter {
	return &PGWriter{db: db}
}

func (w *PGWriter) WriteBatch(ctx context.Context, batch []ResolutionEvent) error {
	rows := make([][]any, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, []any{e.URI, e.Source, e.Handled, e.Path, e.LinkType, e.Error, e.DurationMS, e.ResolvedAt})
	}
	_, err := w.db.CopyFrom(ctx,
		pgx.Identifier{"applinks_resolution_events"},
		[]string{"uri", "source", "handled", "path", "link_type", "error", "duration_ms", "resolved_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Consumer 消费 channel 里的事件，凑够 batchSize 或每隔 interval 落库一次。
type Consumer struct {
	events    <-chan ResolutionEvent
	writer    BatchWriter
	batchSize int
	interval  time.Duration
	name      string
	transport string
}

func NewConsumer(writer BatchWriter, collector *ChannelCollector) *Consumer {
	return newConsumer("channel", writer, collector.Events())
}

func newConsumer(transport string, writer BatchWriter, events <-chan ResolutionEvent) *Consumer {
	return &Consumer{
		events:    events,
		writer:    writer,
		batchSize: 100,         //批量写入大小
		interval:  time.Second, //最大等待时间
		name:      transport + " resolution stats",
		transport: transport,
	}
}

// Run 阻塞，ctx 取消或 channel 关闭时把剩余事件写完再返回。
func (c *Consumer) Run(ctx context.Context) {
	batch := make([]ResolutionEvent, 0, c.batchSize)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flush(batch)
			return
		case event, ok := <-c.events:
			if !ok {
				c.flush(batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= c.batchSize {
				c.flush(batch)
				batch = batch[:0] //保留容量，避免反复分配
			}
		case <-ticker.C:
			if len(batch) > 0 {
				c.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (c *Consumer) flush(batch []ResolutionEvent) {
	if len(batch) == 0 {
		return
	}
	// 和调用方 ctx 脱钩：退出时也要把最后一批写进去
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.writer.WriteBatch(ctx, batch); err != nil {
		metrics.StatsEvents.WithLabelValues(c.transport, "write_failed").Add(float64(len(batch)))
		slog.Error(c.name+": write batch failed", "err", err, "count", len(batch))
		return
	}
	metrics.StatsEvents.WithLabelValues(c.transport, "written").Add(float64(len(batch)))
	slog.Debug(c.name+": flushed", "count", len(batch))
}
