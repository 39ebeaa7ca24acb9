package stats

import (
	"sync"
	"time"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/platform/metrics"
)

// ResolutionEvent 是一次解析的摘要，写入 applinks_resolution_events。
type ResolutionEvent struct {
	URI        string    `json:"uri"`
	Source     string    `json:"source"` // live / deferred / sidecar
	Handled    bool      `json:"handled"`
	Path       string    `json:"path"`
	LinkType   string    `json:"link_type"`
	Error      string    `json:"error"`
	DurationMS int64     `json:"duration_ms"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// EventFromResult 从 Result 的 metadata 里取 link_type 和 timing stage 写的耗时。
func EventFromResult(source string, res deeplink.Result, at time.Time) ResolutionEvent {
	e := ResolutionEvent{
		URI:        res.Original.String(),
		Source:     source,
		Handled:    res.Handled,
		Path:       res.Path,
		Error:      res.Error,
		ResolvedAt: at,
	}
	if v, ok := res.Metadata["link_type"].(string); ok {
		e.LinkType = v
	}
	if v, ok := res.Metadata["processing_duration_ms"].(int64); ok {
		e.DurationMS = v
	}
	return e
}

// Collector 收集器接口（Channel 或 Kafka）
type Collector interface {
	Collect(event ResolutionEvent)
	Close()
}

// ChannelCollector 基于 channel 的收集器，满了直接丢弃，不阻塞解析路径。
type ChannelCollector struct {
	mu     sync.RWMutex
	ch     chan ResolutionEvent
	closed bool
}

func NewChannelCollector(bufferSize int) *ChannelCollector {
	return &ChannelCollector{
		ch: make(chan ResolutionEvent, bufferSize),
	}
}

func (c *ChannelCollector) Collect(event ResolutionEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- event:
		metrics.StatsEvents.WithLabelValues("channel", "sent").Inc()
	default:
		// 通道满了，丢弃
		metrics.StatsEvents.WithLabelValues("channel", "dropped").Inc()
	}
}

func (c *ChannelCollector) Events() <-chan ResolutionEvent {
	return c.ch
}

func (c *ChannelCollector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Nop 在统计关闭时使用。
type Nop struct{}

func (Nop) Collect(ResolutionEvent) {}
func (Nop) Close()                  {}
