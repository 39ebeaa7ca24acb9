package store

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomGuard 在持久化的 ProcessedStore 前面挡一层布隆过滤器。
//
// 布隆过滤器返回 false 表示一定没处理过，直接跳过一次 Redis/DB 往返；
// 返回 true 只是“可能处理过”，仍然回源确认。
// FIFO 淘汰后过滤器不会删除元素，只会多回源几次，不影响正确性。
type BloomGuard struct {
	inner  ProcessedStore
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewBloomGuard 创建过滤器；inner 实现了 Lister 时用已有 id 预热。
// expectedItems: 预期元素数量；falsePositiveRate: 误判率（建议 0.01）
func NewBloomGuard(ctx context.Context, inner ProcessedStore, expectedItems uint, falsePositiveRate float64) (*BloomGuard, error) {
	g := &BloomGuard{
		inner:  inner,
		filter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}
	if l, ok := inner.(Lister); ok {
		ids, err := l.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			g.filter.AddString(id)
		}
	}
	return g, nil
}

func (g *BloomGuard) mightExist(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.filter.TestString(id)
}

func (g *BloomGuard) remember(id string) {
	g.mu.Lock()
	g.filter.AddString(id)
	g.mu.Unlock()
}

func (g *BloomGuard) Contains(ctx context.Context, id string) (bool, error) {
	if !g.mightExist(id) {
		return false, nil
	}
	return g.inner.Contains(ctx, id)
}

func (g *BloomGuard) Add(ctx context.Context, id string) (bool, error) {
	added, err := g.inner.Add(ctx, id)
	if err != nil {
		return false, err
	}
	g.remember(id)
	return added, nil
}

func (g *BloomGuard) Len(ctx context.Context) (int, error) {
	return g.inner.Len(ctx)
}

// ApproximatedSize 返回过滤器里元素数量的估算值。
func (g *BloomGuard) ApproximatedSize() uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.filter.ApproximatedSize()
}
