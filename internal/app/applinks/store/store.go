package store

import (
	"context"
	"sync"
)

// DefaultCapacity 是已处理 visit id 集合的默认容量。
const DefaultCapacity = 500

// Preferences 保存首次启动标记。
type Preferences interface {
	FirstLaunchCompleted(ctx context.Context) (bool, error)
	MarkFirstLaunchCompleted(ctx context.Context) error
}

// ProcessedStore 是有界、有序、持久化的 visit id 集合，用来防止同一个延迟链接被解析两次。
//
// 约定：
// - Add 是原子的“检查再插入”：已存在返回 false，不改变顺序
// - 超过容量时按 FIFO 淘汰最早插入的 id；任何修改之后 size ≤ capacity
type ProcessedStore interface {
	Contains(ctx context.Context, id string) (bool, error)
	Add(ctx context.Context, id string) (bool, error)
	Len(ctx context.Context) (int, error)
}

// Lister 由可以按插入顺序列出全部 id 的实现提供（用于预热 BloomGuard）。
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// MemoryPreferences 进程内实现，重启即丢。
type MemoryPreferences struct {
	mu        sync.Mutex
	completed bool
}

func NewMemoryPreferences() *MemoryPreferences {
	return &MemoryPreferences{}
}

func (m *MemoryPreferences) FirstLaunchCompleted(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed, nil
}

func (m *MemoryPreferences) MarkFirstLaunchCompleted(context.Context) error {
	m.mu.Lock()
	m.completed = true
	m.mu.Unlock()
	return nil
}

// Reset 清空标记，只给测试和 dev 工具用。
func (m *MemoryPreferences) Reset() {
	m.mu.Lock()
	m.completed = false
	m.mu.Unlock()
}

// BoundedSet 是内存版 ProcessedStore。
type BoundedSet struct {
	mu       sync.Mutex
	capacity int
	order    []string
	members  map[string]struct{}
}

// NewBoundedSet capacity <= 0 时使用 DefaultCapacity。
func NewBoundedSet(capacity int) *BoundedSet {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &BoundedSet{
		capacity: capacity,
		members:  make(map[string]struct{}, capacity),
	}
}

func (s *BoundedSet) Contains(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[id]
	return ok, nil
}

func (s *BoundedSet) Add(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[id]; ok {
		return false, nil
	}
	s.members[id] = struct{}{}
	s.order = append(s.order, id)
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.members, oldest)
	}
	return true, nil
}

func (s *BoundedSet) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order), nil
}

// List 按插入顺序返回副本。
func (s *BoundedSet) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out, nil
}

func (s *BoundedSet) Capacity() int { return s.capacity }
