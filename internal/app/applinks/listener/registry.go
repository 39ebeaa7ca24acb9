package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/platform/metrics"
)

// DefaultPendingSize 没有 listener 时最多缓冲的条目数。
const DefaultPendingSize = 100

var ErrClosed = errors.New("listener registry closed")

// Listener 观察解析结果和错误。回调总是在同一个投递 goroutine 上串行执行。
type Listener interface {
	OnResult(deeplink.Result)
	OnError(error)
}

// Replayer 是可选接口。实现了它的 listener 通过 OnReplayResult/OnReplayError 收到回放的积压条目，
// 其余投递仍走 OnResult/OnError。积压已经从缓冲区移出，listener 不应再丢弃这些条目。
type Replayer interface {
	Listener
	OnReplayResult(deeplink.Result)
	OnReplayError(error)
}

// Funcs 把两个函数适配成 Listener，任一为 nil 时忽略对应事件。
type Funcs struct {
	Result func(deeplink.Result)
	Error  func(error)
}

func (f Funcs) OnResult(r deeplink.Result) {
	if f.Result != nil {
		f.Result(r)
	}
}

func (f Funcs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// ID 是 Register 返回的句柄，用于 Unregister。
type ID uint64

type entry struct {
	id ID
	l  Listener
}

// item 是结果或错误二选一。
type item struct {
	result *deeplink.Result
	err    error
}

// delivery 在入队时就确定投递目标，之后注册/注销的 listener 不影响已入队的条目。
type delivery struct {
	item    item
	targets []Listener
	replay  bool
	job     func()
}

// Registry 持有 listener 列表和待投递缓冲。
//
// 约定：
// - 没有 listener 时 Deliver/DeliverError 进入 pending 缓冲（有界，满了丢最旧的）
// - 列表从空变为非空时，把 pending 按原顺序回放给这个 listener 并清空；之后注册的不会再收到
// - 回放与后续投递在同一把锁下入队，所以回放一定先于之后到达的结果
// - 单个 listener panic 只影响它自己
type Registry struct {
	mu         sync.Mutex
	listeners  []entry
	nextID     ID
	pending    []item
	maxPending int
	queue      []delivery
	closed     bool

	wake    chan struct{}
	stopped chan struct{}
	logger  *slog.Logger
}

// New maxPending < 0 时使用 DefaultPendingSize，0 表示不限。
func New(maxPending int, logger *slog.Logger) *Registry {
	if maxPending < 0 {
		maxPending = DefaultPendingSize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Registry{
		maxPending: maxPending,
		wake:       make(chan struct{}, 1),
		stopped:    make(chan struct{}),
		logger:     logger,
	}
	go r.loop()
	return r
}

// Register 添加 listener；如果它是当前唯一的 listener，先回放缓冲内容。
func (r *Registry) Register(l Listener) ID {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, entry{id: id, l: l})

	replayed := 0
	if len(r.listeners) == 1 && len(r.pending) > 0 {
		targets := []Listener{l}
		for _, it := range r.pending {
			r.queue = append(r.queue, delivery{item: it, targets: targets, replay: true})
		}
		replayed = len(r.pending)
		r.pending = nil
	}
	r.mu.Unlock()

	if replayed > 0 {
		r.logger.Debug("replaying pending deliveries", "count", replayed)
		r.signal()
	}
	return id
}

// Unregister 返回该 id 是否存在。
func (r *Registry) Unregister(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.listeners {
		if e.id == id {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) Deliver(res deeplink.Result) {
	r.enqueue(item{result: &res})
}

func (r *Registry) DeliverError(err error) {
	if err == nil {
		return
	}
	r.enqueue(item{err: err})
}

func (r *Registry) enqueue(it item) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("delivery after close dropped")
		return
	}
	if len(r.listeners) == 0 {
		r.pending = append(r.pending, it)
		if r.maxPending > 0 && len(r.pending) > r.maxPending {
			r.pending = r.pending[1:]
			metrics.PendingDropped.Inc()
			r.logger.Warn("pending buffer full, dropped oldest", "max", r.maxPending)
		}
		r.mu.Unlock()
		return
	}
	targets := make([]Listener, len(r.listeners))
	for i, e := range r.listeners {
		targets[i] = e.l
	}
	r.queue = append(r.queue, delivery{item: it, targets: targets})
	r.mu.Unlock()
	r.signal()
}

// Dispatch 把 fn 放到投递 goroutine 上执行，与 listener 回调串行。
func (r *Registry) Dispatch(fn func()) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.queue = append(r.queue, delivery{job: fn})
	r.mu.Unlock()
	r.signal()
	return nil
}

// Sync 等到当前已入队的条目全部投递完。
func (r *Registry) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := r.Dispatch(func() { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Close 拒绝新的投递，把已入队的投完后返回。
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.wake)
	}
	r.mu.Unlock()

	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) signal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Registry) loop() {
	defer close(r.stopped)
	for {
		_, ok := <-r.wake
		for {
			r.mu.Lock()
			batch := r.queue
			r.queue = nil
			r.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, d := range batch {
				r.run(d)
			}
		}
		if !ok {
			return
		}
	}
}

func (r *Registry) run(d delivery) {
	if d.job != nil {
		metrics.ListenerDeliveries.WithLabelValues("job").Inc()
		r.safely("job", func() { d.job() })
		return
	}
	kind := "result"
	if d.item.err != nil {
		kind = "error"
	}
	if d.replay {
		kind = "replay"
	}
	for _, l := range d.targets {
		metrics.ListenerDeliveries.WithLabelValues(kind).Inc()
		rp, replayer := l.(Replayer)
		replayer = replayer && d.replay
		if d.item.result != nil {
			// 每个 listener 拿到自己的副本，改 Params/Metadata 不会影响其他 listener
			res := cloneResult(*d.item.result)
			if replayer {
				r.safely("replay", func() { rp.OnReplayResult(res) })
			} else {
				r.safely("result", func() { l.OnResult(res) })
			}
		} else {
			err := d.item.err
			if replayer {
				r.safely("replay", func() { rp.OnReplayError(err) })
			} else {
				r.safely("error", func() { l.OnError(err) })
			}
		}
	}
}

func cloneResult(res deeplink.Result) deeplink.Result {
	res.Params = res.Params.Clone()
	res.Metadata = maps.Clone(res.Metadata)
	if res.Rewritten != nil {
		rw := *res.Rewritten
		res.Rewritten = &rw
	}
	return res
}

func (r *Registry) safely(what string, fn func()) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("listener panicked", "callback", what, "panic", fmt.Sprint(v))
		}
	}()
	fn()
}
