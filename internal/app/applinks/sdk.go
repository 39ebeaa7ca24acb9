// Package applinks 是对外的 SDK 门面：一个 URI 进来，一个结构化的导航意图出去。
//
// SDK 由应用自己持有，构造一次、到处使用；包级的 Init/Default 只是为了兼容“全局单例”的用法。
package applinks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"applinks.local/internal/app/applinks/cache"
	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/app/applinks/deferred"
	"applinks.local/internal/app/applinks/linkapi"
	"applinks.local/internal/app/applinks/listener"
	"applinks.local/internal/app/applinks/shortener"
	"applinks.local/internal/app/applinks/stage"
	"applinks.local/internal/app/applinks/stats"
	"applinks.local/internal/app/applinks/store"
	"golang.org/x/sync/semaphore"
)

var ErrClosed = errors.New("applinks sdk closed")

const (
	sourceLive     = "live"
	sourceDeferred = "install_referrer"
)

type SDK struct {
	logger    *slog.Logger
	client    *linkapi.Client
	linkCache *cache.LinkCache
	pipeline  *deeplink.Pipeline
	registry  *listener.Registry
	shortener *shortener.Shortener
	recoverer *deferred.Recoverer
	stats     stats.Collector

	sem     *semaphore.Weighted
	baseCtx context.Context
	cancel  context.CancelFunc

	// mu 保证 closed 检查和 wg.Add 相对 Close 是原子的：Close 置位之后不会再有 Add。
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	launchedAt time.Time

	deferredDone chan struct{}
	deferredOut  deferred.Outcome
}

// New 校验配置、组装 pipeline，开启延迟解析时在后台启动首次启动检查。
func New(opts Options) (*SDK, error) {
	if strings.TrimSpace(opts.ServerURL) == "" {
		return nil, fmt.Errorf("%w: server url is required", deeplink.ErrValidation)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !opts.EnableLogging {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "applinks")

	if strings.HasPrefix(opts.APIKey, "sk_") {
		return nil, fmt.Errorf("%w: private keys (sk_) must never be embedded in clients, use a public key (pk_)", deeplink.ErrValidation)
	}
	if opts.APIKey != "" && !strings.HasPrefix(opts.APIKey, "pk_") {
		logger.Warn("api key does not look like a public key (pk_)")
	}

	clientOpts := []linkapi.Option{linkapi.WithLogger(logger)}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, linkapi.WithHTTPClient(opts.HTTPClient))
	}
	clientOpts = append(clientOpts, linkapi.WithTimeout(opts.ClientTimeout))
	client := linkapi.New(opts.ServerURL, opts.APIKey, clientOpts...)

	launchedAt := opts.LaunchedAt
	if launchedAt.IsZero() {
		launchedAt = time.Now()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &SDK{
		logger:       logger,
		client:       client,
		pipeline:     deeplink.NewPipeline(logger),
		registry:     listener.New(opts.pendingSize(), logger),
		shortener:    shortener.New(client),
		stats:        opts.Stats,
		sem:          semaphore.NewWeighted(opts.maxConcurrency()),
		baseCtx:      baseCtx,
		cancel:       cancel,
		launchedAt:   launchedAt,
		deferredDone: make(chan struct{}),
	}
	if s.stats == nil {
		s.stats = stats.Nop{}
	}

	var retriever stage.LinkRetriever = client
	if opts.LocalCache != nil || opts.Redis != nil {
		s.linkCache = cache.NewLinkCache(client, opts.Redis, opts.LocalCache, logger)
		retriever = s.linkCache
	}

	// 内置顺序：timing 最先包住整条链，然后 universal、scheme，最后是自定义 stage
	s.pipeline.AddStage(stage.NewTiming(logger))
	if len(opts.Domains) > 0 {
		s.pipeline.AddStage(stage.NewUniversal(opts.Domains, opts.Schemes, retriever, logger))
	}
	if len(opts.Schemes) > 0 {
		s.pipeline.AddStage(stage.NewScheme(opts.Schemes, logger))
	}
	for _, st := range opts.Stages {
		s.pipeline.AddStage(st)
	}

	if opts.DeferredEnabled {
		s.startDeferred(opts)
	} else {
		s.deferredOut = deferred.Outcome{State: deferred.Skipped, Trace: []deferred.State{deferred.Skipped}}
		close(s.deferredDone)
	}

	logger.Info("applinks sdk initialized",
		"server_url", opts.ServerURL,
		"domains", len(opts.Domains),
		"schemes", len(opts.Schemes),
		"deferred", opts.DeferredEnabled)
	return s, nil
}

func (s *SDK) startDeferred(opts Options) {
	ref := opts.Referrer
	if ref == nil {
		ref = deferred.NewUnavailable(nil)
	}
	prefs := opts.Preferences
	if prefs == nil {
		prefs = store.NewMemoryPreferences()
	}
	processed := opts.Processed
	if processed == nil {
		processed = store.NewBoundedSet(store.DefaultCapacity)
	}
	s.recoverer = deferred.New(deferred.Config{
		Referrer:   ref,
		Visits:     s.client,
		Resolver:   resolverFunc(s.resolveDeferred),
		Prefs:      prefs,
		Processed:  processed,
		Sink:       s.registry,
		Logger:     s.logger,
		LaunchedAt: opts.LaunchedAt,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.deferredDone)
		if err := s.sem.Acquire(s.baseCtx, 1); err != nil {
			s.deferredOut = deferred.Outcome{State: deferred.Skipped, Err: err}
			return
		}
		defer s.sem.Release(1)
		s.deferredOut = s.recoverer.Run(s.baseCtx)
	}()
}

type resolverFunc func(ctx context.Context, id deeplink.Identifier, rc *deeplink.Context) deeplink.Result

func (f resolverFunc) Resolve(ctx context.Context, id deeplink.Identifier, rc *deeplink.Context) deeplink.Result {
	return f(ctx, id, rc)
}

// resolveDeferred 已经在 worker pool 里执行，不再占用信号量。
func (s *SDK) resolveDeferred(ctx context.Context, id deeplink.Identifier, rc *deeplink.Context) deeplink.Result {
	res := s.pipeline.Resolve(ctx, id, rc)
	s.stats.Collect(stats.EventFromResult(sourceDeferred, res, time.Now()))
	return res
}

// DeferredOutcome 等待首次启动检查结束并返回它的结果。未开启延迟解析时立即返回 Skipped。
func (s *SDK) DeferredOutcome(ctx context.Context) (deferred.Outcome, error) {
	select {
	case <-s.deferredDone:
		return s.deferredOut, nil
	case <-ctx.Done():
		return deferred.Outcome{}, ctx.Err()
	}
}

// Resolve 在 worker pool 上解析 raw，阻塞到结果返回。
// 永远不会返回 error：失败体现在 Result.Handled=false 和 Result.Error 上。
func (s *SDK) Resolve(ctx context.Context, raw string) deeplink.Result {
	id, err := deeplink.Parse(raw)
	if err != nil {
		return deeplink.FailureResult(deeplink.Identifier{}, err)
	}
	if s.isClosed() {
		return deeplink.FailureResult(id, ErrClosed)
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return deeplink.FailureResult(id, fmt.Errorf("resolve link: %w", err))
	}
	defer s.sem.Release(1)
	return s.resolve(ctx, id)
}

func (s *SDK) resolve(ctx context.Context, id deeplink.Identifier) deeplink.Result {
	res := s.pipeline.Resolve(ctx, id, deeplink.NewContext(false, s.launchedAt))
	s.stats.Collect(stats.EventFromResult(sourceLive, res, time.Now()))
	return res
}

// Handle 把 raw 丢给 worker pool 解析，结果（成功或失败）交给已注册的 listener；
// 还没有 listener 时先缓冲。调用方不等待。
func (s *SDK) Handle(raw string) {
	id, err := deeplink.Parse(raw)
	if err != nil {
		s.logger.Warn("ignoring unparsable link", "uri", raw, "err", err)
		s.registry.DeliverError(err)
		return
	}
	if !s.CanResolve(raw) {
		s.logger.Debug("link not handled by any stage", "uri", raw)
	}
	s.goPool(func(ctx context.Context) {
		res := s.resolve(ctx, id)
		if res.Handled {
			s.registry.Deliver(res)
			return
		}
		cause := res.Cause()
		if cause == nil {
			cause = errors.New(res.Error)
		}
		s.registry.DeliverError(cause)
	})
}

// CanResolve 只判断是否有 stage 声明能处理，不发起网络请求。
func (s *SDK) CanResolve(raw string) bool {
	id, err := deeplink.Parse(raw)
	if err != nil {
		return false
	}
	return s.pipeline.CanResolve(id)
}

// AddStage 追加到 pipeline 末尾。属于初始化期操作，不要和解析并发调用。
func (s *SDK) AddStage(st deeplink.Stage) {
	s.pipeline.AddStage(st)
}

func (s *SDK) RegisterListener(l listener.Listener) listener.ID {
	return s.registry.Register(l)
}

func (s *SDK) UnregisterListener(id listener.ID) bool {
	return s.registry.Unregister(id)
}

// CreateShortLink 校验后调用解析服务创建链接。
func (s *SDK) CreateShortLink(ctx context.Context, req shortener.Request) (shortener.Result, error) {
	if s.isClosed() {
		return shortener.Result{}, ErrClosed
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return shortener.Result{}, err
	}
	defer s.sem.Release(1)
	return s.shortener.Create(ctx, req)
}

// CreateShortLinkAsync 在 worker pool 上创建链接，cb 在 listener 的投递 goroutine 上执行。
func (s *SDK) CreateShortLinkAsync(req shortener.Request, cb func(shortener.Result, error)) {
	s.goPool(func(ctx context.Context) {
		res, err := s.shortener.Create(ctx, req)
		if cb == nil {
			return
		}
		if derr := s.registry.Dispatch(func() { cb(res, err) }); derr != nil {
			s.logger.Warn("dropping short link callback", "err", derr)
		}
	})
}

// goPool 在 worker pool 上执行 fn；SDK 已关闭时直接丢弃。
func (s *SDK) goPool(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("sdk closed, dropping task")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(s.baseCtx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)
		fn(s.baseCtx)
	}()
}

func (s *SDK) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pending 是还没有 listener 时缓冲着的投递数。
func (s *SDK) Pending() int {
	return s.registry.Pending()
}

// Sync 等到目前为止提交给 listener 的条目都投递完。测试里用得比较多。
func (s *SDK) Sync(ctx context.Context) error {
	return s.registry.Sync(ctx)
}

// Close 停止接收新任务，等在途任务结束后关闭投递 goroutine 和本地缓存。
// ctx 超时时取消在途任务并返回 ctx.Err()。
func (s *SDK) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.cancel()

	if cerr := s.registry.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	if s.linkCache != nil {
		s.linkCache.Close()
	}
	s.logger.Info("applinks sdk closed")
	return err
}
