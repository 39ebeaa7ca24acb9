package deeplink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"applinks.local/internal/platform/metrics"
	apptrace "applinks.local/internal/platform/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Next 是 pipeline 交给 stage 的续延（continuation）：调用它就进入下一个 stage。
type Next func(ctx context.Context, rc *Context) (*Context, error)

// Stage 是一种解析策略（中间件）。
//
// 约定：
// - CanHandle 只是声明“我能处理这个 identifier”，pipeline 用它做 CanResolve 判断
// - Run 不适用时必须自己调用 next(rc) 原样透传；适用时修改 rc 再调用 next
// - stage 可以在 next 返回之后继续修改返回的 Context（包裹下游执行，例如计时）
// - stage 不持有“链的剩余部分”，next 每次调用由 pipeline 现场提供
type Stage interface {
	Name() string
	CanHandle(id Identifier) bool
	Run(ctx context.Context, rc *Context, id Identifier, next Next) (*Context, error)
}

// Transformer 是最常见的纯变换 stage：(context, identifier) -> context。
type Transformer interface {
	Name() string
	CanHandle(id Identifier) bool
	Apply(ctx context.Context, rc *Context, id Identifier) (*Context, error)
}

// Transform 把 Transformer 适配成 Stage：不适用透传，适用则先 Apply 再进入下一个 stage。
func Transform(t Transformer) Stage {
	return transformStage{t}
}

type transformStage struct {
	Transformer
}

func (s transformStage) Run(ctx context.Context, rc *Context, id Identifier, next Next) (*Context, error) {
	if !s.CanHandle(id) {
		return next(ctx, rc)
	}
	out, err := s.Apply(ctx, rc, id)
	if err != nil {
		return nil, err
	}
	return next(ctx, out)
}

// Pipeline 持有有序的 stage 列表，按注册顺序驱动它们。
//
// 设计原因：
// - 注册顺序就是执行顺序（不按字母、不按优先级），组合方式可预测、可测试
// - 因此计时/日志类 stage 需要最先注册
//
// AddStage/RemoveStage/Clear 属于初始化期操作，不要和 Resolve 并发调用。
// Resolve 之间可以并发，每次使用自己的 Context。
type Pipeline struct {
	mu     sync.RWMutex
	stages []Stage
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		logger: logger,
		tracer: otel.Tracer("applinks.local/deeplink"),
		now:    time.Now,
	}
}

// AddStage 追加到列表末尾。
func (p *Pipeline) AddStage(s Stage) {
	if s == nil {
		return
	}
	p.mu.Lock()
	p.stages = append(p.stages, s)
	p.mu.Unlock()
	p.logger.Debug("stage added", "stage", s.Name())
}

// RemoveStage 按名字移除第一个匹配的 stage。
func (p *Pipeline) RemoveStage(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.stages {
		if s.Name() == name {
			p.stages = append(p.stages[:i:i], p.stages[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pipeline) Clear() {
	p.mu.Lock()
	p.stages = nil
	p.mu.Unlock()
}

// Stages 返回当前注册顺序的副本。
func (p *Pipeline) Stages() []Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// CanResolve 只要有任意 stage 声明能处理就返回 true，不启动 pipeline。
func (p *Pipeline) CanResolve(id Identifier) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.stages {
		if s.CanHandle(id) {
			return true
		}
	}
	return false
}

// Resolve 按注册顺序执行全部 stage，把最终 Context 转成 Result。
//
// 失败约定：
// - 没有任何 stage 能处理：Handled=false，Cause 为 ErrNoHandler，不执行任何 stage
// - 任意 stage 返回 error 或 panic：立即中止，Handled=false，不泄漏中间状态
// 这里永远不会把错误抛给调用方。
func (p *Pipeline) Resolve(ctx context.Context, id Identifier, initial *Context) (res Result) {
	if initial == nil {
		initial = NewContext(false, p.now())
	}
	stages := p.Stages()

	ctx, span := p.tracer.Start(ctx, "deeplink.Resolve", trace.WithAttributes(
		attribute.String(apptrace.LinkScheme, id.Scheme()),
		attribute.String(apptrace.LinkHost, id.Host()),
		attribute.Int(apptrace.LinkStages, len(stages)),
	))
	defer span.End()

	if !p.CanResolve(id) {
		err := fmt.Errorf("%w: %s", ErrNoHandler, id.String())
		p.logger.Debug("no stage claims identifier", "uri", id.String())
		metrics.Resolutions.WithLabelValues("no_handler").Inc()
		span.SetStatus(codes.Error, err.Error())
		return FailureResult(id, err)
	}

	p.logger.Debug("processing link through pipeline", "uri", id.String(), "stages", len(stages))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("resolve link: stage panic: %v", r)
			p.logger.Error("pipeline aborted", "uri", id.String(), "panic", r)
			metrics.Resolutions.WithLabelValues("failed").Inc()
			span.SetStatus(codes.Error, err.Error())
			res = FailureResult(id, err)
		}
	}()

	final, err := p.run(ctx, stages, 0, initial, id)
	if err == nil && final == nil {
		err = fmt.Errorf("pipeline returned nil context")
	}
	if err != nil {
		err = fmt.Errorf("resolve link: %w", err)
		p.logger.Error("pipeline aborted", "uri", id.String(), "err", err)
		metrics.Resolutions.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return FailureResult(id, err)
	}

	metrics.Resolutions.WithLabelValues("handled").Inc()
	span.SetAttributes(attribute.String(apptrace.LinkOutcome, "handled"))
	return successResult(id, final)
}

// run 是按下标递归的调度器：stage i 通过 next 进入 i+1，越界时原样返回。
func (p *Pipeline) run(ctx context.Context, stages []Stage, i int, rc *Context, id Identifier) (*Context, error) {
	if rc == nil {
		return nil, fmt.Errorf("stage %s passed nil context", stages[i-1].Name())
	}
	if i >= len(stages) {
		return rc, nil
	}
	s := stages[i]
	p.logger.Debug("running stage", "stage", s.Name(), "index", i)
	return s.Run(ctx, rc, id, func(ctx context.Context, next *Context) (*Context, error) {
		return p.run(ctx, stages, i+1, next, id)
	})
}
