package stage

import (
	"context"
	"io"
	"log/slog"
	"time"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/platform/metrics"
)

// Timing 包裹下游执行：进入时记录开始时间，下游返回后在返回的 Context 上记录结束时间和耗时。
//
// CanHandle 永远返回 false：它不参与“能否解析”的判断，但总会执行。
// 需要最先注册，才能覆盖整条链。
type Timing struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewTiming(logger *slog.Logger) *Timing {
	return &Timing{logger: orDiscard(logger), now: time.Now}
}

func (t *Timing) Name() string { return "timing" }

func (t *Timing) CanHandle(deeplink.Identifier) bool { return false }

func (t *Timing) Run(ctx context.Context, rc *deeplink.Context, id deeplink.Identifier, next deeplink.Next) (*deeplink.Context, error) {
	start := t.now()
	t.logger.Debug("starting link processing", "uri", id.String())
	rc.SetMeta("processing_started", start.UnixMilli())

	out, err := next(ctx, rc)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}

	end := t.now()
	elapsed := end.Sub(start)
	out.SetMeta("processing_completed", end.UnixMilli())
	out.SetMeta("processing_duration_ms", elapsed.Milliseconds())
	metrics.ResolutionDurationSeconds.Observe(elapsed.Seconds())

	t.logger.Info("finished link processing", "uri", id.String(), "took_ms", elapsed.Milliseconds())
	return out, nil
}

func orDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}
