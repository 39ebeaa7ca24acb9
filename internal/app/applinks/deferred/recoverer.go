package deferred

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/app/applinks/linkapi"
	"applinks.local/internal/app/applinks/store"
	"applinks.local/internal/platform/metrics"
	apptrace "applinks.local/internal/platform/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// State 是首次启动延迟解析状态机的状态。
type State int

const (
	Idle State = iota
	Connecting
	ReferrerAvailable
	Unsupported
	ServiceError
	ParsingPayload
	PayloadFound
	NoPayload
	AlreadyProcessed
	NewVisit
	RemoteVisitLookup
	VisitResolved
	VisitLookupFailed
	Resolved
	Failed
	// Skipped 不是首次启动，状态机没有启动。
	Skipped
)

var stateNames = [...]string{
	Idle:              "idle",
	Connecting:        "connecting",
	ReferrerAvailable: "referrer_available",
	Unsupported:       "unsupported",
	ServiceError:      "service_error",
	ParsingPayload:    "parsing_payload",
	PayloadFound:      "payload_found",
	NoPayload:         "no_payload",
	AlreadyProcessed:  "already_processed",
	NewVisit:          "new_visit",
	RemoteVisitLookup: "remote_visit_lookup",
	VisitResolved:     "visit_resolved",
	VisitLookupFailed: "visit_lookup_failed",
	Resolved:          "resolved",
	Failed:            "failed",
	Skipped:           "skipped",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

var (
	errNoLinkData     = fmt.Errorf("no link data found in visit: %w", deeplink.ErrNotFound)
	errNoVisitFetcher = errors.New("resolution service client not configured")
)

// Error 是通过 listener 投递出去的延迟解析失败，带上终止时的状态。
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string { return "deferred link: " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Outcome 是一次 Run 的结果。Trace 按顺序记录经过的全部状态。
type Outcome struct {
	State   State
	Trace   []State
	VisitID string
	Result  *deeplink.Result
	Err     error
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Trace = append(o.Trace, s)
}

func (o *Outcome) fail(s State, err error) {
	o.enter(s)
	o.Err = err
}

// VisitFetcher 按 visit id 查询服务端记录。
type VisitFetcher interface {
	FetchVisitDetails(ctx context.Context, visitID string) (linkapi.Visit, error)
}

// Resolver 是 *deeplink.Pipeline 的子集。
type Resolver interface {
	Resolve(ctx context.Context, id deeplink.Identifier, initial *deeplink.Context) deeplink.Result
}

// Sink 接收最终结果，*listener.Registry 实现了它。
type Sink interface {
	Deliver(deeplink.Result)
	DeliverError(error)
}

type Config struct {
	Referrer  ReferrerClient
	Visits    VisitFetcher
	Resolver  Resolver
	Prefs     store.Preferences
	Processed store.ProcessedStore
	Sink      Sink
	Logger    *slog.Logger

	// LaunchedAt 写入 Context.LaunchTimestamp，零值时取 Run 开始的时间。
	LaunchedAt time.Time
	Now        func() time.Time
}

// Recoverer 在首次启动时通过安装来源找回点击时的链接，每个进程最多执行一次。
//
// 无论走到哪个终态，首次启动标记都会被置为完成；referrer 连接在读完详情后立即释放。
type Recoverer struct {
	cfg  Config
	once sync.Once
	out  Outcome
}

func New(cfg Config) *Recoverer {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recoverer{cfg: cfg}
}

// Run 执行状态机；重复调用直接返回第一次的结果。
func (r *Recoverer) Run(ctx context.Context) Outcome {
	r.once.Do(func() {
		ctx, span := otel.Tracer("applinks.local/deferred").Start(ctx, "deferred.Run")
		defer span.End()
		r.out = r.run(ctx)
		span.SetAttributes(attribute.String(apptrace.DeferredStep, r.out.State.String()))
		metrics.DeferredOutcomes.WithLabelValues(r.out.State.String()).Inc()
	})
	return r.out
}

func (r *Recoverer) run(ctx context.Context) (out Outcome) {
	log := r.cfg.Logger
	out.enter(Idle)

	done, err := r.cfg.Prefs.FirstLaunchCompleted(ctx)
	if err != nil {
		// 读不到标记时不冒险重复解析
		log.Warn("read first launch flag failed", "err", err)
		out.enter(Skipped)
		return out
	}
	if done {
		log.Debug("skipping deferred link check, not first launch")
		out.enter(Skipped)
		return out
	}
	log.Debug("first launch detected, checking for deferred link")

	defer func() {
		if err := r.cfg.Prefs.MarkFirstLaunchCompleted(context.WithoutCancel(ctx)); err != nil {
			log.Error("mark first launch completed failed", "err", err)
		}
		if out.Err != nil {
			log.Info("deferred link not recovered", "state", out.State.String(), "err", out.Err)
			r.cfg.Sink.DeliverError(&Error{State: out.State, Err: out.Err})
		}
	}()

	launchedAt := r.cfg.LaunchedAt
	if launchedAt.IsZero() {
		launchedAt = r.cfg.Now()
	}

	out.enter(Connecting)
	details, err := r.readReferrer(ctx)
	if err != nil {
		var rerr *ReferrerError
		if errors.As(err, &rerr) && rerr.Kind == FailureUnsupported {
			out.fail(Unsupported, err)
		} else {
			out.fail(ServiceError, err)
		}
		return out
	}
	out.enter(ReferrerAvailable)

	out.enter(ParsingPayload)
	visitID := ParseReferrer(details.Referrer)[VisitIDParam]
	if visitID == "" {
		out.fail(NoPayload, fmt.Errorf("no deferred deep link found in install referrer: %w", deeplink.ErrNoPayload))
		return out
	}
	out.enter(PayloadFound)
	out.VisitID = visitID

	seen, err := r.cfg.Processed.Contains(ctx, visitID)
	if err != nil {
		out.fail(Failed, fmt.Errorf("check processed visit: %w", err))
		return out
	}
	if seen {
		log.Debug("visit already processed, skipping", "visit_id", visitID)
		out.fail(AlreadyProcessed, fmt.Errorf("visit %s: %w", visitID, deeplink.ErrAlreadyProcessed))
		return out
	}
	out.enter(NewVisit)

	out.enter(RemoteVisitLookup)
	if r.cfg.Visits == nil {
		out.fail(VisitLookupFailed, errNoVisitFetcher)
		return out
	}
	visit, err := r.cfg.Visits.FetchVisitDetails(ctx, visitID)
	if err != nil {
		log.Error("fetch visit details failed", "visit_id", visitID, "err", err)
		out.fail(VisitLookupFailed, err)
		return out
	}
	out.enter(VisitResolved)

	link := visit.Link
	if link == nil {
		out.fail(Failed, errNoLinkData)
		return out
	}
	if link.Expired(r.cfg.Now()) {
		out.fail(Failed, fmt.Errorf("link %s expired at %s: %w", link.ID, link.ExpiresAt.Format(time.RFC3339), deeplink.ErrExpiredLink))
		return out
	}

	id, err := deeplink.Parse(payloadURI(*link))
	if err != nil {
		out.fail(Failed, err)
		return out
	}

	rc := deeplink.NewContext(true, launchedAt)
	rc.SetMeta("source", "install_referrer")
	rc.SetMeta("referrer_click_time", unixSeconds(details.ClickTime))
	rc.SetMeta("install_begin_time", unixSeconds(details.InstallBeginTime))
	rc.SetMeta("visit_id", firstNonEmpty(visit.ID, visitID))
	rc.SetMeta("link_title", link.Title)

	res := r.cfg.Resolver.Resolve(ctx, id, rc)
	if !res.Handled {
		cause := res.Cause()
		if cause == nil {
			cause = errors.New(res.Error)
		}
		out.fail(Failed, cause)
		return out
	}

	added, err := r.cfg.Processed.Add(ctx, visitID)
	if err != nil {
		// 记录失败不影响本次投递
		log.Warn("record processed visit failed", "visit_id", visitID, "err", err)
	} else if !added {
		out.fail(AlreadyProcessed, fmt.Errorf("visit %s: %w", visitID, deeplink.ErrAlreadyProcessed))
		return out
	}

	out.enter(Resolved)
	out.Result = &res
	log.Info("deferred link recovered", "visit_id", visitID, "path", res.Path)
	r.cfg.Sink.Deliver(res)
	return out
}

// readReferrer 连接、读取并释放；Disconnect 在任何分支都会执行。
func (r *Recoverer) readReferrer(ctx context.Context) (ReferrerDetails, error) {
	if r.cfg.Referrer == nil {
		return ReferrerDetails{}, &ReferrerError{Kind: FailureUnsupported}
	}
	defer r.cfg.Referrer.Disconnect()

	if err := r.cfg.Referrer.Connect(ctx); err != nil {
		return ReferrerDetails{}, err
	}
	details, err := r.cfg.Referrer.Details(ctx)
	if err != nil {
		return ReferrerDetails{}, fmt.Errorf("read install referrer: %w", err)
	}
	r.cfg.Logger.Debug("install referrer retrieved",
		"referrer", details.Referrer,
		"click_time", details.ClickTime.Unix(),
		"install_begin_time", details.InstallBeginTime.Unix(),
		"instant", details.Instant,
	)
	return details, nil
}

// payloadURI deep_link_path 本身是完整 URI 时直接使用，否则退回 original_url。
func payloadURI(l linkapi.Link) string {
	if strings.Contains(l.DeepLinkPath, "://") {
		return l.DeepLinkPath
	}
	return l.OriginalURL
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
