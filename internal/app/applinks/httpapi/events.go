package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/app/applinks/deferred"
	"applinks.local/internal/app/applinks/listener"
	"applinks.local/internal/platform/httpmiddleware"
)

// ErrorEvent 是 listener OnError 的线上形式。state 只在延迟解析失败时有值。
type ErrorEvent struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	State string `json:"state,omitempty"`
}

type sseFrame struct {
	event string
	data  []byte
}

// maxLiveBacklog 是一条连接上最多积压的实时帧数。回放帧不受限制，总量由 registry 的 pending 上限决定。
const maxLiveBacklog = 64

// streamListener 在投递 goroutine 上运行，不能阻塞。
// 实时帧积压超过 maxLiveBacklog 时丢弃并记日志；回放帧已经离开 registry 的缓冲区，总是保留。
type streamListener struct {
	mu     sync.Mutex
	frames []sseFrame
	live   int
	notify chan struct{}
}

func newStreamListener() *streamListener {
	return &streamListener{notify: make(chan struct{}, 1)}
}

func (l *streamListener) OnResult(res deeplink.Result) {
	l.push("result", NewResultResponse(res), false)
}

func (l *streamListener) OnError(err error) {
	l.push("error", newErrorEvent(err), false)
}

func (l *streamListener) OnReplayResult(res deeplink.Result) {
	l.push("result", NewResultResponse(res), true)
}

func (l *streamListener) OnReplayError(err error) {
	l.push("error", newErrorEvent(err), true)
}

func newErrorEvent(err error) ErrorEvent {
	ev := ErrorEvent{Error: err.Error(), Kind: deeplink.KindOf(err)}
	var derr *deferred.Error
	if errors.As(err, &derr) {
		ev.State = derr.State.String()
	}
	return ev
}

func (l *streamListener) push(event string, v any, replay bool) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("event stream: marshal failed", "err", err)
		return
	}
	l.mu.Lock()
	if !replay && l.live >= maxLiveBacklog {
		l.mu.Unlock()
		slog.Warn("event stream: client too slow, dropping event", "event", event)
		return
	}
	l.frames = append(l.frames, sseFrame{event: event, data: data})
	if !replay {
		l.live++
	}
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// take 取走当前积压的全部帧。
func (l *streamListener) take() []sseFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.frames
	l.frames = nil
	l.live = 0
	return out
}

// NewEventsHandler GET /events：以 SSE 推送 listener 收到的结果和错误。
//
// 每条连接注册一个 listener，连接断开或 shutdown 关闭时注销；第一个连上的流会收到缓冲区里积压的投递。
func NewEventsHandler(sdk SDK, heartbeat time.Duration, shutdown <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpmiddleware.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		l := newStreamListener()
		id := sdk.RegisterListener(l)
		defer sdk.UnregisterListener(id)

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-shutdown:
				return
			case <-l.notify:
				for _, f := range l.take() {
					if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data); err != nil {
						return
					}
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

var _ listener.Replayer = (*streamListener)(nil)
