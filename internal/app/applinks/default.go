package applinks

import (
	"log/slog"
	"sync"
)

var (
	defaultMu  sync.Mutex
	defaultSDK *SDK
)

// Init 构造进程级的默认实例。重复调用会打印警告并返回已有实例，opts 被忽略。
func Init(opts Options) (*SDK, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultSDK != nil {
		slog.Warn("applinks sdk already initialized, ignoring new options")
		return defaultSDK, nil
	}
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	defaultSDK = s
	return s, nil
}

// Default 返回 Init 构造的实例，还没 Init 时为 nil。
func Default() *SDK {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultSDK
}

// resetDefault 仅供测试：丢弃默认实例，不关闭它。
func resetDefault() {
	defaultMu.Lock()
	defaultSDK = nil
	defaultMu.Unlock()
}
