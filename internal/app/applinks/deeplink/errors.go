package deeplink

import "errors"

// 错误分类（taxonomy）。
//
// 所有对外暴露的错误都可以用 errors.Is 归到下面某一类：
// - 客户端（linkapi）把 HTTP 状态码/传输错误映射到这里
// - 上层（SDK / httpapi）只判断分类，不关心具体字符串
var (
	ErrNetwork             = errors.New("network error")
	ErrDecode              = errors.New("decode error")
	ErrAuth                = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrServer              = errors.New("server error")
	ErrUnsupportedPlatform = errors.New("install referrer unsupported")
	ErrExpiredLink         = errors.New("link has expired")
	ErrNoHandler           = errors.New("no stage can handle identifier")
	ErrAlreadyProcessed    = errors.New("visit already processed")
	ErrNoPayload           = errors.New("no deferred deep link found in install referrer")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNetwork, "network"},
	{ErrDecode, "decode"},
	{ErrAuth, "auth"},
	{ErrNotFound, "not_found"},
	{ErrValidation, "validation"},
	{ErrServer, "server"},
	{ErrUnsupportedPlatform, "unsupported_platform"},
	{ErrExpiredLink, "expired_link"},
	{ErrNoHandler, "no_handler"},
	{ErrAlreadyProcessed, "already_processed"},
	{ErrNoPayload, "no_payload"},
}

// KindOf 返回错误所属分类的短名（用于日志字段和 metrics label），未知返回 "unknown"。
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}
