package deeplink

import (
	"maps"
	"time"
)

// Context 是在 pipeline 中逐个 stage 传递的可变累加器。
//
// 生命周期：
// - 每次解析新建一个，解析结束转换成 Result 后丢弃
// - 同一时刻只属于一个 stage：stage 拿到它、修改它、再交给 next，之后只能使用 next 返回的那个
// - 不在并发解析之间共享
type Context struct {
	IsFirstLaunch   bool
	LaunchTimestamp time.Time

	ResolvedPath   *string
	ResolvedParams Params
	Metadata       map[string]any

	// Rewritten 是 pipeline 构造出的规范（原生 scheme）形式。
	Rewritten *Identifier
}

func NewContext(isFirstLaunch bool, launchedAt time.Time) *Context {
	return &Context{
		IsFirstLaunch:   isFirstLaunch,
		LaunchTimestamp: launchedAt,
		Metadata:        make(map[string]any),
	}
}

func (c *Context) SetPath(path string) {
	c.ResolvedPath = &path
}

func (c *Context) SetMeta(key string, value any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
}

func (c *Context) SetRewritten(id Identifier) {
	c.Rewritten = &id
}

// Result 是一次解析的不可变结果。
//
// 不变式：Error != "" ⇒ Handled == false；Handled == true ⇒ Error == ""。
// 构造时拷贝 params/metadata，调用方修改返回的 map 不会影响其他持有者。
type Result struct {
	Handled   bool
	Original  Identifier
	Rewritten *Identifier
	Path      string
	Params    Params
	Metadata  map[string]any
	Error     string

	cause error
}

// Cause 返回失败原因（可用 errors.Is 判断分类），成功时为 nil。
func (r Result) Cause() error { return r.cause }

func successResult(id Identifier, c *Context) Result {
	res := Result{
		Handled:  true,
		Original: id,
		Params:   c.ResolvedParams.Clone(),
		Metadata: maps.Clone(c.Metadata),
	}
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	if c.ResolvedPath != nil {
		res.Path = *c.ResolvedPath
	}
	if c.Rewritten != nil {
		rw := *c.Rewritten
		res.Rewritten = &rw
	} else {
		orig := id
		res.Rewritten = &orig
	}
	return res
}

// FailureResult 构造失败结果：不携带任何中间状态。
func FailureResult(id Identifier, err error) Result {
	orig := id
	return Result{
		Handled:   false,
		Original:  id,
		Rewritten: &orig,
		Path:      "",
		Metadata:  map[string]any{},
		Error:     err.Error(),
		cause:     err,
	}
}
