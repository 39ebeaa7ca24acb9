package deeplink

import (
	"fmt"
	"net/url"
	"strings"
)

// Identifier 是一次解析的输入：应用收到的 URI（web 链接或自定义 scheme 链接）。
//
// 设计原因：
// - 对外只读：内部持有 url.URL 的副本，所有读取方法都不会把可变指针泄漏出去
// - 值类型：可以安全地在 goroutine 之间传递
type Identifier struct {
	u url.URL
}

// Parse 解析原始字符串，scheme 为空视为不合法。
func Parse(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, fmt.Errorf("%w: empty identifier", ErrValidation)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: parse identifier: %v", ErrValidation, err)
	}
	if u.Scheme == "" {
		return Identifier{}, fmt.Errorf("%w: identifier %q has no scheme", ErrValidation, raw)
	}
	return Identifier{u: *u}, nil
}

// MustParse 用于测试和常量场景，解析失败直接 panic。
func MustParse(raw string) Identifier {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// FromURL 拷贝一份 u 构造 Identifier。
func FromURL(u *url.URL) Identifier {
	if u == nil {
		return Identifier{}
	}
	return Identifier{u: *u}
}

func (id Identifier) IsZero() bool {
	return id.u.Scheme == "" && id.u.Host == "" && id.u.Path == "" && id.u.Opaque == ""
}

// Scheme 统一转成小写。
func (id Identifier) Scheme() string { return strings.ToLower(id.u.Scheme) }

// Host 返回不带端口的主机名（自定义 scheme 下就是 "myapp://catalog/42" 里的 catalog），保留原始大小写。
func (id Identifier) Host() string { return id.u.Hostname() }

func (id Identifier) Path() string { return id.u.Path }

func (id Identifier) RawQuery() string { return id.u.RawQuery }

// URL 返回一份可以随意修改的副本。
func (id Identifier) URL() *url.URL {
	u := id.u
	return &u
}

func (id Identifier) String() string { return id.u.String() }

// IsWeb 判断是否是 http/https 链接。
func (id Identifier) IsWeb() bool {
	s := id.Scheme()
	return s == "http" || s == "https"
}

// QueryParams 按出现顺序返回查询参数。
//
// 同名参数只保留第一次出现的值；无法解码的键值对直接跳过，不报错。
func (id Identifier) QueryParams() Params {
	var p Params
	for _, pair := range strings.Split(id.u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil || key == "" {
			continue
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		if _, ok := p.Get(key); ok {
			continue
		}
		p.Set(key, val)
	}
	return p
}
