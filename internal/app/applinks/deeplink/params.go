package deeplink

import (
	"bytes"
	"encoding/json"
)

// Params 是按插入顺序保存的字符串映射。
//
// 约定：
// - 插入顺序 = 解析顺序（哪个 stage 先写，哪个 key 就排在前面）
// - key 唯一，重复 Set 时保留原位置、覆盖值（last writer wins）
// - 零值可直接使用
type Params struct {
	keys []string
	vals map[string]string
}

func (p *Params) Set(key, value string) {
	if p.vals == nil {
		p.vals = make(map[string]string)
	}
	if _, ok := p.vals[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.vals[key] = value
}

// Merge 依次把 m 的键值写入 p；m 是普通 map，顺序按 keys 参数给出（nil 时按 map 遍历顺序）。
func (p *Params) Merge(m map[string]string, keys []string) {
	if keys == nil {
		for k, v := range m {
			p.Set(k, v)
		}
		return
	}
	for _, k := range keys {
		if v, ok := m[k]; ok {
			p.Set(k, v)
		}
	}
}

// MergeParams 按 other 的顺序覆盖写入。
func (p *Params) MergeParams(other Params) {
	for _, k := range other.keys {
		p.Set(k, other.vals[k])
	}
}

func (p Params) Get(key string) (string, bool) {
	v, ok := p.vals[key]
	return v, ok
}

func (p Params) Len() int { return len(p.keys) }

// Keys 返回 key 列表副本。
func (p Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Map 返回普通 map 副本（丢失顺序）。
func (p Params) Map() map[string]string {
	out := make(map[string]string, len(p.keys))
	for k, v := range p.vals {
		out[k] = v
	}
	return out
}

// Clone 深拷贝，结果与原对象不共享底层存储。
func (p Params) Clone() Params {
	if len(p.keys) == 0 {
		return Params{}
	}
	c := Params{
		keys: make([]string, len(p.keys)),
		vals: make(map[string]string, len(p.vals)),
	}
	copy(c.keys, p.keys)
	for k, v := range p.vals {
		c.vals[k] = v
	}
	return c
}

// MarshalJSON 按插入顺序输出 JSON object。
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(p.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
