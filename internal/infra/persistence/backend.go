// Package persistence 存储后端边界: 文档以 collection/key 定位,查询只支持字段相等过滤
package persistence

import (
	"context"
	"fmt"
	"strings"
)

type Document map[string]any

// Filter 字段相等过滤,字段名可以用点号访问嵌套字段,例如 metadata.crawler_id
type Filter map[string]any

type Backend interface {
	Name() string
	Put(ctx context.Context, collection, key string, doc Document) error
	// Get 不存在时返回 false 和 nil error
	Get(ctx context.Context, collection, key string) (Document, bool, error)
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)
	Delete(ctx context.Context, collection, key string) error
	Close() error
}

type Keyed struct {
	Key string
	Doc Document
}

// BatchPutter 支持批量写入的后端实现该接口
type BatchPutter interface {
	PutBatch(ctx context.Context, collection string, docs []Keyed) error
}

// Lookup 按点号路径取嵌套字段
func Lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for part := range strings.SplitSeq(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			if d, isDoc := cur.(Document); isDoc {
				m = d
			} else {
				return nil, false
			}
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Matches 按字符串形式比较,JSON 往返后的数字类型差异不影响结果
func Matches(doc Document, filter Filter) bool {
	for field, want := range filter {
		got, ok := Lookup(doc, field)
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// TextOf 拼接 list_data 和 detail_data 中的字符串字段,用于生成向量
func TextOf(doc Document) string {
	var sb strings.Builder
	for _, section := range []string{"list_data", "detail_data"} {
		data, ok := doc[section].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range data {
			s, ok := v.(string)
			if !ok || s == "" {
				continue
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
