package collector

import (
	"context"

	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
)

// Request 一次详情页抓取, UserAgent 和 Cookies 通常来自当前浏览器会话
type Request struct {
	URL       string
	UserAgent string
	Cookies   []types.Cookie
	Headers   map[string]string
}

// Fetcher 不经过浏览器直接抓取页面 HTML
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (string, error)
}
