package chrome

import (
	"context"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
)

// Driver 浏览器自动化能力集合,编排器只依赖这个接口,不关心具体实现.
// ExecuteScript 接收一个无参 JS 函数定义,例如 `() => document.title`.
// 同一个 Driver 只能由一个调用方顺序使用.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
	ExecuteScript(ctx context.Context, js string) (any, error)
	FindElements(ctx context.Context, selector string) ([]types.Element, error)
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	PointerDown(ctx context.Context, p types.Point) error
	PointerMove(ctx context.Context, p types.Point) error
	PointerUp(ctx context.Context, p types.Point) error
	TypeText(ctx context.Context, text string) error
	Reload(ctx context.Context) error
	SetCookies(ctx context.Context, cookies []types.Cookie) error
	GetCookies(ctx context.Context) ([]types.Cookie, error)
	DeleteCookies(ctx context.Context) error
	ApplyProfile(ctx context.Context, profile *model.FingerprintProfile) error
	ApplyStealth(ctx context.Context) error
	Close() error
}

// SessionFactory 为指纹和代理创建新的浏览器会话
type SessionFactory interface {
	NewSession(ctx context.Context, profile *model.FingerprintProfile, proxy string) (Driver, error)
	Close()
}
