// Package fakedriver 内存中的浏览器实现,按 URL 返回预设页面,用于测试
package fakedriver

import (
	"context"
	"fmt"
	"sync"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
)

// Page 预设页面, Versions 不为空时每次加载依次返回下一个版本,最后一个版本保持不变
type Page struct {
	Title       string
	HTML        string
	Versions    []string
	Elements    map[string][]types.Element
	Screenshots map[string][]byte
	// 导航到该页面时依次返回的错误
	NavErrors []error
	// 加载后浏览器实际停留的地址,用于模拟重定向
	RedirectTo string
	loads      int
}

type PointerEvent struct {
	Kind  string
	Point types.Point
}

// Site 多个会话共享的页面集合
type Site struct {
	mu    sync.Mutex
	Pages map[string]*Page
	// 脚本执行钩子,返回 nil 表示脚本无结果
	Script func(url, js string) (any, error)
	// 访问记录
	Visits []string
}

func NewSite() *Site {
	return &Site{Pages: make(map[string]*Page)}
}

func (s *Site) Add(url string, p *Page) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pages[url] = p
	return s
}

func (s *Site) VisitCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.Visits {
		if v == url {
			n++
		}
	}
	return n
}

type Driver struct {
	site *Site

	mu       sync.Mutex
	url      string
	html     string
	title    string
	cookies  []types.Cookie
	closed   bool
	Profile  *model.FingerprintProfile
	Proxy    string
	Pointer  []PointerEvent
	Typed    []string
	Reloads  int
	Stealths int
	Cleared  int
	Scripts  []string
}

var _ chrome.Driver = (*Driver)(nil)

func New(site *Site) *Driver {
	return &Driver{site: site}
}

func (d *Driver) load(url string, navigate bool) error {
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	page, ok := d.site.Pages[url]
	if navigate {
		d.site.Visits = append(d.site.Visits, url)
		if ok && len(page.NavErrors) > 0 {
			err := page.NavErrors[0]
			page.NavErrors = page.NavErrors[1:]
			if err != nil {
				return err
			}
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
	if !ok {
		d.title = "404"
		d.html = "<html><body>not found</body></html>"
		return nil
	}
	if page.RedirectTo != "" {
		d.url = page.RedirectTo
	}
	d.title = page.Title
	d.html = page.HTML
	if len(page.Versions) > 0 {
		idx := min(page.loads, len(page.Versions)-1)
		d.html = page.Versions[idx]
	}
	page.loads++
	return nil
}

func (d *Driver) current() *Page {
	d.site.mu.Lock()
	defer d.site.mu.Unlock()
	d.mu.Lock()
	url := d.url
	d.mu.Unlock()
	return d.site.Pages[url]
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.load(url, true)
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *Driver) Title(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title, nil
}

func (d *Driver) PageSource(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.html, nil
}

func (d *Driver) ExecuteScript(ctx context.Context, js string) (any, error) {
	d.mu.Lock()
	d.Scripts = append(d.Scripts, js)
	url := d.url
	d.mu.Unlock()
	if d.site.Script == nil {
		return nil, nil
	}
	return d.site.Script(url, js)
}

func (d *Driver) FindElements(ctx context.Context, selector string) ([]types.Element, error) {
	page := d.current()
	if page == nil || page.Elements == nil {
		return nil, nil
	}
	return page.Elements[selector], nil
}

func (d *Driver) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	page := d.current()
	if page == nil || page.Screenshots == nil {
		return nil, fmt.Errorf("元素不存在: %s", selector)
	}
	data, ok := page.Screenshots[selector]
	if !ok {
		return nil, fmt.Errorf("元素不存在: %s", selector)
	}
	return data, nil
}

func (d *Driver) pointer(kind string, p types.Point) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Pointer = append(d.Pointer, PointerEvent{Kind: kind, Point: p})
	return nil
}

func (d *Driver) PointerDown(ctx context.Context, p types.Point) error { return d.pointer("down", p) }
func (d *Driver) PointerMove(ctx context.Context, p types.Point) error { return d.pointer("move", p) }
func (d *Driver) PointerUp(ctx context.Context, p types.Point) error   { return d.pointer("up", p) }

func (d *Driver) TypeText(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Typed = append(d.Typed, text)
	return nil
}

func (d *Driver) Reload(ctx context.Context) error {
	d.mu.Lock()
	d.Reloads++
	url := d.url
	d.mu.Unlock()
	return d.load(url, false)
}

func (d *Driver) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cookies = append(d.cookies, cookies...)
	return nil
}

func (d *Driver) GetCookies(ctx context.Context) ([]types.Cookie, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]types.Cookie(nil), d.cookies...), nil
}

func (d *Driver) DeleteCookies(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cookies = nil
	d.Cleared++
	return nil
}

func (d *Driver) ApplyProfile(ctx context.Context, profile *model.FingerprintProfile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Profile = profile
	return nil
}

func (d *Driver) ApplyStealth(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Stealths++
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Driver) PointerEvents() []PointerEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]PointerEvent(nil), d.Pointer...)
}

// Factory 每次创建会话都返回新的 Driver,并记录下来
type Factory struct {
	Site *Site

	mu       sync.Mutex
	Sessions []*Driver
	Err      error
}

var _ chrome.SessionFactory = (*Factory)(nil)

func NewFactory(site *Site) *Factory {
	return &Factory{Site: site}
}

func (f *Factory) NewSession(ctx context.Context, profile *model.FingerprintProfile, proxy string) (chrome.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	d := New(f.Site)
	d.Profile = profile
	d.Proxy = proxy
	d.Stealths = 1
	f.Sessions = append(f.Sessions, d)
	return d, nil
}

func (f *Factory) SessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sessions)
}

func (f *Factory) Close() {}
