package chrome

import (
	"context"
	"fmt"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
)

type chromedpDriver struct {
	pageCtx     context.Context
	pageCtxFuc  context.CancelFunc
	allocCtxFuc context.CancelFunc
	pageTimeout time.Duration
}

type chromedpSessionFactory struct {
	cfg *config.Config
}

// InitChromedpSessionFactory 每个会话启动一个独立的浏览器进程
func InitChromedpSessionFactory(cfg *config.Config) SessionFactory {
	return &chromedpSessionFactory{cfg: cfg}
}

func (f *chromedpSessionFactory) NewSession(ctx context.Context, profile *model.FingerprintProfile, proxy string) (Driver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.cfg.Chromedp.Headless),
		chromedp.Flag("incognito", f.cfg.Chromedp.Incognito),
		chromedp.Flag("disable-dev-shm-usage", f.cfg.Chromedp.DisableDevShmUsage),
		chromedp.Flag("no-sandbox", f.cfg.Chromedp.NoSandbox),
	)
	if f.cfg.Chromedp.DisableBlinkFeatures != "" {
		opts = append(opts, chromedp.Flag("disable-blink-features", f.cfg.Chromedp.DisableBlinkFeatures))
	}
	if f.cfg.Chromedp.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(f.cfg.Chromedp.UserDataDir))
	}
	if profile != nil && profile.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(profile.UserAgent))
	}
	if profile != nil && profile.Screen.Width > 0 {
		opts = append(opts, chromedp.WindowSize(profile.Screen.Width, profile.Screen.Height))
	}
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}

	// 浏览器生命周期不跟随单次调用的 ctx
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	pageCtx, cancelPage := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(pageCtx); err != nil {
		cancelPage()
		cancelAlloc()
		return nil, fmt.Errorf("启动chromedp浏览器失败: %w", err)
	}

	d := &chromedpDriver{
		pageCtx:     pageCtx,
		pageCtxFuc:  cancelPage,
		allocCtxFuc: cancelAlloc,
		pageTimeout: time.Duration(f.cfg.Browser.PageTimeoutSeconds) * time.Second,
	}
	if err := d.ApplyStealth(ctx); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.ApplyProfile(ctx, profile); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (f *chromedpSessionFactory) Close() {}

// run 在页面上下文中执行动作,调用方 ctx 取消时中断当前动作但不关闭标签页
func (cd *chromedpDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(cd.pageCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (cd *chromedpDriver) Navigate(ctx context.Context, url string) error {
	if cd.pageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cd.pageTimeout)
		defer cancel()
	}
	if err := cd.run(ctx, network.Enable(), chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("导航失败 %s: %w", url, err)
	}
	return nil
}

func (cd *chromedpDriver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := cd.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("获取URL失败: %w", err)
	}
	return url, nil
}

func (cd *chromedpDriver) Title(ctx context.Context) (string, error) {
	var title string
	if err := cd.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("获取标题失败: %w", err)
	}
	return title, nil
}

func (cd *chromedpDriver) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := cd.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("获取页面源码失败: %w", err)
	}
	return html, nil
}

func (cd *chromedpDriver) ExecuteScript(ctx context.Context, js string) (any, error) {
	var res any
	// undefined 统一转换为 null
	expr := fmt.Sprintf(`(async () => { const r = await (%s)(); return r === undefined ? null : r; })()`, js)
	err := cd.run(ctx, chromedp.Evaluate(expr, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, fmt.Errorf("执行脚本失败: %w", err)
	}
	return res, nil
}

func (cd *chromedpDriver) FindElements(ctx context.Context, selector string) ([]types.Element, error) {
	return findElements(ctx, cd.ExecuteScript, selector)
}

func (cd *chromedpDriver) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	if selector == "" {
		action = chromedp.CaptureScreenshot(&buf)
	} else {
		action = chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery)
	}
	if err := cd.run(ctx, action); err != nil {
		return nil, fmt.Errorf("截图失败 %s: %w", selector, err)
	}
	return buf, nil
}

func (cd *chromedpDriver) mouse(ctx context.Context, typ input.MouseType, pt types.Point) error {
	ev := input.DispatchMouseEvent(typ, pt.X, pt.Y).WithButton(input.Left)
	if typ != input.MouseMoved {
		ev = ev.WithClickCount(1)
	}
	return cd.run(ctx, ev)
}

func (cd *chromedpDriver) PointerDown(ctx context.Context, pt types.Point) error {
	if err := cd.mouse(ctx, input.MouseMoved, pt); err != nil {
		return fmt.Errorf("移动鼠标失败: %w", err)
	}
	return cd.mouse(ctx, input.MousePressed, pt)
}

func (cd *chromedpDriver) PointerMove(ctx context.Context, pt types.Point) error {
	return cd.mouse(ctx, input.MouseMoved, pt)
}

func (cd *chromedpDriver) PointerUp(ctx context.Context, pt types.Point) error {
	if err := cd.mouse(ctx, input.MouseMoved, pt); err != nil {
		return fmt.Errorf("移动鼠标失败: %w", err)
	}
	return cd.mouse(ctx, input.MouseReleased, pt)
}

func (cd *chromedpDriver) TypeText(ctx context.Context, text string) error {
	return cd.run(ctx, input.InsertText(text))
}

func (cd *chromedpDriver) Reload(ctx context.Context) error {
	if err := cd.run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("刷新页面失败: %w", err)
	}
	return nil
}

func (cd *chromedpDriver) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	return cd.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			set := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Expires > 0 {
				exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				set = set.WithExpires(&exp)
			}
			if err := set.Do(ctx); err != nil {
				return fmt.Errorf("设置cookie失败 %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (cd *chromedpDriver) GetCookies(ctx context.Context) ([]types.Cookie, error) {
	var out []types.Cookie
	err := cd.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			out = append(out, types.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("读取cookie失败: %w", err)
	}
	return out, nil
}

func (cd *chromedpDriver) DeleteCookies(ctx context.Context) error {
	return cd.run(ctx, network.ClearBrowserCookies())
}

func (cd *chromedpDriver) ApplyProfile(ctx context.Context, profile *model.FingerprintProfile) error {
	if profile == nil {
		return nil
	}
	js, err := ProfileScript(profile)
	if err != nil {
		return err
	}
	lang := ""
	if len(profile.Languages) > 0 {
		lang = profile.Languages[0]
	}
	actions := []chromedp.Action{
		emulation.SetUserAgentOverride(profile.UserAgent).
			WithAcceptLanguage(lang).
			WithPlatform(profile.Platform),
	}
	if profile.Screen.Width > 0 && profile.Screen.Height > 0 {
		actions = append(actions, emulation.SetDeviceMetricsOverride(
			int64(profile.Screen.Width), int64(profile.Screen.Height), profile.Screen.PixelRatio, false))
	}
	if profile.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(profile.Timezone))
	}
	actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(js).Do(ctx)
		return err
	}))
	if err := cd.run(ctx, actions...); err != nil {
		return fmt.Errorf("应用指纹失败: %w", err)
	}
	return nil
}

func (cd *chromedpDriver) ApplyStealth(ctx context.Context) error {
	err := cd.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("注入stealth脚本失败: %w", err)
	}
	return nil
}

func (cd *chromedpDriver) Close() error {
	cd.pageCtxFuc()
	cd.allocCtxFuc()
	return nil
}
