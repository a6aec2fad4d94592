package chrome

import (
	"context"
	"fmt"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

type rodDriver struct {
	page        *rod.Page
	pageTimeout time.Duration
	release     func() error
}

// InitRodDriver 包装一个已经创建好的 rod 页面, release 在 Close 时调用,用于归还浏览器上下文
func InitRodDriver(page *rod.Page, pageTimeout time.Duration, release func() error) Driver {
	return &rodDriver{
		page:        page,
		pageTimeout: pageTimeout,
		release:     release,
	}
}

func (rd *rodDriver) p(ctx context.Context) *rod.Page {
	return rd.page.Context(ctx)
}

func (rd *rodDriver) Navigate(ctx context.Context, url string) error {
	if rd.pageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rd.pageTimeout)
		defer cancel()
	}
	page := rd.p(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("导航失败 %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("等待页面加载失败 %s: %w", url, err)
	}
	return nil
}

func (rd *rodDriver) CurrentURL(ctx context.Context) (string, error) {
	info, err := rd.p(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("获取页面信息失败: %w", err)
	}
	return info.URL, nil
}

func (rd *rodDriver) Title(ctx context.Context) (string, error) {
	info, err := rd.p(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("获取页面信息失败: %w", err)
	}
	return info.Title, nil
}

func (rd *rodDriver) PageSource(ctx context.Context) (string, error) {
	html, err := rd.p(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("获取页面源码失败: %w", err)
	}
	return html, nil
}

func (rd *rodDriver) ExecuteScript(ctx context.Context, js string) (any, error) {
	obj, err := rd.p(ctx).Eval(js)
	if err != nil {
		return nil, fmt.Errorf("执行脚本失败: %w", err)
	}
	return obj.Value.Val(), nil
}

func (rd *rodDriver) FindElements(ctx context.Context, selector string) ([]types.Element, error) {
	return findElements(ctx, rd.ExecuteScript, selector)
}

func (rd *rodDriver) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	page := rd.p(ctx)
	if selector == "" {
		return page.Screenshot(false, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	}
	has, el, err := page.Has(selector)
	if err != nil {
		return nil, fmt.Errorf("查找元素失败 %s: %w", selector, err)
	}
	if !has {
		return nil, fmt.Errorf("元素不存在: %s", selector)
	}
	data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("元素截图失败 %s: %w", selector, err)
	}
	return data, nil
}

func (rd *rodDriver) PointerDown(ctx context.Context, pt types.Point) error {
	page := rd.p(ctx)
	if err := page.Mouse.MoveTo(proto.Point{X: pt.X, Y: pt.Y}); err != nil {
		return fmt.Errorf("移动鼠标失败: %w", err)
	}
	return page.Mouse.Down(proto.InputMouseButtonLeft, 1)
}

func (rd *rodDriver) PointerMove(ctx context.Context, pt types.Point) error {
	return rd.p(ctx).Mouse.MoveTo(proto.Point{X: pt.X, Y: pt.Y})
}

func (rd *rodDriver) PointerUp(ctx context.Context, pt types.Point) error {
	page := rd.p(ctx)
	if err := page.Mouse.MoveTo(proto.Point{X: pt.X, Y: pt.Y}); err != nil {
		return fmt.Errorf("移动鼠标失败: %w", err)
	}
	return page.Mouse.Up(proto.InputMouseButtonLeft, 1)
}

func (rd *rodDriver) TypeText(ctx context.Context, text string) error {
	return rd.p(ctx).InsertText(text)
}

func (rd *rodDriver) Reload(ctx context.Context) error {
	page := rd.p(ctx)
	if err := page.Reload(); err != nil {
		return fmt.Errorf("刷新页面失败: %w", err)
	}
	return page.WaitLoad()
}

func (rd *rodDriver) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return rd.p(ctx).SetCookies(params)
}

func (rd *rodDriver) GetCookies(ctx context.Context) ([]types.Cookie, error) {
	cookies, err := rd.p(ctx).Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("读取cookie失败: %w", err)
	}
	out := make([]types.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return out, nil
}

func (rd *rodDriver) DeleteCookies(ctx context.Context) error {
	return proto.NetworkClearBrowserCookies{}.Call(rd.p(ctx))
}

func (rd *rodDriver) ApplyProfile(ctx context.Context, profile *model.FingerprintProfile) error {
	if profile == nil {
		return nil
	}
	page := rd.p(ctx)
	lang := ""
	if len(profile.Languages) > 0 {
		lang = profile.Languages[0]
	}
	err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      profile.UserAgent,
		AcceptLanguage: lang,
		Platform:       profile.Platform,
	})
	if err != nil {
		return fmt.Errorf("设置UA失败: %w", err)
	}
	if profile.Screen.Width > 0 && profile.Screen.Height > 0 {
		err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             profile.Screen.Width,
			Height:            profile.Screen.Height,
			DeviceScaleFactor: profile.Screen.PixelRatio,
		})
		if err != nil {
			return fmt.Errorf("设置视口失败: %w", err)
		}
	}
	if profile.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: profile.Timezone}).Call(page); err != nil {
			return fmt.Errorf("设置时区失败: %w", err)
		}
	}
	js, err := ProfileScript(profile)
	if err != nil {
		return err
	}
	if _, err := page.EvalOnNewDocument(js); err != nil {
		return fmt.Errorf("注入指纹脚本失败: %w", err)
	}
	return nil
}

func (rd *rodDriver) ApplyStealth(ctx context.Context) error {
	if _, err := rd.p(ctx).EvalOnNewDocument(stealth.JS); err != nil {
		return fmt.Errorf("注入stealth脚本失败: %w", err)
	}
	return nil
}

func (rd *rodDriver) Close() error {
	err := rd.page.Close()
	if rd.release != nil {
		if rerr := rd.release(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
