package parallel

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/options"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

type rodBrowserPool struct {
	cfg           *config.Config
	log           *zap.Logger
	browserPool   rod.Pool[rod.Browser]
	createBrowser func() (*rod.Browser, error)
	pageTimeout   time.Duration
}

// InitRodBrowserPool 浏览器池,每个会话使用一个独立的浏览器上下文(独立 cookie 和代理),
// 用完后上下文销毁,浏览器放回池中
func InitRodBrowserPool(cfg *config.Config, log *zap.Logger) chrome.SessionFactory {
	log = logger.OrNop(log).Named("browser_pool")
	var instanceSeq atomic.Int64

	createBrowser := func() (*rod.Browser, error) {
		instanceID := int(instanceSeq.Add(1) - 1)
		opts := []options.LauncherOption{
			options.WithBin(cfg.Rod.Bin),
			options.WithHeadless(cfg.Rod.Headless),
			options.WithDisableBlinkFeatures(cfg.Rod.DisableBlinkFeatures),
			options.WithIncognito(cfg.Rod.Incognito),
			options.WithDisableDevShmUsage(cfg.Rod.DisableDevShmUsage),
			options.WithNoSandbox(cfg.Rod.NoSandbox),
			options.WithLeakless(cfg.Rod.Leakless),
			options.WithDisableBackgroundNetworking(cfg.Rod.DisableBackgroundNetworking),
			options.WithDisableBackgroundTimerThrottling(cfg.Rod.DisableBackgroundTimerThrottling),
		}
		if cfg.Rod.UserDataDir != "" {
			instanceDataDir := fmt.Sprintf("%s/instance_%d", cfg.Rod.UserDataDir, instanceID)
			if err := os.MkdirAll(instanceDataDir, 0755); err != nil {
				return nil, fmt.Errorf("创建实例数据目录失败: %w", err)
			}
			opts = append(opts, options.WithUserDataDir(instanceDataDir))
		}
		if cfg.Rod.BasicRemoteDebuggingPort > 0 {
			opts = append(opts, options.WithRemoteDebuggingPort(cfg.Rod.BasicRemoteDebuggingPort+instanceID))
		}

		urlStr, err := options.CreateLauncher(cfg.Rod.UserMode, opts...).Launch()
		if err != nil {
			return nil, fmt.Errorf("启动浏览器失败: %w", err)
		}
		log.Info("浏览器已启动", zap.Int("instance", instanceID), zap.String("control_url", urlStr))

		browser := rod.New().ControlURL(urlStr).Trace(cfg.Rod.Trace)
		if err := browser.Connect(); err != nil {
			return nil, fmt.Errorf("连接浏览器失败: %w", err)
		}
		return browser, nil
	}

	return &rodBrowserPool{
		cfg:           cfg,
		log:           log,
		browserPool:   rod.NewBrowserPool(cfg.Browser.PoolSize),
		createBrowser: createBrowser,
		pageTimeout:   time.Duration(cfg.Browser.PageTimeoutSeconds) * time.Second,
	}
}

func (rbp *rodBrowserPool) NewSession(ctx context.Context, profile *model.FingerprintProfile, proxy string) (chrome.Driver, error) {
	browser, err := rbp.browserPool.Get(rbp.createBrowser)
	if err != nil {
		return nil, fmt.Errorf("获取浏览器失败: %w", err)
	}

	bctx, err := proto.TargetCreateBrowserContext{
		DisposeOnDetach: true,
		ProxyServer:     proxy,
	}.Call(browser)
	if err != nil {
		rbp.browserPool.Put(browser)
		return nil, fmt.Errorf("创建浏览器上下文失败: %w", err)
	}

	release := func() error {
		defer rbp.browserPool.Put(browser)
		return proto.TargetDisposeBrowserContext{BrowserContextID: bctx.BrowserContextID}.Call(browser)
	}

	page, err := browser.Page(proto.TargetCreateTarget{
		URL:              "about:blank",
		BrowserContextID: bctx.BrowserContextID,
	})
	if err != nil {
		_ = release()
		return nil, fmt.Errorf("获取页面失败: %w", err)
	}

	driver := chrome.InitRodDriver(page, rbp.pageTimeout, release)
	if err := driver.ApplyStealth(ctx); err != nil {
		_ = driver.Close()
		return nil, err
	}
	if err := driver.ApplyProfile(ctx, profile); err != nil {
		_ = driver.Close()
		return nil, err
	}
	rbp.log.Debug("会话已创建", zap.String("proxy", proxy), zap.String("profile", profileKey(profile)))
	return driver, nil
}

func (rbp *rodBrowserPool) Close() {
	rbp.log.Info("关闭浏览器池")
	rbp.browserPool.Cleanup(func(b *rod.Browser) {
		if err := b.Close(); err != nil {
			rbp.log.Warn("关闭浏览器失败", zap.Error(err))
		}
	})
}

func profileKey(p *model.FingerprintProfile) string {
	if p == nil {
		return ""
	}
	return p.Key
}
