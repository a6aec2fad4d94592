package options

import (
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

type launcherOptions struct {
	bin                              string
	userDataDir                      string
	headless                         bool
	disableBlinkFeatures             string
	incognito                        bool
	disableDevShmUsage               bool
	noSandbox                        bool
	userAgent                        string
	leakless                         bool
	disableBackgroundNetworking      bool
	disableBackgroundTimerThrottling bool
	remoteDebuggingPort              int
	proxy                            string
}

type LauncherOption func(*launcherOptions)

func WithBin(bin string) LauncherOption {
	return func(o *launcherOptions) { o.bin = bin }
}

func WithUserDataDir(dir string) LauncherOption {
	return func(o *launcherOptions) { o.userDataDir = dir }
}

func WithHeadless(headless bool) LauncherOption {
	return func(o *launcherOptions) { o.headless = headless }
}

func WithDisableBlinkFeatures(features string) LauncherOption {
	return func(o *launcherOptions) { o.disableBlinkFeatures = features }
}

func WithIncognito(incognito bool) LauncherOption {
	return func(o *launcherOptions) { o.incognito = incognito }
}

func WithDisableDevShmUsage(disable bool) LauncherOption {
	return func(o *launcherOptions) { o.disableDevShmUsage = disable }
}

func WithNoSandbox(noSandbox bool) LauncherOption {
	return func(o *launcherOptions) { o.noSandbox = noSandbox }
}

func WithUserAgent(userAgent string) LauncherOption {
	return func(o *launcherOptions) { o.userAgent = userAgent }
}

func WithLeakless(leakless bool) LauncherOption {
	return func(o *launcherOptions) { o.leakless = leakless }
}

func WithDisableBackgroundNetworking(disable bool) LauncherOption {
	return func(o *launcherOptions) { o.disableBackgroundNetworking = disable }
}

func WithDisableBackgroundTimerThrottling(disable bool) LauncherOption {
	return func(o *launcherOptions) { o.disableBackgroundTimerThrottling = disable }
}

func WithRemoteDebuggingPort(port int) LauncherOption {
	return func(o *launcherOptions) { o.remoteDebuggingPort = port }
}

// WithProxy 代理地址,例如 http://127.0.0.1:8080 或 socks5://host:1080
func WithProxy(proxy string) LauncherOption {
	return func(o *launcherOptions) { o.proxy = proxy }
}

// CreateLauncher 根据选项创建 rod 启动器, userMode 为 true 时复用本机用户的浏览器
func CreateLauncher(userMode bool, opts ...LauncherOption) *launcher.Launcher {
	o := &launcherOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var l *launcher.Launcher
	if userMode {
		l = launcher.NewUserMode()
	} else {
		l = launcher.New()
	}
	if o.bin != "" {
		l = l.Bin(o.bin)
	}
	if o.userDataDir != "" {
		l = l.UserDataDir(o.userDataDir)
	}
	l = l.Headless(o.headless).
		NoSandbox(o.noSandbox).
		Leakless(o.leakless)
	if o.disableBlinkFeatures != "" {
		l = l.Set(flags.Flag("disable-blink-features"), o.disableBlinkFeatures)
	}
	if o.incognito {
		l = l.Set(flags.Flag("incognito"))
	}
	if o.disableDevShmUsage {
		l = l.Set(flags.Flag("disable-dev-shm-usage"))
	}
	if o.userAgent != "" {
		l = l.Set(flags.Flag("user-agent"), o.userAgent)
	}
	if o.disableBackgroundNetworking {
		l = l.Set(flags.Flag("disable-background-networking"))
	}
	if o.disableBackgroundTimerThrottling {
		l = l.Set(flags.Flag("disable-background-timer-throttling"))
	}
	if o.remoteDebuggingPort > 0 {
		l = l.RemoteDebuggingPort(o.remoteDebuggingPort)
	}
	if o.proxy != "" {
		l = l.Proxy(o.proxy)
	}
	return l
}
