package config

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
)

var defaultPacing = map[string]Range{
	PacePageLoad:     {MinMs: 2000, MaxMs: 5000},
	PaceBetweenItems: {MinMs: 800, MaxMs: 2500},
	PaceBeforeClick:  {MinMs: 150, MaxMs: 600},
	PaceTyping:       {MinMs: 60, MaxMs: 220},
	PaceCooldown:     {MinMs: 10000, MaxMs: 30000},
}

var DefaultRemediationStrategies = []string{
	"rotate_identity", "clear_cookies", "restealth", "simulate", "cooldown", "refresh",
}

// SetDefaults 在构造时一次性填充所有缺省值
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Browser.Driver == "" {
		c.Browser.Driver = "rod"
	}
	if c.Browser.PageTimeoutSeconds <= 0 {
		c.Browser.PageTimeoutSeconds = 60
	}
	if c.Browser.PoolSize <= 0 {
		c.Browser.PoolSize = 1
	}
	if c.Rod.UserDataDir == "" {
		c.Rod.UserDataDir = "./data/rod"
	}
	if c.Chromedp.LifeTime <= 0 {
		c.Chromedp.LifeTime = 3600
	}
	if c.Colly.TimeoutSeconds <= 0 {
		c.Colly.TimeoutSeconds = 30
	}

	if c.Navigation.MaxAttempts <= 0 {
		c.Navigation.MaxAttempts = 3
	}
	if c.Navigation.InitialBackoffMs <= 0 {
		c.Navigation.InitialBackoffMs = 1000
	}
	if c.Navigation.MaxBackoffMs <= 0 {
		c.Navigation.MaxBackoffMs = 30000
	}
	if c.Navigation.Multiplier <= 1 {
		c.Navigation.Multiplier = 2
	}
	if c.Navigation.Burst <= 0 {
		c.Navigation.Burst = 1
	}

	if c.Pacing == nil {
		c.Pacing = make(map[string]Range, len(defaultPacing))
	}
	for kind, r := range defaultPacing {
		if _, ok := c.Pacing[kind]; !ok {
			c.Pacing[kind] = r
		}
	}

	if c.Fingerprint.Strategy == "" {
		c.Fingerprint.Strategy = "round_robin"
	}
	if c.Fingerprint.PoolSize <= 0 {
		c.Fingerprint.PoolSize = 8
	}

	if c.Remediation.MaxRetries <= 0 {
		c.Remediation.MaxRetries = 3
	}
	if len(c.Remediation.Strategies) == 0 {
		c.Remediation.Strategies = slices.Clone(DefaultRemediationStrategies)
	}
	if c.Remediation.Cooldown.MaxMs <= 0 {
		c.Remediation.Cooldown = defaultPacing[PaceCooldown]
	}

	c.setDetectionDefaults()
	c.setCaptchaDefaults()

	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = "./data/checkpoint"
	}
	if c.Checkpoint.BackupDir == "" {
		c.Checkpoint.BackupDir = c.Checkpoint.Dir + "/backups"
	}
	if c.Checkpoint.FlushIntervalSeconds <= 0 {
		c.Checkpoint.FlushIntervalSeconds = 30
	}
	if c.Checkpoint.MaxBackups <= 0 {
		c.Checkpoint.MaxBackups = 10
	}

	if len(c.Storage.Backends) == 0 {
		c.Storage.Backends = []string{"file"}
	}
	if c.Storage.FileDir == "" {
		c.Storage.FileDir = "./data/records"
	}
	if c.Elasticsearch.IndexPrefix == "" {
		c.Elasticsearch.IndexPrefix = "stealthcrawler"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "stealthcrawler"
	}
	if c.MinIO.Bucket == "" {
		c.MinIO.Bucket = "stealthcrawler"
	}
	if c.Embedder.BatchSize <= 0 {
		c.Embedder.BatchSize = 16
	}
}

func (c *Config) setDetectionDefaults() {
	d := &c.Detection
	if len(d.BlockingPhrases) == 0 {
		d.BlockingPhrases = []string{
			"access denied", "unusual traffic", "are you a robot", "verify you are human",
			"request blocked", "too many requests", "automated queries", "bot detected",
			"please enable cookies", "checking your browser", "访问被拒绝", "请完成安全验证", "异常流量",
		}
	}
	if len(d.CaptchaMarkers) == 0 {
		d.CaptchaMarkers = []string{
			".g-recaptcha", "iframe[src*='recaptcha']", ".h-captcha", "iframe[src*='hcaptcha']",
			".cf-turnstile", "#challenge-form", ".geetest_panel", "#nc_1_wrapper",
		}
	}
	if len(d.SuspiciousTitles) == 0 {
		d.SuspiciousTitles = []string{"just a moment", "attention required", "access denied", "security check", "验证"}
	}
	if len(d.SuspiciousURLPatterns) == 0 {
		d.SuspiciousURLPatterns = []string{"/captcha", "/challenge", "/blocked", "cdn-cgi/challenge-platform", "/sorry/", "/verify"}
	}
	if len(d.BlockingStatusCodes) == 0 {
		d.BlockingStatusCodes = []int{403, 429, 503}
	}
	if len(d.SuspiciousGlobals) == 0 {
		d.SuspiciousGlobals = []string{"_phantom", "callPhantom", "__nightmare", "domAutomation", "domAutomationController", "_selenium", "__webdriver_evaluate", "__driver_evaluate"}
	}
}

func (c *Config) setCaptchaDefaults() {
	cc := &c.Captcha
	if cc.MaxAttempts <= 0 {
		cc.MaxAttempts = 3
	}
	if len(cc.Order) == 0 {
		cc.Order = []string{"slider", "rotate", "click", "text", "external_challenge"}
	}

	if cc.Text.ContainerSelector == "" {
		cc.Text.ContainerSelector = "img[src*='captcha'], img[id*='captcha'], img[class*='captcha']"
	}
	if cc.Text.ImageSelector == "" {
		cc.Text.ImageSelector = cc.Text.ContainerSelector
	}
	if cc.Text.InputSelector == "" {
		cc.Text.InputSelector = "input[name*='captcha'], input[id*='captcha']"
	}
	if cc.Text.SubmitSelector == "" {
		cc.Text.SubmitSelector = "button[type='submit'], input[type='submit']"
	}
	if cc.Text.ErrorSelector == "" {
		cc.Text.ErrorSelector = ".captcha-error, .error-captcha"
	}
	if cc.Text.MinLength <= 0 {
		cc.Text.MinLength = 3
	}

	if cc.Slider.ContainerSelector == "" {
		cc.Slider.ContainerSelector = ".geetest_slider, .slider-captcha, .captcha-slider, #nc_1_wrapper"
	}
	if cc.Slider.BackgroundSelector == "" {
		cc.Slider.BackgroundSelector = ".geetest_canvas_bg, .slider-captcha-bg, .captcha-bg"
	}
	if cc.Slider.PieceSelector == "" {
		cc.Slider.PieceSelector = ".geetest_canvas_slice, .slider-captcha-piece, .captcha-piece"
	}
	if cc.Slider.HandleSelector == "" {
		cc.Slider.HandleSelector = ".geetest_slider_button, .slider-captcha-handle, .nc_iconfont.btn_slide"
	}
	if cc.Slider.MatchThreshold <= 0 {
		cc.Slider.MatchThreshold = 0.3
	}
	if cc.Slider.EdgeThreshold <= 0 {
		cc.Slider.EdgeThreshold = 80
	}
	if cc.Slider.MinOffset <= 0 {
		cc.Slider.MinOffset = 10
	}
	if cc.Slider.StepsMin <= 0 {
		cc.Slider.StepsMin = 20
	}
	if cc.Slider.StepsMax < cc.Slider.StepsMin {
		cc.Slider.StepsMax = max(40, cc.Slider.StepsMin)
	}
	if cc.Slider.StepDelayMinMs <= 0 {
		cc.Slider.StepDelayMinMs = 8
	}
	if cc.Slider.StepDelayMaxMs < cc.Slider.StepDelayMinMs {
		cc.Slider.StepDelayMaxMs = max(30, cc.Slider.StepDelayMinMs)
	}

	if cc.Rotate.ContainerSelector == "" {
		cc.Rotate.ContainerSelector = ".rotate-captcha, .captcha-rotate, .geetest_rotate"
	}
	if cc.Rotate.ImageSelector == "" {
		cc.Rotate.ImageSelector = ".rotate-captcha img, .captcha-rotate img"
	}
	if cc.Rotate.HandleSelector == "" {
		cc.Rotate.HandleSelector = ".rotate-captcha-handle, .captcha-rotate-handle"
	}
	if cc.Rotate.InstructionSelector == "" {
		cc.Rotate.InstructionSelector = ".rotate-captcha-tip, .captcha-rotate-tip"
	}
	if cc.Rotate.AngleSearchStep <= 0 {
		cc.Rotate.AngleSearchStep = 5
	}
	if cc.Rotate.MinSteps <= 0 {
		cc.Rotate.MinSteps = 4
	}
	if cc.Rotate.MaxSteps < cc.Rotate.MinSteps {
		cc.Rotate.MaxSteps = max(9, cc.Rotate.MinSteps)
	}

	if cc.Click.ContainerSelector == "" {
		cc.Click.ContainerSelector = ".click-captcha, .captcha-click, .geetest_item_wrap"
	}
	if cc.Click.ImageSelector == "" {
		cc.Click.ImageSelector = ".click-captcha img, .captcha-click img, .geetest_item_img"
	}
	if cc.Click.InstructionSelector == "" {
		cc.Click.InstructionSelector = ".click-captcha-tip, .captcha-click-tip, .geetest_tip_content"
	}
	if cc.Click.SubmitSelector == "" {
		cc.Click.SubmitSelector = ".click-captcha-submit, .geetest_commit"
	}
	if cc.Click.ConfidenceThreshold <= 0 {
		cc.Click.ConfidenceThreshold = 0.5
	}
	if cc.Click.MaxClicks <= 0 {
		cc.Click.MaxClicks = 6
	}
	if cc.Click.DwellMinMs <= 0 {
		cc.Click.DwellMinMs = 300
	}
	if cc.Click.DwellMaxMs < cc.Click.DwellMinMs {
		cc.Click.DwellMaxMs = max(900, cc.Click.DwellMinMs)
	}

	if len(cc.External.CheckboxSelectors) == 0 {
		cc.External.CheckboxSelectors = []string{
			"iframe[src*='recaptcha/api2/anchor']",
			"iframe[src*='hcaptcha.com'][src*='checkbox']",
			"iframe[src*='challenges.cloudflare.com']",
		}
	}
	if len(cc.External.InvisibleSelectors) == 0 {
		cc.External.InvisibleSelectors = []string{".g-recaptcha[data-size='invisible']", ".h-captcha[data-size='invisible']"}
	}
	if len(cc.External.ScoreMarkers) == 0 {
		cc.External.ScoreMarkers = []string{"script[src*='recaptcha/api.js?render=']", "script[src*='recaptcha/enterprise.js?render=']"}
	}
	if len(cc.External.TokenSelectors) == 0 {
		cc.External.TokenSelectors = []string{
			"textarea[name='g-recaptcha-response']",
			"textarea[name='h-captcha-response']",
			"input[name='cf-turnstile-response']",
		}
	}
	if cc.External.MaxPolls <= 0 {
		cc.External.MaxPolls = 20
	}
	if cc.External.PollIntervalMs <= 0 {
		cc.External.PollIntervalMs = 1000
	}

	if cc.Service.TimeoutSeconds <= 0 {
		cc.Service.TimeoutSeconds = 30
	}
	if cc.Service.PollIntervalMs <= 0 {
		cc.Service.PollIntervalMs = 5000
	}
	if cc.Service.MaxPolls <= 0 {
		cc.Service.MaxPolls = 24
	}
}

var knownBackends = []string{"file", "elasticsearch", "redis", "minio"}

// Validate 校验配置,错误为 Configuration 类型,不重试
func (c *Config) Validate() error {
	const op = "validate config"
	switch c.Browser.Driver {
	case "rod", "chromedp":
	default:
		return crawlerr.Newf(crawlerr.KindConfiguration, op, "unknown browser driver %q", c.Browser.Driver)
	}
	switch c.Fingerprint.Strategy {
	case "round_robin", "weighted":
	default:
		return crawlerr.Newf(crawlerr.KindConfiguration, op, "unknown fingerprint strategy %q", c.Fingerprint.Strategy)
	}
	for kind, r := range c.Pacing {
		if r.MinMs < 0 || r.MaxMs < r.MinMs {
			return crawlerr.Newf(crawlerr.KindConfiguration, op, "invalid pacing range for %s: %d-%d", kind, r.MinMs, r.MaxMs)
		}
	}
	for _, s := range c.Remediation.Strategies {
		if !slices.Contains(DefaultRemediationStrategies, s) {
			return crawlerr.Newf(crawlerr.KindConfiguration, op, "unknown remediation strategy %q", s)
		}
	}
	for _, b := range c.Storage.Backends {
		if !slices.Contains(knownBackends, b) {
			return crawlerr.Newf(crawlerr.KindConfiguration, op, "unknown storage backend %q", b)
		}
	}
	if filepath.Clean(c.Checkpoint.BackupDir) == filepath.Clean(c.Checkpoint.Dir) {
		return crawlerr.Newf(crawlerr.KindConfiguration, op, "checkpoint backup_dir must differ from dir %q", c.Checkpoint.Dir)
	}
	if c.Captcha.Slider.MatchThreshold > 1 {
		return crawlerr.Newf(crawlerr.KindConfiguration, op, "slider match threshold must be within [0,1], got %v", c.Captcha.Slider.MatchThreshold)
	}
	if slices.Contains(c.Storage.Backends, "elasticsearch") && c.Elasticsearch.Address == "" {
		return crawlerr.New(crawlerr.KindConfiguration, op, fmt.Errorf("elasticsearch backend requires an address"))
	}
	if slices.Contains(c.Storage.Backends, "minio") && c.MinIO.Endpoint == "" {
		return crawlerr.New(crawlerr.KindConfiguration, op, fmt.Errorf("minio backend requires an endpoint"))
	}
	return nil
}
