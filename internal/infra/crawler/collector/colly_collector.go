package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

type collyFetcher struct {
	cfg *config.Config
	log *zap.Logger
}

func InitCollyFetcher(cfg *config.Config, log *zap.Logger) Fetcher {
	log = logger.OrNop(log).Named("colly")
	log.Info("InitCollyFetcher",
		zap.Int("delay", cfg.Colly.Delay),
		zap.Int("random_delay", cfg.Colly.RandomDelay),
		zap.Int("timeout_seconds", cfg.Colly.TimeoutSeconds))
	return &collyFetcher{cfg: cfg, log: log}
}

// newCollector 每次抓取独立的 collector,避免不同会话的 cookie 混在一起
func (f *collyFetcher) newCollector(ctx context.Context, userAgent string) (*colly.Collector, error) {
	opts := []colly.CollectorOption{
		colly.StdlibContext(ctx),
		colly.ParseHTTPErrorResponse(),
	}
	if userAgent == "" {
		userAgent = f.cfg.Colly.UserAgent
	}
	if userAgent != "" {
		opts = append(opts, colly.UserAgent(userAgent))
	}
	if f.cfg.Colly.IgnoreRobotsTxt {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}
	c := colly.NewCollector(opts...)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       time.Duration(f.cfg.Colly.Delay) * time.Second,
		RandomDelay: time.Duration(f.cfg.Colly.RandomDelay) * time.Second,
	}); err != nil {
		return nil, fmt.Errorf("设置限速规则失败: %w", err)
	}
	if f.cfg.Colly.TimeoutSeconds > 0 {
		c.SetRequestTimeout(time.Duration(f.cfg.Colly.TimeoutSeconds) * time.Second)
	}
	jar, err := cookiejar.New(f.cfg.Colly.CookieJarOptions)
	if err != nil {
		return nil, fmt.Errorf("创建 cookie jar 失败: %w", err)
	}
	c.SetCookieJar(jar)
	return c, nil
}

func (f *collyFetcher) Fetch(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", crawlerr.New(crawlerr.KindInterrupted, "fetch detail", err)
	}
	c, err := f.newCollector(ctx, req.UserAgent)
	if err != nil {
		return "", crawlerr.New(crawlerr.KindConfiguration, "fetch detail", err)
	}
	if len(req.Cookies) > 0 {
		cookies := make([]*http.Cookie, 0, len(req.Cookies))
		for _, ck := range req.Cookies {
			cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Domain: ck.Domain, Path: ck.Path})
		}
		if err := c.SetCookies(req.URL, cookies); err != nil {
			f.log.Warn("设置 cookie 失败", zap.String("url", req.URL), zap.Error(err))
		}
	}

	var (
		body     string
		status   int
		fetchErr error
	)
	c.OnRequest(func(r *colly.Request) {
		for k, v := range req.Headers {
			r.Headers.Set(k, v)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if err := c.Visit(req.URL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()

	switch {
	case ctx.Err() != nil:
		return "", crawlerr.New(crawlerr.KindInterrupted, "fetch detail", ctx.Err())
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "", crawlerr.Newf(crawlerr.KindAntiBotDetected, "fetch detail", "%s 返回 %d", req.URL, status)
	case status == http.StatusTooManyRequests:
		return "", crawlerr.Newf(crawlerr.KindAntiBotDetected, "fetch detail", "%s 被限流", req.URL)
	case fetchErr != nil:
		return "", crawlerr.New(crawlerr.KindNetwork, "fetch detail", fmt.Errorf("访问URL失败 %s: %w", req.URL, fetchErr))
	case status >= 400:
		return "", crawlerr.Newf(crawlerr.KindNavigation, "fetch detail", "%s 返回 %d", req.URL, status)
	}
	f.log.Debug("详情页抓取完成", zap.String("url", req.URL), zap.Int("status", status), zap.Int("bytes", len(body)))
	return body, nil
}
