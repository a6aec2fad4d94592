package orchestrator

import (
	"context"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/remediation"
	"go.uber.org/zap"
)

// acquireSession 从指纹池和代理池各取一个,创建新的浏览器会话
func (o *orchestrator) acquireSession(ctx context.Context) error {
	var profile *model.FingerprintProfile
	if o.Pool != nil {
		p, err := o.Pool.Acquire()
		if err != nil {
			return err
		}
		profile = &p
	}
	proxy := ""
	if o.Proxies != nil {
		proxy = o.Proxies.Next()
	}
	d, err := o.Sessions.NewSession(ctx, profile, proxy)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return crawlerr.New(crawlerr.KindConfiguration, "acquire session", err)
	}
	o.driver = d
	o.profileKey, o.userAgent = "", ""
	if profile != nil {
		o.profileKey = profile.Key
		o.userAgent = profile.UserAgent
	}
	o.transition(PhaseSessionAcquired, zap.String("profile", o.profileKey), zap.Bool("proxy", proxy != ""))
	if o.profileKey != "" {
		if err := o.Checkpoint.Stage(ctx, model.StatePatch{Extra: map[string]string{ExtraProfile: o.profileKey}}); err != nil {
			o.log.Debug("暂存指纹失败", zap.Error(err))
		}
	}
	return nil
}

func (o *orchestrator) releaseSession() {
	if o.driver == nil {
		return
	}
	if err := o.driver.Close(); err != nil {
		o.log.Warn("关闭浏览器会话失败", zap.Error(err))
	}
	o.driver = nil
}

func (o *orchestrator) recreateSession(ctx context.Context) error {
	old := o.profileKey
	o.releaseSession()
	if err := o.acquireSession(ctx); err != nil {
		return err
	}
	o.log.Info("已重建浏览器会话", zap.String("old_profile", old), zap.String("profile", o.profileKey))
	return nil
}

func (o *orchestrator) navigate(ctx context.Context, url string) error {
	return o.retry(ctx, "navigate", func() error {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		start := time.Now()
		err := o.driver.Navigate(ctx, url)
		o.Metrics.Navigation(o.CrawlerID, time.Since(start))
		return err
	})
}

// loadPage 导航到 url,处理验证码和检测信号,返回可以提取的页面源码.
// 会话被重建后重新导航到同一地址.
func (o *orchestrator) loadPage(ctx context.Context, url string) (string, error) {
	log := o.log.With(zap.String("url", url))
	for {
		if err := o.navigate(ctx, url); err != nil {
			return "", err
		}
		if err := o.Sim.Pace(ctx, config.PacePageLoad); err != nil {
			return "", err
		}

		if err := o.resolveCaptcha(ctx, log); err != nil {
			return "", err
		}

		detected, events, err := o.Remediation.Detect(ctx, o.driver)
		if err != nil {
			return "", err
		}
		if !detected {
			return o.driver.PageSource(ctx)
		}

		o.transition(PhaseDetectionSuspected, zap.String("signal", string(events[0].Kind)), zap.String("evidence", events[0].Evidence))
		verdict, err := o.Remediation.Handle(ctx, o.driver, o.profileKey)
		switch verdict {
		case remediation.Clear:
			if err != nil {
				return "", err
			}
			o.transition(PhaseMitigated)
			return o.driver.PageSource(ctx)
		case remediation.RecreateSession:
			o.transition(PhaseMitigated, zap.String("verdict", verdict.String()))
			if err := o.recreateSession(ctx); err != nil {
				return "", err
			}
		default:
			o.transition(PhaseAborted, zap.Int("attempts", o.Remediation.Attempts()))
			if err == nil {
				err = crawlerr.Newf(crawlerr.KindAntiBotDetected, "remediate", "检测信号无法消除")
			}
			return "", err
		}
	}
}

// resolveCaptcha 没有验证码时直接返回,未通过时为页面级致命错误
func (o *orchestrator) resolveCaptcha(ctx context.Context, log *zap.Logger) error {
	if o.Captcha == nil {
		return nil
	}
	res, err := o.Captcha.Resolve(ctx, o.driver)
	if !res.Present {
		return err
	}
	o.transition(PhaseChallengePending, zap.String("kind", string(res.Kind)))
	if err != nil {
		o.transition(PhaseAbandoned, zap.Int("attempts", res.Attempts))
		return err
	}
	o.transition(PhaseResolved, zap.Int("attempts", res.Attempts))
	log.Info("验证码已解决", zap.String("kind", string(res.Kind)), zap.Int("attempts", res.Attempts))
	return o.Sim.Pace(ctx, config.PacePageLoad)
}
