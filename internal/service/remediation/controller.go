package remediation

import (
	"context"
	"fmt"
	"slices"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/metrics"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/behavior"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/detection"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/fingerprint"
	"go.uber.org/zap"
)

type controller struct {
	maxRetries int
	strategies []string
	cooldown   config.Range

	scanner detection.Scanner
	sim     behavior.Simulator
	pool    fingerprint.Pool
	log     *zap.Logger
	metrics *metrics.Metrics

	// 计数跨会话保留,只有无阻断的扫描才清零
	attempts int
	// 上一次补救是身份轮换,下一次先尝试原地补救
	rotated bool
}

// InitController pool 为 nil 时不做身份轮换
func InitController(cfg *config.Config, scanner detection.Scanner, sim behavior.Simulator, pool fingerprint.Pool, log *zap.Logger, m *metrics.Metrics) Controller {
	return &controller{
		maxRetries: cfg.Remediation.MaxRetries,
		strategies: cfg.Remediation.Strategies,
		cooldown:   cfg.Remediation.Cooldown,
		scanner:    scanner,
		sim:        sim,
		pool:       pool,
		log:        logger.OrNop(log).Named("remediation"),
		metrics:    m,
	}
}

func (c *controller) Attempts() int { return c.attempts }

func (c *controller) Detect(ctx context.Context, d chrome.Driver) (bool, []model.DetectionEvent, error) {
	events, err := c.scanner.Scan(ctx, d)
	if err != nil {
		return false, nil, err
	}
	if !detection.Blocking(events) {
		if c.attempts > 0 {
			c.log.Info("检测信号已消失,重置补救计数", zap.Int("attempts", c.attempts))
		}
		c.attempts = 0
		c.rotated = false
		return false, events, nil
	}
	return true, events, nil
}

func (c *controller) exhausted(events []model.DetectionEvent) (Verdict, error) {
	c.metrics.Remediation(Exhausted.String())
	evidence := ""
	if len(events) > 0 {
		evidence = fmt.Sprintf("%s: %s", events[0].Kind, events[0].Evidence)
	}
	return Exhausted, crawlerr.Newf(crawlerr.KindAntiBotDetected, "remediate",
		"补救 %d 次后仍被检测 %s", c.maxRetries, evidence)
}

func (c *controller) Handle(ctx context.Context, d chrome.Driver, profileKey string) (Verdict, error) {
	var events []model.DetectionEvent
	for {
		c.attempts++
		if c.attempts > c.maxRetries {
			return c.exhausted(events)
		}
		log := c.log.With(zap.Int("attempt", c.attempts), zap.Int("max_retries", c.maxRetries))

		if c.shouldRotate() {
			c.rotated = true
			if c.pool != nil && profileKey != "" {
				c.pool.ReportOutcome(profileKey, false)
			}
			log.Info("轮换指纹和代理,重建会话", zap.String("profile", profileKey))
			c.metrics.Remediation(RecreateSession.String())
			return RecreateSession, nil
		}
		c.rotated = false

		if err := c.remediateInPlace(ctx, d, log); err != nil {
			return Exhausted, err
		}

		detected, evs, err := c.Detect(ctx, d)
		if err != nil {
			return Exhausted, err
		}
		if !detected {
			log.Info("原地补救成功")
			c.metrics.Remediation(Clear.String())
			return Clear, nil
		}
		events = evs
		log.Warn("补救后仍检测到阻断信号", zap.String("kind", string(evs[0].Kind)))
	}
}

func (c *controller) shouldRotate() bool {
	return c.pool != nil && !c.rotated && slices.Contains(c.strategies, StrategyRotateIdentity)
}

// remediateInPlace 按配置顺序执行除身份轮换外的策略
func (c *controller) remediateInPlace(ctx context.Context, d chrome.Driver, log *zap.Logger) error {
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch s {
		case StrategyRotateIdentity:
			continue
		case StrategyClearCookies:
			err = d.DeleteCookies(ctx)
		case StrategyRestealth:
			err = d.ApplyStealth(ctx)
		case StrategySimulate:
			if err = c.sim.SimulateMouseMove(ctx, d); err == nil {
				err = c.sim.SimulateScroll(ctx, d)
			}
		case StrategyCooldown:
			err = c.sim.Wait(ctx, c.cooldown.Min(), c.cooldown.Max())
		case StrategyRefresh:
			err = d.Reload(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// 单个策略失败继续执行后面的策略
			log.Warn("补救策略执行失败", zap.String("strategy", s), zap.Error(err))
			continue
		}
		log.Debug("补救策略已执行", zap.String("strategy", s))
	}
	return nil
}
