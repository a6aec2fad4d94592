package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type orchestrator struct {
	Deps
	cfg     *config.Config
	log     *zap.Logger
	limiter *rate.Limiter

	phase      Phase
	driver     chrome.Driver
	profileKey string
	userAgent  string
}

// position 当前运行段的进度
type position struct {
	page      int
	index     int
	collected int
	nextURL   string
	records   []*model.ExtractedRecord
}

func InitOrchestrator(cfg *config.Config, deps Deps) Orchestrator {
	limit := rate.Inf
	if cfg.Navigation.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.Navigation.RequestsPerMinute / 60)
	}
	return &orchestrator{
		Deps:    deps,
		cfg:     cfg,
		log:     logger.OrNop(deps.Log).Named("orchestrator").With(zap.String("crawler_id", deps.CrawlerID)),
		limiter: rate.NewLimiter(limit, max(cfg.Navigation.Burst, 1)),
		phase:   PhaseIdle,
	}
}

func (o *orchestrator) transition(to Phase, fields ...zap.Field) {
	if o.phase == to {
		return
	}
	o.log.Debug("状态切换", append([]zap.Field{zap.String("from", string(o.phase)), zap.String("to", string(to))}, fields...)...)
	o.phase = to
}

func (o *orchestrator) Run(ctx context.Context, maxPages, maxItems int) (*Result, error) {
	if st, err := o.Checkpoint.GetState(ctx); err == nil && st != nil && !st.Completed && st.ItemsCollected > 0 {
		o.log.Warn("丢弃未完成的检查点,从起始页重新开始",
			zap.Int("page", st.CurrentPage), zap.Int("item", st.CurrentItemIndex), zap.Int("collected", st.ItemsCollected))
	}
	if err := o.Checkpoint.ClearState(ctx); err != nil {
		return o.abort(err), err
	}
	start := position{page: o.Template.StartPage}
	o.log.Info("开始新的爬取", zap.String("template", o.Template.Name), zap.Int("max_pages", maxPages), zap.Int("max_items", maxItems))
	return o.execute(ctx, start, maxPages, maxItems)
}

func (o *orchestrator) Resume(ctx context.Context, maxPages, maxItems int) (*Result, error) {
	st, err := o.Checkpoint.GetState(ctx)
	if err != nil {
		return o.abort(err), err
	}
	start := position{page: o.Template.StartPage}
	if st != nil {
		if st.Completed {
			o.log.Info("检查点显示已完成,无需继续")
			return &Result{Status: model.StatusCompleted, Reason: "already completed", State: st}, nil
		}
		start.page = max(st.CurrentPage, o.Template.StartPage)
		start.index = st.CurrentItemIndex
		start.collected = st.ItemsCollected
		start.nextURL = st.Extra[ExtraNextURL]
	}
	o.log.Info("从检查点继续", zap.Int("page", start.page), zap.Int("item", start.index), zap.Int("collected", start.collected))
	return o.execute(ctx, start, maxPages, maxItems)
}

// abort 还没开始爬取就失败时的结果
func (o *orchestrator) abort(err error) *Result {
	o.Metrics.Run(string(model.StatusFailed))
	return &Result{Status: model.StatusFailed, Reason: err.Error()}
}

func (o *orchestrator) execute(ctx context.Context, pos position, maxPages, maxItems int) (*Result, error) {
	if err := o.acquireSession(ctx); err != nil {
		return o.finish(ctx, &pos, err)
	}
	defer o.releaseSession()

	for {
		if ctx.Err() != nil {
			return o.finish(ctx, &pos, ctx.Err())
		}
		if pos.page > maxPages || pos.collected >= maxItems {
			return o.finish(ctx, &pos, nil)
		}

		pageURL, err := o.pageURL(&pos)
		if err != nil {
			return o.finish(ctx, &pos, err)
		}
		log := o.log.With(zap.Int("page", pos.page))
		o.transition(PhaseFetchingPage, zap.Int("page", pos.page))
		html, err := o.loadPage(ctx, pageURL)
		if err != nil {
			return o.finish(ctx, &pos, err)
		}
		o.Metrics.Page(o.CrawlerID)
		if err := o.Sim.SimulateScroll(ctx, o.driver); err != nil {
			if ctx.Err() != nil {
				return o.finish(ctx, &pos, ctx.Err())
			}
			log.Debug("模拟滚动失败", zap.Error(err))
		}

		o.transition(PhaseExtractingItems)
		currentURL, _ := o.driver.CurrentURL(ctx)
		if currentURL == "" {
			currentURL = pageURL
		}
		items, err := o.Extractor.List(currentURL, html)
		if err != nil {
			return o.finish(ctx, &pos, err)
		}
		log.Info("提取列表", zap.Int("items", len(items)), zap.Int("from", pos.index))

		for i := pos.index; i < len(items); i++ {
			if ctx.Err() != nil {
				return o.finish(ctx, &pos, ctx.Err())
			}
			if pos.collected >= maxItems {
				return o.finish(ctx, &pos, nil)
			}
			if err := o.processItem(ctx, &pos, items[i], currentURL); err != nil {
				return o.finish(ctx, &pos, err)
			}
			if err := o.Sim.Pace(ctx, config.PaceBetweenItems); err != nil {
				return o.finish(ctx, &pos, err)
			}
		}

		o.transition(PhaseAdvancingPage)
		next, ok := o.Extractor.NextPage(currentURL, html, len(items))
		if !ok {
			log.Info("没有下一页")
			return o.finish(ctx, &pos, nil)
		}
		if pos.page+1 > maxPages {
			log.Info("已到达最大页数", zap.Int("max_pages", maxPages))
			return o.finish(ctx, &pos, nil)
		}
		pos.page++
		pos.index = 0
		pos.nextURL = next
		patch := model.StatePatch{CurrentPage: model.Int(pos.page), CurrentItemIndex: model.Int(0)}
		if next != "" {
			patch.Extra = map[string]string{ExtraNextURL: next}
		}
		if err := o.Checkpoint.SaveState(ctx, patch); err != nil {
			return o.finish(ctx, &pos, err)
		}
		if o.Pool != nil && o.profileKey != "" {
			o.Pool.ReportOutcome(o.profileKey, true)
		}
	}
}

// pageURL 页码模板优先,否则使用上一页记录的下一页链接
func (o *orchestrator) pageURL(pos *position) (string, error) {
	if strings.Contains(o.Template.PageURLPattern, "{page}") {
		return o.Template.PageURL(pos.page)
	}
	if pos.page == o.Template.StartPage {
		return o.Template.Resolve(o.Template.PageURLPattern)
	}
	if pos.nextURL == "" {
		return "", crawlerr.Newf(crawlerr.KindConfiguration, "build page url", "第 %d 页没有可用的下一页链接", pos.page)
	}
	return pos.nextURL, nil
}

// finish 写入最后的检查点并生成结果, cause 为 nil 表示正常完成
func (o *orchestrator) finish(ctx context.Context, pos *position, cause error) (*Result, error) {
	status := model.StatusCompleted
	switch {
	case cause == nil:
	case ctx.Err() != nil || errors.Is(cause, context.Canceled) || crawlerr.KindOf(cause) == crawlerr.KindInterrupted:
		status = model.StatusInterrupted
		cause = crawlerr.New(crawlerr.KindInterrupted, "run", cause)
	default:
		status = model.StatusFailed
	}

	// 取消后仍然要写入检查点
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	patch := model.StatePatch{
		CurrentPage:      model.Int(pos.page),
		CurrentItemIndex: model.Int(pos.index),
		ItemsCollected:   model.Int(pos.collected),
	}
	if cause != nil {
		patch.LastError = model.String(cause.Error())
	} else {
		patch.Completed = model.Bool(true)
		patch.LastError = model.String("")
	}
	if err := o.Checkpoint.SaveState(saveCtx, patch); err != nil {
		o.log.Error("写入最终检查点失败", zap.Error(err))
		if cause == nil {
			status = model.StatusFailed
			cause = err
		}
	}
	st, err := o.Checkpoint.GetState(saveCtx)
	if err != nil {
		o.log.Warn("读取最终状态失败", zap.Error(err))
	}

	res := &Result{Records: pos.records, Status: status, State: st}
	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("page", pos.page),
		zap.Int("item", pos.index),
		zap.Int("collected", pos.collected),
		zap.Int("records", len(pos.records)),
	}
	switch status {
	case model.StatusCompleted:
		o.transition(PhaseCompleted)
		res.Reason = "completed"
		o.log.Info("爬取完成", fields...)
	case model.StatusInterrupted:
		o.transition(PhaseInterrupted)
		res.Reason = cause.Error()
		o.log.Warn("爬取被中断,可以继续", fields...)
	default:
		o.transition(PhaseFailed)
		res.Reason = cause.Error()
		o.log.Error("爬取失败", append(fields, zap.Error(cause))...)
	}
	o.Metrics.Run(string(status))
	return res, cause
}

// retry 导航类错误按指数退避重试,其余错误立即返回
func (o *orchestrator) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(o.cfg.Navigation.InitialBackoffMs) * time.Millisecond
	b.MaxInterval = time.Duration(o.cfg.Navigation.MaxBackoffMs) * time.Millisecond
	b.Multiplier = o.cfg.Navigation.Multiplier
	b.MaxElapsedTime = 0
	attempts := uint64(max(o.cfg.Navigation.MaxAttempts, 1))

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if kind := crawlerr.KindOf(err); kind != crawlerr.KindUnknown && !crawlerr.Retryable(err) {
			return backoff.Permanent(err)
		}
		if !crawlerr.Retryable(err) {
			err = crawlerr.New(crawlerr.KindNavigation, op, err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		o.Metrics.NavigationRetry(o.CrawlerID)
		o.log.Warn("导航失败,稍后重试", zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx), notify)
	if err != nil && attempt >= int(attempts) {
		return fmt.Errorf("%s 在 %d 次尝试后失败: %w", op, attempt, err)
	}
	return err
}

var now = time.Now
