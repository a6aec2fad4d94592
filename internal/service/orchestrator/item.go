package orchestrator

import (
	"context"
	"maps"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/collector"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/extract"
	"github.com/LouYuanbo1/stealthcrawler/param"
	"go.uber.org/zap"
)

// processItem 抓取详情,持久化记录,然后写入 {page, index+1, collected+1} 检查点.
// 提取失败的条目跳过,但同样推进检查点.
func (o *orchestrator) processItem(ctx context.Context, pos *position, item extract.Item, pageURL string) error {
	log := o.log.With(zap.Int("page", pos.page), zap.Int("item", item.Index))

	detail, err := o.itemDetail(ctx, item)
	if err == nil && item.Err != nil {
		err = item.Err
	}
	if err != nil {
		if crawlerr.KindOf(err) != crawlerr.KindExtraction {
			return err
		}
		log.Warn("条目提取失败,跳过", zap.Error(err))
		o.Metrics.Record(o.CrawlerID, false)
		pos.index = item.Index + 1
		return o.Checkpoint.SaveState(ctx, model.StatePatch{
			CurrentPage:      model.Int(pos.page),
			CurrentItemIndex: model.Int(pos.index),
		})
	}

	o.transition(PhaseMerging)
	source := item.DetailURL
	if source == "" {
		source = pageURL
	}
	record := model.NewRecord(maps.Clone(item.Data), detail, model.RecordMetadata{
		CrawlerName: o.Template.Name,
		CrawlerID:   o.CrawlerID,
		CrawlTime:   now(),
		Success:     true,
		Page:        pos.page,
		ItemIndex:   item.Index,
		SourceURL:   source,
	})

	o.transition(PhasePersisting)
	if err := o.Checkpoint.SaveRecord(ctx, record); err != nil {
		return err
	}
	pos.records = append(pos.records, record)
	pos.collected++
	pos.index = item.Index + 1
	o.Metrics.Record(o.CrawlerID, true)
	if err := o.Checkpoint.SaveState(ctx, model.StatePatch{
		CurrentPage:      model.Int(pos.page),
		CurrentItemIndex: model.Int(pos.index),
		ItemsCollected:   model.Int(pos.collected),
	}); err != nil {
		return err
	}
	log.Debug("记录已保存", zap.String("id", record.ID), zap.Int("collected", pos.collected))
	return nil
}

// itemDetail 按模板的详情模式获取详情字段,列表项本身提取失败时不抓取
func (o *orchestrator) itemDetail(ctx context.Context, item extract.Item) (map[string]any, error) {
	if item.Err != nil || item.DetailURL == "" {
		return nil, nil
	}
	switch o.Template.DetailMode {
	case param.DetailHTTP:
		if o.Fetcher != nil {
			o.transition(PhaseFetchingDetail, zap.String("mode", "http"))
			html, err := o.fetchHTTP(ctx, item.DetailURL)
			if err == nil {
				return o.Extractor.Detail(item.DetailURL, html)
			}
			if crawlerr.KindOf(err) != crawlerr.KindAntiBotDetected {
				return nil, err
			}
			o.log.Warn("HTTP 抓取被拦截,改用浏览器", zap.String("url", item.DetailURL), zap.Error(err))
		}
		return o.fetchBrowser(ctx, item.DetailURL)
	case param.DetailBrowser:
		return o.fetchBrowser(ctx, item.DetailURL)
	default:
		return nil, nil
	}
}

func (o *orchestrator) fetchBrowser(ctx context.Context, url string) (map[string]any, error) {
	o.transition(PhaseFetchingDetail, zap.String("mode", "browser"))
	html, err := o.loadPage(ctx, url)
	if err != nil {
		return nil, err
	}
	current, _ := o.driver.CurrentURL(ctx)
	if current == "" {
		current = url
	}
	return o.Extractor.Detail(current, html)
}

// fetchHTTP 带上浏览器会话的 cookie 和 UA,导航类错误同样重试
func (o *orchestrator) fetchHTTP(ctx context.Context, url string) (string, error) {
	cookies, err := o.driver.GetCookies(ctx)
	if err != nil {
		o.log.Debug("读取会话 cookie 失败", zap.Error(err))
	}
	var html string
	err = o.retry(ctx, "fetch detail", func() error {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		var ferr error
		html, ferr = o.Fetcher.Fetch(ctx, collector.Request{URL: url, UserAgent: o.userAgent, Cookies: cookies})
		return ferr
	})
	return html, err
}
