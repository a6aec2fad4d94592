package detection

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/metrics"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

type scanner struct {
	cfg          *config.Config
	log          *zap.Logger
	metrics      *metrics.Metrics
	phrases      []*regexp.Regexp
	titles       []*regexp.Regexp
	urlPatterns  []string
	signalsJS    string
	statusBlocks []int
}

func compilePhrases(phrases []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(p)))
	}
	return out
}

func InitScanner(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (Scanner, error) {
	js, err := signalsScript(cfg.Detection.SuspiciousGlobals)
	if err != nil {
		return nil, err
	}
	return &scanner{
		cfg:          cfg,
		log:          logger.OrNop(log).Named("detection"),
		metrics:      m,
		phrases:      compilePhrases(cfg.Detection.BlockingPhrases),
		titles:       compilePhrases(cfg.Detection.SuspiciousTitles),
		urlPatterns:  cfg.Detection.SuspiciousURLPatterns,
		signalsJS:    js,
		statusBlocks: cfg.Detection.BlockingStatusCodes,
	}, nil
}

func (s *scanner) Scan(ctx context.Context, d chrome.Driver) ([]model.DetectionEvent, error) {
	source, err := d.PageSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取页面源码失败: %w", err)
	}
	title, err := d.Title(ctx)
	if err != nil {
		return nil, err
	}
	url, err := d.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}

	var events []model.DetectionEvent
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("解析页面失败: %w", err)
	}
	events = append(events, s.scanPhrases(doc)...)
	events = append(events, s.scanCaptchaMarkers(doc)...)
	events = append(events, s.scanTitle(title)...)
	events = append(events, s.scanURL(url)...)

	signals, err := s.collectSignals(ctx, d)
	if err != nil {
		// 探测脚本失败不影响其它传感器
		s.log.Warn("运行时探测失败", zap.Error(err))
	} else {
		events = append(events, s.scanSignals(signals)...)
	}

	for _, e := range events {
		s.metrics.Detection(string(e.Kind), e.Severity.String())
	}
	if len(events) > 0 {
		s.log.Debug("检测到可疑信号", zap.Int("events", len(events)), zap.Bool("blocking", Blocking(events)), zap.String("url", url))
	}
	return events, nil
}

// scanPhrases 只匹配可见文本,忽略脚本和样式.在副本上删除节点,其它传感器仍能匹配 script 标签.
func (s *scanner) scanPhrases(doc *goquery.Document) []model.DetectionEvent {
	visible := doc.Selection.Clone()
	visible.Find("script, style, noscript, template").Remove()
	text := visible.Text()
	var events []model.DetectionEvent
	for _, re := range s.phrases {
		if loc := re.FindStringIndex(text); loc != nil {
			events = append(events, model.DetectionEvent{
				Kind:     model.SignalBlockingPhrase,
				Evidence: text[loc[0]:loc[1]],
				Severity: model.SeverityBlock,
			})
		}
	}
	return events
}

func (s *scanner) scanCaptchaMarkers(doc *goquery.Document) []model.DetectionEvent {
	var events []model.DetectionEvent
	for _, sel := range s.cfg.Detection.CaptchaMarkers {
		if doc.Find(sel).Length() > 0 {
			events = append(events, model.DetectionEvent{
				Kind:     model.SignalCaptchaWidget,
				Evidence: sel,
				Severity: model.SeverityBlock,
			})
		}
	}
	return events
}

func (s *scanner) scanTitle(title string) []model.DetectionEvent {
	for _, re := range s.titles {
		if re.MatchString(title) {
			return []model.DetectionEvent{{Kind: model.SignalTitle, Evidence: title, Severity: model.SeverityBlock}}
		}
	}
	return nil
}

func (s *scanner) scanURL(url string) []model.DetectionEvent {
	lower := strings.ToLower(url)
	for _, p := range s.urlPatterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return []model.DetectionEvent{{Kind: model.SignalURL, Evidence: url, Severity: model.SeverityBlock}}
		}
	}
	return nil
}

func (s *scanner) collectSignals(ctx context.Context, d chrome.Driver) (*pageSignals, error) {
	raw, err := d.ExecuteScript(ctx, s.signalsJS)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return &pageSignals{}, nil
	}
	res, err := chrome.DecodeValue[pageSignals](raw)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *scanner) scanSignals(p *pageSignals) []model.DetectionEvent {
	var events []model.DetectionEvent
	if p.Webdriver {
		events = append(events, model.DetectionEvent{Kind: model.SignalAutomation, Evidence: "navigator.webdriver=true", Severity: model.SeverityBlock})
	}
	if p.Headless {
		events = append(events, model.DetectionEvent{Kind: model.SignalAutomation, Evidence: "headless user agent", Severity: model.SeverityWarn})
	}
	if p.Status > 0 && slices.Contains(s.statusBlocks, p.Status) {
		events = append(events, model.DetectionEvent{Kind: model.SignalHTTPStatus, Evidence: fmt.Sprintf("status %d", p.Status), Severity: model.SeverityBlock})
	}
	for _, g := range p.Globals {
		events = append(events, model.DetectionEvent{Kind: model.SignalGlobals, Evidence: g, Severity: model.SeverityWarn})
	}
	if len(p.Honeypots) > 0 {
		sev := model.SeverityInfo
		if s.cfg.Detection.HoneypotBlocking {
			sev = model.SeverityBlock
		}
		events = append(events, model.DetectionEvent{Kind: model.SignalHoneypot, Evidence: strings.Join(p.Honeypots, ","), Severity: sev})
	}
	return events
}
