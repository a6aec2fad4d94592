package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome/fakedriver"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/collector"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence/file"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/behavior"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/captcha"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/checkpoint"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/detection"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/extract"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/fingerprint"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/remediation"
	"github.com/LouYuanbo1/stealthcrawler/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const crawlerID = "shop-crawler"

func pageURL(page int) string {
	return fmt.Sprintf("https://shop.example/list?page=%d", page)
}

func listHTML(page, items int) string {
	var sb strings.Builder
	sb.WriteString("<html><body><ul>")
	for i := range items {
		fmt.Fprintf(&sb, `<li class="item"><a class="title" href="/detail/%d-%d">Item %d-%d</a></li>`, page, i, page, i)
	}
	sb.WriteString("</ul></body></html>")
	return sb.String()
}

func shopSite(pages int) *fakedriver.Site {
	site := fakedriver.NewSite()
	for p := 1; p <= pages; p++ {
		site.Add(pageURL(p), &fakedriver.Page{Title: "Shop", HTML: listHTML(p, 10)})
	}
	return site
}

func shopTemplate() *param.Template {
	return &param.Template{
		Name:             "shop",
		BaseURL:          "https://shop.example",
		PageURLPattern:   "https://shop.example/list?page={page}",
		StartPage:        1,
		PageSize:         10,
		ListItemSelector: "li.item",
		ListFields: map[string]param.Field{
			"title": {Selector: "a.title"},
			"link":  {Selector: "a.title", Attr: "href"},
		},
		DetailLinkField: "link",
		DetailFields:    map[string]param.Field{"description": {Selector: "#desc"}},
		DetailMode:      param.DetailNone,
	}
}

type harness struct {
	cfg        *config.Config
	site       *fakedriver.Site
	factory    *fakedriver.Factory
	checkpoint checkpoint.Manager
	deps       Deps
}

func newHarness(t *testing.T, site *fakedriver.Site, tmpl *param.Template) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Checkpoint.Dir = filepath.Join(dir, "checkpoint")
	cfg.Checkpoint.BackupDir = filepath.Join(dir, "checkpoint", "backups")
	cfg.Storage.FileDir = filepath.Join(dir, "records")
	cfg.SetDefaults()
	cfg.Navigation.InitialBackoffMs = 1
	cfg.Navigation.MaxBackoffMs = 2

	sim := behavior.InitSimulator(cfg.Pacing, behavior.WithSleep(behavior.NoSleep), behavior.WithRand(rand.New(rand.NewPCG(7, 11))))
	scanner, err := detection.InitScanner(cfg, nil, nil)
	require.NoError(t, err)
	pool, err := fingerprint.InitPool(fingerprint.StrategyRoundRobin,
		fingerprint.GenerateProfiles(3, rand.New(rand.NewPCG(1, 2)), time.Now()), nil)
	require.NoError(t, err)

	fs, err := file.InitStore(cfg.Storage.FileDir)
	require.NoError(t, err)
	cp, err := checkpoint.Open(cfg, crawlerID, persistence.NewFanout([]persistence.Backend{fs}, nil, nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cp.Close() })

	factory := fakedriver.NewFactory(site)
	return &harness{
		cfg:        cfg,
		site:       site,
		factory:    factory,
		checkpoint: cp,
		deps: Deps{
			Template:    tmpl,
			CrawlerID:   crawlerID,
			Sessions:    factory,
			Pool:        pool,
			Proxies:     fingerprint.InitProxyPool([]string{"http://proxy-a:8080", "http://proxy-b:8080"}),
			Sim:         sim,
			Remediation: remediation.InitController(cfg, scanner, sim, pool, nil, nil),
			Captcha:     captcha.NewSet(3, nil, nil, nil, nil),
			Checkpoint:  cp,
			Extractor:   extract.InitExtractor(tmpl),
		},
	}
}

func (h *harness) orchestrator() Orchestrator {
	return InitOrchestrator(h.cfg, h.deps)
}

func titles(records []*model.ExtractedRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ListData["title"].(string))
	}
	return out
}

func TestRunStopsAtMaxItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t, shopSite(3), shopTemplate())
	res, err := h.orchestrator().Run(context.Background(), 3, 25)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, res.Status)
	require.Len(t, res.Records, 25)
	assert.Equal(t, "Item 1-0", res.Records[0].ListData["title"])
	assert.Equal(t, "Item 3-4", res.Records[24].ListData["title"])
	assert.Equal(t, 25, res.State.ItemsCollected)
	assert.Equal(t, 3, res.State.CurrentPage)
	assert.Equal(t, 5, res.State.CurrentItemIndex)
	assert.True(t, res.State.Completed)

	docs, err := h.checkpoint.QueryRecords(context.Background(), persistence.Filter{"metadata.crawler_id": crawlerID})
	require.NoError(t, err)
	assert.Len(t, docs, 25)

	for _, s := range h.factory.Sessions {
		assert.True(t, s.Closed())
	}
}

func TestNavigationRetriedWithoutLoss(t *testing.T) {
	t.Parallel()

	site := shopSite(3)
	transient := errors.New("net::ERR_CONNECTION_RESET")
	site.Pages[pageURL(2)].NavErrors = []error{transient, transient}

	h := newHarness(t, site, shopTemplate())
	res, err := h.orchestrator().Run(context.Background(), 3, 100)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Len(t, res.Records, 30)
	assert.Equal(t, 3, site.VisitCount(pageURL(2)))
	assert.Equal(t, 30, res.State.ItemsCollected)
}

func TestNavigationGivesUp(t *testing.T) {
	t.Parallel()

	site := shopSite(3)
	transient := errors.New("timeout")
	site.Pages[pageURL(2)].NavErrors = []error{transient, transient, transient}

	h := newHarness(t, site, shopTemplate())
	res, err := h.orchestrator().Run(context.Background(), 3, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, crawlerr.ErrNavigation)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Len(t, res.Records, 10)
	assert.Equal(t, 2, res.State.CurrentPage)
	assert.Equal(t, 0, res.State.CurrentItemIndex)
}

func TestDetectionOnPage5Fails(t *testing.T) {
	t.Parallel()

	site := shopSite(5)
	site.Pages[pageURL(5)].HTML = "<html><body><h1>Access Denied</h1></body></html>"

	h := newHarness(t, site, shopTemplate())
	res, err := h.orchestrator().Run(context.Background(), 10, 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, crawlerr.ErrAntiBotDetected)

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Len(t, res.Records, 40)
	assert.Equal(t, 5, res.State.CurrentPage)
	assert.Equal(t, 40, res.State.ItemsCollected)
	assert.False(t, res.State.Completed)
	assert.NotEmpty(t, res.State.LastError)
	// 两次身份轮换各重建一次会话,加上初始会话
	assert.Equal(t, 3, h.factory.SessionCount())
	// 最后一个会话的指纹随最终检查点落盘
	last := h.factory.Sessions[len(h.factory.Sessions)-1]
	assert.Equal(t, last.Profile.Key, res.State.Extra[ExtraProfile])
	assert.NotEqual(t, h.factory.Sessions[0].Profile.Key, res.State.Extra[ExtraProfile])
}

func TestDetectionMitigatedInPlace(t *testing.T) {
	t.Parallel()

	site := shopSite(2)
	site.Pages[pageURL(2)].Versions = []string{
		"<html><body>Please verify you are human</body></html>",
		listHTML(2, 10),
	}

	h := newHarness(t, site, shopTemplate())
	h.cfg.Remediation.Strategies = []string{remediation.StrategyClearCookies, remediation.StrategyRefresh}
	h.deps.Remediation = remediation.InitController(h.cfg, mustScanner(t, h.cfg), h.deps.Sim, h.deps.Pool, nil, nil)

	res, err := h.orchestrator().Run(context.Background(), 2, 100)
	require.NoError(t, err)
	assert.Len(t, res.Records, 20)
	assert.Equal(t, 1, h.factory.SessionCount())
	assert.Equal(t, 1, h.factory.Sessions[0].Reloads)
}

func mustScanner(t *testing.T, cfg *config.Config) detection.Scanner {
	t.Helper()
	s, err := detection.InitScanner(cfg, nil, nil)
	require.NoError(t, err)
	return s
}

func TestResumeFromCheckpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, shopSite(5), shopTemplate())
	ctx := context.Background()
	require.NoError(t, h.checkpoint.SaveState(ctx, model.StatePatch{
		CurrentPage:      model.Int(4),
		CurrentItemIndex: model.Int(2),
		ItemsCollected:   model.Int(32),
	}))

	res, err := h.orchestrator().Resume(ctx, 5, 1000)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Status)
	require.Len(t, res.Records, 18)
	assert.Equal(t, "Item 4-2", res.Records[0].ListData["title"])
	assert.Equal(t, "Item 5-9", res.Records[17].ListData["title"])
	assert.Equal(t, 50, res.State.ItemsCollected)
	assert.Zero(t, h.site.VisitCount(pageURL(3)))
}

func TestResumeCompletedIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, shopSite(1), shopTemplate())
	ctx := context.Background()
	require.NoError(t, h.checkpoint.MarkCompleted(ctx))

	res, err := h.orchestrator().Resume(ctx, 5, 100)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Empty(t, res.Records)
	assert.Zero(t, h.factory.SessionCount())
}

func TestRunWarnsWhenDiscardingCheckpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, shopSite(2), shopTemplate())
	core, logs := observer.New(zapcore.WarnLevel)
	h.deps.Log = zap.New(core)
	ctx := context.Background()
	require.NoError(t, h.checkpoint.SaveState(ctx, model.StatePatch{
		CurrentPage:      model.Int(2),
		CurrentItemIndex: model.Int(3),
		ItemsCollected:   model.Int(13),
	}))

	res, err := h.orchestrator().Run(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, res.State.ItemsCollected)
	assert.Equal(t, 1, res.State.CurrentPage)

	discarded := logs.FilterMessage("丢弃未完成的检查点,从起始页重新开始").All()
	require.Len(t, discarded, 1)
	assert.Equal(t, int64(13), discarded[0].ContextMap()["collected"])
}

// cancelAfter 保存第 n 条记录后取消运行
type cancelAfter struct {
	checkpoint.Manager
	n      int
	saved  int
	cancel context.CancelFunc
}

func (c *cancelAfter) SaveRecord(ctx context.Context, r *model.ExtractedRecord) error {
	err := c.Manager.SaveRecord(ctx, r)
	c.saved++
	if c.saved == c.n {
		c.cancel()
	}
	return err
}

func TestInterruptThenResumeMatchesFullRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, shopSite(3), shopTemplate())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.deps.Checkpoint = &cancelAfter{Manager: h.checkpoint, n: 13, cancel: cancel}

	first, err := h.orchestrator().Run(ctx, 3, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, crawlerr.ErrInterrupted)
	assert.Equal(t, model.StatusInterrupted, first.Status)
	assert.Equal(t, 3, model.StatusInterrupted.ExitCode())
	assert.Equal(t, 2, first.State.CurrentPage)

	h.deps.Checkpoint = h.checkpoint
	second, err := h.orchestrator().Resume(context.Background(), 3, 100)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, second.Status)

	all := append(titles(first.Records), titles(second.Records)...)
	unique := map[string]bool{}
	for _, title := range all {
		unique[title] = true
	}
	assert.Len(t, unique, 30)
	assert.LessOrEqual(t, len(all)-len(unique), 1)
	assert.Equal(t, 30, second.State.ItemsCollected)
}

func TestBrowserDetailSkipsBrokenItem(t *testing.T) {
	t.Parallel()

	site := fakedriver.NewSite()
	site.Add(pageURL(1), &fakedriver.Page{Title: "Shop", HTML: listHTML(1, 3)})
	site.Add("https://shop.example/detail/1-0", &fakedriver.Page{HTML: `<p id="desc">first</p>`})
	site.Add("https://shop.example/detail/1-1", &fakedriver.Page{HTML: `<p>no description</p>`})
	site.Add("https://shop.example/detail/1-2", &fakedriver.Page{HTML: `<p id="desc">third</p>`})

	tmpl := shopTemplate()
	tmpl.DetailMode = param.DetailBrowser
	h := newHarness(t, site, tmpl)
	h.deps.Extractor = extract.InitExtractor(tmpl)

	res, err := h.orchestrator().Run(context.Background(), 1, 100)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "first", res.Records[0].DetailData["description"])
	assert.Equal(t, "third", res.Records[1].DetailData["description"])
	assert.Equal(t, "https://shop.example/detail/1-2", res.Records[1].Metadata.SourceURL)
	assert.Equal(t, 2, res.State.ItemsCollected)
	assert.Equal(t, 3, res.State.CurrentItemIndex)
}

// scriptedFetcher 按 URL 返回固定 HTML 或依次返回错误
type scriptedFetcher struct {
	html     map[string]string
	errs     map[string][]error
	requests []collector.Request
}

func (f *scriptedFetcher) Fetch(_ context.Context, req collector.Request) (string, error) {
	f.requests = append(f.requests, req)
	if errs := f.errs[req.URL]; len(errs) > 0 {
		f.errs[req.URL] = errs[1:]
		return "", errs[0]
	}
	html, ok := f.html[req.URL]
	if !ok {
		return "", crawlerr.Newf(crawlerr.KindNavigation, "fetch", "status 404")
	}
	return html, nil
}

func TestHTTPDetailWithBrowserFallback(t *testing.T) {
	t.Parallel()

	site := fakedriver.NewSite()
	site.Add(pageURL(1), &fakedriver.Page{Title: "Shop", HTML: listHTML(1, 3)})
	site.Add("https://shop.example/detail/1-1", &fakedriver.Page{HTML: `<p id="desc">second via browser</p>`})

	blocked := crawlerr.Newf(crawlerr.KindAntiBotDetected, "fetch", "status 403")
	reset := crawlerr.Newf(crawlerr.KindNetwork, "fetch", "connection reset")
	fetcher := &scriptedFetcher{
		html: map[string]string{
			"https://shop.example/detail/1-0": `<p id="desc">first</p>`,
			"https://shop.example/detail/1-2": `<p id="desc">third</p>`,
		},
		errs: map[string][]error{
			"https://shop.example/detail/1-1": {blocked},
			"https://shop.example/detail/1-2": {reset},
		},
	}

	tmpl := shopTemplate()
	tmpl.DetailMode = param.DetailHTTP
	h := newHarness(t, site, tmpl)
	h.deps.Extractor = extract.InitExtractor(tmpl)
	h.deps.Fetcher = fetcher

	res, err := h.orchestrator().Run(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Status)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "first", res.Records[0].DetailData["description"])
	assert.Equal(t, "second via browser", res.Records[1].DetailData["description"])
	assert.Equal(t, "third", res.Records[2].DetailData["description"])

	// 被拦截的请求不重试,直接改用浏览器;网络错误重试一次
	assert.Equal(t, 0, site.VisitCount("https://shop.example/detail/1-0"))
	assert.Equal(t, 1, site.VisitCount("https://shop.example/detail/1-1"))
	assert.Equal(t, 0, site.VisitCount("https://shop.example/detail/1-2"))
	require.Len(t, fetcher.requests, 4)
	for _, req := range fetcher.requests {
		assert.NotEmpty(t, req.UserAgent)
	}
}

func TestHTTPDetailNotFoundFailsRun(t *testing.T) {
	t.Parallel()

	site := fakedriver.NewSite()
	site.Add(pageURL(1), &fakedriver.Page{Title: "Shop", HTML: listHTML(1, 2)})
	fetcher := &scriptedFetcher{
		html: map[string]string{"https://shop.example/detail/1-0": `<p id="desc">first</p>`},
		errs: map[string][]error{},
	}

	tmpl := shopTemplate()
	tmpl.DetailMode = param.DetailHTTP
	h := newHarness(t, site, tmpl)
	h.deps.Extractor = extract.InitExtractor(tmpl)
	h.deps.Fetcher = fetcher

	res, err := h.orchestrator().Run(context.Background(), 1, 100)
	require.ErrorIs(t, err, crawlerr.ErrNavigation)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 1, res.State.CurrentItemIndex)
	// 1 次成功 + 1-1 的 max_attempts 次尝试
	assert.Len(t, fetcher.requests, 1+h.cfg.Navigation.MaxAttempts)
}

type stubbornSolver struct{ attempts int }

func (s *stubbornSolver) Kind() model.CaptchaKind { return model.CaptchaSlider }

func (s *stubbornSolver) Detect(context.Context, chrome.Driver) (bool, error) { return true, nil }

func (s *stubbornSolver) Solve(context.Context, chrome.Driver, *model.CaptchaChallenge) (model.CaptchaOutcome, error) {
	s.attempts++
	return model.CaptchaOutcome{Evidence: map[string]any{"offset": 10}}, nil
}

func (s *stubbornSolver) Stats() captcha.Stats { return captcha.Stats{Fail: s.attempts} }

func TestUnresolvedCaptchaFailsPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, shopSite(2), shopTemplate())
	solver := &stubbornSolver{}
	h.deps.Captcha = captcha.NewSet(3, []string{string(model.CaptchaSlider)}, []captcha.Solver{solver}, nil, nil)

	res, err := h.orchestrator().Run(context.Background(), 2, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, crawlerr.ErrCaptcha)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, 3, solver.attempts)
	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.State.CurrentPage)
}
