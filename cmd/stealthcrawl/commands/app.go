package commands

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"os"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/collector"
	browserpool "github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/parallel"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/embedding"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/llm"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/metrics"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence/es"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence/file"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence/objectstore"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence/redisstore"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/solverapi"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/behavior"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/captcha"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/checkpoint"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/detection"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/extract"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/fingerprint"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/orchestrator"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/parallel"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/remediation"
	"github.com/LouYuanbo1/stealthcrawler/param"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// app 一次命令执行中共享的组件
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	closers  []func() error
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath, defaultConfig)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development, cfg.Log.OutputPaths)
	if err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	return &app{
		cfg:      cfg,
		log:      log,
		registry: registry,
		metrics:  metrics.NewMetrics(registry),
	}, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close 按注册的相反顺序释放
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.log.Sync()
	return errors.Join(errs...)
}

func (a *app) serveMetrics() {
	if a.cfg.Metrics.Listen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("指标服务退出", zap.Error(err))
		}
	}()
	a.log.Info("指标服务已启动", zap.String("listen", a.cfg.Metrics.Listen))
	a.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// openStore 按 storage.backends 创建全部后端
func (a *app) openStore(ctx context.Context) (*persistence.Fanout, error) {
	var backends []persistence.Backend
	for _, name := range a.cfg.Storage.Backends {
		var (
			b   persistence.Backend
			err error
		)
		switch name {
		case "file":
			b, err = file.InitStore(a.cfg.Storage.FileDir)
		case "elasticsearch":
			var embedder embedding.Embedder
			if a.cfg.Elasticsearch.Embed {
				if embedder, err = embedding.InitEmbedder(ctx, a.cfg); err != nil {
					a.log.Warn("初始化 Embedder 失败,记录不生成向量", zap.Error(err))
					embedder, err = nil, nil
				}
			}
			b, err = es.InitStore(a.cfg, embedder, a.log)
		case "redis":
			b, err = redisstore.InitStore(a.cfg)
		case "minio":
			b, err = objectstore.InitStore(ctx, a.cfg)
		default:
			err = fmt.Errorf("未知的存储后端: %s", name)
		}
		if err != nil {
			for _, opened := range backends {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("初始化存储后端 %s 失败: %w", name, err)
		}
		backends = append(backends, b)
	}
	store := persistence.NewFanout(backends, a.log, a.metrics)
	a.onClose(store.Close)
	a.log.Info("存储后端就绪", zap.Strings("backends", store.Backends()))
	return store, nil
}

// openPool 优先加载指纹文件,不存在时生成;退出时写回成功率统计
func (a *app) openPool() (fingerprint.Pool, error) {
	fc := a.cfg.Fingerprint
	var (
		pool fingerprint.Pool
		err  error
	)
	if _, statErr := os.Stat(fc.ProfileFile); fc.ProfileFile != "" && statErr == nil {
		pool, err = fingerprint.LoadPool(fc.ProfileFile, fc.Strategy, nil)
	} else {
		pool, err = fingerprint.InitPool(fc.Strategy, fingerprint.GenerateProfiles(fc.PoolSize, nil, time.Now()), nil)
	}
	if err != nil {
		return nil, err
	}
	if fc.ProfileFile != "" {
		a.onClose(func() error { return pool.Save(fc.ProfileFile) })
	}
	return pool, nil
}

func (a *app) sessions() chrome.SessionFactory {
	var f chrome.SessionFactory
	if a.cfg.Browser.Driver == "chromedp" {
		f = chrome.InitChromedpSessionFactory(a.cfg)
	} else {
		f = browserpool.InitRodBrowserPool(a.cfg, a.log)
	}
	a.onClose(func() error { f.Close(); return nil })
	return f
}

// captchaDeps 视觉模型和打码服务由所有运行共享
func (a *app) captchaDeps(ctx context.Context) captcha.Deps {
	deps := captcha.Deps{Log: a.log, Metrics: a.metrics}
	if a.cfg.Captcha.Model.Enabled {
		m, err := llm.InitVisionModel(ctx, a.cfg)
		if err != nil {
			a.log.Warn("视觉模型不可用", zap.Error(err))
		} else {
			deps.Model = m
		}
	}
	if a.cfg.Captcha.Service.BaseURL != "" {
		deps.Service = solverapi.InitClient(a.cfg)
	}
	if a.cfg.Captcha.ManualInput {
		deps.Manual = captcha.NewManualTranscriber(os.Stdin, "", a.log)
	}
	return deps
}

// builder 为每个 Job 组装独立的会话状态,共享指纹池、代理池和浏览器池
func (a *app) builder(store *persistence.Fanout, pool fingerprint.Pool, sessions chrome.SessionFactory, cdeps captcha.Deps) parallel.Builder {
	proxies := fingerprint.InitProxyPool(a.cfg.Fingerprint.Proxies)
	return func(ctx context.Context, job parallel.Job) (orchestrator.Orchestrator, func() error, error) {
		tmpl := job.Template
		id := job.Run.ID(tmpl)
		log := a.log.With(zap.String("crawler_id", id))

		pacing := maps.Clone(a.cfg.Pacing)
		maps.Copy(pacing, tmpl.Pacing)
		sim := behavior.InitSimulator(pacing)

		scanner, err := detection.InitScanner(a.cfg, log, a.metrics)
		if err != nil {
			return nil, nil, err
		}
		cp, err := checkpoint.Open(a.cfg, id, store, log, checkpoint.WithMetrics(a.metrics))
		if err != nil {
			return nil, nil, err
		}
		var fetcher collector.Fetcher
		if tmpl.DetailMode == param.DetailHTTP {
			fetcher = collector.InitCollyFetcher(a.cfg, log)
		}

		jobDeps := cdeps
		jobDeps.Sim = sim
		jobDeps.Log = log
		orch := orchestrator.InitOrchestrator(a.cfg, orchestrator.Deps{
			Template:    tmpl,
			CrawlerID:   id,
			Sessions:    sessions,
			Pool:        pool,
			Proxies:     proxies,
			Sim:         sim,
			Remediation: remediation.InitController(a.cfg, scanner, sim, pool, log, a.metrics),
			Captcha:     captcha.InitSolverSet(a.cfg, jobDeps),
			Checkpoint:  cp,
			Extractor:   extract.InitExtractor(tmpl),
			Fetcher:     fetcher,
			Log:         log,
			Metrics:     a.metrics,
		})
		return orch, cp.Close, nil
	}
}
