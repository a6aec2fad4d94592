package orchestrator

import (
	"context"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/collector"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/metrics"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/behavior"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/captcha"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/checkpoint"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/extract"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/fingerprint"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/remediation"
	"github.com/LouYuanbo1/stealthcrawler/param"
	"go.uber.org/zap"
)

// Orchestrator 一个浏览器会话上的顺序爬取流程,不能并发调用
type Orchestrator interface {
	// Run 清除旧检查点,从模板的起始页开始
	Run(ctx context.Context, maxPages, maxItems int) (*Result, error)
	// Resume 从检查点记录的页码和条目位置继续
	Resume(ctx context.Context, maxPages, maxItems int) (*Result, error)
}

// Result 任何结束方式都会返回,Records 为本次调用产生的记录
type Result struct {
	Records []*model.ExtractedRecord
	Status  model.RunStatus
	Reason  string
	State   *model.CrawlState
}

// Deps Pool/Proxies/Captcha/Fetcher 可以为 nil
type Deps struct {
	Template    *param.Template
	CrawlerID   string
	Sessions    chrome.SessionFactory
	Pool        fingerprint.Pool
	Proxies     fingerprint.ProxyPool
	Sim         behavior.Simulator
	Remediation remediation.Controller
	Captcha     captcha.Set
	Checkpoint  checkpoint.Manager
	Extractor   extract.Extractor
	Fetcher     collector.Fetcher
	Log         *zap.Logger
	Metrics     *metrics.Metrics
}

type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseSessionAcquired    Phase = "session_acquired"
	PhaseFetchingPage       Phase = "fetching_page"
	PhaseChallengePending   Phase = "challenge_pending"
	PhaseResolved           Phase = "resolved"
	PhaseAbandoned          Phase = "abandoned"
	PhaseDetectionSuspected Phase = "detection_suspected"
	PhaseMitigated          Phase = "mitigated"
	PhaseAborted            Phase = "aborted"
	PhaseExtractingItems    Phase = "extracting_items"
	PhaseFetchingDetail     Phase = "fetching_detail"
	PhaseMerging            Phase = "merging"
	PhasePersisting         Phase = "persisting"
	PhaseAdvancingPage      Phase = "advancing_page"
	PhaseCompleted          Phase = "completed"
	PhaseInterrupted        Phase = "interrupted"
	PhaseFailed             Phase = "failed"
)

// CrawlState.Extra 中的键
const (
	// ExtraNextURL 链接翻页时的下一页地址
	ExtraNextURL = "next_url"
	// ExtraProfile 当前会话使用的指纹,只暂存,由定时刷新或下一次保存落盘
	ExtraProfile = "profile"
)
