package parallel

import (
	"context"

	"github.com/LouYuanbo1/stealthcrawler/internal/service/orchestrator"
	"github.com/LouYuanbo1/stealthcrawler/param"
)

// Job 一次独立的爬取,不同 Job 的 CrawlerID 必须不同
type Job struct {
	Run      param.Run
	Template *param.Template
}

type Outcome struct {
	Job    Job
	Result *orchestrator.Result
	Err    error
}

// Builder 为 Job 组装编排器,返回的 cleanup 在运行结束后调用
type Builder func(ctx context.Context, job Job) (orchestrator.Orchestrator, func() error, error)

// Runner 在有限个 worker 上并行执行多个爬取,只共享指纹池和浏览器池
type Runner interface {
	RunAll(ctx context.Context, jobs []Job) ([]Outcome, error)
}
