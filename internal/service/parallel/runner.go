package parallel

import (
	"context"
	"errors"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/orchestrator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type runner struct {
	workers int
	build   Builder
	log     *zap.Logger
}

func InitRunner(workers int, build Builder, log *zap.Logger) Runner {
	return &runner{
		workers: max(workers, 1),
		build:   build,
		log:     logger.OrNop(log).Named("parallel"),
	}
}

// RunAll 单个 Job 失败不影响其它 Job,结果按 jobs 的顺序返回
func (r *runner) RunAll(ctx context.Context, jobs []Job) ([]Outcome, error) {
	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		id := job.Run.ID(job.Template)
		if seen[id] {
			return nil, crawlerr.Newf(crawlerr.KindConfiguration, "run all", "crawler id 重复: %s", id)
		}
		seen[id] = true
	}

	outcomes := make([]Outcome, len(jobs))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = r.runOne(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

func (r *runner) runOne(ctx context.Context, job Job) (out Outcome) {
	out.Job = job
	id := job.Run.ID(job.Template)
	log := r.log.With(zap.String("crawler_id", id))

	orch, cleanup, err := r.build(ctx, job)
	if err != nil {
		out.Err = err
		out.Result = &orchestrator.Result{Status: model.StatusFailed, Reason: err.Error()}
		log.Error("组装爬取失败", zap.Error(err))
		return out
	}
	defer func() {
		if cleanup == nil {
			return
		}
		if err := cleanup(); err != nil {
			log.Warn("释放资源失败", zap.Error(err))
			out.Err = errors.Join(out.Err, err)
		}
	}()

	if job.Run.Resume {
		out.Result, out.Err = orch.Resume(ctx, job.Run.MaxPages, job.Run.MaxItems)
	} else {
		out.Result, out.Err = orch.Run(ctx, job.Run.MaxPages, job.Run.MaxItems)
	}
	log.Info("爬取结束", zap.String("status", string(out.Result.Status)), zap.Int("records", len(out.Result.Records)))
	return out
}

// ExitStatus 多个结果合并成一个状态: 有失败则失败,否则有中断则中断
func ExitStatus(outcomes []Outcome) model.RunStatus {
	status := model.StatusCompleted
	for _, o := range outcomes {
		if o.Result == nil {
			return model.StatusFailed
		}
		switch o.Result.Status {
		case model.StatusFailed:
			return model.StatusFailed
		case model.StatusInterrupted:
			status = model.StatusInterrupted
		}
	}
	return status
}
