package commands

import (
	"context"
	"fmt"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/checkpoint"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/parallel"
	"github.com/LouYuanbo1/stealthcrawler/param"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runFlags struct {
	templates []string
	crawlerID string
	maxPages  int
	maxItems  int
	resume    bool
	fresh     bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "按模板爬取,多个模板时并行执行",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(runFlags.templates) == 0 {
			return fmt.Errorf("至少需要一个 --template")
		}
		if runFlags.resume && runFlags.fresh {
			return fmt.Errorf("--resume 和 --fresh 不能同时使用")
		}
		if runFlags.crawlerID != "" && len(runFlags.templates) > 1 {
			return fmt.Errorf("多个模板时不能指定 --crawler-id")
		}

		var jobs []parallel.Job
		for _, path := range runFlags.templates {
			tmpl, err := param.LoadTemplate(path)
			if err != nil {
				return err
			}
			run := param.Run{
				TemplateRef: path,
				CrawlerID:   runFlags.crawlerID,
				MaxPages:    runFlags.maxPages,
				MaxItems:    runFlags.maxItems,
				Resume:      runFlags.resume,
			}
			if !run.IsValid() {
				return fmt.Errorf("--max-pages 和 --max-items 必须大于 0")
			}
			jobs = append(jobs, parallel.Job{Run: run, Template: tmpl})
		}

		ctx := cmd.Context()
		a, err := newApp()
		if err != nil {
			return err
		}
		defer func() {
			if err := a.close(); err != nil {
				a.log.Warn("释放资源失败", zap.Error(err))
			}
		}()
		if !runFlags.fresh {
			if err := guardCheckpoints(ctx, a.cfg, jobs, a.log); err != nil {
				return err
			}
		}
		a.serveMetrics()

		store, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		pool, err := a.openPool()
		if err != nil {
			return err
		}
		build := a.builder(store, pool, a.sessions(), a.captchaDeps(ctx))

		outcomes, err := parallel.InitRunner(a.cfg.Browser.PoolSize, build, a.log).RunAll(ctx, jobs)
		if err != nil {
			return err
		}
		for _, out := range outcomes {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\t%s\n",
				out.Job.Run.ID(out.Job.Template), out.Result.Status, len(out.Result.Records), out.Result.Reason)
		}
		exitCode = parallel.ExitStatus(outcomes).ExitCode()
		return nil
	},
}

// guardCheckpoints 非 --resume 的运行会清除检查点,存在未完成的检查点时要求显式 --fresh
func guardCheckpoints(ctx context.Context, cfg *config.Config, jobs []parallel.Job, log *zap.Logger) error {
	for _, job := range jobs {
		if job.Run.Resume {
			continue
		}
		id := job.Run.ID(job.Template)
		cp, err := checkpoint.Open(cfg, id, nil, log)
		if err != nil {
			return err
		}
		st, err := cp.GetState(ctx)
		if cerr := cp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		if cp.Recovered() != checkpoint.SourceFresh && st != nil && !st.Completed {
			return crawlerr.Newf(crawlerr.KindConfiguration, "run", "%s 存在未完成的检查点(第 %d 页, 已采集 %d 条), 使用 --resume 继续或 --fresh 丢弃",
				id, st.CurrentPage, st.ItemsCollected)
		}
	}
	return nil
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&runFlags.templates, "template", nil, "站点模板 JSON 文件,可重复")
	f.StringVar(&runFlags.crawlerID, "crawler-id", "", "检查点标识,默认 <模板名>-crawler")
	f.IntVar(&runFlags.maxPages, "max-pages", 10, "最后一页的页码(含)")
	f.IntVar(&runFlags.maxItems, "max-items", 100, "累计条目上限")
	f.BoolVar(&runFlags.resume, "resume", false, "从检查点继续")
	f.BoolVar(&runFlags.fresh, "fresh", false, "丢弃未完成的检查点,从起始页重新开始")
	rootCmd.AddCommand(runCmd)
}
