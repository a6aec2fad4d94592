package captcha

import (
	"cmp"
	"context"
	"slices"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/llm"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/metrics"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/solverapi"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/behavior"
	"go.uber.org/zap"
)

// Deps 可选的识别能力,为 nil 的部分在链中跳过
type Deps struct {
	Model   llm.VisionModel
	Service solverapi.Client
	// 人工兜底,为 nil 时不启用;并行任务应共享同一个 ManualTranscriber
	Manual Transcriber
	Sim    behavior.Simulator
	Log    *zap.Logger
	// Metrics 可以为 nil
	Metrics *metrics.Metrics
}

type set struct {
	maxAttempts int
	// 按配置顺序,分类时再按成功率稳定排序
	solvers []Solver
	table   map[model.CaptchaKind]Solver
	log     *zap.Logger
	metrics *metrics.Metrics
}

// InitSolverSet 按配置构造全部五种 Solver
func InitSolverSet(cfg *config.Config, deps Deps) Set {
	log := logger.OrNop(deps.Log).Named("captcha")
	cc := cfg.Captcha

	transcribers := NewTranscriberChain(cc.Text.MinLength, log)
	detectors := NewDetectorChain(cc.Click.ConfidenceThreshold, log)
	if deps.Model != nil {
		transcribers.Add("model", deps.Model)
		detectors.Add("model", deps.Model)
	}
	var tokens TokenService
	if deps.Service != nil {
		transcribers.Add("service", deps.Service)
		detectors.Add("service", deps.Service)
		tokens = deps.Service
	}
	if cc.ManualInput && !isNilInterface(deps.Manual) {
		transcribers.Add("manual", deps.Manual)
	}
	detectors.Add("contour", ContourDetector{MaxResults: cc.Click.MaxClicks})

	solvers := []Solver{
		NewTextSolver(cc.Text, transcribers, deps.Sim, log),
		NewSliderSolver(cc.Slider, deps.Sim, log),
		NewRotateSolver(cc.Rotate, deps.Sim, log),
		NewClickSolver(cc.Click, detectors, deps.Sim, log),
		NewExternalSolver(cc.External, tokens, deps.Sim, log),
	}
	return NewSet(cc.MaxAttempts, cc.Order, solvers, log, deps.Metrics)
}

// NewSet order 中没有出现的类型不参与分类
func NewSet(maxAttempts int, order []string, solvers []Solver, log *zap.Logger, m *metrics.Metrics) Set {
	s := &set{
		maxAttempts: max(maxAttempts, 1),
		table:       make(map[model.CaptchaKind]Solver, len(solvers)),
		log:         logger.OrNop(log),
		metrics:     m,
	}
	for _, sv := range solvers {
		s.table[sv.Kind()] = sv
	}
	for _, name := range order {
		if sv, ok := s.table[model.CaptchaKind(name)]; ok && !slices.Contains(s.solvers, sv) {
			s.solvers = append(s.solvers, sv)
		}
	}
	return s
}

// ordered 成功率高的类型优先检测,相同时保持配置顺序
func (s *set) ordered() []Solver {
	out := slices.Clone(s.solvers)
	slices.SortStableFunc(out, func(a, b Solver) int {
		return cmp.Compare(b.Stats().Rate(), a.Stats().Rate())
	})
	return out
}

func (s *set) Classify(ctx context.Context, d chrome.Driver) (model.CaptchaKind, bool, error) {
	for _, sv := range s.ordered() {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		ok, err := sv.Detect(ctx, d)
		if err != nil {
			return "", false, err
		}
		if ok {
			return sv.Kind(), true, nil
		}
	}
	return "", false, nil
}

func (s *set) Resolve(ctx context.Context, d chrome.Driver) (Resolution, error) {
	kind, ok, err := s.Classify(ctx, d)
	if err != nil || !ok {
		return Resolution{}, err
	}
	solver := s.table[kind]
	ch := &model.CaptchaChallenge{Kind: kind, Assets: make(map[string][]byte)}
	res := Resolution{Kind: kind, Present: true}
	log := s.log.With(zap.String("kind", string(kind)))
	log.Info("检测到验证码")

	for ch.AttemptCount < s.maxAttempts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ch.AttemptCount++
		res.Attempts = ch.AttemptCount
		out, err := solver.Solve(ctx, d, ch)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			s.metrics.Captcha(string(kind), false)
			log.Warn("求解验证码出错", zap.Int("attempt", ch.AttemptCount), zap.Error(err))
			continue
		}
		res.Evidence = out.Evidence
		s.metrics.Captcha(string(kind), out.Success)
		if out.Success {
			log.Info("验证码已通过", zap.Int("attempt", ch.AttemptCount), zap.Any("evidence", out.Evidence))
			res.Solved = true
			return res, nil
		}
		log.Warn("验证码未通过", zap.Int("attempt", ch.AttemptCount), zap.Any("evidence", out.Evidence))
	}
	return res, crawlerr.Newf(crawlerr.KindCaptcha, "resolve captcha",
		"%s 验证码 %d 次尝试后仍未通过", kind, ch.AttemptCount)
}

func (s *set) Stats() map[model.CaptchaKind]Stats {
	out := make(map[model.CaptchaKind]Stats, len(s.table))
	for k, sv := range s.table {
		out[k] = sv.Stats()
	}
	return out
}
