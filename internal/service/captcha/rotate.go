package captcha

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/vision"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/behavior"
	"go.uber.org/zap"
)

// 角度估计策略
const (
	AngleReferenceMatch = "reference_match"
	AngleEdgeHistogram  = "edge_histogram"
	// 随机角度,不代表任何图像分析结果
	AngleLowConfidenceFallback = "low_confidence_fallback"
)

// 边缘方向集中度低于该值时不采用直方图结果
const minHistogramConfidence = 0.1

type AngleResult struct {
	Degrees    float64
	Confidence float64
	Strategy   string
	Keyword    string
}

type rotateSolver struct {
	counter
	cfg config.RotateCaptcha
	sim behavior.Simulator
	log *zap.Logger
}

func NewRotateSolver(cfg config.RotateCaptcha, sim behavior.Simulator, log *zap.Logger) Solver {
	return &rotateSolver{cfg: cfg, sim: sim, log: logger.OrNop(log).Named("rotate")}
}

func (s *rotateSolver) Kind() model.CaptchaKind { return model.CaptchaRotate }

func (s *rotateSolver) Detect(ctx context.Context, d chrome.Driver) (bool, error) {
	ok, err := chrome.Exists(ctx, d, s.cfg.ContainerSelector)
	if err != nil || !ok {
		return false, err
	}
	return chrome.Exists(ctx, d, s.cfg.ImageSelector)
}

// normalizeDegrees 转换到 (-180, 180]
func normalizeDegrees(a float64) float64 {
	a = math.Mod(a, 360)
	if a > 180 {
		a -= 360
	} else if a <= -180 {
		a += 360
	}
	return a
}

// EstimateAngle 指令文字命中参考图关键字时做参考图匹配,否则统计边缘方向.
// 两者都不可用且允许兜底时返回明确标记的低置信度随机角度
func (s *rotateSolver) EstimateAngle(ctx context.Context, d chrome.Driver, img []byte, instruction string) (AngleResult, bool) {
	decoded, err := vision.Decode(img)
	if err != nil {
		s.log.Warn("解码旋转图片失败", zap.Error(err))
		return AngleResult{}, false
	}

	lower := strings.ToLower(instruction)
	keywords := make([]string, 0, len(s.cfg.ReferenceSelectors))
	for k := range s.cfg.ReferenceSelectors {
		keywords = append(keywords, k)
	}
	slices.Sort(keywords)
	for _, kw := range keywords {
		if kw == "" || !strings.Contains(lower, strings.ToLower(kw)) {
			continue
		}
		refRaw, err := d.Screenshot(ctx, s.cfg.ReferenceSelectors[kw])
		if err != nil {
			s.log.Warn("参考图截图失败", zap.String("keyword", kw), zap.Error(err))
			continue
		}
		ref, err := vision.Decode(refRaw)
		if err != nil {
			continue
		}
		est := vision.MatchReference(decoded, ref, s.cfg.AngleSearchStep)
		return AngleResult{Degrees: normalizeDegrees(est.Degrees), Confidence: est.Confidence, Strategy: AngleReferenceMatch, Keyword: kw}, true
	}

	est := vision.AngleHistogram(vision.ToGray(decoded, 32), 40)
	if est.Confidence >= minHistogramConfidence {
		return AngleResult{Degrees: est.Degrees, Confidence: est.Confidence, Strategy: AngleEdgeHistogram}, true
	}
	if !s.cfg.AllowFallback {
		return AngleResult{}, false
	}
	return AngleResult{Degrees: s.sim.Uniform(-45, 45), Strategy: AngleLowConfidenceFallback}, true
}

func (s *rotateSolver) Solve(ctx context.Context, d chrome.Driver, ch *model.CaptchaChallenge) (model.CaptchaOutcome, error) {
	return s.track(s.solve(ctx, d, ch))
}

func (s *rotateSolver) solve(ctx context.Context, d chrome.Driver, ch *model.CaptchaChallenge) (model.CaptchaOutcome, error) {
	imgEl, err := chrome.FirstVisible(ctx, d, s.cfg.ImageSelector)
	if err != nil {
		return model.CaptchaOutcome{}, err
	}
	if imgEl == nil {
		return failed("rotate image missing"), nil
	}
	raw, err := d.Screenshot(ctx, s.cfg.ImageSelector)
	if err != nil {
		return failed("rotate screenshot failed", "error", err.Error()), nil
	}
	ch.AddAsset("image", raw)
	if ch.Instruction == "" {
		ch.Instruction = textOf(ctx, d, s.cfg.InstructionSelector)
	}

	est, ok := s.EstimateAngle(ctx, d, raw, ch.Instruction)
	if !ok {
		return failed("no angle estimate"), nil
	}
	log := s.log.With(zap.Float64("degrees", est.Degrees), zap.String("strategy", est.Strategy), zap.Float64("confidence", est.Confidence))
	if est.Strategy == AngleLowConfidenceFallback {
		log.Warn("没有可用的角度估计,使用低置信度兜底")
	}

	// 把手不存在时从图片顶部中点开始沿圆周拖动
	center := imgEl.Box.Center()
	start := types.Point{X: center.X, Y: imgEl.Box.Y}
	if handle, err := chrome.FirstVisible(ctx, d, s.cfg.HandleSelector); err == nil && handle != nil {
		start = handle.Box.Center()
	}
	if start == center {
		start.Y -= max(imgEl.Box.Height/2, 1)
	}
	steps := s.sim.IntRange(s.cfg.MinSteps, s.cfg.MaxSteps)
	arc := vision.ArcTrajectory(center.X, center.Y, start.X, start.Y, est.Degrees, steps)
	points := make([]types.Point, 0, len(arc))
	for _, p := range arc {
		points = append(points, types.Point{X: p.DX, Y: p.DY})
	}
	log.Info("旋转图片", zap.Int("steps", steps))
	if err := drag(ctx, d, s.sim, start, points, 30*time.Millisecond, 90*time.Millisecond); err != nil {
		return model.CaptchaOutcome{}, fmt.Errorf("旋转拖动失败: %w", err)
	}

	ok, err = verify(ctx, d, s.sim, s.cfg.SuccessSelector, s.cfg.ContainerSelector)
	if err != nil {
		return model.CaptchaOutcome{}, err
	}
	return model.CaptchaOutcome{Success: ok, Evidence: map[string]any{
		"degrees":    est.Degrees,
		"strategy":   est.Strategy,
		"confidence": est.Confidence,
		"keyword":    est.Keyword,
		"steps":      steps,
	}}, nil
}
