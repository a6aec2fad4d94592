package captcha

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
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

// 偏移估计策略
const (
	OffsetTemplateMatch  = "template_match"
	OffsetEdgeOutlier    = "edge_outlier"
	OffsetRandomFallback = "random_fallback"
)

type OffsetEstimate struct {
	Offset     int
	Confidence float64
	Strategy   string
}

type sliderSolver struct {
	counter
	cfg config.SliderCaptcha
	sim behavior.Simulator
	log *zap.Logger
}

func NewSliderSolver(cfg config.SliderCaptcha, sim behavior.Simulator, log *zap.Logger) Solver {
	return &sliderSolver{cfg: cfg, sim: sim, log: logger.OrNop(log).Named("slider")}
}

func (s *sliderSolver) Kind() model.CaptchaKind { return model.CaptchaSlider }

func (s *sliderSolver) Detect(ctx context.Context, d chrome.Driver) (bool, error) {
	ok, err := chrome.Exists(ctx, d, s.cfg.ContainerSelector)
	if err != nil || !ok {
		return false, err
	}
	return chrome.Exists(ctx, d, s.cfg.HandleSelector)
}

// EstimateOffset 模板匹配置信度达到阈值时直接采用,否则依次退到边缘列统计和随机兜底.
// 随机兜底以背景图内容为种子,同一输入总是得到同一结果
func (s *sliderSolver) EstimateOffset(bg, piece *vision.Gray, raw []byte) OffsetEstimate {
	if piece != nil {
		offset, m := vision.MatchPiece(bg, piece)
		if m.Confidence >= s.cfg.MatchThreshold {
			return OffsetEstimate{Offset: offset, Confidence: m.Confidence, Strategy: OffsetTemplateMatch}
		}
		s.log.Debug("模板匹配置信度不足", zap.Float64("confidence", m.Confidence), zap.Float64("threshold", s.cfg.MatchThreshold))
	}
	if x, ok := vision.EdgeColumnOutlier(bg, s.cfg.EdgeThreshold, s.cfg.MinOffset); ok {
		return OffsetEstimate{Offset: x, Strategy: OffsetEdgeOutlier}
	}
	rng := rand.New(rand.NewPCG(seedOf(raw), 0x51d3))
	lo := min(s.cfg.MinOffset, bg.W)
	hi := max(lo, bg.W-s.cfg.MinOffset)
	return OffsetEstimate{Offset: lo + rng.IntN(hi-lo+1), Strategy: OffsetRandomFallback}
}

func seedOf(data []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64()
}

func (s *sliderSolver) Solve(ctx context.Context, d chrome.Driver, ch *model.CaptchaChallenge) (model.CaptchaOutcome, error) {
	return s.track(s.solve(ctx, d, ch))
}

func (s *sliderSolver) solve(ctx context.Context, d chrome.Driver, ch *model.CaptchaChallenge) (model.CaptchaOutcome, error) {
	bgEl, err := chrome.FirstVisible(ctx, d, s.cfg.BackgroundSelector)
	if err != nil {
		return model.CaptchaOutcome{}, err
	}
	handle, err := chrome.FirstVisible(ctx, d, s.cfg.HandleSelector)
	if err != nil {
		return model.CaptchaOutcome{}, err
	}
	if bgEl == nil || handle == nil {
		return failed("slider elements missing"), nil
	}

	bgRaw, err := d.Screenshot(ctx, s.cfg.BackgroundSelector)
	if err != nil {
		return failed("background screenshot failed", "error", err.Error()), nil
	}
	bgImg, err := vision.Decode(bgRaw)
	if err != nil {
		return failed("background decode failed", "error", err.Error()), nil
	}
	ch.AddAsset("background", bgRaw)
	bg := vision.ToGray(bgImg, 32)

	var piece *vision.Gray
	if pieceRaw, err := d.Screenshot(ctx, s.cfg.PieceSelector); err == nil {
		if pieceImg, err := vision.Decode(pieceRaw); err == nil {
			ch.AddAsset("piece", pieceRaw)
			piece = vision.ToGray(pieceImg, 32)
		}
	}

	est := s.EstimateOffset(bg, piece, bgRaw)
	// 截图像素换算到页面坐标
	scale := 1.0
	if bgEl.Box.Width > 0 && bg.W > 0 {
		scale = bgEl.Box.Width / float64(bg.W)
	}
	distance := float64(est.Offset+s.cfg.OffsetCorrection) * scale

	steps := s.sim.IntRange(s.cfg.StepsMin, s.cfg.StepsMax)
	start := handle.Box.Center()
	traj := vision.SliderTrajectory(distance, steps, rand.New(rand.NewPCG(seedOf(bgRaw), uint64(steps))))
	points := make([]types.Point, 0, len(traj))
	for _, st := range traj {
		points = append(points, types.Point{X: start.X + st.DX, Y: start.Y + st.DY})
	}

	log := s.log.With(zap.Int("offset", est.Offset), zap.String("strategy", est.Strategy), zap.Float64("confidence", est.Confidence))
	log.Info("拖动滑块", zap.Float64("distance", distance), zap.Int("steps", steps))
	delayLo := time.Duration(s.cfg.StepDelayMinMs) * time.Millisecond
	delayHi := time.Duration(s.cfg.StepDelayMaxMs) * time.Millisecond
	if err := drag(ctx, d, s.sim, start, points, delayLo, delayHi); err != nil {
		return model.CaptchaOutcome{}, fmt.Errorf("拖动滑块失败: %w", err)
	}

	ok, err := verify(ctx, d, s.sim, s.cfg.SuccessSelector, s.cfg.ContainerSelector)
	if err != nil {
		return model.CaptchaOutcome{}, err
	}
	return model.CaptchaOutcome{Success: ok, Evidence: map[string]any{
		"offset":     est.Offset,
		"strategy":   est.Strategy,
		"confidence": est.Confidence,
		"distance":   distance,
		"steps":      steps,
	}}, nil
}
