package captcha

import (
	"context"
	"fmt"
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

type clickSolver struct {
	counter
	cfg      config.ClickCaptcha
	detector *DetectorChain
	sim      behavior.Simulator
	log      *zap.Logger
}

func NewClickSolver(cfg config.ClickCaptcha, detector *DetectorChain, sim behavior.Simulator, log *zap.Logger) Solver {
	return &clickSolver{cfg: cfg, detector: detector, sim: sim, log: logger.OrNop(log).Named("click")}
}

func (s *clickSolver) Kind() model.CaptchaKind { return model.CaptchaClick }

func (s *clickSolver) Detect(ctx context.Context, d chrome.Driver) (bool, error) {
	ok, err := chrome.Exists(ctx, d, s.cfg.ContainerSelector)
	if err != nil || !ok {
		return false, err
	}
	return chrome.Exists(ctx, d, s.cfg.ImageSelector)
}

// targetsFor 指令中提到的目标类别,都没提到时使用全部配置类别
func (s *clickSolver) targetsFor(instruction string) []string {
	lower := strings.ToLower(instruction)
	var mentioned []string
	for _, t := range s.cfg.Targets {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			mentioned = append(mentioned, t)
		}
	}
	if len(mentioned) > 0 {
		return mentioned
	}
	if len(s.cfg.Targets) == 0 && instruction != "" {
		return []string{instruction}
	}
	return s.cfg.Targets
}

func (s *clickSolver) Solve(ctx context.Context, d chrome.Driver, ch *model.CaptchaChallenge) (model.CaptchaOutcome, error) {
	return s.track(s.solve(ctx, d, ch))
}

func (s *clickSolver) solve(ctx context.Context, d chrome.Driver, ch *model.CaptchaChallenge) (model.CaptchaOutcome, error) {
	imgEl, err := chrome.FirstVisible(ctx, d, s.cfg.ImageSelector)
	if err != nil {
		return model.CaptchaOutcome{}, err
	}
	if imgEl == nil {
		return failed("click image missing"), nil
	}
	raw, err := d.Screenshot(ctx, s.cfg.ImageSelector)
	if err != nil {
		return failed("click screenshot failed", "error", err.Error()), nil
	}
	ch.AddAsset("image", raw)
	if ch.Instruction == "" {
		ch.Instruction = textOf(ctx, d, s.cfg.InstructionSelector)
	}
	img, err := vision.Decode(raw)
	if err != nil {
		return failed("click image decode failed", "error", err.Error()), nil
	}

	targets := s.targetsFor(ch.Instruction)
	dets, source, err := s.detector.Detect(ctx, raw, targets)
	if err != nil {
		if ctx.Err() != nil {
			return model.CaptchaOutcome{}, ctx.Err()
		}
		return failed("no detections", "targets", targets), nil
	}
	if len(dets) > s.cfg.MaxClicks {
		dets = dets[:s.cfg.MaxClicks]
	}

	b := img.Bounds()
	sx, sy := 1.0, 1.0
	if b.Dx() > 0 && imgEl.Box.Width > 0 {
		sx = imgEl.Box.Width / float64(b.Dx())
	}
	if b.Dy() > 0 && imgEl.Box.Height > 0 {
		sy = imgEl.Box.Height / float64(b.Dy())
	}
	dwellLo := time.Duration(s.cfg.DwellMinMs) * time.Millisecond
	dwellHi := time.Duration(s.cfg.DwellMaxMs) * time.Millisecond

	clicked := make([]types.Point, 0, len(dets))
	for i, det := range dets {
		cx, cy := det.Center()
		p := types.Point{X: imgEl.Box.X + cx*sx, Y: imgEl.Box.Y + cy*sy}
		if err := s.sim.Click(ctx, d, p); err != nil {
			return model.CaptchaOutcome{}, fmt.Errorf("点击目标失败: %w", err)
		}
		clicked = append(clicked, p)
		if i < len(dets)-1 {
			if err := s.sim.Wait(ctx, dwellLo, dwellHi); err != nil {
				return model.CaptchaOutcome{}, err
			}
		}
	}
	s.log.Info("已点击目标", zap.Int("count", len(clicked)), zap.String("source", source))

	if submit, err := chrome.FirstVisible(ctx, d, s.cfg.SubmitSelector); err == nil && submit != nil {
		if err := s.sim.Click(ctx, d, submit.Box.Center()); err != nil {
			return model.CaptchaOutcome{}, fmt.Errorf("点击提交失败: %w", err)
		}
	}

	ok, err := verify(ctx, d, s.sim, s.cfg.SuccessSelector, s.cfg.ContainerSelector)
	if err != nil {
		return model.CaptchaOutcome{}, err
	}
	return model.CaptchaOutcome{Success: ok, Evidence: map[string]any{
		"source":  source,
		"targets": targets,
		"clicks":  len(clicked),
	}}, nil
}
