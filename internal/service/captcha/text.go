package captcha

import (
	"context"
	"fmt"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/behavior"
	"go.uber.org/zap"
)

type textSolver struct {
	counter
	cfg   config.TextCaptcha
	chain *TranscriberChain
	sim   behavior.Simulator
	log   *zap.Logger
}

func NewTextSolver(cfg config.TextCaptcha, chain *TranscriberChain, sim behavior.Simulator, log *zap.Logger) Solver {
	return &textSolver{cfg: cfg, chain: chain, sim: sim, log: logger.OrNop(log).Named("text")}
}

func (s *textSolver) Kind() model.CaptchaKind { return model.CaptchaText }

func (s *textSolver) Detect(ctx context.Context, d chrome.Driver) (bool, error) {
	ok, err := chrome.Exists(ctx, d, s.cfg.ImageSelector)
	if err != nil || !ok {
		return false, err
	}
	return chrome.Exists(ctx, d, s.cfg.InputSelector)
}

func (s *textSolver) Solve(ctx context.Context, d chrome.Driver, ch *model.CaptchaChallenge) (model.CaptchaOutcome, error) {
	return s.track(s.solve(ctx, d, ch))
}

func (s *textSolver) solve(ctx context.Context, d chrome.Driver, ch *model.CaptchaChallenge) (model.CaptchaOutcome, error) {
	raw, err := d.Screenshot(ctx, s.cfg.ImageSelector)
	if err != nil {
		return failed("captcha image screenshot failed", "error", err.Error()), nil
	}
	ch.AddAsset("image", raw)

	text, source, err := s.chain.Transcribe(ctx, raw)
	if err != nil {
		if ctx.Err() != nil {
			return model.CaptchaOutcome{}, ctx.Err()
		}
		return failed("transcription failed", "error", err.Error()), nil
	}

	if input, err := chrome.FirstVisible(ctx, d, s.cfg.InputSelector); err == nil && input != nil {
		if err := s.sim.Click(ctx, d, input.Box.Center()); err != nil {
			return model.CaptchaOutcome{}, fmt.Errorf("点击输入框失败: %w", err)
		}
	}
	if err := chrome.Focus(ctx, d, s.cfg.InputSelector); err != nil {
		s.log.Debug("聚焦输入框失败", zap.Error(err))
	}
	if err := s.sim.SimulateTyping(ctx, d, text); err != nil {
		return model.CaptchaOutcome{}, err
	}

	submit, err := chrome.FirstVisible(ctx, d, s.cfg.SubmitSelector)
	if err != nil {
		return model.CaptchaOutcome{}, err
	}
	if submit != nil {
		if err := s.sim.Click(ctx, d, submit.Box.Center()); err != nil {
			return model.CaptchaOutcome{}, fmt.Errorf("点击提交失败: %w", err)
		}
	} else if err := d.TypeText(ctx, "\r"); err != nil {
		return model.CaptchaOutcome{}, fmt.Errorf("提交验证码失败: %w", err)
	}

	// 文字验证码只看错误提示是否出现
	ok, err := verify(ctx, d, s.sim, "", s.cfg.ErrorSelector)
	if err != nil {
		return model.CaptchaOutcome{}, err
	}
	s.log.Info("已提交文字验证码", zap.String("source", source), zap.Bool("accepted", ok))
	return model.CaptchaOutcome{Success: ok, Evidence: map[string]any{
		"source": source,
		"length": len([]rune(text)),
	}}, nil
}
