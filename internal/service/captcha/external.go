package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/solverapi"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/behavior"
	"go.uber.org/zap"
)

// 令牌类挑战的展现形式
const (
	VariantCheckbox  = "checkbox"
	VariantInvisible = "invisible"
	VariantScore     = "score"
)

// TokenService 外部令牌服务,可以为 nil
type TokenService interface {
	SolveToken(ctx context.Context, req solverapi.TokenRequest) (string, error)
}

const triggerJS = `() => {
	try {
		if (window.grecaptcha && typeof grecaptcha.execute === 'function') { grecaptcha.execute(); return 'grecaptcha'; }
		if (window.hcaptcha && typeof hcaptcha.execute === 'function') { hcaptcha.execute(); return 'hcaptcha'; }
		if (window.turnstile && typeof turnstile.execute === 'function') { turnstile.execute(); return 'turnstile'; }
	} catch (e) { return 'error: ' + e.message; }
	return '';
}`

const siteKeyJS = `() => {
	const el = document.querySelector('[data-sitekey]');
	return el ? el.getAttribute('data-sitekey') : '';
}`

// readTokenJS 返回第一个非空的令牌字段
const readTokenJS = `() => {
	const sels = %s;
	for (const sel of sels) {
		for (const el of document.querySelectorAll(sel)) {
			if (el.value && el.value.length > 0) { return el.value; }
		}
	}
	return '';
}`

// injectTokenJS 写入令牌并调用页面注册的回调
const injectTokenJS = `() => {
	const sels = %s;
	const token = %s;
	let n = 0;
	for (const sel of sels) {
		for (const el of document.querySelectorAll(sel)) { el.value = token; n++; }
	}
	const holder = document.querySelector('[data-callback]');
	if (holder) {
		const cb = window[holder.getAttribute('data-callback')];
		if (typeof cb === 'function') { cb(token); }
	}
	return n;
}`

type externalSolver struct {
	counter
	cfg     config.ExternalChallenge
	service TokenService
	sim     behavior.Simulator
	log     *zap.Logger
}

func NewExternalSolver(cfg config.ExternalChallenge, service TokenService, sim behavior.Simulator, log *zap.Logger) Solver {
	if isNilInterface(service) {
		service = nil
	}
	return &externalSolver{cfg: cfg, service: service, sim: sim, log: logger.OrNop(log).Named("external")}
}

func (s *externalSolver) Kind() model.CaptchaKind { return model.CaptchaExternal }

func (s *externalSolver) variant(ctx context.Context, d chrome.Driver) (string, string, error) {
	groups := []struct {
		name string
		sels []string
	}{
		{VariantCheckbox, s.cfg.CheckboxSelectors},
		{VariantInvisible, s.cfg.InvisibleSelectors},
		{VariantScore, s.cfg.ScoreMarkers},
	}
	for _, g := range groups {
		for _, sel := range g.sels {
			ok, err := present(ctx, d, sel)
			if err != nil {
				return "", "", err
			}
			if ok {
				return g.name, sel, nil
			}
		}
	}
	return "", "", nil
}

func (s *externalSolver) Detect(ctx context.Context, d chrome.Driver) (bool, error) {
	v, _, err := s.variant(ctx, d)
	return v != "", err
}

func (s *externalSolver) Solve(ctx context.Context, d chrome.Driver, ch *model.CaptchaChallenge) (model.CaptchaOutcome, error) {
	return s.track(s.solve(ctx, d, ch))
}

func (s *externalSolver) solve(ctx context.Context, d chrome.Driver, ch *model.CaptchaChallenge) (model.CaptchaOutcome, error) {
	variant, selector, err := s.variant(ctx, d)
	if err != nil {
		return model.CaptchaOutcome{}, err
	}
	if variant == "" {
		return failed("challenge widget missing"), nil
	}
	log := s.log.With(zap.String("variant", variant))
	ch.Instruction = variant

	if err := s.trigger(ctx, d, variant, selector); err != nil {
		return model.CaptchaOutcome{}, err
	}

	via := "page"
	if s.cfg.UseTokenService && s.service != nil {
		if err := s.injectFromService(ctx, d, variant); err != nil {
			if ctx.Err() != nil {
				return model.CaptchaOutcome{}, ctx.Err()
			}
			log.Warn("令牌服务失败,继续等待页面自行完成", zap.Error(err))
		} else {
			via = "service"
		}
	}

	interval := time.Duration(s.cfg.PollIntervalMs) * time.Millisecond
	tokenJS, err := tokenScript(readTokenJS, s.cfg.TokenSelectors)
	if err != nil {
		return model.CaptchaOutcome{}, err
	}
	for poll := 1; poll <= s.cfg.MaxPolls; poll++ {
		raw, err := d.ExecuteScript(ctx, tokenJS)
		if err != nil {
			return model.CaptchaOutcome{}, fmt.Errorf("读取令牌失败: %w", err)
		}
		if token, _ := raw.(string); token != "" {
			log.Info("挑战已通过", zap.Int("polls", poll), zap.String("via", via))
			return model.CaptchaOutcome{Success: true, Evidence: map[string]any{
				"variant": variant,
				"polls":   poll,
				"via":     via,
			}}, nil
		}
		if poll < s.cfg.MaxPolls {
			if err := s.sim.Wait(ctx, interval, interval); err != nil {
				return model.CaptchaOutcome{}, err
			}
		}
	}
	return failed("token not issued", "variant", variant, "polls", s.cfg.MaxPolls, "via", via), nil
}

func (s *externalSolver) trigger(ctx context.Context, d chrome.Driver, variant, selector string) error {
	if variant == VariantCheckbox {
		el, err := chrome.FirstVisible(ctx, d, selector)
		if err != nil {
			return err
		}
		if el != nil {
			// 复选框位于 iframe 左侧
			p := el.Box.Center()
			p.X = el.Box.X + min(28, el.Box.Width/2)
			if err := s.sim.Click(ctx, d, p); err != nil {
				return fmt.Errorf("点击复选框失败: %w", err)
			}
			return nil
		}
	}
	res, err := d.ExecuteScript(ctx, triggerJS)
	if err != nil {
		return fmt.Errorf("触发验证失败: %w", err)
	}
	s.log.Debug("已触发验证", zap.Any("api", res))
	return nil
}

func (s *externalSolver) injectFromService(ctx context.Context, d chrome.Driver, variant string) error {
	raw, err := d.ExecuteScript(ctx, siteKeyJS)
	if err != nil {
		return err
	}
	siteKey, _ := raw.(string)
	pageURL, err := d.CurrentURL(ctx)
	if err != nil {
		return err
	}
	token, err := s.service.SolveToken(ctx, solverapi.TokenRequest{Kind: variant, SiteKey: siteKey, PageURL: pageURL})
	if err != nil {
		return err
	}
	quoted, err := json.Marshal(token)
	if err != nil {
		return err
	}
	js, err := tokenScript(injectTokenJS, s.cfg.TokenSelectors, string(quoted))
	if err != nil {
		return err
	}
	_, err = d.ExecuteScript(ctx, js)
	return err
}

func tokenScript(tpl string, selectors []string, extra ...any) (string, error) {
	sels, err := json.Marshal(selectors)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(tpl, append([]any{string(sels)}, extra...)...), nil
}
