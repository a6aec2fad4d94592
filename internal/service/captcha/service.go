package captcha

import (
	"context"
	"sync"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/vision"
)

// Solver 单一类型验证码的识别与求解
type Solver interface {
	Kind() model.CaptchaKind
	Detect(ctx context.Context, d chrome.Driver) (bool, error)
	// Solve 只在 ctx 取消或浏览器不可用时返回 error,识别失败通过 Outcome 表示
	Solve(ctx context.Context, d chrome.Driver, ch *model.CaptchaChallenge) (model.CaptchaOutcome, error)
	Stats() Stats
}

// Set 分类页面上的验证码并分派到对应的 Solver
type Set interface {
	Classify(ctx context.Context, d chrome.Driver) (model.CaptchaKind, bool, error)
	Resolve(ctx context.Context, d chrome.Driver) (Resolution, error)
	Stats() map[model.CaptchaKind]Stats
}

type Resolution struct {
	Kind     model.CaptchaKind
	Present  bool
	Solved   bool
	Attempts int
	Evidence map[string]any
}

type Transcriber interface {
	Transcribe(ctx context.Context, image []byte) (string, error)
}

type ObjectDetector interface {
	DetectObjects(ctx context.Context, image []byte, targets []string) ([]vision.Detection, error)
}

type Stats struct {
	Success int `json:"success"`
	Fail    int `json:"fail"`
}

// Rate 没有记录时按 1 处理
func (s Stats) Rate() float64 {
	total := s.Success + s.Fail
	if total == 0 {
		return 1
	}
	return float64(s.Success) / float64(total)
}

type counter struct {
	mu    sync.Mutex
	stats Stats
}

func (c *counter) record(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.stats.Success++
	} else {
		c.stats.Fail++
	}
}

// track 只统计正常返回的结果
func (c *counter) track(out model.CaptchaOutcome, err error) (model.CaptchaOutcome, error) {
	if err == nil {
		c.record(out.Success)
	}
	return out, err
}

func (c *counter) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func failed(reason string, kv ...any) model.CaptchaOutcome {
	ev := map[string]any{"reason": reason}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			ev[k] = kv[i+1]
		}
	}
	return model.CaptchaOutcome{Success: false, Evidence: ev}
}
