package behavior

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
)

// Simulator 人类行为模拟,所有等待都响应 ctx 取消
type Simulator interface {
	Pace(ctx context.Context, kind string) error
	SimulateScroll(ctx context.Context, d chrome.Driver) error
	SimulateMouseMove(ctx context.Context, d chrome.Driver) error
	SimulateTyping(ctx context.Context, d chrome.Driver, text string) error
	MovePointer(ctx context.Context, d chrome.Driver, from, to types.Point) error
	Click(ctx context.Context, d chrome.Driver, p types.Point) error

	// Position 最近一次指针位置
	Position() types.Point
	// Wait 在 [lo, hi] 中随机等待
	Wait(ctx context.Context, lo, hi time.Duration) error
	Uniform(lo, hi float64) float64
	IntRange(lo, hi int) int
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Option func(*simulator)

// WithSleep 替换等待实现,测试中用于跳过真实等待
func WithSleep(sleep SleepFunc) Option {
	return func(s *simulator) { s.sleep = sleep }
}

func WithRand(rng *rand.Rand) Option {
	return func(s *simulator) { s.rng = rng }
}

// Sleep 默认的等待实现
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoSleep 只检查取消,不等待
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
