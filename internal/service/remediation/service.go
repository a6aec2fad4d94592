package remediation

import (
	"context"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
)

type Verdict int

const (
	// Clear 补救后重新扫描没有阻断信号
	Clear Verdict = iota
	// RecreateSession 已轮换身份,调用方需要用新指纹重建会话后重试当前页
	RecreateSession
	// Exhausted 超过 max_retries,本次运行不再补救
	Exhausted
)

func (v Verdict) String() string {
	switch v {
	case Clear:
		return "clear"
	case RecreateSession:
		return "recreate_session"
	default:
		return "exhausted"
	}
}

const (
	StrategyRotateIdentity = "rotate_identity"
	StrategyClearCookies   = "clear_cookies"
	StrategyRestealth      = "restealth"
	StrategySimulate       = "simulate"
	StrategyCooldown       = "cooldown"
	StrategyRefresh        = "refresh"
)

type Controller interface {
	// Detect 扫描当前页面,没有阻断信号时重置计数
	Detect(ctx context.Context, d chrome.Driver) (bool, []model.DetectionEvent, error)
	// Handle 在 Detect 返回 true 后调用, profileKey 为当前会话使用的指纹
	Handle(ctx context.Context, d chrome.Driver, profileKey string) (Verdict, error)
	// Attempts 当前连续补救次数
	Attempts() int
}
