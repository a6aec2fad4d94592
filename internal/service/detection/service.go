package detection

import (
	"context"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
)

type Scanner interface {
	// Scan 汇总所有传感器的结果,返回的事件可能都不是阻断级别
	Scan(ctx context.Context, d chrome.Driver) ([]model.DetectionEvent, error)
}

// Blocking 是否有阻断级别的事件
func Blocking(events []model.DetectionEvent) bool {
	for _, e := range events {
		if e.Severity == model.SeverityBlock {
			return true
		}
	}
	return false
}
