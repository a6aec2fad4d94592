package captcha

import (
	"context"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/behavior"
)

// present 元素存在即可,不要求可见
func present(ctx context.Context, d chrome.Driver, selector string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	elements, err := d.FindElements(ctx, selector)
	if err != nil {
		return false, err
	}
	return len(elements) > 0, nil
}

// verify 有成功标记时以成功标记为准,否则以容器消失为准
func verify(ctx context.Context, d chrome.Driver, sim behavior.Simulator, successSelector, containerSelector string) (bool, error) {
	if err := sim.Wait(ctx, 600*time.Millisecond, 1500*time.Millisecond); err != nil {
		return false, err
	}
	if successSelector != "" {
		return chrome.Exists(ctx, d, successSelector)
	}
	still, err := chrome.Exists(ctx, d, containerSelector)
	if err != nil {
		return false, err
	}
	return !still, nil
}

// drag 按下 from,依次经过 points,在最后一个点释放
func drag(ctx context.Context, d chrome.Driver, sim behavior.Simulator, from types.Point, points []types.Point, lo, hi time.Duration) error {
	if err := sim.MovePointer(ctx, d, sim.Position(), from); err != nil {
		return err
	}
	if err := sim.Pace(ctx, config.PaceBeforeClick); err != nil {
		return err
	}
	if err := d.PointerDown(ctx, from); err != nil {
		return err
	}
	last := from
	for _, p := range points {
		if err := d.PointerMove(ctx, p); err != nil {
			return err
		}
		last = p
		if err := sim.Wait(ctx, lo, hi); err != nil {
			return err
		}
	}
	if err := sim.Wait(ctx, 80*time.Millisecond, 250*time.Millisecond); err != nil {
		return err
	}
	return d.PointerUp(ctx, last)
}

func textOf(ctx context.Context, d chrome.Driver, selector string) string {
	if selector == "" {
		return ""
	}
	el, err := chrome.FirstVisible(ctx, d, selector)
	if err != nil || el == nil {
		return ""
	}
	return el.Text
}
