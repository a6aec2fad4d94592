package behavior

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
)

type simulator struct {
	pacing map[string]config.Range
	sleep  SleepFunc

	mu  sync.Mutex
	rng *rand.Rand
	pos types.Point
}

func InitSimulator(pacing map[string]config.Range, opts ...Option) Simulator {
	s := &simulator{
		pacing: pacing,
		sleep:  Sleep,
		pos:    types.Point{X: 100, Y: 100},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0xbe4a))
	}
	return s
}

func (s *simulator) Uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.Float64()*(hi-lo)
}

func (s *simulator) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.IntN(hi-lo+1)
}

func (s *simulator) Wait(ctx context.Context, lo, hi time.Duration) error {
	d := time.Duration(s.Uniform(float64(lo), float64(hi)))
	return s.sleep(ctx, d)
}

func (s *simulator) Pace(ctx context.Context, kind string) error {
	r, ok := s.pacing[kind]
	if !ok {
		return ctx.Err()
	}
	return s.Wait(ctx, r.Min(), r.Max())
}

func (s *simulator) Position() types.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *simulator) setPosition(p types.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = p
}

func (s *simulator) SimulateScroll(ctx context.Context, d chrome.Driver) error {
	steps := s.IntRange(3, 6)
	for i := range steps {
		delta := s.IntRange(120, 480)
		// 偶尔往回滚一点
		if i > 0 && s.Uniform(0, 1) < 0.15 {
			delta = -delta / 3
		}
		js := fmt.Sprintf(`() => { window.scrollBy({top: %d, behavior: 'smooth'}); return window.scrollY; }`, delta)
		if _, err := d.ExecuteScript(ctx, js); err != nil {
			return fmt.Errorf("模拟滚动失败: %w", err)
		}
		if err := s.Wait(ctx, 200*time.Millisecond, 700*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulator) SimulateMouseMove(ctx context.Context, d chrome.Driver) error {
	moves := s.IntRange(2, 4)
	for range moves {
		to := types.Point{X: s.Uniform(50, 1200), Y: s.Uniform(50, 700)}
		if err := s.MovePointer(ctx, d, s.Position(), to); err != nil {
			return err
		}
		if err := s.Wait(ctx, 100*time.Millisecond, 400*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulator) SimulateTyping(ctx context.Context, d chrome.Driver, text string) error {
	for _, r := range text {
		if err := d.TypeText(ctx, string(r)); err != nil {
			return fmt.Errorf("模拟输入失败: %w", err)
		}
		if err := s.Pace(ctx, config.PaceTyping); err != nil {
			return err
		}
	}
	return nil
}

// MovePointer 沿二次贝塞尔曲线移动,先加速后减速并带少量抖动
func (s *simulator) MovePointer(ctx context.Context, d chrome.Driver, from, to types.Point) error {
	path := s.CurvedPath(from, to)
	for _, p := range path {
		if err := d.PointerMove(ctx, p); err != nil {
			return fmt.Errorf("移动指针失败: %w", err)
		}
		if err := s.Wait(ctx, 4*time.Millisecond, 16*time.Millisecond); err != nil {
			return err
		}
	}
	s.setPosition(to)
	return nil
}

// CurvedPath 生成从 from 到 to 的曲线路径,不包含起点,终点精确等于 to
func (s *simulator) CurvedPath(from, to types.Point) []types.Point {
	dx, dy := to.X-from.X, to.Y-from.Y
	dist := math.Hypot(dx, dy)
	steps := max(8, min(40, int(dist/25)))

	// 控制点沿垂直方向偏移
	bend := s.Uniform(-0.3, 0.3) * dist
	var nx, ny float64
	if dist > 0 {
		nx, ny = -dy/dist, dx/dist
	}
	cx := from.X + dx/2 + nx*bend
	cy := from.Y + dy/2 + ny*bend

	path := make([]types.Point, 0, steps)
	for i := 1; i <= steps; i++ {
		t := easeInOut(float64(i) / float64(steps))
		u := 1 - t
		x := u*u*from.X + 2*u*t*cx + t*t*to.X
		y := u*u*from.Y + 2*u*t*cy + t*t*to.Y
		if i < steps {
			x += s.Uniform(-1, 1)
			y += s.Uniform(-1, 1)
		} else {
			x, y = to.X, to.Y
		}
		path = append(path, types.Point{X: x, Y: y})
	}
	return path
}

func easeInOut(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - math.Pow(-2*t+2, 2)/2
}

func (s *simulator) Click(ctx context.Context, d chrome.Driver, p types.Point) error {
	if err := s.MovePointer(ctx, d, s.Position(), p); err != nil {
		return err
	}
	if err := s.Pace(ctx, config.PaceBeforeClick); err != nil {
		return err
	}
	if err := d.PointerDown(ctx, p); err != nil {
		return fmt.Errorf("按下指针失败: %w", err)
	}
	if err := s.Wait(ctx, 50*time.Millisecond, 150*time.Millisecond); err != nil {
		return err
	}
	if err := d.PointerUp(ctx, p); err != nil {
		return fmt.Errorf("释放指针失败: %w", err)
	}
	return nil
}
