package vision

import (
	"math"
	"math/rand/v2"
)

// Step 相对起点的累计位移
type Step struct {
	DX, DY float64
}

// SliderTrajectory 生成水平拖动轨迹: 前 70% 路程加速, 最后 30% 减速, 每步带少量纵向抖动.
// 最后一步精确落在 distance 上
func SliderTrajectory(distance float64, steps int, rng *rand.Rand) []Step {
	steps = max(steps, 2)
	out := make([]Step, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		var progress float64
		if t <= 0.7 {
			// 加速段覆盖 70% 的路程
			progress = 0.7 * math.Pow(t/0.7, 2)
		} else {
			u := (t - 0.7) / 0.3
			progress = 0.7 + 0.3*(1-math.Pow(1-u, 2))
		}
		dx := distance * progress
		dy := 0.0
		if i < steps {
			dx += (rng.Float64() - 0.5) * 1.5
			dy = (rng.Float64() - 0.5) * 2
		} else {
			dx = distance
		}
		out = append(out, Step{DX: dx, DY: dy})
	}
	return out
}

// ArcTrajectory 绕圆心从起点扫过 degrees 度, 分 steps 步, 返回绝对坐标
func ArcTrajectory(cx, cy, sx, sy, degrees float64, steps int) []Step {
	steps = max(steps, 1)
	r := math.Hypot(sx-cx, sy-cy)
	start := math.Atan2(sy-cy, sx-cx)
	sweep := degrees * math.Pi / 180
	out := make([]Step, 0, steps)
	for i := 1; i <= steps; i++ {
		a := start + sweep*float64(i)/float64(steps)
		out = append(out, Step{DX: cx + r*math.Cos(a), DY: cy + r*math.Sin(a)})
	}
	return out
}
