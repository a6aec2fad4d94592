package vision

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

type AngleEstimate struct {
	// Degrees 需要顺时针旋转的角度, (-45, 45]
	Degrees    float64
	Confidence float64
}

// AngleHistogram 统计边缘方向相对最近坐标轴的偏差,取加权直方图峰值
func AngleHistogram(g *Gray, magThreshold float64) AngleEstimate {
	mag, dir := Gradient(g)
	var hist [90]float64
	var total float64
	for y := 1; y < g.H-1; y++ {
		for x := 1; x < g.W-1; x++ {
			m := mag.At(x, y)
			if m < magThreshold || !g.valid(x, y) {
				continue
			}
			deg := dir[y*g.W+x] * 180 / math.Pi
			// 归一化到最近坐标轴的偏差 [-45, 45)
			dev := math.Mod(deg+45, 90)
			if dev < 0 {
				dev += 90
			}
			bin := int(dev) % 90
			hist[bin] += m
			total += m
		}
	}
	if total == 0 {
		return AngleEstimate{}
	}

	// 环形平滑
	var smooth [90]float64
	for i := range hist {
		for k := -2; k <= 2; k++ {
			smooth[i] += hist[(i+k+90)%90]
		}
	}
	peak := 0
	for i := range smooth {
		if smooth[i] > smooth[peak] {
			peak = i
		}
	}
	deviation := float64(peak) + 0.5 - 45
	concentration := smooth[peak] / total
	// 边缘方向均匀分布时 5 个 bin 约占 5/90
	conf := math.Max(0, math.Min(1, (concentration-5.0/90)/(1-5.0/90)))
	return AngleEstimate{Degrees: -deviation, Confidence: conf}
}

// MatchReference 以 step 为步长旋转图片并与参考图比较,返回使两者最相似的旋转角度 [0,360)
func MatchReference(img, ref image.Image, step float64) AngleEstimate {
	if step <= 0 {
		step = 5
	}
	rb := ref.Bounds()
	refGray := ToGray(imaging.Resize(ref, rb.Dx(), rb.Dy(), imaging.Linear), 32)
	best := AngleEstimate{Confidence: -1}
	for a := 0.0; a < 360; a += step {
		// imaging.Rotate 为逆时针
		rotated := imaging.Rotate(img, -a, color.Transparent)
		cropped := imaging.CropCenter(rotated, img.Bounds().Dx(), img.Bounds().Dy())
		candidate := ToGray(imaging.Resize(cropped, rb.Dx(), rb.Dy(), imaging.Linear), 32)
		m := MatchTemplate(candidate, maskedLike(refGray, candidate), []int{0})
		if m.Confidence > best.Confidence {
			best = AngleEstimate{Degrees: a, Confidence: m.Confidence}
		}
	}
	best.Confidence = math.Max(0, best.Confidence)
	return best
}

// maskedLike 只比较两张图都有效的像素
func maskedLike(tpl, other *Gray) *Gray {
	out := &Gray{W: tpl.W, H: tpl.H, Pix: tpl.Pix, Mask: make([]bool, len(tpl.Pix))}
	for i := range out.Mask {
		out.Mask[i] = (tpl.Mask == nil || tpl.Mask[i]) && (other.Mask == nil || other.Mask[i])
	}
	return out
}
