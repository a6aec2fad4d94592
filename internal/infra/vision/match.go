package vision

import "math"

type Match struct {
	X, Y       int
	Confidence float64
}

// MatchTemplate 带掩码的归一化互相关,在 bg 中搜索 tpl,置信度截断到 [0,1].
// rows 不为空时只搜索这些行.
func MatchTemplate(bg, tpl *Gray, rows []int) Match {
	best := Match{X: 0, Y: 0, Confidence: 0}
	if tpl.W > bg.W || tpl.H > bg.H || tpl.W == 0 || tpl.H == 0 {
		return best
	}

	type px struct {
		off int
		v   float64
	}
	var pts []px
	var sum float64
	for y := 0; y < tpl.H; y++ {
		for x := 0; x < tpl.W; x++ {
			if tpl.valid(x, y) {
				pts = append(pts, px{off: y*bg.W + x, v: tpl.At(x, y)})
				sum += tpl.At(x, y)
			}
		}
	}
	n := float64(len(pts))
	if n < 4 {
		return best
	}
	mean := sum / n
	var tVar float64
	for i := range pts {
		pts[i].v -= mean
		tVar += pts[i].v * pts[i].v
	}
	if tVar == 0 {
		return best
	}

	if len(rows) == 0 {
		for y := 0; y <= bg.H-tpl.H; y++ {
			rows = append(rows, y)
		}
	}
	best.Confidence = -1
	for _, y := range rows {
		if y < 0 || y > bg.H-tpl.H {
			continue
		}
		for x := 0; x <= bg.W-tpl.W; x++ {
			base := y*bg.W + x
			var bSum, bSq, cross float64
			for _, p := range pts {
				v := bg.Pix[base+p.off]
				bSum += v
				bSq += v * v
				cross += p.v * v
			}
			bVar := bSq - bSum*bSum/n
			if bVar <= 0 {
				continue
			}
			ncc := cross / math.Sqrt(tVar*bVar)
			// 严格大于,相同分数取最左侧,保证确定性
			if ncc > best.Confidence {
				best = Match{X: x, Y: y, Confidence: ncc}
			}
		}
	}
	best.Confidence = math.Max(0, math.Min(1, best.Confidence))
	return best
}

// MatchPiece 滑块拼图匹配,在梯度域比较以消除缺口阴影的亮度差异.
// 返回缺口左边缘与拼图块初始左边缘的距离
func MatchPiece(bg, piece *Gray) (offset int, m Match) {
	box := piece.Bounds()
	if box.Empty() {
		return 0, Match{}
	}
	tpl := piece.Crop(box)
	tplGrad, _ := Gradient(tpl)
	tplGrad.Mask = erodeMask(tpl, 2)
	bgGrad, _ := Gradient(bg)

	var rows []int
	// 拼图块图片与背景等高时,块的纵向位置已知
	if piece.H == bg.H {
		for y := box.Min.Y - 2; y <= box.Min.Y+2; y++ {
			rows = append(rows, y)
		}
	}
	m = MatchTemplate(bgGrad, tplGrad, rows)
	startX := 0
	if piece.W == bg.W {
		startX = box.Min.X
	}
	return clampInt(m.X-startX, 0, bg.W), m
}

func erodeMask(g *Gray, radius int) []bool {
	full := &Gray{W: g.W, H: g.H, Pix: g.Pix, Mask: g.Mask}
	if full.Mask == nil {
		full.Mask = make([]bool, len(g.Pix))
		for i := range full.Mask {
			full.Mask[i] = true
		}
	}
	return full.Erode(radius).Mask
}

// EdgeColumnOutlier 统计每列边缘像素数,返回第一个超过 mean+1.5σ 且不小于 minX 的列
func EdgeColumnOutlier(bg *Gray, edgeThreshold float64, minX int) (int, bool) {
	mag, _ := Gradient(bg)
	counts := make([]float64, bg.W)
	for y := 0; y < bg.H; y++ {
		for x := 0; x < bg.W; x++ {
			if mag.At(x, y) > edgeThreshold {
				counts[x]++
			}
		}
	}
	var sum, sq float64
	for _, c := range counts {
		sum += c
		sq += c * c
	}
	n := float64(len(counts))
	if n == 0 {
		return 0, false
	}
	mean := sum / n
	std := math.Sqrt(math.Max(0, sq/n-mean*mean))
	limit := mean + 1.5*std
	for x := max(minX, 0); x < bg.W; x++ {
		if counts[x] > limit && counts[x] > 0 {
			return x, true
		}
	}
	return 0, false
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
