package vision

import (
	"image"
	"sort"
)

type Blob struct {
	Box image.Rectangle
	// Density 连通域像素占包围盒的比例
	Density float64
	Area    int
}

// Blobs 对边缘图做膨胀后取 4 邻域连通域,按面积从大到小返回
func Blobs(g *Gray, edgeThreshold float64, minSide, maxSide int) []Blob {
	mag, _ := Gradient(g)
	on := make([]bool, len(mag.Pix))
	for i, v := range mag.Pix {
		on[i] = v > edgeThreshold
	}
	on = dilate(on, g.W, g.H, 2)

	seen := make([]bool, len(on))
	var blobs []Blob
	stack := make([]int, 0, 256)
	for start := range on {
		if !on[start] || seen[start] {
			continue
		}
		minX, minY, maxX, maxY := g.W, g.H, -1, -1
		area := 0
		stack = append(stack[:0], start)
		seen[start] = true
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%g.W, i/g.W
			area++
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= g.W || n[1] >= g.H {
					continue
				}
				j := n[1]*g.W + n[0]
				if on[j] && !seen[j] {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}
		w, h := maxX-minX+1, maxY-minY+1
		if w < minSide || h < minSide || w > maxSide || h > maxSide {
			continue
		}
		blobs = append(blobs, Blob{
			Box:     image.Rect(minX, minY, maxX+1, maxY+1),
			Density: float64(area) / float64(w*h),
			Area:    area,
		})
	}
	sort.SliceStable(blobs, func(i, j int) bool { return blobs[i].Area > blobs[j].Area })
	return blobs
}

func dilate(on []bool, w, h, r int) []bool {
	out := make([]bool, len(on))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !on[y*w+x] {
				continue
			}
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					nx, ny := x+dx, y+dy
					if nx >= 0 && ny >= 0 && nx < w && ny < h {
						out[ny*w+nx] = true
					}
				}
			}
		}
	}
	return out
}
