// Package vision 验证码图像几何: 模板匹配, 边缘列统计, 角度直方图, 连通域检测, 拖动轨迹
package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
)

// Gray 灰度浮点矩阵, Mask 为 nil 时所有像素有效
type Gray struct {
	W, H int
	Pix  []float64
	Mask []bool
}

func (g *Gray) At(x, y int) float64 { return g.Pix[y*g.W+x] }

func (g *Gray) valid(x, y int) bool {
	return g.Mask == nil || g.Mask[y*g.W+x]
}

func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解码图片失败: %w", err)
	}
	return img, nil
}

// ToGray 转换为灰度,透明度低于 alphaCut 的像素标记为无效
func ToGray(img image.Image, alphaCut uint8) *Gray {
	nrgba := imaging.Grayscale(img)
	b := nrgba.Bounds()
	g := &Gray{W: b.Dx(), H: b.Dy(), Pix: make([]float64, b.Dx()*b.Dy())}
	hasAlpha := false
	mask := make([]bool, len(g.Pix))
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			i := nrgba.PixOffset(x+b.Min.X, y+b.Min.Y)
			a := nrgba.Pix[i+3]
			g.Pix[y*g.W+x] = float64(nrgba.Pix[i])
			mask[y*g.W+x] = a >= alphaCut
			if a < alphaCut {
				hasAlpha = true
			}
		}
	}
	if hasAlpha {
		g.Mask = mask
	}
	return g
}

// Bounds 有效像素的包围盒
func (g *Gray) Bounds() image.Rectangle {
	if g.Mask == nil {
		return image.Rect(0, 0, g.W, g.H)
	}
	minX, minY, maxX, maxY := g.W, g.H, -1, -1
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			if !g.Mask[y*g.W+x] {
				continue
			}
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}
	if maxX < 0 {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

func (g *Gray) Crop(r image.Rectangle) *Gray {
	out := &Gray{W: r.Dx(), H: r.Dy(), Pix: make([]float64, r.Dx()*r.Dy())}
	if g.Mask != nil {
		out.Mask = make([]bool, len(out.Pix))
	}
	for y := 0; y < out.H; y++ {
		for x := 0; x < out.W; x++ {
			out.Pix[y*out.W+x] = g.At(x+r.Min.X, y+r.Min.Y)
			if g.Mask != nil {
				out.Mask[y*out.W+x] = g.Mask[(y+r.Min.Y)*g.W+x+r.Min.X]
			}
		}
	}
	return out
}

// Erode 收缩有效区域,去掉拼图块轮廓处的伪边缘
func (g *Gray) Erode(radius int) *Gray {
	out := &Gray{W: g.W, H: g.H, Pix: g.Pix, Mask: make([]bool, len(g.Pix))}
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			keep := true
			for dy := -radius; dy <= radius && keep; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= g.W || ny >= g.H || !g.valid(nx, ny) {
						keep = false
						break
					}
				}
			}
			out.Mask[y*g.W+x] = keep
		}
	}
	return out
}

// Gradient Sobel 梯度,返回幅值和方向(弧度),边界像素为 0
func Gradient(g *Gray) (mag *Gray, dir []float64) {
	mag = &Gray{W: g.W, H: g.H, Pix: make([]float64, len(g.Pix)), Mask: g.Mask}
	dir = make([]float64, len(g.Pix))
	for y := 1; y < g.H-1; y++ {
		for x := 1; x < g.W-1; x++ {
			gx := -g.At(x-1, y-1) - 2*g.At(x-1, y) - g.At(x-1, y+1) +
				g.At(x+1, y-1) + 2*g.At(x+1, y) + g.At(x+1, y+1)
			gy := -g.At(x-1, y-1) - 2*g.At(x, y-1) - g.At(x+1, y-1) +
				g.At(x-1, y+1) + 2*g.At(x, y+1) + g.At(x+1, y+1)
			mag.Pix[y*g.W+x] = math.Hypot(gx, gy)
			dir[y*g.W+x] = math.Atan2(gy, gx)
		}
	}
	return mag, dir
}
