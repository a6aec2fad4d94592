package vision

import "image"

// Detection 目标检测结果,坐标为图片像素
type Detection struct {
	Label      string          `json:"label"`
	Box        image.Rectangle `json:"-"`
	Confidence float64         `json:"confidence"`
	// 来源: model, service, contour
	Source string `json:"source"`
}

func (d Detection) Center() (float64, float64) {
	return float64(d.Box.Min.X+d.Box.Max.X) / 2, float64(d.Box.Min.Y+d.Box.Max.Y) / 2
}

// BoxFromSlice [x1, y1, x2, y2]
func BoxFromSlice(b []float64) image.Rectangle {
	if len(b) < 4 {
		return image.Rectangle{}
	}
	return image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3])).Canon()
}

// DetectContours 轮廓启发式,所有连通域标记为 object,置信度取填充密度
func DetectContours(g *Gray, maxResults int) []Detection {
	side := min(g.W, g.H)
	blobs := Blobs(g, 60, max(side/15, 6), max(side/2, 12))
	out := make([]Detection, 0, min(len(blobs), maxResults))
	for _, b := range blobs {
		if len(out) >= maxResults {
			break
		}
		out = append(out, Detection{Label: "object", Box: b.Box, Confidence: b.Density, Source: "contour"})
	}
	return out
}
