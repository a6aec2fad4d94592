package types

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Element 页面元素快照,坐标为视口坐标
type Element struct {
	Selector    string            `json:"selector"`
	Index       int               `json:"index"`
	Tag         string            `json:"tag"`
	Text        string            `json:"text"`
	Attrs       map[string]string `json:"attrs"`
	Box         Rect              `json:"box"`
	Visible     bool              `json:"visible"`
	Interactive bool              `json:"interactive"`
}

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
}
