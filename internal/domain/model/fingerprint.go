package model

import "time"

type ScreenGeometry struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AvailWidth  int     `json:"avail_width"`
	AvailHeight int     `json:"avail_height"`
	ColorDepth  int     `json:"color_depth"`
	PixelRatio  float64 `json:"pixel_ratio"`
}

// FingerprintProfile 浏览器身份信息以及使用统计
type FingerprintProfile struct {
	Key                 string         `json:"key"`
	UserAgent           string         `json:"user_agent"`
	Platform            string         `json:"platform"`
	Languages           []string       `json:"languages"`
	Timezone            string         `json:"timezone"`
	Screen              ScreenGeometry `json:"screen"`
	HardwareConcurrency int            `json:"hardware_concurrency"`
	DeviceMemory        int            `json:"device_memory"`
	WebGLVendor         string         `json:"webgl_vendor"`
	WebGLRenderer       string         `json:"webgl_renderer"`
	CanvasNoise         float64        `json:"canvas_noise"`
	AudioNoise          float64        `json:"audio_noise"`
	Fonts               []string       `json:"fonts"`
	Plugins             []string       `json:"plugins"`

	CreatedTime  time.Time `json:"created_time"`
	LastUsed     time.Time `json:"last_used"`
	UseCount     int       `json:"use_count"`
	SuccessCount int       `json:"success_count"`
	FailCount    int       `json:"fail_count"`
}

// SuccessRate 没有结果时按 1 处理,新指纹不会被降权
func (p *FingerprintProfile) SuccessRate() float64 {
	total := p.SuccessCount + p.FailCount
	if total == 0 {
		return 1
	}
	return float64(p.SuccessCount) / float64(total)
}
