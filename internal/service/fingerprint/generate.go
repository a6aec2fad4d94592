package fingerprint

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/corpix/uarand"
	"github.com/google/uuid"
)

var screens = []model.ScreenGeometry{
	{Width: 1920, Height: 1080, AvailWidth: 1920, AvailHeight: 1040, ColorDepth: 24, PixelRatio: 1},
	{Width: 1366, Height: 768, AvailWidth: 1366, AvailHeight: 728, ColorDepth: 24, PixelRatio: 1},
	{Width: 1536, Height: 864, AvailWidth: 1536, AvailHeight: 824, ColorDepth: 24, PixelRatio: 1.25},
	{Width: 1440, Height: 900, AvailWidth: 1440, AvailHeight: 875, ColorDepth: 30, PixelRatio: 2},
	{Width: 2560, Height: 1440, AvailWidth: 2560, AvailHeight: 1400, ColorDepth: 24, PixelRatio: 1},
	{Width: 1680, Height: 1050, AvailWidth: 1680, AvailHeight: 1025, ColorDepth: 24, PixelRatio: 1},
}

var webgl = [][2]string{
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Apple Inc.", "Apple M1"},
	{"Intel Inc.", "Intel Iris OpenGL Engine"},
	{"Mesa", "Mesa Intel(R) Xe Graphics (TGL GT2)"},
}

var timezones = []string{
	"America/New_York", "America/Chicago", "America/Los_Angeles", "Europe/London",
	"Europe/Berlin", "Asia/Shanghai", "Asia/Tokyo",
}

var languageSets = [][]string{
	{"en-US", "en"},
	{"en-GB", "en"},
	{"zh-CN", "zh", "en"},
	{"de-DE", "de", "en"},
	{"ja-JP", "ja", "en"},
}

var fontSet = []string{
	"Arial", "Calibri", "Cambria", "Consolas", "Courier New", "Georgia", "Helvetica",
	"Segoe UI", "Tahoma", "Times New Roman", "Trebuchet MS", "Verdana", "Microsoft YaHei",
}

var pluginSet = []string{
	"PDF Viewer", "Chrome PDF Viewer", "Chromium PDF Viewer", "Microsoft Edge PDF Viewer", "WebKit built-in PDF",
}

func platformOf(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Win32"
	case strings.Contains(ua, "Macintosh"), strings.Contains(ua, "Mac OS X"):
		return "MacIntel"
	case strings.Contains(ua, "Android"):
		return "Linux armv8l"
	case strings.Contains(ua, "iPhone"):
		return "iPhone"
	default:
		return "Linux x86_64"
	}
}

func pickSubset(rng *rand.Rand, set []string, min int) []string {
	out := make([]string, 0, len(set))
	for _, s := range set {
		if rng.Float64() < 0.6 {
			out = append(out, s)
		}
	}
	for len(out) < min && len(out) < len(set) {
		s := set[rng.IntN(len(set))]
		dup := false
		for _, o := range out {
			if o == s {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

// GenerateProfiles 随机生成 n 个指纹
func GenerateProfiles(n int, rng *rand.Rand, now time.Time) []*model.FingerprintProfile {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(now.UnixNano()), 0x5eed))
	}
	out := make([]*model.FingerprintProfile, 0, n)
	for range n {
		ua := uarand.GetRandom()
		gl := webgl[rng.IntN(len(webgl))]
		out = append(out, &model.FingerprintProfile{
			Key:                 uuid.NewString(),
			UserAgent:           ua,
			Platform:            platformOf(ua),
			Languages:           languageSets[rng.IntN(len(languageSets))],
			Timezone:            timezones[rng.IntN(len(timezones))],
			Screen:              screens[rng.IntN(len(screens))],
			HardwareConcurrency: []int{4, 8, 12, 16}[rng.IntN(4)],
			DeviceMemory:        []int{4, 8, 16}[rng.IntN(3)],
			WebGLVendor:         gl[0],
			WebGLRenderer:       gl[1],
			CanvasNoise:         0.01 + rng.Float64()*0.09,
			AudioNoise:          0.0001 + rng.Float64()*0.0009,
			Fonts:               pickSubset(rng, fontSet, 5),
			Plugins:             pickSubset(rng, pluginSet, 2),
			CreatedTime:         now,
		})
	}
	return out
}
