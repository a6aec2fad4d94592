package chrome

import (
	"encoding/json"
	"fmt"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
)

// profileJS 在新文档加载前覆盖 navigator/screen/WebGL/canvas/audio 等指纹特征
const profileJS = `(() => {
	const p = %s;
	const def = (obj, key, value) => {
		try { Object.defineProperty(obj, key, {get: () => value, configurable: true}); } catch (e) {}
	};
	def(Navigator.prototype, 'platform', p.platform);
	def(Navigator.prototype, 'languages', p.languages);
	def(Navigator.prototype, 'hardwareConcurrency', p.hardwareConcurrency);
	def(Navigator.prototype, 'deviceMemory', p.deviceMemory);
	def(Navigator.prototype, 'webdriver', undefined);
	for (const k of ['width', 'height', 'availWidth', 'availHeight', 'colorDepth']) {
		def(Screen.prototype, k, p.screen[k]);
	}
	def(window, 'devicePixelRatio', p.screen.pixelRatio);

	const patchGL = (proto) => {
		const orig = proto.getParameter;
		proto.getParameter = function (param) {
			if (param === 37445) { return p.webglVendor; }
			if (param === 37446) { return p.webglRenderer; }
			return orig.call(this, param);
		};
	};
	if (window.WebGLRenderingContext) { patchGL(WebGLRenderingContext.prototype); }
	if (window.WebGL2RenderingContext) { patchGL(WebGL2RenderingContext.prototype); }

	const toDataURL = HTMLCanvasElement.prototype.toDataURL;
	HTMLCanvasElement.prototype.toDataURL = function (...args) {
		const ctx = this.getContext('2d');
		if (ctx && this.width > 0 && this.height > 0) {
			const img = ctx.getImageData(0, 0, 1, 1);
			img.data[0] = (img.data[0] + Math.floor(p.canvasNoise * 10)) %% 256;
			ctx.putImageData(img, 0, 0);
		}
		return toDataURL.apply(this, args);
	};

	if (window.AnalyserNode) {
		const getFloat = AnalyserNode.prototype.getFloatFrequencyData;
		AnalyserNode.prototype.getFloatFrequencyData = function (arr) {
			getFloat.call(this, arr);
			for (let i = 0; i < arr.length; i += 100) { arr[i] += p.audioNoise; }
		};
	}

	if (p.plugins && p.plugins.length) {
		const plugins = p.plugins.map((name) => ({name: name, filename: name.toLowerCase().replace(/ /g, '-') + '.so', description: name}));
		def(Navigator.prototype, 'plugins', Object.assign(plugins, {item: (i) => plugins[i], namedItem: (n) => plugins.find((x) => x.name === n)}));
	}
})();`

type profilePayload struct {
	Platform            string         `json:"platform"`
	Languages           []string       `json:"languages"`
	HardwareConcurrency int            `json:"hardwareConcurrency"`
	DeviceMemory        int            `json:"deviceMemory"`
	Screen              map[string]any `json:"screen"`
	WebGLVendor         string         `json:"webglVendor"`
	WebGLRenderer       string         `json:"webglRenderer"`
	CanvasNoise         float64        `json:"canvasNoise"`
	AudioNoise          float64        `json:"audioNoise"`
	Plugins             []string       `json:"plugins"`
}

// ProfileScript 生成注入到每个新文档的指纹脚本
func ProfileScript(p *model.FingerprintProfile) (string, error) {
	payload := profilePayload{
		Platform:            p.Platform,
		Languages:           p.Languages,
		HardwareConcurrency: p.HardwareConcurrency,
		DeviceMemory:        p.DeviceMemory,
		Screen: map[string]any{
			"width":       p.Screen.Width,
			"height":      p.Screen.Height,
			"availWidth":  p.Screen.AvailWidth,
			"availHeight": p.Screen.AvailHeight,
			"colorDepth":  p.Screen.ColorDepth,
			"pixelRatio":  p.Screen.PixelRatio,
		},
		WebGLVendor:   p.WebGLVendor,
		WebGLRenderer: p.WebGLRenderer,
		CanvasNoise:   p.CanvasNoise,
		AudioNoise:    p.AudioNoise,
		Plugins:       p.Plugins,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("编码指纹失败: %w", err)
	}
	return fmt.Sprintf(profileJS, data), nil
}
