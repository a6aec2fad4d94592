package detection

import (
	"encoding/json"
	"fmt"
)

// signalsJS 一次性收集运行时特征: 自动化标记, 导航状态码, 可疑全局变量, 隐藏的可交互元素
const signalsJS = `() => {
	const names = %s;
	const out = {webdriver: false, headless: false, status: 0, globals: [], honeypots: []};
	try { out.webdriver = navigator.webdriver === true; } catch (e) {}
	try { out.headless = /HeadlessChrome/.test(navigator.userAgent); } catch (e) {}
	try {
		const nav = performance.getEntriesByType('navigation')[0];
		if (nav && nav.responseStatus) { out.status = nav.responseStatus; }
	} catch (e) {}
	for (const n of names) {
		try { if (n in window || n in document) { out.globals.push(n); } } catch (e) {}
	}
	for (const k of Object.keys(document)) {
		if (/^\$?cdc_|^\$wdc_/.test(k)) { out.globals.push(k); }
	}
	const nodes = document.querySelectorAll('a[href], input:not([type=hidden]), button, textarea, select');
	for (const el of nodes) {
		const st = window.getComputedStyle(el);
		const r = el.getBoundingClientRect();
		const hidden = st.display === 'none' || st.visibility === 'hidden' || parseFloat(st.opacity || '1') === 0 ||
			r.width === 0 || r.height === 0 || r.right < 0 || r.bottom < 0 || r.left > 10000;
		if (hidden) {
			out.honeypots.push(el.tagName.toLowerCase() + (el.name ? '[name=' + el.name + ']' : '') + (el.id ? '#' + el.id : ''));
		}
		if (out.honeypots.length >= 10) { break; }
	}
	return out;
}`

type pageSignals struct {
	Webdriver bool     `json:"webdriver"`
	Headless  bool     `json:"headless"`
	Status    int      `json:"status"`
	Globals   []string `json:"globals"`
	Honeypots []string `json:"honeypots"`
}

func signalsScript(globals []string) (string, error) {
	if globals == nil {
		globals = []string{}
	}
	data, err := json.Marshal(globals)
	if err != nil {
		return "", fmt.Errorf("编码探测参数失败: %w", err)
	}
	return fmt.Sprintf(signalsJS, data), nil
}
