package chrome

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
)

// queryElementsJS 返回匹配元素的可见性、位置、属性等信息
const queryElementsJS = `() => {
	const sel = %s;
	const out = [];
	document.querySelectorAll(sel).forEach((el, i) => {
		const r = el.getBoundingClientRect();
		const st = window.getComputedStyle(el);
		const attrs = {};
		for (const a of el.attributes) { attrs[a.name] = a.value; }
		const visible = r.width > 0 && r.height > 0 && st.visibility !== 'hidden' &&
			st.display !== 'none' && parseFloat(st.opacity || '1') > 0.05;
		const tag = el.tagName.toLowerCase();
		const interactive = ['a', 'button', 'input', 'select', 'textarea'].includes(tag) ||
			el.hasAttribute('onclick') || el.getAttribute('role') === 'button';
		out.push({
			selector: sel, index: i, tag: tag,
			text: (el.innerText || el.value || '').trim().slice(0, 500),
			attrs: attrs,
			box: {x: r.left, y: r.top, width: r.width, height: r.height},
			visible: visible, interactive: interactive,
		});
	});
	return out;
}`

func queryElementsScript(selector string) (string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("编码选择器失败: %w", err)
	}
	return fmt.Sprintf(queryElementsJS, quoted), nil
}

// findElements 两个驱动共用的实现,通过脚本收集元素信息
func findElements(ctx context.Context, exec func(context.Context, string) (any, error), selector string) ([]types.Element, error) {
	js, err := queryElementsScript(selector)
	if err != nil {
		return nil, err
	}
	raw, err := exec(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("查找元素失败 %s: %w", selector, err)
	}
	return DecodeValue[[]types.Element](raw)
}

// DecodeValue 将脚本返回的通用值转换成指定类型
func DecodeValue[T any](raw any) (T, error) {
	var out T
	if raw == nil {
		return out, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return out, fmt.Errorf("编码脚本结果失败: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("解析脚本结果失败: %w", err)
	}
	return out, nil
}

// Focus 聚焦元素,用于输入前
func Focus(ctx context.Context, d Driver, selector string) error {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return err
	}
	res, err := d.ExecuteScript(ctx, fmt.Sprintf(`() => {
		const el = document.querySelector(%s);
		if (!el) { return false; }
		el.focus();
		if ('value' in el) { el.value = ''; }
		return true;
	}`, quoted))
	if err != nil {
		return err
	}
	if ok, _ := res.(bool); !ok {
		return fmt.Errorf("元素不存在: %s", selector)
	}
	return nil
}

// FirstVisible 返回第一个可见的匹配元素
func FirstVisible(ctx context.Context, d Driver, selector string) (*types.Element, error) {
	elements, err := d.FindElements(ctx, selector)
	if err != nil {
		return nil, err
	}
	for i := range elements {
		if elements[i].Visible {
			return &elements[i], nil
		}
	}
	return nil, nil
}

// Exists 是否存在可见的匹配元素
func Exists(ctx context.Context, d Driver, selector string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	el, err := FirstVisible(ctx, d, selector)
	if err != nil {
		return false, err
	}
	return el != nil, nil
}
