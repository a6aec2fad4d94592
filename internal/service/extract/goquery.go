package extract

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/param"
	"github.com/PuerkitoBio/goquery"
)

// 需要按页面地址解析成绝对地址的属性
var urlAttrs = map[string]bool{"href": true, "src": true, "data-src": true, "action": true}

type goqueryExtractor struct {
	tmpl *param.Template
}

func InitExtractor(tmpl *param.Template) Extractor {
	return &goqueryExtractor{tmpl: tmpl}
}

func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}
	return doc, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(pageURL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || pageURL == "" {
		return ref
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func valueOf(sel *goquery.Selection, f param.Field, pageURL string) (string, bool) {
	switch f.Attr {
	case "", "text":
		return normalizeSpace(sel.Text()), true
	case "html":
		h, err := sel.Html()
		if err != nil {
			return "", false
		}
		return strings.TrimSpace(h), true
	default:
		v, ok := sel.Attr(f.Attr)
		if !ok {
			return "", false
		}
		if urlAttrs[f.Attr] {
			v = resolve(pageURL, v)
		}
		return strings.TrimSpace(v), true
	}
}

// fieldValue 选择器为空时作用于 scope 本身, Multiple 时返回全部匹配
func fieldValue(scope *goquery.Selection, f param.Field, pageURL string) (any, bool) {
	sel := scope
	if f.Selector != "" {
		sel = scope.Find(f.Selector)
	}
	if sel.Length() == 0 {
		return nil, false
	}
	if f.Multiple {
		var vals []string
		sel.Each(func(_ int, s *goquery.Selection) {
			if v, ok := valueOf(s, f, pageURL); ok && v != "" {
				vals = append(vals, v)
			}
		})
		return vals, len(vals) > 0
	}
	v, ok := valueOf(sel.First(), f, pageURL)
	return v, ok && v != ""
}

func fieldNames(fields map[string]param.Field) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func extractFields(scope *goquery.Selection, fields map[string]param.Field, pageURL string) map[string]any {
	data := make(map[string]any, len(fields))
	for _, name := range fieldNames(fields) {
		if v, ok := fieldValue(scope, fields[name], pageURL); ok {
			data[name] = v
		}
	}
	return data
}

func (e *goqueryExtractor) List(pageURL, html string) ([]Item, error) {
	doc, err := parse(html)
	if err != nil {
		return nil, crawlerr.New(crawlerr.KindExtraction, "extract list", err)
	}
	wantDetail := e.tmpl.DetailMode != param.DetailNone && e.tmpl.DetailLinkField != ""

	var items []Item
	doc.Find(e.tmpl.ListItemSelector).Each(func(i int, s *goquery.Selection) {
		item := Item{Index: i, Data: extractFields(s, e.tmpl.ListFields, pageURL)}
		switch {
		case len(item.Data) == 0:
			item.Err = crawlerr.Newf(crawlerr.KindExtraction, "extract item", "第 %d 项没有任何字段", i)
		case wantDetail:
			link, _ := item.Data[e.tmpl.DetailLinkField].(string)
			if link == "" {
				item.Err = crawlerr.Newf(crawlerr.KindExtraction, "extract item", "第 %d 项缺少详情链接 %s", i, e.tmpl.DetailLinkField)
			} else {
				item.DetailURL = resolve(pageURL, link)
			}
		}
		items = append(items, item)
	})
	return items, nil
}

func (e *goqueryExtractor) Detail(pageURL, html string) (map[string]any, error) {
	doc, err := parse(html)
	if err != nil {
		return nil, crawlerr.New(crawlerr.KindExtraction, "extract detail", err)
	}
	data := extractFields(doc.Selection, e.tmpl.DetailFields, pageURL)
	if len(data) == 0 {
		return nil, crawlerr.Newf(crawlerr.KindExtraction, "extract detail", "详情页 %s 没有匹配任何字段", pageURL)
	}
	return data, nil
}

func disabled(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	if v, _ := s.Attr("aria-disabled"); v == "true" {
		return true
	}
	return s.HasClass("disabled")
}

func (e *goqueryExtractor) NextPage(pageURL, html string, itemCount int) (string, bool) {
	if itemCount == 0 {
		return "", false
	}
	if e.tmpl.NextPageSelector == "" {
		// 仅靠页码模板翻页时,不足一页视为最后一页
		return "", e.tmpl.PageSize <= 0 || itemCount >= e.tmpl.PageSize
	}
	doc, err := parse(html)
	if err != nil {
		return "", false
	}
	next := doc.Find(e.tmpl.NextPageSelector).First()
	if next.Length() == 0 || disabled(next) || next.Parent().HasClass("disabled") {
		return "", false
	}
	href, _ := next.Attr("href")
	return resolve(pageURL, href), true
}
