package param

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
)

type DetailMode string

const (
	DetailNone    DetailMode = "none"
	DetailBrowser DetailMode = "browser"
	DetailHTTP    DetailMode = "http"
)

// PagePlaceholder 分页 URL 模板中的页码占位符
const PagePlaceholder = "{page}"

// Field 字段提取规则, Attr 为空时取文本
type Field struct {
	Selector string `json:"selector"`
	Attr     string `json:"attr"`
	Multiple bool   `json:"multiple"`
}

// Template 站点导航模板
type Template struct {
	Name             string                  `json:"name"`
	BaseURL          string                  `json:"base_url"`
	PageURLPattern   string                  `json:"page_url_pattern"`
	StartPage        int                     `json:"start_page"`
	PageSize         int                     `json:"page_size"`
	ListItemSelector string                  `json:"list_item_selector"`
	ListFields       map[string]Field        `json:"list_fields"`
	DetailLinkField  string                  `json:"detail_link_field"`
	DetailFields     map[string]Field        `json:"detail_fields"`
	DetailMode       DetailMode              `json:"detail_mode"`
	NextPageSelector string                  `json:"next_page_selector"`
	WaitSelector     string                  `json:"wait_selector"`
	Pacing           map[string]config.Range `json:"pacing"`
}

func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, crawlerr.New(crawlerr.KindConfiguration, "read template", err)
	}
	return ParseTemplate(data)
}

func ParseTemplate(data []byte) (*Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, crawlerr.New(crawlerr.KindConfiguration, "parse template", err)
	}
	if t.StartPage <= 0 {
		t.StartPage = 1
	}
	if t.DetailMode == "" {
		if t.DetailLinkField != "" && len(t.DetailFields) > 0 {
			t.DetailMode = DetailBrowser
		} else {
			t.DetailMode = DetailNone
		}
	}
	if !t.IsValid() {
		return nil, crawlerr.Newf(crawlerr.KindConfiguration, "validate template", "invalid template %q", t.Name)
	}
	return &t, nil
}

func (t *Template) IsValid() bool {
	if t.Name == "" ||
		t.PageURLPattern == "" ||
		t.ListItemSelector == "" ||
		len(t.ListFields) == 0 {
		return false
	}
	if !strings.Contains(t.PageURLPattern, PagePlaceholder) && t.NextPageSelector == "" {
		return false
	}
	switch t.DetailMode {
	case DetailNone:
		return true
	case DetailBrowser, DetailHTTP:
		_, ok := t.ListFields[t.DetailLinkField]
		return ok && len(t.DetailFields) > 0
	default:
		return false
	}
}

// PageURL 由页码和模板生成分页 URL,相对地址基于 BaseURL 解析
func (t *Template) PageURL(page int) (string, error) {
	raw := strings.ReplaceAll(t.PageURLPattern, PagePlaceholder, strconv.Itoa(page))
	return t.Resolve(raw)
}

func (t *Template) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("解析URL失败 %q: %w", ref, err)
	}
	if u.IsAbs() || t.BaseURL == "" {
		return u.String(), nil
	}
	base, err := url.Parse(t.BaseURL)
	if err != nil {
		return "", fmt.Errorf("解析BaseURL失败 %q: %w", t.BaseURL, err)
	}
	return base.ResolveReference(u).String(), nil
}
