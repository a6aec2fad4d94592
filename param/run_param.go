package param

import "fmt"

// Run 一次爬取的参数, MaxPages 为最后一页的页码(含)
type Run struct {
	TemplateRef string `json:"template_ref"`
	CrawlerID   string `json:"crawler_id"`
	MaxPages    int    `json:"max_pages"`
	MaxItems    int    `json:"max_items"`
	Resume      bool   `json:"resume"`
}

func (r *Run) IsValid() bool {
	return r.TemplateRef != "" && r.MaxPages > 0 && r.MaxItems > 0
}

// ID 未指定 CrawlerID 时由模板名派生
func (r *Run) ID(t *Template) string {
	if r.CrawlerID != "" {
		return r.CrawlerID
	}
	return fmt.Sprintf("%s-crawler", t.Name)
}
