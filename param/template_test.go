package param_test

import (
	"testing"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const booksTemplate = `{
	"name": "books",
	"base_url": "https://books.example.com/",
	"page_url_pattern": "/catalogue/page-{page}.html",
	"list_item_selector": "article.product_pod",
	"list_fields": {
		"title": {"selector": "h3 a", "attr": "title"},
		"link": {"selector": "h3 a", "attr": "href"}
	},
	"detail_link_field": "link",
	"detail_fields": {"description": {"selector": "#product_description + p"}}
}`

func TestParseTemplate(t *testing.T) {
	t.Parallel()

	tpl, err := param.ParseTemplate([]byte(booksTemplate))
	require.NoError(t, err)
	assert.Equal(t, 1, tpl.StartPage)
	assert.Equal(t, param.DetailBrowser, tpl.DetailMode)

	u, err := tpl.PageURL(3)
	require.NoError(t, err)
	assert.Equal(t, "https://books.example.com/catalogue/page-3.html", u)
}

func TestTemplateInvalid(t *testing.T) {
	t.Parallel()

	_, err := param.ParseTemplate([]byte(`{"name": "x", "page_url_pattern": "/list"}`))
	assert.ErrorIs(t, err, crawlerr.ErrConfiguration)

	_, err = param.ParseTemplate([]byte(`{
		"name": "x", "page_url_pattern": "/p/{page}", "list_item_selector": "li",
		"list_fields": {"t": {"selector": "a"}}, "detail_mode": "http", "detail_link_field": "missing",
		"detail_fields": {"d": {"selector": "p"}}
	}`))
	assert.ErrorIs(t, err, crawlerr.ErrConfiguration)
}

func TestRunID(t *testing.T) {
	t.Parallel()

	tpl := &param.Template{Name: "books"}
	r := &param.Run{TemplateRef: "books.json", MaxPages: 1, MaxItems: 1}
	assert.True(t, r.IsValid())
	assert.Equal(t, "books-crawler", r.ID(tpl))
	r.CrawlerID = "custom"
	assert.Equal(t, "custom", r.ID(tpl))
}
