package chrome_test

import (
	"context"
	"strings"
	"testing"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome/fakedriver"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileScript(t *testing.T) {
	t.Parallel()

	js, err := chrome.ProfileScript(&model.FingerprintProfile{
		Platform:      "Win32",
		Languages:     []string{"en-US", "en"},
		WebGLVendor:   "Intel Inc.",
		WebGLRenderer: "Intel Iris OpenGL Engine",
		Screen:        model.ScreenGeometry{Width: 1920, Height: 1080, PixelRatio: 1},
	})
	require.NoError(t, err)
	assert.Contains(t, js, `"platform":"Win32"`)
	assert.Contains(t, js, `"webglRenderer":"Intel Iris OpenGL Engine"`)
	assert.Contains(t, js, "% 256")
	assert.False(t, strings.Contains(js, "%!"))
}

func TestDecodeValue(t *testing.T) {
	t.Parallel()

	raw := []any{
		map[string]any{
			"selector": ".item",
			"index":    float64(0),
			"text":     "hello",
			"box":      map[string]any{"x": 10.0, "y": 20.0, "width": 100.0, "height": 40.0},
			"visible":  true,
		},
	}
	els, err := chrome.DecodeValue[[]types.Element](raw)
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, "hello", els[0].Text)
	assert.Equal(t, types.Point{X: 60, Y: 40}, els[0].Box.Center())

	none, err := chrome.DecodeValue[[]types.Element](nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFirstVisibleAndExists(t *testing.T) {
	t.Parallel()

	site := fakedriver.NewSite().Add("https://example.test/", &fakedriver.Page{
		Elements: map[string][]types.Element{
			".captcha": {
				{Selector: ".captcha", Index: 0, Visible: false},
				{Selector: ".captcha", Index: 1, Visible: true},
			},
		},
	})
	d := fakedriver.New(site)
	ctx := context.Background()
	require.NoError(t, d.Navigate(ctx, "https://example.test/"))

	el, err := chrome.FirstVisible(ctx, d, ".captcha")
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, 1, el.Index)

	ok, err := chrome.Exists(ctx, d, ".missing")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = chrome.Exists(ctx, d, "")
	require.NoError(t, err)
	assert.False(t, ok)
}
