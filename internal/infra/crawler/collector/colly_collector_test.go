package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollyFetcher(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/detail":
			ck, err := r.Cookie("session")
			if err != nil || ck.Value != "abc" || r.UserAgent() != "test-agent" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body><h1>detail</h1></body></html>"))
		case "/blocked":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := InitCollyFetcher(&config.Config{}, nil)
	ctx := context.Background()

	body, err := f.Fetch(ctx, Request{
		URL:       srv.URL + "/detail",
		UserAgent: "test-agent",
		Cookies:   []types.Cookie{{Name: "session", Value: "abc", Path: "/"}},
	})
	require.NoError(t, err)
	assert.Contains(t, body, "<h1>detail</h1>")

	_, err = f.Fetch(ctx, Request{URL: srv.URL + "/blocked"})
	assert.ErrorIs(t, err, crawlerr.ErrAntiBotDetected)

	_, err = f.Fetch(ctx, Request{URL: srv.URL + "/broken"})
	assert.True(t, crawlerr.Retryable(err))
}

func TestCollyFetcherCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := InitCollyFetcher(&config.Config{}, nil).Fetch(ctx, Request{URL: "http://127.0.0.1:1/"})
	assert.ErrorIs(t, err, crawlerr.ErrInterrupted)
}
