package remediation

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/crawler/chrome/fakedriver"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/behavior"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/detection"
	"github.com/LouYuanbo1/stealthcrawler/internal/service/fingerprint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	blockedHTML = `<html><body><h1>Access Denied</h1></body></html>`
	cleanHTML   = `<html><body><ul><li>ok</li></ul></body></html>`
	pageURL     = "https://shop.test/list?page=5"
)

func setup(t *testing.T, strategies []string, withPool bool, page *fakedriver.Page) (*controller, *fakedriver.Driver, fingerprint.Pool) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Remediation.MaxRetries = 3
	cfg.Remediation.Strategies = strategies
	cfg.SetDefaults()

	scanner, err := detection.InitScanner(cfg, nil, nil)
	require.NoError(t, err)
	sim := behavior.InitSimulator(cfg.Pacing, behavior.WithSleep(behavior.NoSleep), behavior.WithRand(rand.New(rand.NewPCG(3, 4))))

	var pool fingerprint.Pool
	if withPool {
		pool, err = fingerprint.InitPool(fingerprint.StrategyRoundRobin, []*model.FingerprintProfile{{Key: "p1"}, {Key: "p2"}}, time.Now)
		require.NoError(t, err)
	}

	d := fakedriver.New(fakedriver.NewSite().Add(pageURL, page))
	require.NoError(t, d.Navigate(context.Background(), pageURL))
	return InitController(cfg, scanner, sim, pool, nil, nil).(*controller), d, pool
}

func TestNeverMoreThanMaxRetriesAttempts(t *testing.T) {
	t.Parallel()

	c, d, pool := setup(t, nil, true, &fakedriver.Page{HTML: blockedHTML})
	ctx := context.Background()

	detected, _, err := c.Detect(ctx, d)
	require.NoError(t, err)
	require.True(t, detected)

	var verdicts []Verdict
	for range 10 {
		v, err := c.Handle(ctx, d, "p1")
		verdicts = append(verdicts, v)
		if v == Exhausted {
			assert.ErrorIs(t, err, crawlerr.ErrAntiBotDetected)
			break
		}
		require.NoError(t, err)
	}

	// 轮换, 原地补救失败后再轮换, 然后耗尽
	assert.Equal(t, []Verdict{RecreateSession, RecreateSession, Exhausted}, verdicts)
	assert.Equal(t, 1, d.Reloads)
	assert.Equal(t, 1, d.Cleared)
	assert.Equal(t, 2, pool.Profiles()[0].FailCount)

	// 耗尽后一直返回 Exhausted
	v, err := c.Handle(ctx, d, "p1")
	assert.Equal(t, Exhausted, v)
	assert.Error(t, err)
}

func TestInPlaceOnlyExhaustsAfterMaxRetries(t *testing.T) {
	t.Parallel()

	c, d, _ := setup(t, []string{StrategyClearCookies, StrategyRestealth, StrategyCooldown, StrategyRefresh}, false, &fakedriver.Page{HTML: blockedHTML})
	v, err := c.Handle(context.Background(), d, "")
	assert.Equal(t, Exhausted, v)
	assert.ErrorIs(t, err, crawlerr.ErrAntiBotDetected)
	assert.Equal(t, 3, d.Reloads)
	assert.Equal(t, 3, d.Cleared)
	assert.Equal(t, 3, d.Stealths)
}

func TestInPlaceRecoveryResetsCounter(t *testing.T) {
	t.Parallel()

	c, d, _ := setup(t, []string{StrategyClearCookies, StrategyRefresh}, false,
		&fakedriver.Page{Versions: []string{blockedHTML, cleanHTML}})
	ctx := context.Background()

	detected, events, err := c.Detect(ctx, d)
	require.NoError(t, err)
	require.True(t, detected)
	require.NotEmpty(t, events)

	v, err := c.Handle(ctx, d, "")
	require.NoError(t, err)
	assert.Equal(t, Clear, v)
	assert.Equal(t, 0, c.Attempts())
	assert.Equal(t, 1, d.Reloads)
}

func TestRotationThenRecoveryInNewSession(t *testing.T) {
	t.Parallel()

	c, d, _ := setup(t, nil, true, &fakedriver.Page{HTML: blockedHTML})
	ctx := context.Background()

	v, err := c.Handle(ctx, d, "p1")
	require.NoError(t, err)
	require.Equal(t, RecreateSession, v)
	assert.Equal(t, 1, c.Attempts())

	// 新会话加载的页面没有阻断信号
	clean := fakedriver.New(fakedriver.NewSite().Add(pageURL, &fakedriver.Page{HTML: cleanHTML}))
	require.NoError(t, clean.Navigate(ctx, pageURL))
	detected, _, err := c.Detect(ctx, clean)
	require.NoError(t, err)
	assert.False(t, detected)
	assert.Equal(t, 0, c.Attempts())
}

func TestHandleCancelled(t *testing.T) {
	t.Parallel()

	c, d, _ := setup(t, []string{StrategyCooldown, StrategyRefresh}, false, &fakedriver.Page{HTML: blockedHTML})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Handle(ctx, d, "")
	assert.ErrorIs(t, err, context.Canceled)
}
