package model_test

import (
	"testing"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/stretchr/testify/assert"
)

func TestCrawlStateApply(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := model.NewCrawlState("c1", created)

	patch := model.StatePatch{
		CurrentPage:      model.Int(3),
		CurrentItemIndex: model.Int(4),
		ItemsCollected:   model.Int(24),
		Extra:            map[string]string{"template": "books"},
	}
	t1 := created.Add(time.Minute)
	assert.True(t, s.Apply(patch, t1))

	first := s.Clone()
	t2 := t1.Add(time.Minute)
	assert.True(t, s.Apply(patch, t2))

	// 同一 patch 保存两次,除 UpdatedTime 外完全相同
	first.UpdatedTime = s.UpdatedTime
	assert.Equal(t, first, s)
	assert.Equal(t, created, s.CreatedTime)
	assert.Equal(t, t2, s.UpdatedTime)
}

func TestCrawlStateItemsCollectedMonotonic(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := model.NewCrawlState("c1", now)
	s.Apply(model.StatePatch{ItemsCollected: model.Int(10)}, now)

	accepted := s.Apply(model.StatePatch{ItemsCollected: model.Int(7), CurrentPage: model.Int(2)}, now)
	assert.False(t, accepted)
	assert.Equal(t, 10, s.ItemsCollected)
	assert.Equal(t, 2, s.CurrentPage)
}

func TestStatusExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, model.StatusCompleted.ExitCode())
	assert.Equal(t, 1, model.StatusFailed.ExitCode())
	assert.Equal(t, 3, model.StatusInterrupted.ExitCode())
}
