package crawlerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	base := errors.New("connection reset")
	err := fmt.Errorf("page 2: %w", crawlerr.New(crawlerr.KindNavigation, "navigate", base))

	assert.ErrorIs(t, err, crawlerr.ErrNavigation)
	assert.NotErrorIs(t, err, crawlerr.ErrCaptcha)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, crawlerr.KindNavigation, crawlerr.KindOf(err))
	assert.True(t, crawlerr.Retryable(err))
	assert.False(t, crawlerr.Fatal(err))
	assert.Contains(t, err.Error(), "navigation: navigate: connection reset")
}

func TestFatalClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind      crawlerr.Kind
		fatal     bool
		retryable bool
	}{
		{crawlerr.KindConfiguration, true, false},
		{crawlerr.KindAuthentication, true, false},
		{crawlerr.KindNetwork, false, true},
		{crawlerr.KindCaptcha, true, false},
		{crawlerr.KindAntiBotDetected, true, false},
		{crawlerr.KindExtraction, false, false},
		{crawlerr.KindInterrupted, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()
			err := crawlerr.Newf(tt.kind, "op", "boom")
			assert.Equal(t, tt.fatal, crawlerr.Fatal(err))
			assert.Equal(t, tt.retryable, crawlerr.Retryable(err))
		})
	}

	assert.True(t, crawlerr.Fatal(errors.New("plain")))
}
