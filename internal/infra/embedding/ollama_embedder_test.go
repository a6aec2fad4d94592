package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	batches [][]string
	short   bool
	err     error
}

func (f *fakeModel) EmbedStrings(_ context.Context, texts []string, _ ...einoembedding.Option) ([][]float64, error) {
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, 0, len(texts))
	for _, t := range texts {
		out = append(out, []float64{float64(len(t)), 0.5})
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestEmbedSplitsIntoBatches(t *testing.T) {
	t.Parallel()

	m := &fakeModel{}
	vectors, err := NewEmbedder(m, 2).Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "e"})
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc", "dddd"}, {"e"}}, m.batches)
	assert.Equal(t, []float32{3, 0.5}, vectors[2])
}

func TestEmbedErrors(t *testing.T) {
	t.Parallel()

	_, err := NewEmbedder(&fakeModel{err: errors.New("refused")}, 4).Embed(context.Background(), []string{"a"})
	require.ErrorIs(t, err, crawlerr.ErrNetwork)
	assert.True(t, crawlerr.Retryable(err))

	_, err = NewEmbedder(&fakeModel{short: true}, 4).Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, crawlerr.ErrNetwork)
}

func TestEmbedZeroBatchSize(t *testing.T) {
	t.Parallel()

	m := &fakeModel{}
	_, err := NewEmbedder(m, 0).Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, m.batches, 2)
}
