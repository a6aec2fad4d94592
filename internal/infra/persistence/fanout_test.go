package persistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenBackend struct {
	mu    sync.Mutex
	calls int
}

var errBroken = errors.New("backend down")

func (b *brokenBackend) Name() string { return "broken" }

func (b *brokenBackend) Put(context.Context, string, string, persistence.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return errBroken
}

func (b *brokenBackend) Get(context.Context, string, string) (persistence.Document, bool, error) {
	return nil, false, errBroken
}

func (b *brokenBackend) Query(context.Context, string, persistence.Filter) ([]persistence.Document, error) {
	return nil, errBroken
}

func (b *brokenBackend) Delete(context.Context, string, string) error { return errBroken }

func (b *brokenBackend) Close() error { return nil }

func TestFanoutAnySuccessCounts(t *testing.T) {
	t.Parallel()

	fs, err := file.InitStore(t.TempDir())
	require.NoError(t, err)
	broken := &brokenBackend{}
	f := persistence.NewFanout([]persistence.Backend{broken, fs}, nil, nil)
	ctx := context.Background()

	doc := persistence.Document{"id": "r1", "metadata": map[string]any{"crawler_id": "c1", "page": 2}}
	require.NoError(t, f.Put(ctx, "records", "r1", doc))
	assert.Equal(t, 1, broken.calls)

	got, ok, err := f.Get(ctx, "records", "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", got["id"])

	docs, err := f.Query(ctx, "records", persistence.Filter{"metadata.crawler_id": "c1", "metadata.page": 2})
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, f.Delete(ctx, "records", "r1"))
	_, ok, err = f.Get(ctx, "records", "r1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFanoutAllFail(t *testing.T) {
	t.Parallel()

	f := persistence.NewFanout([]persistence.Backend{&brokenBackend{}, &brokenBackend{}}, nil, nil)
	err := f.Put(context.Background(), "records", "r1", persistence.Document{})
	assert.ErrorIs(t, err, crawlerr.ErrPersistence)
	assert.ErrorIs(t, err, errBroken)

	_, _, err = f.Get(context.Background(), "records", "r1")
	assert.ErrorIs(t, err, crawlerr.ErrPersistence)
}

func TestFanoutPutBatch(t *testing.T) {
	t.Parallel()

	fs, err := file.InitStore(t.TempDir())
	require.NoError(t, err)
	f := persistence.NewFanout([]persistence.Backend{fs}, nil, nil)
	batch := []persistence.Keyed{
		{Key: "a", Doc: persistence.Document{"n": 1}},
		{Key: "b", Doc: persistence.Document{"n": 2}},
	}
	require.NoError(t, f.PutBatch(context.Background(), "records", batch))
	docs, err := f.Query(context.Background(), "records", nil)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestMatchesNested(t *testing.T) {
	t.Parallel()

	doc := persistence.Document{"metadata": map[string]any{"crawler_id": "c1", "page": float64(3)}}
	assert.True(t, persistence.Matches(doc, persistence.Filter{"metadata.page": 3}))
	assert.False(t, persistence.Matches(doc, persistence.Filter{"metadata.page": 4}))
	assert.False(t, persistence.Matches(doc, persistence.Filter{"metadata.missing": "x"}))
	assert.True(t, persistence.Matches(doc, nil))
}
