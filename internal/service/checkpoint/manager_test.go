package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, maxBackups int) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Checkpoint.Dir = dir
	cfg.Checkpoint.BackupDir = filepath.Join(dir, "backups")
	cfg.Checkpoint.FlushIntervalSeconds = 3600
	cfg.Checkpoint.BackupOnSave = true
	cfg.Checkpoint.MaxBackups = maxBackups
	return cfg
}

// steppingClock 每次调用前进一秒
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func open(t *testing.T, cfg *config.Config, records RecordStore, opts ...Option) Manager {
	t.Helper()
	m, err := Open(cfg, "crawler-1", records, nil, append([]Option{WithClock(steppingClock())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestBackupsBoundedAndMostRecent(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 3)
	m := open(t, cfg, nil)
	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		require.NoError(t, m.SaveState(ctx, model.StatePatch{ItemsCollected: model.Int(i)}))
		backups, err := listBackups(cfg.Checkpoint.BackupDir, "crawler-1")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(backups), 3)
	}

	backups, err := listBackups(cfg.Checkpoint.BackupDir, "crawler-1")
	require.NoError(t, err)
	require.Len(t, backups, 3)
	var got []int
	for _, b := range backups {
		st, err := readState(b.path)
		require.NoError(t, err)
		got = append(got, st.ItemsCollected)
	}
	assert.Equal(t, []int{7, 6, 5}, got)
}

func TestSaveStateIdempotent(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 5)
	m := open(t, cfg, nil)
	ctx := context.Background()
	patch := model.StatePatch{CurrentPage: model.Int(3), CurrentItemIndex: model.Int(4), ItemsCollected: model.Int(24)}

	require.NoError(t, m.SaveState(ctx, patch))
	first, err := readState(primaryPath(cfg.Checkpoint.Dir, "crawler-1"))
	require.NoError(t, err)
	require.NoError(t, m.SaveState(ctx, patch))
	second, err := readState(primaryPath(cfg.Checkpoint.Dir, "crawler-1"))
	require.NoError(t, err)

	assert.True(t, second.UpdatedTime.After(first.UpdatedTime))
	first.UpdatedTime, second.UpdatedTime = time.Time{}, time.Time{}
	assert.Equal(t, first, second)
}

func TestSaveStateMergesFields(t *testing.T) {
	t.Parallel()

	m := open(t, testConfig(t, 2), nil)
	ctx := context.Background()
	require.NoError(t, m.SaveState(ctx, model.StatePatch{CurrentPage: model.Int(2), ItemsCollected: model.Int(10)}))
	require.NoError(t, m.SaveState(ctx, model.StatePatch{CurrentItemIndex: model.Int(3)}))
	require.NoError(t, m.SaveState(ctx, model.StatePatch{ItemsCollected: model.Int(4)}))

	st, err := m.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.CurrentPage)
	assert.Equal(t, 3, st.CurrentItemIndex)
	assert.Equal(t, 10, st.ItemsCollected)
	assert.Equal(t, "crawler-1", st.CrawlerID)
}

func TestRecoveryOrder(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 3)
	ctx := context.Background()

	fresh := open(t, cfg, nil)
	assert.Equal(t, SourceFresh, fresh.Recovered())
	require.NoError(t, fresh.SaveState(ctx, model.StatePatch{CurrentPage: model.Int(4), CurrentItemIndex: model.Int(2)}))
	require.NoError(t, fresh.Close())

	fromPrimary := open(t, cfg, nil)
	assert.Equal(t, SourcePrimary, fromPrimary.Recovered())
	require.NoError(t, fromPrimary.Close())

	primary := primaryPath(cfg.Checkpoint.Dir, "crawler-1")
	require.NoError(t, os.WriteFile(primary, []byte("{broken"), 0o644))

	fromBackup := open(t, cfg, nil)
	assert.Equal(t, SourceBackup, fromBackup.Recovered())
	st, err := fromBackup.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.CurrentPage)
	assert.Equal(t, 2, st.CurrentItemIndex)

	healed, err := readState(primary)
	require.NoError(t, err)
	assert.Equal(t, 4, healed.CurrentPage)
}

func TestRecoverySkipsUnreadableBackup(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 3)
	ctx := context.Background()
	m := open(t, cfg, nil)
	require.NoError(t, m.SaveState(ctx, model.StatePatch{CurrentPage: model.Int(6)}))
	require.NoError(t, m.Close())

	require.NoError(t, os.Remove(primaryPath(cfg.Checkpoint.Dir, "crawler-1")))
	newest := filepath.Join(cfg.Checkpoint.BackupDir, backupPrefix("crawler-1")+"99999999T000000.000000000-000001.json")
	require.NoError(t, os.WriteFile(newest, []byte("not json"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(newest, future, future))

	again := open(t, cfg, nil)
	assert.Equal(t, SourceBackup, again.Recovered())
	st, err := again.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, st.CurrentPage)
}

func TestStageFlushedByTimer(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 2)
	cfg.Checkpoint.BackupOnSave = false
	m := open(t, cfg, nil, WithFlushInterval(10*time.Millisecond))
	require.NoError(t, m.Stage(context.Background(), model.StatePatch{CurrentPage: model.Int(9)}))

	primary := primaryPath(cfg.Checkpoint.Dir, "crawler-1")
	assert.Eventually(t, func() bool {
		st, err := readState(primary)
		return err == nil && st.CurrentPage == 9
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseFlushesStaged(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 2)
	m := open(t, cfg, nil)
	require.NoError(t, m.Stage(context.Background(), model.StatePatch{ItemsCollected: model.Int(3)}))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	st, err := readState(primaryPath(cfg.Checkpoint.Dir, "crawler-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, st.ItemsCollected)

	assert.ErrorIs(t, m.SaveState(context.Background(), model.StatePatch{}), ErrClosed)
}

func TestClearState(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 2)
	ctx := context.Background()
	m := open(t, cfg, nil)
	require.NoError(t, m.SaveState(ctx, model.StatePatch{CurrentPage: model.Int(2)}))
	require.NoError(t, m.MarkCompleted(ctx))
	st, err := m.GetState(ctx)
	require.NoError(t, err)
	assert.True(t, st.Completed)

	require.NoError(t, m.ClearState(ctx))
	st, err = m.GetState(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)
	require.NoError(t, m.Close())

	again := open(t, cfg, nil)
	assert.Equal(t, SourceFresh, again.Recovered())
}

func TestRecords(t *testing.T) {
	t.Parallel()

	fs, err := file.InitStore(t.TempDir())
	require.NoError(t, err)
	store := persistence.NewFanout([]persistence.Backend{fs}, nil, nil)
	m := open(t, testConfig(t, 2), store)
	ctx := context.Background()

	meta := model.RecordMetadata{CrawlerName: "books", CrawlerID: "crawler-1", Success: true, Page: 1}
	require.NoError(t, m.SaveRecord(ctx, model.NewRecord(map[string]any{"title": "a"}, nil, meta)))
	require.NoError(t, m.SaveRecords(ctx, []*model.ExtractedRecord{
		model.NewRecord(map[string]any{"title": "b"}, nil, meta),
		model.NewRecord(map[string]any{"title": "c"}, nil, model.RecordMetadata{CrawlerID: "other"}),
	}))

	docs, err := m.QueryRecords(ctx, persistence.Filter{"metadata.crawler_id": "crawler-1"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestRecordsWithoutStore(t *testing.T) {
	t.Parallel()

	m := open(t, testConfig(t, 2), nil)
	err := m.SaveRecord(context.Background(), model.NewRecord(nil, nil, model.RecordMetadata{}))
	assert.ErrorIs(t, err, crawlerr.ErrConfiguration)
}

func TestBackupsScopedToCrawlerID(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 3)
	ctx := context.Background()
	other, err := Open(cfg, "a.state", nil, nil, WithClock(steppingClock()))
	require.NoError(t, err)
	require.NoError(t, other.SaveState(ctx, model.StatePatch{CurrentPage: model.Int(9), ItemsCollected: model.Int(42)}))
	require.NoError(t, other.Close())
	require.NoError(t, os.Remove(primaryPath(cfg.Checkpoint.Dir, "a.state")))

	a, err := Open(cfg, "a", nil, nil, WithClock(steppingClock()))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, SourceFresh, a.Recovered())
	st, err := a.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", st.CrawlerID)
	assert.Equal(t, 1, st.CurrentPage)

	require.NoError(t, a.ClearState(ctx))
	backups, err := listBackups(cfg.Checkpoint.BackupDir, "a.state")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestListBackupsIgnoresPrimary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(primaryPath(dir, "crawler-1"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, backupPrefix("crawler-1")+"tmp.json"), []byte("{}"), 0o644))
	path, err := writeBackup(dir, "crawler-1", []byte("{}"), time.Now(), 1)
	require.NoError(t, err)

	backups, err := listBackups(dir, "crawler-1")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, path, backups[0].path)
}

func TestRecoverySkipsForeignBackup(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 3)
	require.NoError(t, os.MkdirAll(cfg.Checkpoint.BackupDir, 0o755))
	_, err := writeBackup(cfg.Checkpoint.BackupDir, "crawler-1",
		[]byte(`{"crawler_id":"crawler-2","current_page":7}`), time.Now(), 1)
	require.NoError(t, err)

	m := open(t, cfg, nil)
	assert.Equal(t, SourceFresh, m.Recovered())
}

func TestFailedFlushRetriedByTimer(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 2)
	cfg.Checkpoint.BackupOnSave = false
	m := open(t, cfg, nil, WithFlushInterval(10*time.Millisecond))
	primary := primaryPath(cfg.Checkpoint.Dir, "crawler-1")
	// 主文件路径被目录占用时 rename 失败
	require.NoError(t, os.Mkdir(primary, 0o755))

	err := m.SaveState(context.Background(), model.StatePatch{CurrentPage: model.Int(5)})
	require.ErrorIs(t, err, crawlerr.ErrPersistence)

	require.NoError(t, os.Remove(primary))
	assert.Eventually(t, func() bool {
		st, err := readState(primary)
		return err == nil && st.CurrentPage == 5
	}, 2*time.Second, 10*time.Millisecond)
}
