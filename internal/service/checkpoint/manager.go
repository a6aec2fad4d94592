package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/metrics"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence/file"
	"go.uber.org/zap"
)

// 刷新触发来源,同时作为指标标签
const (
	triggerSave   = "save"
	triggerTimer  = "timer"
	triggerManual = "manual"
	triggerClose  = "close"
)

var ErrClosed = errors.New("checkpoint manager 已关闭")

type Option func(*manager)

func WithClock(now func() time.Time) Option {
	return func(m *manager) { m.now = now }
}

func WithFlushInterval(d time.Duration) Option {
	return func(m *manager) { m.interval = d }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *manager) { m.metrics = mt }
}

type request struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	errc chan error
}

type manager struct {
	crawlerID    string
	dir          string
	backupDir    string
	backupOnSave bool
	maxBackups   int
	interval     time.Duration

	records RecordStore
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	reqs      chan request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	source Source

	// 以下字段只在 loop goroutine 中访问
	state *model.CrawlState
	dirty bool
	seq   uint64
}

// Open 恢复 crawlerID 的状态并启动后台刷新.
// records 为 nil 时只管理状态,记录相关操作返回 Configuration 错误.
func Open(cfg *config.Config, crawlerID string, records RecordStore, log *zap.Logger, opts ...Option) (Manager, error) {
	if crawlerID == "" {
		return nil, crawlerr.Newf(crawlerr.KindConfiguration, "open checkpoint", "crawler id 不能为空")
	}
	m := &manager{
		crawlerID:    crawlerID,
		dir:          cfg.Checkpoint.Dir,
		backupDir:    cfg.Checkpoint.BackupDir,
		backupOnSave: cfg.Checkpoint.BackupOnSave,
		maxBackups:   cfg.Checkpoint.MaxBackups,
		interval:     time.Duration(cfg.Checkpoint.FlushIntervalSeconds) * time.Second,
		records:      records,
		log:          logger.OrNop(log).Named("checkpoint").With(zap.String("crawler_id", crawlerID)),
		now:          time.Now,
		reqs:         make(chan request),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.interval <= 0 {
		m.interval = 30 * time.Second
	}
	if m.maxBackups <= 0 {
		m.maxBackups = 1
	}
	for _, dir := range []string{m.dir, m.backupDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, crawlerr.New(crawlerr.KindPersistence, "open checkpoint", fmt.Errorf("创建目录失败: %w", err))
		}
	}
	if err := m.recover(); err != nil {
		return nil, err
	}
	go m.loop()
	return m, nil
}

// recover 主文件 -> 最新可读的备份(并重新写回主文件) -> 新状态
func (m *manager) recover() error {
	primary := primaryPath(m.dir, m.crawlerID)
	st, err := readState(primary)
	if err == nil && !m.owns(st) {
		err = fmt.Errorf("主状态文件属于 %s", st.CrawlerID)
	}
	if err == nil {
		m.adopt(st)
		m.source = SourcePrimary
		m.log.Info("从主文件恢复状态", zap.Int("page", st.CurrentPage), zap.Int("item", st.CurrentItemIndex))
		return nil
	}
	if !os.IsNotExist(err) {
		m.log.Warn("主状态文件不可读,尝试备份", zap.Error(err))
	}

	backups, err := listBackups(m.backupDir, m.crawlerID)
	if err != nil {
		m.log.Warn("读取备份目录失败", zap.Error(err))
	}
	for _, b := range backups {
		st, err := readState(b.path)
		if err != nil {
			m.log.Warn("备份不可读,跳过", zap.String("path", b.path), zap.Error(err))
			continue
		}
		if !m.owns(st) {
			m.log.Warn("备份属于其他 crawler,跳过", zap.String("path", b.path), zap.String("owner", st.CrawlerID))
			continue
		}
		m.adopt(st)
		m.source = SourceBackup
		if err := m.persistPrimary(); err != nil {
			return crawlerr.New(crawlerr.KindPersistence, "recover state", err)
		}
		m.log.Info("从备份恢复状态并写回主文件", zap.String("backup", b.path), zap.Int("page", st.CurrentPage))
		return nil
	}

	m.state = model.NewCrawlState(m.crawlerID, m.now())
	m.source = SourceFresh
	m.log.Info("没有可用的检查点,使用新状态")
	return nil
}

// owns 旧版本的状态文件可能没有 crawler_id
func (m *manager) owns(st *model.CrawlState) bool {
	return st.CrawlerID == "" || st.CrawlerID == m.crawlerID
}

func (m *manager) adopt(st *model.CrawlState) {
	if st.CrawlerID == "" {
		st.CrawlerID = m.crawlerID
	}
	if st.CurrentPage < 1 {
		st.CurrentPage = 1
	}
	m.state = st
}

func (m *manager) Recovered() Source { return m.source }

func (m *manager) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case req := <-m.reqs:
			req.errc <- req.fn(req.ctx)
		case <-ticker.C:
			if m.dirty {
				if err := m.flush(triggerTimer); err != nil {
					m.log.Error("定时刷新失败", zap.Error(err))
				}
			}
		case <-m.quit:
			if m.dirty {
				m.closeErr = m.flush(triggerClose)
			}
			return
		}
	}
}

// do 把 fn 交给 loop goroutine 执行并等待结果.
// 请求一旦被接受就会执行完,不受 ctx 取消影响.
func (m *manager) do(ctx context.Context, fn func(ctx context.Context) error) error {
	req := request{ctx: ctx, fn: fn, errc: make(chan error, 1)}
	select {
	case m.reqs <- req:
	case <-m.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.errc
}

func (m *manager) encode() ([]byte, error) {
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化状态失败: %w", err)
	}
	return data, nil
}

func (m *manager) writePrimary(data []byte) error {
	if err := file.WriteFileAtomic(primaryPath(m.dir, m.crawlerID), data, 0o644); err != nil {
		return fmt.Errorf("写入状态文件失败: %w", err)
	}
	return nil
}

func (m *manager) persistPrimary() error {
	data, err := m.encode()
	if err != nil {
		return err
	}
	return m.writePrimary(data)
}

// flush 写主文件,按配置生成备份并裁剪.
// 主文件写入失败时保留 dirty,由下一次定时刷新重试.
func (m *manager) flush(trigger string) error {
	if m.state == nil {
		m.dirty = false
		return nil
	}
	data, err := m.encode()
	if err == nil {
		err = m.writePrimary(data)
	}
	m.metrics.Flush(trigger, err)
	if err != nil {
		m.dirty = true
		return crawlerr.New(crawlerr.KindPersistence, "save state", err)
	}
	m.dirty = false
	if !m.backupOnSave {
		return nil
	}
	m.seq++
	if _, err := writeBackup(m.backupDir, m.crawlerID, data, m.now(), m.seq); err != nil {
		m.log.Warn("写入备份失败", zap.Error(err))
		return nil
	}
	if n, err := pruneBackups(m.backupDir, m.crawlerID, m.maxBackups); err != nil {
		m.log.Warn("裁剪备份失败", zap.Error(err))
	} else if n > 0 {
		m.log.Debug("裁剪旧备份", zap.Int("removed", n))
	}
	return nil
}

func (m *manager) apply(patch model.StatePatch) {
	if m.state == nil {
		m.state = model.NewCrawlState(m.crawlerID, m.now())
	}
	before := m.state.ItemsCollected
	if !m.state.Apply(patch, m.now()) {
		m.log.Warn("items_collected 不能回退,已忽略",
			zap.Int("current", before), zap.Int("patch", *patch.ItemsCollected))
	}
}

func (m *manager) SaveState(ctx context.Context, patch model.StatePatch) error {
	return m.do(ctx, func(context.Context) error {
		m.apply(patch)
		return m.flush(triggerSave)
	})
}

func (m *manager) Stage(ctx context.Context, patch model.StatePatch) error {
	return m.do(ctx, func(context.Context) error {
		m.apply(patch)
		m.dirty = true
		return nil
	})
}

func (m *manager) GetState(ctx context.Context) (*model.CrawlState, error) {
	var st *model.CrawlState
	err := m.do(ctx, func(context.Context) error {
		st = m.state.Clone()
		return nil
	})
	return st, err
}

func (m *manager) MarkCompleted(ctx context.Context) error {
	return m.SaveState(ctx, model.StatePatch{Completed: model.Bool(true)})
}

// ClearState 删除主文件和该 crawler 的全部备份,否则下次启动会从备份恢复
func (m *manager) ClearState(ctx context.Context) error {
	return m.do(ctx, func(context.Context) error {
		m.state = nil
		m.dirty = false
		if err := os.Remove(primaryPath(m.dir, m.crawlerID)); err != nil && !os.IsNotExist(err) {
			return crawlerr.New(crawlerr.KindPersistence, "clear state", err)
		}
		if _, err := pruneBackups(m.backupDir, m.crawlerID, 0); err != nil {
			return crawlerr.New(crawlerr.KindPersistence, "clear state", err)
		}
		m.log.Info("已清除检查点")
		return nil
	})
}

func (m *manager) Flush(ctx context.Context) error {
	return m.do(ctx, func(context.Context) error {
		if !m.dirty {
			return nil
		}
		return m.flush(triggerManual)
	})
}

func (m *manager) recordStore(op string) (RecordStore, error) {
	if m.records == nil {
		return nil, crawlerr.Newf(crawlerr.KindConfiguration, op, "没有配置记录存储")
	}
	return m.records, nil
}

func (m *manager) SaveRecord(ctx context.Context, record *model.ExtractedRecord) error {
	store, err := m.recordStore("save record")
	if err != nil {
		return err
	}
	return m.do(ctx, func(ctx context.Context) error {
		return store.Put(ctx, model.RecordCollection, record.ID, record.ToDocument())
	})
}

func (m *manager) SaveRecords(ctx context.Context, records []*model.ExtractedRecord) error {
	if len(records) == 0 {
		return nil
	}
	store, err := m.recordStore("save records")
	if err != nil {
		return err
	}
	batch := make([]persistence.Keyed, 0, len(records))
	for _, r := range records {
		batch = append(batch, persistence.Keyed{Key: r.ID, Doc: r.ToDocument()})
	}
	return m.do(ctx, func(ctx context.Context) error {
		return store.PutBatch(ctx, model.RecordCollection, batch)
	})
}

func (m *manager) QueryRecords(ctx context.Context, filter persistence.Filter) ([]persistence.Document, error) {
	store, err := m.recordStore("query records")
	if err != nil {
		return nil, err
	}
	var docs []persistence.Document
	err = m.do(ctx, func(ctx context.Context) error {
		var qerr error
		docs, qerr = store.Query(ctx, model.RecordCollection, filter)
		return qerr
	})
	return docs, err
}

// Close 停止后台刷新,未落盘的 Stage 会在退出前写入
func (m *manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.quit)
		<-m.done
		if m.closeErr != nil {
			m.log.Error("关闭时刷新失败", zap.Error(m.closeErr))
		}
	})
	return m.closeErr
}
