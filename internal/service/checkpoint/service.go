package checkpoint

import (
	"context"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence"
)

// Manager 爬取进度与记录的唯一持有者.
// 所有写操作(包括定时刷新)都经由同一个 goroutine 串行执行.
type Manager interface {
	// SaveState 合并 patch 并立即写入主文件
	SaveState(ctx context.Context, patch model.StatePatch) error
	// Stage 只合并到内存,由定时刷新或下一次 SaveState 落盘
	Stage(ctx context.Context, patch model.StatePatch) error
	// GetState 返回状态副本,ClearState 之后返回 nil
	GetState(ctx context.Context) (*model.CrawlState, error)
	MarkCompleted(ctx context.Context) error
	ClearState(ctx context.Context) error
	SaveRecord(ctx context.Context, record *model.ExtractedRecord) error
	SaveRecords(ctx context.Context, records []*model.ExtractedRecord) error
	QueryRecords(ctx context.Context, filter persistence.Filter) ([]persistence.Document, error)
	Flush(ctx context.Context) error
	// Recovered 启动时状态的来源
	Recovered() Source
	Close() error
}

// RecordStore 记录的写入目标,通常是 *persistence.Fanout
type RecordStore interface {
	Put(ctx context.Context, collection, key string, doc persistence.Document) error
	PutBatch(ctx context.Context, collection string, docs []persistence.Keyed) error
	Query(ctx context.Context, collection string, filter persistence.Filter) ([]persistence.Document, error)
}

type Source string

const (
	SourcePrimary Source = "primary"
	SourceBackup  Source = "backup"
	SourceFresh   Source = "fresh"
)
