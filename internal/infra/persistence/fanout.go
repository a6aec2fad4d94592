package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Fanout 写操作并发发往所有后端,任意一个成功即视为成功; 读操作按顺序尝试
type Fanout struct {
	backends []Backend
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewFanout(backends []Backend, log *zap.Logger, m *metrics.Metrics) *Fanout {
	return &Fanout{backends: backends, log: logger.OrNop(log).Named("persistence"), metrics: m}
}

func (f *Fanout) Backends() []string {
	names := make([]string, 0, len(f.backends))
	for _, b := range f.backends {
		names = append(names, b.Name())
	}
	return names
}

// each 每个后端一个 goroutine,单个后端失败不取消其他后端
func (f *Fanout) each(ctx context.Context, op string, fn func(ctx context.Context, b Backend) error) error {
	if len(f.backends) == 0 {
		return crawlerr.Newf(crawlerr.KindPersistence, op, "没有配置存储后端")
	}
	errs := make([]error, len(f.backends))
	var g errgroup.Group
	for i, b := range f.backends {
		g.Go(func() error {
			err := fn(ctx, b)
			f.metrics.BackendWrite(b.Name(), err)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", b.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	acked := 0
	for i, err := range errs {
		if err == nil {
			acked++
			continue
		}
		f.log.Warn("存储后端写入失败", zap.String("op", op), zap.String("backend", f.backends[i].Name()), zap.Error(err))
	}
	if acked == 0 {
		return crawlerr.New(crawlerr.KindPersistence, op, errors.Join(errs...))
	}
	return nil
}

func (f *Fanout) Put(ctx context.Context, collection, key string, doc Document) error {
	return f.each(ctx, "put "+collection, func(ctx context.Context, b Backend) error {
		return b.Put(ctx, collection, key, doc)
	})
}

// PutBatch 后端实现 BatchPutter 时整批写入,否则逐条写入
func (f *Fanout) PutBatch(ctx context.Context, collection string, docs []Keyed) error {
	if len(docs) == 0 {
		return nil
	}
	return f.each(ctx, "put batch "+collection, func(ctx context.Context, b Backend) error {
		if bp, ok := b.(BatchPutter); ok {
			return bp.PutBatch(ctx, collection, docs)
		}
		for _, d := range docs {
			if err := b.Put(ctx, collection, d.Key, d.Doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (f *Fanout) Delete(ctx context.Context, collection, key string) error {
	return f.each(ctx, "delete "+collection, func(ctx context.Context, b Backend) error {
		return b.Delete(ctx, collection, key)
	})
}

func (f *Fanout) Get(ctx context.Context, collection, key string) (Document, bool, error) {
	var errs []error
	for _, b := range f.backends {
		doc, ok, err := b.Get(ctx, collection, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		if ok {
			return doc, true, nil
		}
	}
	if len(errs) == len(f.backends) && len(errs) > 0 {
		return nil, false, crawlerr.New(crawlerr.KindPersistence, "get "+collection, errors.Join(errs...))
	}
	return nil, false, nil
}

// Query 返回第一个可用后端的结果
func (f *Fanout) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	var errs []error
	for _, b := range f.backends {
		docs, err := b.Query(ctx, collection, filter)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		return docs, nil
	}
	return nil, crawlerr.New(crawlerr.KindPersistence, "query "+collection, errors.Join(errs...))
}

func (f *Fanout) Close() error {
	var errs []error
	for _, b := range f.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
