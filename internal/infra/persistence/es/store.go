// Package es Elasticsearch 后端,每个集合一个索引: <prefix>-<collection>
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/embedding"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence"
	"github.com/elastic/go-elasticsearch/v9"
	"github.com/elastic/go-elasticsearch/v9/esutil"
	"github.com/elastic/go-elasticsearch/v9/typedapi/types"
	"go.uber.org/zap"
)

const (
	embeddingField = "embedding"
	maxQuerySize   = 10000
)

// 显式映射为 keyword 的字段,过滤时直接用 term
var keywordFields = []string{"id", "metadata.crawler_id", "metadata.crawler_name", "metadata.source_url", "crawler_id"}

type store struct {
	client   *elasticsearch.TypedClient
	prefix   string
	embedder embedding.Embedder
	log      *zap.Logger

	mu      sync.Mutex
	indices map[string]bool
}

// InitStore embedder 为 nil 时不写入向量
func InitStore(cfg *config.Config, embedder embedding.Embedder, log *zap.Logger) (persistence.Backend, error) {
	typedClient, err := elasticsearch.NewTypedClient(elasticsearch.Config{
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password,
		Addresses: []string{cfg.Elasticsearch.Address},
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			// 跳过TLS验证（仅在开发环境中使用）
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 Elasticsearch 客户端失败: %w", err)
	}
	return &store{
		client:   typedClient,
		prefix:   cfg.Elasticsearch.IndexPrefix,
		embedder: embedder,
		log:      logger.OrNop(log).Named("es"),
		indices:  make(map[string]bool),
	}, nil
}

func (s *store) Name() string { return "elasticsearch" }

func (s *store) index(collection string) string {
	return strings.ToLower(s.prefix + "-" + collection)
}

func mapping() *types.TypeMapping {
	meta := types.NewObjectProperty()
	meta.Properties = map[string]types.Property{
		"crawler_id":   types.NewKeywordProperty(),
		"crawler_name": types.NewKeywordProperty(),
		"source_url":   types.NewKeywordProperty(),
		"crawl_time":   types.NewDateProperty(),
		"page":         types.NewIntegerNumberProperty(),
		"item_index":   types.NewIntegerNumberProperty(),
		"success":      types.NewBooleanProperty(),
	}
	return &types.TypeMapping{Properties: map[string]types.Property{
		"id":         types.NewKeywordProperty(),
		"crawler_id": types.NewKeywordProperty(),
		"metadata":   meta,
	}}
}

// ensureIndex 每个索引只检查一次
func (s *store) ensureIndex(ctx context.Context, collection string) (string, error) {
	index := s.index(collection)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indices[index] {
		return index, nil
	}
	exists, err := s.client.Indices.Exists(index).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("检查索引是否存在失败: %w", err)
	}
	if !exists {
		if _, err := s.client.Indices.Create(index).Mappings(mapping()).Do(ctx); err != nil {
			return "", fmt.Errorf("创建索引失败: %w", err)
		}
		s.log.Info("已创建索引", zap.String("index", index))
	}
	s.indices[index] = true
	return index, nil
}

// withEmbeddings 只给记录附加向量,失败时照常写入不带向量的文档
func (s *store) withEmbeddings(ctx context.Context, collection string, docs []persistence.Keyed) []persistence.Keyed {
	if s.embedder == nil || collection != model.RecordCollection {
		return docs
	}
	out := make([]persistence.Keyed, len(docs))
	copy(out, docs)
	texts := make([]string, 0, len(out))
	for _, d := range out {
		texts = append(texts, persistence.TextOf(d.Doc))
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		s.log.Warn("生成向量失败,写入不带向量的文档", zap.Error(err))
		return out
	}
	for i, v := range vectors {
		doc := maps.Clone(out[i].Doc)
		doc[embeddingField] = v
		out[i].Doc = doc
	}
	return out
}

func (s *store) Put(ctx context.Context, collection, key string, doc persistence.Document) error {
	index, err := s.ensureIndex(ctx, collection)
	if err != nil {
		return err
	}
	doc = s.withEmbeddings(ctx, collection, []persistence.Keyed{{Key: key, Doc: doc}})[0].Doc
	if _, err := s.client.Index(index).Id(key).Document(doc).Do(ctx); err != nil {
		return fmt.Errorf("写入文档失败: %w", err)
	}
	return nil
}

// PutBatch 使用 BulkIndexer 批量写入,有任何失败都返回错误
func (s *store) PutBatch(ctx context.Context, collection string, docs []persistence.Keyed) error {
	index, err := s.ensureIndex(ctx, collection)
	if err != nil {
		return err
	}
	docs = s.withEmbeddings(ctx, collection, docs)

	var failed atomic.Int64
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:         index,
		Client:        s.client,
		NumWorkers:    2,
		FlushBytes:    5 * 1024 * 1024,
		FlushInterval: 30 * time.Second,
		OnError: func(ctx context.Context, err error) {
			s.log.Error("批量写入出错", zap.Error(err))
		},
	})
	if err != nil {
		return fmt.Errorf("创建批量写入器失败: %w", err)
	}
	for _, d := range docs {
		data, err := json.Marshal(d.Doc)
		if err != nil {
			failed.Add(1)
			continue
		}
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: d.Key,
			Body:       bytes.NewReader(data),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				failed.Add(1)
				s.log.Warn("文档写入失败", zap.String("id", item.DocumentID), zap.String("reason", res.Error.Reason), zap.Error(err))
			},
		})
		if err != nil {
			failed.Add(1)
		}
	}
	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("关闭批量写入器失败: %w", err)
	}
	stats := bi.Stats()
	s.log.Debug("批量写入完成", zap.Uint64("indexed", stats.NumIndexed), zap.Int64("failed", failed.Load()))
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d 个文档写入失败", n)
	}
	return nil
}

func decode(raw json.RawMessage) (persistence.Document, error) {
	var doc persistence.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("解析文档失败: %w", err)
	}
	delete(doc, embeddingField)
	return doc, nil
}

func (s *store) Get(ctx context.Context, collection, key string) (persistence.Document, bool, error) {
	index, err := s.ensureIndex(ctx, collection)
	if err != nil {
		return nil, false, err
	}
	resp, err := s.client.Get(index, key).Do(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("读取文档失败: %w", err)
	}
	if !resp.Found {
		return nil, false, nil
	}
	doc, err := decode(resp.Source_)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// BuildQuery 字段相等过滤转换为 bool filter,未显式映射的字符串字段使用 .keyword 子字段
func BuildQuery(filter persistence.Filter) *types.Query {
	if len(filter) == 0 {
		return &types.Query{MatchAll: types.NewMatchAllQuery()}
	}
	terms := make([]types.Query, 0, len(filter))
	for field, value := range filter {
		name := field
		if _, ok := value.(string); ok && !slices.Contains(keywordFields, field) {
			name = field + ".keyword"
		}
		terms = append(terms, types.Query{Term: map[string]types.TermQuery{name: {Value: value}}})
	}
	return &types.Query{Bool: &types.BoolQuery{Filter: terms}}
}

func (s *store) Query(ctx context.Context, collection string, filter persistence.Filter) ([]persistence.Document, error) {
	index, err := s.ensureIndex(ctx, collection)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Search().
		Index(index).
		Query(BuildQuery(filter)).
		Size(maxQuerySize).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("搜索失败: %w", err)
	}
	results := make([]persistence.Document, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		doc, err := decode(hit.Source_)
		if err != nil {
			continue
		}
		results = append(results, doc)
	}
	return results, nil
}

func (s *store) Delete(ctx context.Context, collection, key string) error {
	index, err := s.ensureIndex(ctx, collection)
	if err != nil {
		return err
	}
	if _, err := s.client.Delete(index, key).Do(ctx); err != nil {
		return fmt.Errorf("删除文档失败: %w", err)
	}
	return nil
}

func (s *store) Close() error { return nil }
