// Package redisstore 每个集合一个 hash: <prefix>:<collection>, field 为 key, value 为 JSON 文档
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence"
	"github.com/redis/go-redis/v9"
)

const connectionTimeout = 5 * time.Second

type store struct {
	client *redis.Client
	prefix string
}

func InitStore(cfg *config.Config) (persistence.Backend, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("未配置 redis 地址")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 redis 失败: %w", err)
	}
	return NewStore(client, cfg.Redis.KeyPrefix), nil
}

func NewStore(client *redis.Client, prefix string) persistence.Backend {
	return &store{client: client, prefix: prefix}
}

func (s *store) Name() string { return "redis" }

func (s *store) hash(collection string) string {
	return s.prefix + ":" + collection
}

func (s *store) Put(ctx context.Context, collection, key string, doc persistence.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("序列化文档失败: %w", err)
	}
	return s.client.HSet(ctx, s.hash(collection), key, data).Err()
}

// PutBatch 一次 pipeline 写入整批文档
func (s *store) PutBatch(ctx context.Context, collection string, docs []persistence.Keyed) error {
	values := make([]any, 0, len(docs)*2)
	for _, d := range docs {
		data, err := json.Marshal(d.Doc)
		if err != nil {
			return fmt.Errorf("序列化文档失败: %w", err)
		}
		values = append(values, d.Key, data)
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.hash(collection), values...)
		return nil
	})
	return err
}

func (s *store) Get(ctx context.Context, collection, key string) (persistence.Document, bool, error) {
	data, err := s.client.HGet(ctx, s.hash(collection), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var doc persistence.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("解析文档失败: %w", err)
	}
	return doc, true, nil
}

// Query 用 HSCAN 遍历整个集合,在客户端过滤
func (s *store) Query(ctx context.Context, collection string, filter persistence.Filter) ([]persistence.Document, error) {
	var out []persistence.Document
	iter := s.client.HScan(ctx, s.hash(collection), 0, "", 200).Iterator()
	isValue := false
	for iter.Next(ctx) {
		// 迭代结果依次为 field, value
		if !isValue {
			isValue = true
			continue
		}
		isValue = false
		var doc persistence.Document
		if err := json.Unmarshal([]byte(iter.Val()), &doc); err != nil {
			continue
		}
		if persistence.Matches(doc, filter) {
			out = append(out, doc)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store) Delete(ctx context.Context, collection, key string) error {
	return s.client.HDel(ctx, s.hash(collection), key).Err()
}

func (s *store) Close() error {
	return s.client.Close()
}
