// Package objectstore 对象存储后端,每个文档一个对象: <collection>/<key>.json
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type store struct {
	client *minio.Client
	bucket string
}

func InitStore(ctx context.Context, cfg *config.Config) (persistence.Backend, error) {
	mc := cfg.MinIO
	if mc.Endpoint == "" {
		return nil, fmt.Errorf("未配置对象存储地址")
	}
	client, err := minio.New(mc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(mc.AccessKey, mc.SecretKey, ""),
		Secure: mc.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建对象存储客户端失败: %w", err)
	}
	exists, err := client.BucketExists(ctx, mc.Bucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, mc.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
	}
	return &store{client: client, bucket: mc.Bucket}, nil
}

func (s *store) Name() string { return "minio" }

func ObjectKey(collection, key string) string {
	return strings.Trim(collection, "/") + "/" + strings.ReplaceAll(key, "/", "_") + ".json"
}

func (s *store) Put(ctx context.Context, collection, key string, doc persistence.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("序列化文档失败: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, ObjectKey(collection, key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("上传文档失败: %w", err)
	}
	return nil
}

func notFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func (s *store) read(ctx context.Context, object string) (persistence.Document, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}
	var doc persistence.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("解析文档 %s 失败: %w", object, err)
	}
	return doc, nil
}

func (s *store) Get(ctx context.Context, collection, key string) (persistence.Document, bool, error) {
	doc, err := s.read(ctx, ObjectKey(collection, key))
	if err != nil {
		if notFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return doc, true, nil
}

func (s *store) Query(ctx context.Context, collection string, filter persistence.Filter) ([]persistence.Document, error) {
	var out []persistence.Document
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    strings.Trim(collection, "/") + "/",
		Recursive: true,
	})
	for info := range objects {
		if info.Err != nil {
			return nil, info.Err
		}
		if !strings.HasSuffix(info.Key, ".json") {
			continue
		}
		doc, err := s.read(ctx, info.Key)
		if err != nil {
			if notFound(err) {
				continue
			}
			return nil, err
		}
		if persistence.Matches(doc, filter) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *store) Delete(ctx context.Context, collection, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, ObjectKey(collection, key), minio.RemoveObjectOptions{})
}

func (s *store) Close() error { return nil }
