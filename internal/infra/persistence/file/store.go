// Package file 本地目录存储,每个文档一个 JSON 文件: <dir>/<collection>/<key>.json
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence"
)

type store struct {
	dir string
	mu  sync.RWMutex
}

func InitStore(dir string) (persistence.Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &store{dir: dir}, nil
}

func (s *store) Name() string { return "file" }

// safeName key 中的路径分隔符替换掉,避免写出目录之外
func safeName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return r.Replace(name)
}

func (s *store) path(collection, key string) string {
	return filepath.Join(s.dir, safeName(collection), safeName(key)+".json")
}

// WriteFileAtomic 先写临时文件再重命名,读者不会看到写了一半的文件
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func (s *store) Put(ctx context.Context, collection, key string, doc persistence.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("序列化文档失败: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteFileAtomic(s.path(collection, key), data, 0o644); err != nil {
		return fmt.Errorf("写入文档失败: %w", err)
	}
	return nil
}

func readDoc(path string) (persistence.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc persistence.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("解析文档 %s 失败: %w", filepath.Base(path), err)
	}
	return doc, nil
}

func (s *store) Get(ctx context.Context, collection, key string) (persistence.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, err := readDoc(s.path(collection, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Query 按文件名排序后逐个过滤
func (s *store) Query(ctx context.Context, collection string, filter persistence.Filter) ([]persistence.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir := filepath.Join(s.dir, safeName(collection))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取存储目录失败: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []persistence.Document
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		doc, err := readDoc(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		if persistence.Matches(doc, filter) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *store) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(collection, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("删除文档失败: %w", err)
	}
	return nil
}

func (s *store) Close() error { return nil }
