package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/persistence/file"
)

type backupFile struct {
	path    string
	modTime time.Time
}

func fileID(crawlerID string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_").Replace(crawlerID)
}

func primaryPath(dir, crawlerID string) string {
	return filepath.Join(dir, fileID(crawlerID)+".state.json")
}

func backupPrefix(crawlerID string) string {
	return fileID(crawlerID) + ".state."
}

// backupPattern 只匹配 <id>.state.<时间>-<序号>.json, 不会匹配主文件或 id 以此为前缀的其他 crawler
func backupPattern(crawlerID string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(backupPrefix(crawlerID)) + `\d{8}T\d{6}\.\d{9}-\d{6,}\.json$`)
}

// listBackups 按 mtime 从新到旧排序,mtime 相同时按文件名
func listBackups(dir, crawlerID string) ([]backupFile, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pattern := backupPattern(crawlerID)
	var out []backupFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !pattern.MatchString(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, backupFile{path: filepath.Join(dir, name), modTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].modTime.Equal(out[j].modTime) {
			return out[i].modTime.After(out[j].modTime)
		}
		return out[i].path > out[j].path
	})
	return out, nil
}

// writeBackup 写入一份快照,并把 mtime 设为快照时间
func writeBackup(dir, crawlerID string, data []byte, at time.Time, seq uint64) (string, error) {
	name := fmt.Sprintf("%s%s-%06d.json", backupPrefix(crawlerID), at.UTC().Format("20060102T150405.000000000"), seq)
	path := filepath.Join(dir, name)
	if err := file.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Chtimes(path, at, at); err != nil {
		return "", err
	}
	return path, nil
}

// pruneBackups 只保留最新的 keep 个,返回删除的数量
func pruneBackups(dir, crawlerID string, keep int) (int, error) {
	backups, err := listBackups(dir, crawlerID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := keep; i < len(backups); i++ {
		if err := os.Remove(backups[i].path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func readState(path string) (*model.CrawlState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st model.CrawlState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("解析状态文件 %s 失败: %w", filepath.Base(path), err)
	}
	return &st, nil
}
