package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordCollection 记录在存储后端中的集合名
const RecordCollection = "records"

type RecordMetadata struct {
	CrawlerName string    `json:"crawler_name"`
	CrawlerID   string    `json:"crawler_id"`
	CrawlTime   time.Time `json:"crawl_time"`
	Success     bool      `json:"success"`
	Page        int       `json:"page"`
	ItemIndex   int       `json:"item_index"`
	SourceURL   string    `json:"source_url,omitempty"`
}

// ExtractedRecord 一条列表项及其详情页数据,写入后不可修改,更新时生成新的记录
type ExtractedRecord struct {
	ID         string         `json:"id"`
	ListData   map[string]any `json:"list_data"`
	DetailData map[string]any `json:"detail_data,omitempty"`
	Metadata   RecordMetadata `json:"metadata"`
}

func NewRecord(listData, detailData map[string]any, meta RecordMetadata) *ExtractedRecord {
	return &ExtractedRecord{
		ID:         uuid.NewString(),
		ListData:   listData,
		DetailData: detailData,
		Metadata:   meta,
	}
}

// ToDocument 转换成存储后端使用的文档结构
func (r *ExtractedRecord) ToDocument() map[string]any {
	return map[string]any{
		"id":          r.ID,
		"list_data":   r.ListData,
		"detail_data": r.DetailData,
		"metadata": map[string]any{
			"crawler_name": r.Metadata.CrawlerName,
			"crawler_id":   r.Metadata.CrawlerID,
			"crawl_time":   r.Metadata.CrawlTime.Format(time.RFC3339Nano),
			"success":      r.Metadata.Success,
			"page":         r.Metadata.Page,
			"item_index":   r.Metadata.ItemIndex,
			"source_url":   r.Metadata.SourceURL,
		},
	}
}

// EmbeddingString 用于生成向量的文本,列表字段在前,详情字段在后
func (r *ExtractedRecord) EmbeddingString() string {
	var sb strings.Builder
	for _, data := range []map[string]any{r.ListData, r.DetailData} {
		for k, v := range data {
			s, ok := v.(string)
			if !ok || s == "" {
				continue
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
