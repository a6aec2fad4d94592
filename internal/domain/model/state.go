package model

import (
	"maps"
	"time"
)

// CrawlState 爬取进度,由 checkpoint.Manager 独占,只能通过 StatePatch 做字段级合并
type CrawlState struct {
	CrawlerID        string            `json:"crawler_id"`
	CurrentPage      int               `json:"current_page"`
	CurrentItemIndex int               `json:"current_item_index"`
	ItemsCollected   int               `json:"items_collected"`
	Completed        bool              `json:"completed"`
	CreatedTime      time.Time         `json:"created_time"`
	UpdatedTime      time.Time         `json:"updated_time"`
	LastError        string            `json:"last_error,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// StatePatch 部分状态,nil 字段表示不修改
type StatePatch struct {
	CurrentPage      *int
	CurrentItemIndex *int
	ItemsCollected   *int
	Completed        *bool
	LastError        *string
	Extra            map[string]string
}

func NewCrawlState(crawlerID string, now time.Time) *CrawlState {
	return &CrawlState{
		CrawlerID:   crawlerID,
		CurrentPage: 1,
		CreatedTime: now,
		UpdatedTime: now,
	}
}

// Apply 将 patch 合并进当前状态并更新 UpdatedTime.
// ItemsCollected 只增不减,较小的值会被忽略,返回 false 表示发生了忽略.
func (s *CrawlState) Apply(p StatePatch, now time.Time) bool {
	accepted := true
	if p.CurrentPage != nil {
		s.CurrentPage = *p.CurrentPage
	}
	if p.CurrentItemIndex != nil {
		s.CurrentItemIndex = *p.CurrentItemIndex
	}
	if p.ItemsCollected != nil {
		if *p.ItemsCollected >= s.ItemsCollected {
			s.ItemsCollected = *p.ItemsCollected
		} else {
			accepted = false
		}
	}
	if p.Completed != nil {
		s.Completed = *p.Completed
	}
	if p.LastError != nil {
		s.LastError = *p.LastError
	}
	if len(p.Extra) > 0 {
		if s.Extra == nil {
			s.Extra = make(map[string]string, len(p.Extra))
		}
		maps.Copy(s.Extra, p.Extra)
	}
	if s.CreatedTime.IsZero() {
		s.CreatedTime = now
	}
	s.UpdatedTime = now
	return accepted
}

func (s *CrawlState) Clone() *CrawlState {
	if s == nil {
		return nil
	}
	c := *s
	c.Extra = maps.Clone(s.Extra)
	return &c
}

func (p StatePatch) IsEmpty() bool {
	return p.CurrentPage == nil && p.CurrentItemIndex == nil && p.ItemsCollected == nil &&
		p.Completed == nil && p.LastError == nil && len(p.Extra) == 0
}

func Int(v int) *int          { return &v }
func Bool(v bool) *bool       { return &v }
func String(v string) *string { return &v }
