package fingerprint

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/model"
)

const (
	StrategyRoundRobin = "round_robin"
	StrategyWeighted   = "weighted"
)

// 加权模式下每个指纹的权重范围 [1, maxWeight]
const maxWeight = 10

type Pool interface {
	// Acquire 选出一个指纹并记录使用,返回副本
	Acquire() (model.FingerprintProfile, error)
	ReportOutcome(key string, success bool)
	Add(profile *model.FingerprintProfile)
	Remove(key string) bool
	Profiles() []model.FingerprintProfile
	Save(path string) error
}

type entry struct {
	profile       *model.FingerprintProfile
	currentWeight int
}

type pool struct {
	mu       sync.Mutex
	strategy string
	entries  []*entry
	cursor   int
	now      func() time.Time
}

func InitPool(strategy string, profiles []*model.FingerprintProfile, now func() time.Time) (Pool, error) {
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	if strategy != StrategyRoundRobin && strategy != StrategyWeighted {
		return nil, crawlerr.Newf(crawlerr.KindConfiguration, "init fingerprint pool", "未知的指纹选择策略: %s", strategy)
	}
	if now == nil {
		now = time.Now
	}
	p := &pool{strategy: strategy, now: now}
	for _, profile := range profiles {
		p.entries = append(p.entries, &entry{profile: profile})
	}
	return p, nil
}

// LoadPool 从 JSON 文件加载指纹池
func LoadPool(path, strategy string, now func() time.Time) (Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取指纹文件失败: %w", err)
	}
	var profiles []*model.FingerprintProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, crawlerr.New(crawlerr.KindConfiguration, "load fingerprint pool", fmt.Errorf("解析指纹文件失败: %w", err))
	}
	return InitPool(strategy, profiles, now)
}

func (p *pool) Acquire() (model.FingerprintProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return model.FingerprintProfile{}, crawlerr.Newf(crawlerr.KindConfiguration, "acquire fingerprint", "指纹池为空")
	}

	var chosen *entry
	switch p.strategy {
	case StrategyWeighted:
		chosen = p.nextWeighted()
	default:
		p.cursor %= len(p.entries)
		chosen = p.entries[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.entries)
	}

	chosen.profile.UseCount++
	chosen.profile.LastUsed = p.now()
	return *chosen.profile, nil
}

func weightOf(profile *model.FingerprintProfile) int {
	return 1 + int(math.Round(profile.SuccessRate()*float64(maxWeight-1)))
}

// nextWeighted 平滑加权轮询,任何指纹在一个权重周期内至少被选中一次
func (p *pool) nextWeighted() *entry {
	total := 0
	var best *entry
	for _, e := range p.entries {
		w := weightOf(e.profile)
		e.currentWeight += w
		total += w
		if best == nil || e.currentWeight > best.currentWeight {
			best = e
		}
	}
	best.currentWeight -= total
	return best
}

func (p *pool) ReportOutcome(key string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.profile.Key != key {
			continue
		}
		if success {
			e.profile.SuccessCount++
		} else {
			e.profile.FailCount++
		}
		return
	}
}

func (p *pool) Add(profile *model.FingerprintProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if profile.CreatedTime.IsZero() {
		profile.CreatedTime = p.now()
	}
	p.entries = append(p.entries, &entry{profile: profile})
}

func (p *pool) Remove(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		if e.profile.Key != key {
			continue
		}
		p.entries = append(p.entries[:i], p.entries[i+1:]...)
		if i < p.cursor {
			p.cursor--
		}
		return true
	}
	return false
}

func (p *pool) Profiles() []model.FingerprintProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.FingerprintProfile, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e.profile)
	}
	return out
}

func (p *pool) Save(path string) error {
	profiles := p.Profiles()
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("编码指纹失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("写入指纹文件失败: %w", err)
	}
	return os.Rename(tmp, path)
}
