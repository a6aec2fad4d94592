package captcha

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/LouYuanbo1/stealthcrawler/internal/infra/logger"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/vision"
	"go.uber.org/zap"
)

type namedTranscriber struct {
	name string
	t    Transcriber
}

type namedDetector struct {
	name string
	d    ObjectDetector
}

// TranscriberChain 按优先级依次尝试: 本地模型, 外部服务, 人工输入
type TranscriberChain struct {
	links     []namedTranscriber
	minLength int
	log       *zap.Logger
}

func NewTranscriberChain(minLength int, log *zap.Logger) *TranscriberChain {
	return &TranscriberChain{minLength: minLength, log: logger.OrNop(log)}
}

// Add t 为 nil 时忽略,方便按配置拼装
func (c *TranscriberChain) Add(name string, t Transcriber) *TranscriberChain {
	if t != nil && !isNilInterface(t) {
		c.links = append(c.links, namedTranscriber{name: name, t: t})
	}
	return c
}

func (c *TranscriberChain) Len() int { return len(c.links) }

// Transcribe 返回识别结果和来源
func (c *TranscriberChain) Transcribe(ctx context.Context, image []byte) (string, string, error) {
	for _, l := range c.links {
		text, err := l.t.Transcribe(ctx, image)
		if err != nil {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			c.log.Warn("识别验证码文字失败", zap.String("source", l.name), zap.Error(err))
			continue
		}
		text = strings.Join(strings.Fields(text), "")
		if utf8.RuneCountInString(text) < c.minLength {
			c.log.Warn("识别结果过短", zap.String("source", l.name), zap.Int("length", utf8.RuneCountInString(text)))
			continue
		}
		return text, l.name, nil
	}
	return "", "", fmt.Errorf("所有识别方式都未得到结果")
}

// DetectorChain 按优先级依次尝试: 本地模型, 外部服务, 轮廓启发式
type DetectorChain struct {
	links     []namedDetector
	threshold float64
	log       *zap.Logger
}

func NewDetectorChain(threshold float64, log *zap.Logger) *DetectorChain {
	return &DetectorChain{threshold: threshold, log: logger.OrNop(log)}
}

func (c *DetectorChain) Add(name string, d ObjectDetector) *DetectorChain {
	if d != nil && !isNilInterface(d) {
		c.links = append(c.links, namedDetector{name: name, d: d})
	}
	return c
}

// Detect 返回第一个给出合格结果的检测器的结果,已按阈值过滤
func (c *DetectorChain) Detect(ctx context.Context, image []byte, targets []string) ([]vision.Detection, string, error) {
	for _, l := range c.links {
		dets, err := l.d.DetectObjects(ctx, image, targets)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			c.log.Warn("目标检测失败", zap.String("source", l.name), zap.Error(err))
			continue
		}
		accepted := make([]vision.Detection, 0, len(dets))
		for _, det := range dets {
			if det.Confidence >= c.threshold && matchesTarget(det.Label, targets) {
				accepted = append(accepted, det)
			}
		}
		if len(accepted) > 0 {
			return accepted, l.name, nil
		}
	}
	return nil, "", fmt.Errorf("没有检测到符合阈值的目标")
}

func matchesTarget(label string, targets []string) bool {
	// 轮廓启发式不区分类别
	if label == "object" || len(targets) == 0 {
		return true
	}
	for _, t := range targets {
		if strings.EqualFold(strings.TrimSpace(label), strings.TrimSpace(t)) {
			return true
		}
	}
	return false
}

// ContourDetector 最后的兜底,不依赖任何模型
type ContourDetector struct {
	MaxResults int
}

func (c ContourDetector) DetectObjects(ctx context.Context, image []byte, _ []string) ([]vision.Detection, error) {
	img, err := vision.Decode(image)
	if err != nil {
		return nil, err
	}
	return vision.DetectContours(vision.ToGray(img, 32), max(c.MaxResults, 1)), nil
}

// ManualTranscriber 把验证码图片写到临时目录,从 in 读取一行人工输入。
// 多个任务共享同一实例,提示与读取在锁内串行进行。
type ManualTranscriber struct {
	in  *bufio.Reader
	dir string
	log *zap.Logger

	mu    sync.Mutex
	once  sync.Once
	lines chan manualLine
}

type manualLine struct {
	line string
	err  error
}

func NewManualTranscriber(in io.Reader, dir string, log *zap.Logger) *ManualTranscriber {
	if dir == "" {
		dir = os.TempDir()
	}
	return &ManualTranscriber{
		in:    bufio.NewReader(in),
		dir:   dir,
		log:   logger.OrNop(log),
		lines: make(chan manualLine),
	}
}

// readLines 是 in 唯一的读者,读到错误后关闭 lines
func (m *ManualTranscriber) readLines() {
	defer close(m.lines)
	for {
		line, err := m.in.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		m.lines <- manualLine{line: strings.TrimSpace(line), err: err}
		if err != nil {
			return
		}
	}
}

func (m *ManualTranscriber) Transcribe(ctx context.Context, image []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.once.Do(func() { go m.readLines() })

	f, err := os.CreateTemp(m.dir, "captcha-*.png")
	if err != nil {
		return "", fmt.Errorf("保存验证码图片失败: %w", err)
	}
	path := f.Name()
	_, werr := f.Write(image)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", fmt.Errorf("保存验证码图片失败: %w", werr)
	}
	defer os.Remove(path)
	m.log.Info("请查看验证码图片并输入内容", zap.String("path", filepath.Clean(path)))

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r, ok := <-m.lines:
		if !ok {
			return "", fmt.Errorf("读取人工输入失败: %w", io.EOF)
		}
		if r.err != nil {
			return "", fmt.Errorf("读取人工输入失败: %w", r.err)
		}
		return r.line, nil
	}
}

func isNilInterface(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
