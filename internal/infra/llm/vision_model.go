package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/infra/vision"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// VisionModel 本地多模态模型,用于文字验证码识别和点选验证码目标检测
type VisionModel interface {
	Transcribe(ctx context.Context, image []byte) (string, error)
	DetectObjects(ctx context.Context, image []byte, targets []string) ([]vision.Detection, error)
}

type visionModel struct {
	chat model.BaseChatModel
}

// InitVisionModel 连接 ollama 上的视觉模型
func InitVisionModel(ctx context.Context, cfg *config.Config) (VisionModel, error) {
	cm, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: cfg.Captcha.Model.Host + ":" + strconv.Itoa(cfg.Captcha.Model.Port),
		Model:   cfg.Captcha.Model.Model,
		Timeout: 60 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("创建视觉模型失败: %w", err)
	}
	return NewVisionModel(cm), nil
}

func NewVisionModel(chat model.BaseChatModel) VisionModel {
	return &visionModel{chat: chat}
}

const transcribePrompt = "Read the characters in this captcha image. Reply with the characters only, no spaces or explanation."

const detectPrompt = `Find every object of these categories in the image: %s.
Reply with a JSON array only, each element {"label": string, "box": [x1, y1, x2, y2], "confidence": number between 0 and 1}, pixel coordinates.`

func imageMessage(prompt string, image []byte) *schema.Message {
	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: prompt},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
				},
			},
		},
	}
}

func (vm *visionModel) Transcribe(ctx context.Context, image []byte) (string, error) {
	msg, err := vm.chat.Generate(ctx, []*schema.Message{imageMessage(transcribePrompt, image)})
	if err != nil {
		return "", fmt.Errorf("模型识别失败: %w", err)
	}
	return CleanTranscription(msg.Content), nil
}

// CleanTranscription 去掉模型回复中的空白和引号
func CleanTranscription(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'`. ")
	return strings.Join(strings.Fields(s), "")
}

type rawDetection struct {
	Label      string    `json:"label"`
	Box        []float64 `json:"box"`
	Confidence float64   `json:"confidence"`
}

func (vm *visionModel) DetectObjects(ctx context.Context, image []byte, targets []string) ([]vision.Detection, error) {
	prompt := fmt.Sprintf(detectPrompt, strings.Join(targets, ", "))
	msg, err := vm.chat.Generate(ctx, []*schema.Message{imageMessage(prompt, image)})
	if err != nil {
		return nil, fmt.Errorf("模型检测失败: %w", err)
	}
	return ParseDetections(msg.Content, "model")
}

// ParseDetections 从模型回复中提取 JSON 数组
func ParseDetections(content, source string) ([]vision.Detection, error) {
	start, end := strings.Index(content, "["), strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("模型回复中没有检测结果: %q", content)
	}
	var raws []rawDetection
	if err := json.Unmarshal([]byte(content[start:end+1]), &raws); err != nil {
		return nil, fmt.Errorf("解析检测结果失败: %w", err)
	}
	out := make([]vision.Detection, 0, len(raws))
	for _, r := range raws {
		box := vision.BoxFromSlice(r.Box)
		if box.Empty() {
			continue
		}
		out = append(out, vision.Detection{Label: r.Label, Box: box, Confidence: r.Confidence, Source: source})
	}
	return out, nil
}
