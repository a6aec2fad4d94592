package embedding

import (
	"context"
	"strconv"
	"strings"

	"github.com/LouYuanbo1/stealthcrawler/internal/config"
	"github.com/LouYuanbo1/stealthcrawler/internal/domain/crawlerr"
	"github.com/cloudwego/eino-ext/components/embedding/ollama"
	einoembedding "github.com/cloudwego/eino/components/embedding"
)

// Embedder 记录文本向量化,ES 后端写入记录时附加向量
type Embedder interface {
	// Embed 按批量大小分批请求,返回的向量与 texts 一一对应
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type embedder struct {
	model     einoembedding.Embedder
	batchSize int
}

func InitEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	baseURL := cfg.Embedder.Host + ":" + strconv.Itoa(cfg.Embedder.Port)
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	model, err := ollama.NewEmbedder(ctx, &ollama.EmbeddingConfig{
		Model:   cfg.Embedder.Model,
		BaseURL: baseURL,
	})
	if err != nil {
		return nil, crawlerr.New(crawlerr.KindConfiguration, "init embedder", err)
	}
	return NewEmbedder(model, cfg.Embedder.BatchSize), nil
}

// NewEmbedder 包装任意 eino 向量模型
func NewEmbedder(model einoembedding.Embedder, batchSize int) Embedder {
	return &embedder{model: model, batchSize: max(batchSize, 1)}
}

func (e *embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vectors, err := e.model.EmbedStrings(ctx, texts[start:end])
		if err != nil {
			return nil, crawlerr.New(crawlerr.KindNetwork, "embed strings", err)
		}
		if len(vectors) != end-start {
			return nil, crawlerr.Newf(crawlerr.KindUnknown, "embed strings", "期望 %d 个向量, 实际 %d", end-start, len(vectors))
		}
		// dense_vector 使用 float32
		for _, v := range vectors {
			f := make([]float32, len(v))
			for i, x := range v {
				f[i] = float32(x)
			}
			out = append(out, f)
		}
	}
	return out, nil
}
