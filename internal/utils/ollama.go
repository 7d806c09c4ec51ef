package utils

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// embeddingRequest Ollama embedding API 请求结构
type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embeddingResponse Ollama embedding API 响应结构
type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embedder 文本 → 向量，模型本身是黑盒
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// OllamaEmbedder 调用 Ollama /api/embeddings 生成向量
type OllamaEmbedder struct {
	client *HTTPClient
	host   string
	model  string
	dim    int
}

// NewOllamaEmbedder dim 为期望的向量维度，<=0 时不校验
func NewOllamaEmbedder(host, model string, dim int) *OllamaEmbedder {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{
		client: NewHTTPClient("ollama", 60*time.Second),
		host:   strings.TrimRight(host, "/"),
		model:  model,
		dim:    dim,
	}
}

// Model 模型名，写入 Embedding.Model 便于换模型后识别旧向量
func (e *OllamaEmbedder) Model() string {
	return e.model
}

// Embed 生成向量
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embedding 输入为空")
	}

	var result embeddingResponse
	err := e.client.PostJSON(ctx, e.host+"/api/embeddings", embeddingRequest{
		Model:  e.model,
		Prompt: text,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding 请求失败: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama 返回空向量")
	}
	if e.dim > 0 && len(result.Embedding) != e.dim {
		return nil, fmt.Errorf("向量维度不匹配: 期望 %d, 实际 %d", e.dim, len(result.Embedding))
	}
	return result.Embedding, nil
}
