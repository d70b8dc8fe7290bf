package index

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder. An empty baseURL targets the
// public OpenAI API; local servers (Ollama, llama.cpp) usually need a
// placeholder key.
func NewOpenAIEmbedder(baseURL, apiKey, model string) *OpenAIEmbedder {
	if apiKey == "" {
		apiKey = "unused"
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, apperrors.Unavailable("index.embed", "embedding endpoint", err)
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, apperrors.Unavailable("index.embed", "embedding endpoint",
				fmt.Errorf("no embedding returned for input %d", i))
		}
	}
	return out, nil
}
