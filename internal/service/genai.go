package service

import (
	"context"
	"fmt"

	"manifest/internal/config"

	"google.golang.org/genai"
)

// GenAIEmbedder generates embeddings using Google's Gemini API
type GenAIEmbedder struct {
	client     *genai.Client
	model      string
	taskType   string
	dimensions int32
}

// NewGenAIEmbedder creates a Gemini embedding client
func NewGenAIEmbedder(ctx context.Context, cfg config.GenAIConfig) (*GenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, ErrProviderDisabled
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-embedding-001"
	}
	taskType := cfg.TaskType
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEmbedder{
		client:     client,
		model:      model,
		taskType:   taskType,
		dimensions: int32(cfg.Dimensions),
	}, nil
}

// Name identifies the provider
func (e *GenAIEmbedder) Name() string {
	return "genai:" + e.model
}

// Embed creates the embedding for a single text
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, ErrNoVector
	}
	return embeddings[0], nil
}

// EmbedBatch creates embeddings for texts in one call
func (e *GenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{TaskType: e.taskType}
	if e.dimensions > 0 {
		dims := e.dimensions
		cfg.OutputDimensionality = &dims
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, ErrNoVector
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}

var _ Embedder = (*GenAIEmbedder)(nil)
