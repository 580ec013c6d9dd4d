package embedder

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"
)

// GeminiEmbedder computes image embeddings through the Gemini API using a
// multimodal embedding model.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
	logger    arbor.ILogger
}

// NewGeminiEmbedder creates a Gemini-backed embedder.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimension int, logger arbor.ILogger) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger.Info().
		Str("model", model).
		Int("dimension", dimension).
		Msg("Gemini embedder initialized")

	return &GeminiEmbedder{
		client:    client,
		model:     model,
		dimension: dimension,
		logger:    logger,
	}, nil
}

// Embed generates an embedding for the image bytes. Failures surface as
// *ServiceError so the pipeline flags the item for a later pass.
func (g *GeminiEmbedder) Embed(ctx context.Context, data []byte, contentType string) ([]float32, error) {
	outputDim := int32(g.dimension)
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	}

	content := genai.NewContentFromBytes(data, contentType, genai.RoleUser)
	result, err := g.client.Models.EmbedContent(ctx, g.model, []*genai.Content{content}, config)
	if err != nil {
		return nil, &ServiceError{Model: g.model, Err: err}
	}

	var embedding []float32
	if result != nil && len(result.Embeddings) > 0 {
		embedding = result.Embeddings[0].Values
	}
	if len(embedding) == 0 {
		return nil, &ServiceError{Model: g.model, Err: fmt.Errorf("no embedding returned from API")}
	}
	if g.dimension > 0 && len(embedding) != g.dimension {
		return nil, &ServiceError{Model: g.model, Err: fmt.Errorf("embedding dimension mismatch: expected %d, got %d", g.dimension, len(embedding))}
	}

	return embedding, nil
}

// ModelVersion identifies the extraction model for provenance records.
func (g *GeminiEmbedder) ModelVersion() string {
	return g.model
}
