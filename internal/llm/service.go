package llm

import (
	"context"

	"github.com/ljutzkanovltd/codeharvest/internal/config"
)

// Service bundles the summarization model and the embedder behind the
// Provider interface consumed by the extraction pipeline.
type Service struct {
	model    *Model
	embedder *Embedder
}

var _ Provider = (*Service)(nil)

// NewService creates the provider from configuration.
func NewService(cfg config.Config) (*Service, error) {
	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	embedder, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	return &Service{model: model, embedder: embedder}, nil
}

// Summarize produces a short summary of a code block.
func (s *Service) Summarize(ctx context.Context, code, contextWindow string) (string, error) {
	return s.model.Summarize(ctx, code, contextWindow)
}

// Embed generates an embedding vector for text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

// Dimension returns the embedding vector width.
func (s *Service) Dimension() int {
	return s.embedder.Dimension()
}
