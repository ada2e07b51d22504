package ai

import (
	"context"

	"github.com/amishk599/leadscout/internal/model"
)

// NopGenerator is used when ai.enabled is false. It returns an empty
// enrichment with no score, so scoring falls back to keyword overlap.
type NopGenerator struct{}

// NewNopGenerator returns a NopGenerator.
func NewNopGenerator() *NopGenerator {
	return &NopGenerator{}
}

// Generate returns an empty enrichment.
func (n *NopGenerator) Generate(_ context.Context, _ model.EnrichmentRequest) (model.Enrichment, error) {
	return model.Enrichment{}, nil
}
