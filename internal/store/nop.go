package store

import (
	"context"
	"time"

	"github.com/amishk599/leadscout/internal/model"
)

// NopLeadStore is a lead store used in dry-run mode. It remembers nothing,
// so every candidate looks new on each collect.
type NopLeadStore struct{}

func NewNopLeadStore() *NopLeadStore { return &NopLeadStore{} }

func (NopLeadStore) GetLead(_ context.Context, _ model.LeadKey) (model.Lead, error) {
	return nil, model.ErrNotFound
}

func (NopLeadStore) GetEnriched(_ context.Context, _ model.LeadKey) (model.EnrichedLead, error) {
	return model.EnrichedLead{}, model.ErrNotFound
}

func (NopLeadStore) PutRaw(_ context.Context, _ model.RawLead) error { return nil }

func (NopLeadStore) PutIfAbsent(_ context.Context, _ model.EnrichedLead) (bool, error) {
	return true, nil
}

func (NopLeadStore) TopK(_ context.Context, _ string, _ int) ([]model.EnrichedLead, error) {
	return nil, nil
}

func (NopLeadStore) Purge(_ context.Context, _ time.Duration) (int64, error) { return 0, nil }
