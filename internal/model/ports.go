package model

import (
	"context"
	"time"
)

// UserPage is one page of an active-user scan. NextToken is empty on the last page.
type UserPage struct {
	Users     []UserProfile
	NextToken string
}

// SettingsStore reads per-user configuration.
type SettingsStore interface {
	// GetUser returns ErrNotFound when no profile exists for email.
	GetUser(ctx context.Context, email string) (UserProfile, error)
	ScanActive(ctx context.Context, pageToken string, limit int) (UserPage, error)
}

// LeadStore persists job leads keyed by (userEmail, jobUrl).
type LeadStore interface {
	GetLead(ctx context.Context, key LeadKey) (Lead, error)
	// GetEnriched returns ErrNotFound when the lead is absent or still raw.
	GetEnriched(ctx context.Context, key LeadKey) (EnrichedLead, error)
	// PutRaw creates a raw lead or refreshes its fields while it is still raw.
	PutRaw(ctx context.Context, lead RawLead) error
	// PutIfAbsent stores an enriched lead unless one already exists for the key.
	PutIfAbsent(ctx context.Context, lead EnrichedLead) (inserted bool, err error)
	// TopK returns up to k enriched leads by score desc, newest first on ties.
	TopK(ctx context.Context, userEmail string, k int) ([]EnrichedLead, error)
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// JobSource finds candidate postings restricted to the given platforms.
type JobSource interface {
	Search(ctx context.Context, platforms []string) ([]Candidate, error)
}

// Prober checks whether a URL is reachable.
type Prober interface {
	Probe(ctx context.Context, url string) (ProbeResult, error)
}

// Generator produces an AI analysis of a posting for a profile.
type Generator interface {
	Generate(ctx context.Context, req EnrichmentRequest) (Enrichment, error)
}

// ProfileSource returns the condensed CV summary for a user.
type ProfileSource interface {
	Summary(ctx context.Context, email string) (string, error)
}

// ScoringPolicy maps an enrichment to a relevance score in [0,100].
type ScoringPolicy interface {
	Score(in ScoreInput) int
}

// Mailer delivers a rendered report.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// JobFetcher pulls every current posting from one board.
type JobFetcher interface {
	FetchJobs(ctx context.Context) ([]Candidate, error)
}
