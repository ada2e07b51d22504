package model

import (
	"strings"
	"time"
)

// UserProfile is a user's pipeline settings. Read-only from the pipeline's point of view.
type UserProfile struct {
	Email     string
	IsActive  bool
	Platforms []string // source identifiers, e.g. "LinkedIn", "Greenhouse"
	Language  string   // locale code, e.g. "es", "en-US"
	FullName  string
}

// DisplayName returns the full name, falling back to the local part of the email.
func (p UserProfile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	local, _, _ := strings.Cut(p.Email, "@")
	return local
}

// NormalizePlatform folds a platform identifier so "Linked In" and "linkedin" match.
func NormalizePlatform(p string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(p), " ", ""))
}

// Candidate is a posting returned by a job source, not yet validated.
type Candidate struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	Source      string `json:"source"`
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
}

// LeadKey identifies a lead record. At most one record exists per key.
type LeadKey struct {
	UserEmail string
	JobURL    string
}

// Lead is either a RawLead or an EnrichedLead.
type Lead interface {
	Key() LeadKey
	isLead()
}

// RawLead is a collected posting awaiting enrichment.
type RawLead struct {
	UserEmail   string    `json:"userEmail"`
	JobURL      string    `json:"jobUrl"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	Title       string    `json:"title,omitempty"`
	Company     string    `json:"company,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

func (l RawLead) Key() LeadKey { return LeadKey{UserEmail: l.UserEmail, JobURL: l.JobURL} }
func (RawLead) isLead()        {}

// EnrichedLead carries the AI analysis and relevance score. Both are always present.
type EnrichedLead struct {
	RawLead
	AIAnalysis     string    `json:"aiAnalysis"`
	RelevanceScore int       `json:"relevanceScore"`
	EnrichedAt     time.Time `json:"enrichedAt,omitzero"`
}

func (EnrichedLead) isLead() {}

// RawLeadMessage is the durable channel payload between the collector and the analyzer.
type RawLeadMessage struct {
	UserEmail   string `json:"userEmail"`
	JobURL      string `json:"jobUrl"`
	Source      string `json:"source"`
	Description string `json:"description"`
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
}

// NewRawLeadMessage builds the channel payload for a validated candidate.
func NewRawLeadMessage(email string, c Candidate) RawLeadMessage {
	return RawLeadMessage{
		UserEmail:   email,
		JobURL:      c.URL,
		Source:      c.Source,
		Description: c.Description,
		Title:       c.Title,
		Company:     c.Company,
	}
}

// Lead returns the raw lead described by the message.
func (m RawLeadMessage) Lead() RawLead {
	return RawLead{
		UserEmail:   m.UserEmail,
		JobURL:      m.JobURL,
		Source:      m.Source,
		Description: m.Description,
		Title:       m.Title,
		Company:     m.Company,
	}
}

// CollectTask asks the collector to run for one user.
type CollectTask struct {
	UserEmail string `json:"userEmail"`
}

// NotifyTask asks the notifier to run for one user.
type NotifyTask struct {
	UserEmail string `json:"userEmail"`
}

// ProbeResult is the outcome of a URL reachability check.
type ProbeResult struct {
	Reachable  bool
	StatusCode int
}

// EnrichmentRequest is the input to an AI enrichment call.
type EnrichmentRequest struct {
	ProfileSummary string
	JobDescription string
	Language       string
	Title          string
	Company        string
}

// Enrichment is the output of an AI enrichment call.
type Enrichment struct {
	Analysis       string
	SuggestedScore *int // model's own 0-100 estimate, nil when absent
	MatchedSkills  []string
}

// ScoreInput is everything a scoring policy may look at.
type ScoreInput struct {
	ProfileSummary string
	Description    string
	Enrichment     Enrichment
}

// Email is one outbound message with a single sender and a single recipient.
type Email struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}
