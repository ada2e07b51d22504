// Package analyzer enriches raw leads with an AI analysis and a relevance score.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/amishk599/leadscout/internal/metrics"
	"github.com/amishk599/leadscout/internal/model"
)

// Result summarizes one analyzed message.
type Result struct {
	Written        bool
	RelevanceScore int
}

// Analyzer handles one RawLeadMessage at a time. It is safe to run the same
// message more than once or concurrently: the conditional write in the lead
// store decides which enrichment is kept.
type Analyzer struct {
	settings  model.SettingsStore
	leads     model.LeadStore
	profiles  model.ProfileSource
	generator model.Generator
	policy    model.ScoringPolicy
	metrics   *metrics.Pipeline
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an analyzer wired with all its dependencies. m may be nil.
func New(
	settings model.SettingsStore,
	leads model.LeadStore,
	profiles model.ProfileSource,
	generator model.Generator,
	policy model.ScoringPolicy,
	m *metrics.Pipeline,
	logger *slog.Logger,
) *Analyzer {
	return &Analyzer{
		settings:  settings,
		leads:     leads,
		profiles:  profiles,
		generator: generator,
		policy:    policy,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Analyze enriches msg and writes it with putIfAbsent. Any returned error
// means the message should be redelivered.
func (a *Analyzer) Analyze(ctx context.Context, msg model.RawLeadMessage) (Result, error) {
	if strings.TrimSpace(msg.UserEmail) == "" || strings.TrimSpace(msg.JobURL) == "" {
		return Result{}, fmt.Errorf("analyzing message: %w: missing userEmail or jobUrl", model.ErrValidation)
	}
	log := a.logger.With("user_email", msg.UserEmail, "job_url", msg.JobURL)
	key := model.LeadKey{UserEmail: msg.UserEmail, JobURL: msg.JobURL}

	// A redelivered message for an already enriched lead skips the AI call.
	if _, err := a.leads.GetEnriched(ctx, key); err == nil {
		a.metrics.LeadAnalyzed(metrics.OutcomeConflict)
		log.Info("lead already enriched", "error", model.ErrConflictIgnored)
		return Result{}, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return Result{}, fmt.Errorf("analyzing %s: checking lead: %w", msg.JobURL, err)
	}

	lang := "en"
	user, err := a.settings.GetUser(ctx, msg.UserEmail)
	switch {
	case err == nil:
		if user.Language != "" {
			lang = user.Language
		}
	case errors.Is(err, model.ErrNotFound):
		log.Warn("user settings missing, using defaults")
	default:
		return Result{}, fmt.Errorf("analyzing %s: loading user: %w", msg.JobURL, err)
	}

	summary, err := a.profiles.Summary(ctx, msg.UserEmail)
	if err != nil {
		return Result{}, fmt.Errorf("analyzing %s: loading profile: %w", msg.JobURL, err)
	}

	start := time.Now()
	enrichment, err := a.generator.Generate(ctx, model.EnrichmentRequest{
		ProfileSummary: summary,
		JobDescription: msg.Description,
		Language:       lang,
		Title:          msg.Title,
		Company:        msg.Company,
	})
	a.metrics.ObserveAI(time.Since(start))
	if err != nil {
		a.metrics.LeadAnalyzed(metrics.OutcomeError)
		return Result{}, fmt.Errorf("analyzing %s: generating: %w", msg.JobURL, err)
	}

	score := a.policy.Score(model.ScoreInput{
		ProfileSummary: summary,
		Description:    msg.Description,
		Enrichment:     enrichment,
	})

	lead := model.EnrichedLead{
		RawLead:        msg.Lead(),
		AIAnalysis:     enrichment.Analysis,
		RelevanceScore: score,
		EnrichedAt:     a.now(),
	}
	inserted, err := a.leads.PutIfAbsent(ctx, lead)
	if err != nil {
		return Result{}, fmt.Errorf("analyzing %s: storing: %w", msg.JobURL, err)
	}
	if !inserted {
		a.metrics.LeadAnalyzed(metrics.OutcomeConflict)
		log.Info("enrichment discarded", "error", model.ErrConflictIgnored)
		return Result{RelevanceScore: score}, nil
	}

	a.metrics.LeadAnalyzed(metrics.OutcomeWritten)
	log.Info("lead enriched", "relevance_score", score, "matched_skills", len(enrichment.MatchedSkills))
	return Result{Written: true, RelevanceScore: score}, nil
}
