package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/amishk599/leadscout/internal/model"
)

const maxMatchedSkills = 10

// Enricher implements model.Generator using an LLM.
type Enricher struct {
	provider LLMProvider
	tmpl     *template.Template
	logger   *slog.Logger
}

// NewEnricher creates a generator that renders tmpl and sends it to provider.
func NewEnricher(provider LLMProvider, tmpl *template.Template, logger *slog.Logger) *Enricher {
	return &Enricher{
		provider: provider,
		tmpl:     tmpl,
		logger:   logger,
	}
}

type promptData struct {
	Language       string
	LanguageName   string
	ProfileSummary string
	JobDescription string
	Title          string
	Company        string
}

// Generate asks the LLM to analyze a posting against a profile summary.
func (e *Enricher) Generate(ctx context.Context, req model.EnrichmentRequest) (model.Enrichment, error) {
	if strings.TrimSpace(req.JobDescription) == "" {
		return model.Enrichment{}, fmt.Errorf("generate: %w: empty job description", model.ErrValidation)
	}

	var promptBuf bytes.Buffer
	if err := e.tmpl.Execute(&promptBuf, promptData{
		Language:       languageCode(req.Language),
		LanguageName:   languageName(req.Language),
		ProfileSummary: req.ProfileSummary,
		JobDescription: req.JobDescription,
		Title:          req.Title,
		Company:        req.Company,
	}); err != nil {
		return model.Enrichment{}, fmt.Errorf("render prompt: %w", err)
	}

	raw, err := e.provider.Complete(ctx, promptBuf.String())
	if err != nil {
		return model.Enrichment{}, fmt.Errorf("llm complete: %w", err)
	}

	out, err := parseEnrichment(raw)
	if err != nil {
		return model.Enrichment{}, fmt.Errorf("parse enrichment: %w", err)
	}
	return out, nil
}

// rawEnrichment is the JSON shape returned by the LLM (matches leadAnalysisSchema).
type rawEnrichment struct {
	Analysis       string   `json:"analysis"`
	RelevanceScore *int     `json:"relevance_score"`
	MatchedSkills  []string `json:"matched_skills"`
}

func parseEnrichment(raw string) (model.Enrichment, error) {
	var re rawEnrichment
	if err := json.Unmarshal([]byte(raw), &re); err != nil {
		return model.Enrichment{}, fmt.Errorf("unmarshal enrichment JSON: %w", err)
	}

	analysis := strings.TrimSpace(re.Analysis)
	if analysis == "" {
		return model.Enrichment{}, fmt.Errorf("empty analysis")
	}

	out := model.Enrichment{Analysis: analysis}
	if re.RelevanceScore != nil {
		s := min(max(*re.RelevanceScore, 0), 100)
		out.SuggestedScore = &s
	}

	for _, skill := range re.MatchedSkills {
		if skill = strings.TrimSpace(skill); skill != "" {
			out.MatchedSkills = append(out.MatchedSkills, skill)
		}
		if len(out.MatchedSkills) == maxMatchedSkills {
			break
		}
	}
	return out, nil
}

func languageCode(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return "en"
	}
	return tag.String()
}

// languageName renders a language tag as its English name, e.g. "es" -> "Spanish".
func languageName(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}
