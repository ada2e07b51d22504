// Package scoring turns an enrichment into the relevance score stored on a lead.
package scoring

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/amishk599/leadscout/internal/model"
)

// DefaultAIWeight is the share of the AI's suggestion in a blended score.
const DefaultAIWeight = 0.7

// BlendPolicy mixes the AI's suggested score with keyword overlap between the
// profile and the posting. Without an AI suggestion, overlap alone is used.
type BlendPolicy struct {
	AIWeight float64
}

// Score implements model.ScoringPolicy.
func (p BlendPolicy) Score(in model.ScoreInput) int {
	overlap := KeywordOverlap(in.ProfileSummary, in.Description)
	if in.Enrichment.SuggestedScore == nil {
		return overlap
	}
	w := math.Min(math.Max(p.AIWeight, 0), 1)
	blended := w*float64(*in.Enrichment.SuggestedScore) + (1-w)*float64(overlap)
	return clamp(int(math.Round(blended)))
}

// KeywordPolicy ignores the AI and scores by overlap only.
type KeywordPolicy struct{}

// Score implements model.ScoringPolicy.
func (KeywordPolicy) Score(in model.ScoreInput) int {
	return KeywordOverlap(in.ProfileSummary, in.Description)
}

// New returns the policy registered under name: "blend", "ai" or "keywords".
func New(name string, aiWeight float64) (model.ScoringPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "blend":
		if aiWeight == 0 {
			aiWeight = DefaultAIWeight
		}
		return BlendPolicy{AIWeight: aiWeight}, nil
	case "ai":
		return BlendPolicy{AIWeight: 1}, nil
	case "keywords":
		return KeywordPolicy{}, nil
	default:
		return nil, &model.ConfigError{Field: "scoring.policy", Msg: fmt.Sprintf("unknown policy %q", name)}
	}
}

// KeywordOverlap returns the percentage of distinct profile terms that also
// appear in the description, in [0,100].
func KeywordOverlap(profile, description string) int {
	want := terms(profile)
	if len(want) == 0 {
		return 0
	}
	have := terms(description)
	hits := 0
	for t := range want {
		if have[t] {
			hits++
		}
	}
	return clamp(int(math.Round(100 * float64(hits) / float64(len(want)))))
}

func terms(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(s), splitTerm) {
		f = strings.Trim(f, ".")
		if len([]rune(f)) < 2 || stopwords[f] {
			continue
		}
		out[f] = true
	}
	return out
}

// splitTerm keeps tokens like "c++", "c#", "node.js" intact.
func splitTerm(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#' && r != '.'
}

func clamp(n int) int {
	return min(max(n, 0), 100)
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "has": true, "have": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "our": true, "the": true, "to": true,
	"we": true, "with": true, "you": true, "your": true, "years": true, "experience": true,
	"de": true, "el": true, "la": true, "los": true, "las": true, "en": true, "con": true,
	"para": true, "por": true, "un": true, "una": true, "y": true, "o": true, "que": true,
	"do": true, "da": true, "em": true, "com": true, "um": true, "uma": true,
}
