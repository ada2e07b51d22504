package ai

import (
	_ "embed"
	"text/template"
)

//go:embed prompts/lead_analysis.md
var leadAnalysisPromptRaw string

// LeadAnalysisTemplate is the parsed prompt template for lead enrichment.
// Parsed once at package init; reused on every Generate call.
var LeadAnalysisTemplate = template.Must(template.New("lead_analysis").Parse(leadAnalysisPromptRaw))
