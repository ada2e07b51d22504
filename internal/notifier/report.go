package notifier

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"golang.org/x/text/language"

	"github.com/amishk599/leadscout/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	htmlReport = htmltemplate.Must(htmltemplate.New("report.html.tmpl").
			Funcs(htmltemplate.FuncMap{"lines": splitLines, "trim": strings.TrimSpace}).
			ParseFS(templateFS, "templates/report.html.tmpl"))
	textReport = texttemplate.Must(texttemplate.New("report.txt.tmpl").
			Funcs(texttemplate.FuncMap{"inc": func(i int) int { return i + 1 }, "indent": indent, "trim": strings.TrimSpace}).
			ParseFS(templateFS, "templates/report.txt.tmpl"))
)

// reportText is one language's copy of the report.
type reportText struct {
	Subject   string
	Greeting  string
	Intro     string
	URL       string
	Score     string
	Analysis  string
	NoTitle   string
	NoCompany string
	Closing   string
}

var supported = []language.Tag{language.English, language.Spanish, language.Portuguese}

var matcher = language.NewMatcher(supported)

var texts = []reportText{
	{
		Subject:   "Your Daily AI Job Report",
		Greeting:  "Hi",
		Intro:     "Your AI agent has analyzed the market. Here are today's best opportunities for you:",
		URL:       "Validated URL",
		Score:     "Relevance score",
		Analysis:  "AI analysis",
		NoTitle:   "Untitled",
		NoCompany: "Unknown company",
		Closing:   "Good luck with your applications!",
	},
	{
		Subject:   "Tu Informe Diario de Empleo con IA",
		Greeting:  "Hola",
		Intro:     "Tu agente de IA ha analizado el mercado. Aquí están las mejores oportunidades para ti hoy:",
		URL:       "URL Validada",
		Score:     "Puntuación de Relevancia",
		Analysis:  "Análisis de IA",
		NoTitle:   "Sin Título",
		NoCompany: "Sin Compañía",
		Closing:   "¡Mucha suerte con tus aplicaciones!",
	},
	{
		Subject:   "Seu Relatório Diário de Empregos com IA",
		Greeting:  "Olá",
		Intro:     "Seu agente de IA analisou o mercado. Aqui estão as melhores oportunidades para você hoje:",
		URL:       "URL Validada",
		Score:     "Pontuação de Relevância",
		Analysis:  "Análise de IA",
		NoTitle:   "Sem Título",
		NoCompany: "Sem Empresa",
		Closing:   "Boa sorte com suas candidaturas!",
	},
}

// textFor picks the closest supported language for a locale code. Unknown codes get English.
func textFor(locale string) reportText {
	tag, err := language.Parse(locale)
	if err != nil {
		return texts[0]
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return texts[0]
	}
	return texts[idx]
}

// Report is a rendered email body pair.
type Report struct {
	Subject string
	HTML    string
	Text    string
}

type reportData struct {
	Name  string
	Text  reportText
	Leads []model.EnrichedLead
}

// Render builds the localized report for user. All lead text is escaped in the HTML part.
func Render(user model.UserProfile, leads []model.EnrichedLead) (Report, error) {
	data := reportData{
		Name:  user.DisplayName(),
		Text:  textFor(user.Language),
		Leads: leads,
	}

	var h bytes.Buffer
	if err := htmlReport.Execute(&h, data); err != nil {
		return Report{}, fmt.Errorf("render html report: %w", err)
	}
	var t bytes.Buffer
	if err := textReport.Execute(&t, data); err != nil {
		return Report{}, fmt.Errorf("render text report: %w", err)
	}

	return Report{Subject: data.Text.Subject, HTML: h.String(), Text: t.String()}, nil
}

// SampleLeads is a fixed report used to check transport wiring.
func SampleLeads(email string) []model.EnrichedLead {
	return []model.EnrichedLead{
		{
			RawLead: model.RawLead{
				UserEmail: email,
				JobURL:    "https://boards.greenhouse.io/example/jobs/1",
				Source:    "greenhouse",
				Title:     "Senior Go Engineer",
				Company:   "Example Corp",
			},
			AIAnalysis:     "- Strong Go and distributed systems match\n- Remote friendly\n- Team uses PostgreSQL and Redis",
			RelevanceScore: 90,
		},
	}
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func indent(s string) string {
	lines := splitLines(s)
	for i, l := range lines {
		lines[i] = "   " + l
	}
	return strings.Join(lines, "\n")
}
