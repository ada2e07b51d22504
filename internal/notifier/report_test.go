package notifier

import (
	"strings"
	"testing"

	"github.com/amishk599/leadscout/internal/model"
)

func TestTextFor(t *testing.T) {
	tests := []struct {
		locale string
		want   string
	}{
		{"es", "Hola"},
		{"es-MX", "Hola"},
		{"en-US", "Hi"},
		{"pt-BR", "Olá"},
		{"fr", "Hi"},
		{"", "Hi"},
		{"not a locale!", "Hi"},
	}
	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			if got := textFor(tt.locale).Greeting; got != tt.want {
				t.Errorf("textFor(%q).Greeting = %q, want %q", tt.locale, got, tt.want)
			}
		})
	}
}

func TestRender_EscapesAndKeepsLineBreaks(t *testing.T) {
	lead := model.EnrichedLead{
		RawLead: model.RawLead{
			UserEmail: "a@x.com",
			JobURL:    "https://jobs/1?a=1&b=2",
			Title:     "<b>Go</b> Engineer",
			Company:   "Acme & Co",
		},
		AIAnalysis:     "- first <script>alert(1)</script>\n- second",
		RelevanceScore: 90,
	}

	r, err := Render(model.UserProfile{Email: "a@x.com", Language: "en"}, []model.EnrichedLead{lead})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if r.Subject != "Your Daily AI Job Report" {
		t.Errorf("subject = %q", r.Subject)
	}
	for _, want := range []string{
		"<h1>Hi a,</h1>",
		"&lt;b&gt;Go&lt;/b&gt; Engineer @ Acme &amp; Co",
		"&lt;script&gt;",
		"<br>- second",
		"90%",
	} {
		if !strings.Contains(r.HTML, want) {
			t.Errorf("html missing %q:\n%s", want, r.HTML)
		}
	}
	if strings.Contains(r.HTML, "<script>") {
		t.Error("html contains unescaped script tag")
	}

	for _, want := range []string{
		"1. <b>Go</b> Engineer @ Acme & Co",
		"Validated URL: https://jobs/1?a=1&b=2",
		"   - first <script>alert(1)</script>\n   - second",
	} {
		if !strings.Contains(r.Text, want) {
			t.Errorf("text missing %q:\n%s", want, r.Text)
		}
	}
}

func TestRender_FallbackTitleAndCompany(t *testing.T) {
	lead := model.EnrichedLead{
		RawLead:        model.RawLead{UserEmail: "a@x.com", JobURL: "https://jobs/2"},
		AIAnalysis:     "ok",
		RelevanceScore: 50,
	}
	r, err := Render(model.UserProfile{Email: "a@x.com", Language: "es"}, []model.EnrichedLead{lead})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(r.HTML, "Sin Título @ Sin Compañía") {
		t.Errorf("html:\n%s", r.HTML)
	}
}

func TestRender_SkipsEmptyAnalysis(t *testing.T) {
	leads := []model.EnrichedLead{
		{RawLead: model.RawLead{UserEmail: "a@x.com", JobURL: "https://jobs/1", Title: "Go Engineer"}, RelevanceScore: 60},
		{RawLead: model.RawLead{UserEmail: "a@x.com", JobURL: "https://jobs/2", Title: "SRE"}, AIAnalysis: " \n", RelevanceScore: 40},
	}
	r, err := Render(model.UserProfile{Email: "a@x.com", Language: "en"}, leads)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(r.HTML, "AI analysis") || strings.Contains(r.HTML, "#f0f0f0") {
		t.Errorf("html renders an empty analysis block:\n%s", r.HTML)
	}
	if strings.Contains(r.Text, "AI analysis") {
		t.Errorf("text renders an empty analysis block:\n%s", r.Text)
	}
	if !strings.Contains(r.Text, "Relevance score: 60%\n\n2. SRE") {
		t.Errorf("text layout:\n%s", r.Text)
	}
}
