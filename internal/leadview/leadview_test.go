package leadview

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/amishk599/leadscout/internal/model"
)

func sampleLeads() []model.EnrichedLead {
	return []model.EnrichedLead{
		{
			RawLead:        model.RawLead{UserEmail: "a@x.com", JobURL: "https://jobs/1", Title: "Go Engineer", Company: "Acme", Source: "linkedin", Description: "Build services in Go."},
			AIAnalysis:     "- strong Go match\n- remote",
			RelevanceScore: 90,
		},
		{
			RawLead:        model.RawLead{UserEmail: "a@x.com", JobURL: "https://jobs/2", Source: "greenhouse"},
			AIAnalysis:     "weak match",
			RelevanceScore: 30,
		},
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sized(m browserModel) browserModel {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(browserModel)
}

func press(m browserModel, keys ...string) browserModel {
	for _, k := range keys {
		next, _ := m.Update(key(k))
		m = next.(browserModel)
	}
	return m
}

func TestBrowser_ListRendersScoresAndFallbacks(t *testing.T) {
	m := sized(newBrowser(model.UserProfile{Email: "a@x.com"}, sampleLeads()))
	out := m.View()
	for _, want := range []string{"Top leads for a@x.com (2)", "Go Engineer", "https://jobs/2", "n/a · greenhouse"} {
		if !strings.Contains(out, want) {
			t.Errorf("list view missing %q", want)
		}
	}
}

func TestBrowser_CursorIsClamped(t *testing.T) {
	m := sized(newBrowser(model.UserProfile{Email: "a@x.com"}, sampleLeads()))
	m = press(m, "down", "down", "down")
	if m.cursor != 1 {
		t.Errorf("cursor = %d, want 1", m.cursor)
	}
	m = press(m, "k", "k")
	if m.cursor != 0 {
		t.Errorf("cursor = %d, want 0", m.cursor)
	}
}

func TestBrowser_DetailAndOpen(t *testing.T) {
	var opened []string
	m := sized(newBrowser(model.UserProfile{Email: "a@x.com"}, sampleLeads()))
	m.openFn = func(u string) { opened = append(opened, u) }

	m = press(m, "enter")
	if m.view != viewDetail {
		t.Fatal("enter did not open the detail view")
	}
	detail := m.renderDetail()
	for _, want := range []string{"90/100", "strong Go match", "press r to read job description"} {
		if !strings.Contains(detail, want) {
			t.Errorf("detail missing %q:\n%s", want, detail)
		}
	}

	m = press(m, "r")
	if !m.showDescription || !strings.Contains(m.renderDetail(), "Build services in Go.") {
		t.Error("r did not reveal the description")
	}

	m = press(m, "o")
	if len(opened) != 1 || opened[0] != "https://jobs/1" {
		t.Errorf("opened = %v", opened)
	}

	m = press(m, "esc")
	if m.view != viewList {
		t.Error("esc did not return to the list")
	}
}

func TestBrowser_EmptyList(t *testing.T) {
	m := sized(newBrowser(model.UserProfile{Email: "a@x.com"}, nil))
	m = press(m, "enter")
	if m.view != viewList {
		t.Error("enter on an empty list opened a detail view")
	}
	if !strings.Contains(m.View(), "no enriched leads yet") {
		t.Error("empty list hint missing")
	}
}

func TestPicker(t *testing.T) {
	m := pickerModel{users: []model.UserProfile{{Email: "a@x.com"}, {Email: "b@x.com"}}, chosen: pickerPending}
	next, _ := m.Update(key("j"))
	next, cmd := next.Update(key("enter"))
	if got := next.(pickerModel).chosen; got != 1 {
		t.Errorf("chosen = %d, want 1", got)
	}
	if cmd == nil {
		t.Error("enter should quit the picker")
	}
}

func TestWordWrap(t *testing.T) {
	got := wordWrap("one two three four", 9)
	if got != "one two\nthree\nfour" {
		t.Errorf("wordWrap = %q", got)
	}
}
