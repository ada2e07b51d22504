// Package leadview is an interactive terminal browser for a user's ranked leads.
package leadview

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/leadscout/internal/model"
)

// Lines per lead in the list view (title + subtitle + blank separator).
const leadItemHeight = 3

type viewState int

const (
	viewList viewState = iota
	viewDetail
)

var (
	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")) // bright blue

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("39"))

	statusBarStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236"))

	leadTitleStyle = lipgloss.NewStyle().
			Bold(true)

	leadSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245"))

	selectedTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("24"))

	selectedSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Background(lipgloss.Color("24"))

	detailLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Width(16)

	detailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				MarginBottom(1)

	dividerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	bodyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

// scoreColor maps a relevance score to a traffic-light color.
func scoreColor(score int) lipgloss.Color {
	switch {
	case score >= 75:
		return lipgloss.Color("42")
	case score >= 50:
		return lipgloss.Color("214")
	default:
		return lipgloss.Color("196")
	}
}

type browserModel struct {
	user   model.UserProfile
	leads  []model.EnrichedLead
	list   viewport.Model
	cursor int
	width  int
	height int
	ready  bool

	view            viewState
	detail          viewport.Model
	showDescription bool

	// openFn is swapped in tests.
	openFn func(string)

	wantQuit bool
}

func newBrowser(user model.UserProfile, leads []model.EnrichedLead) browserModel {
	return browserModel{user: user, leads: leads, openFn: openURL}
}

func (m browserModel) Init() tea.Cmd {
	return nil
}

func (m browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()
		if m.view == viewDetail {
			m.detail.Width = m.width - 4
			m.detail.Height = m.height - 4
			m.detail.SetContent(m.renderDetail())
		}
		return m, nil

	case tea.KeyMsg:
		if m.view == viewDetail {
			return m.updateDetailView(msg)
		}
		return m.updateListView(msg)
	}
	return m, nil
}

func (m browserModel) updateListView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.wantQuit = true
		return m, tea.Quit
	case "esc", "b":
		m.wantQuit = false
		return m, tea.Quit
	case "up", "k":
		m.cursor = clamp(m.cursor-1, 0, max(len(m.leads)-1, 0))
		m.recalcContent()
		m.ensureCursorVisible()
		return m, nil
	case "down", "j":
		m.cursor = clamp(m.cursor+1, 0, max(len(m.leads)-1, 0))
		m.recalcContent()
		m.ensureCursorVisible()
		return m, nil
	case "o":
		if len(m.leads) > 0 {
			m.openFn(m.leads[m.cursor].JobURL)
		}
		return m, nil
	case "enter":
		if len(m.leads) == 0 {
			return m, nil
		}
		m.view = viewDetail
		m.showDescription = false
		m.detail = viewport.New(max(m.width-4, 20), max(m.height-4, 5))
		m.detail.SetContent(m.renderDetail())
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m browserModel) updateDetailView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.wantQuit = true
		return m, tea.Quit
	case "esc", "backspace":
		m.view = viewList
		return m, nil
	case "o":
		m.openFn(m.leads[m.cursor].JobURL)
		return m, nil
	case "r":
		if m.leads[m.cursor].Description != "" {
			m.showDescription = !m.showDescription
			m.detail.SetContent(m.renderDetail())
			m.detail.SetYOffset(0)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.detail, cmd = m.detail.Update(msg)
	return m, cmd
}

func (m *browserModel) ensureCursorVisible() {
	top := m.cursor * leadItemHeight
	bottom := top + leadItemHeight - 1

	if top < m.list.YOffset {
		m.list.SetYOffset(top)
	} else if bottom >= m.list.YOffset+m.list.Height {
		m.list.SetYOffset(bottom - m.list.Height + 1)
	}
}

func (m *browserModel) recalcLayout() {
	// Header (1 line) + border top/bottom (2) + status bar (1) = 4 lines overhead.
	width := max(m.width-2, 20)
	height := max(m.height-4, 5)

	if !m.ready {
		m.list = viewport.New(width, height)
		m.ready = true
	} else {
		m.list.Width = width
		m.list.Height = height
	}
	m.recalcContent()
}

func (m *browserModel) recalcContent() {
	m.list.SetContent(renderLeads(m.leads, m.cursor))
}

func (m browserModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.view == viewDetail {
		return m.viewDetail()
	}
	return m.viewList()
}

func (m browserModel) viewList() string {
	header := headerStyle.Render(fmt.Sprintf(" Top leads for %s (%d)", m.user.Email, len(m.leads)))
	pane := borderStyle.Width(m.list.Width).Render(m.list.View())
	status := statusBarStyle.Width(m.width).Render(" ↑/↓ cursor  Enter detail  o open URL  Esc back  q quit")
	return header + "\n" + pane + "\n" + status
}

func (m browserModel) viewDetail() string {
	title := detailTitleStyle.Render("Lead Details")
	content := borderStyle.Width(m.width - 2).Render(m.detail.View())

	statusText := " o open URL  esc/backspace back  ↑/↓ scroll  q quit"
	if m.leads[m.cursor].Description != "" {
		statusText = " o open URL  r desc  esc/backspace back  ↑/↓ scroll  q quit"
	}
	return title + "\n" + content + "\n" + statusBarStyle.Width(m.width).Render(statusText)
}

func (m browserModel) renderDetail() string {
	l := m.leads[m.cursor]
	var b strings.Builder

	addField := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(detailLabelStyle.Render(label))
		b.WriteString(value)
		b.WriteByte('\n')
	}

	addField("Title", l.Title)
	addField("Company", l.Company)
	addField("Source", l.Source)
	addField("Score", lipgloss.NewStyle().Bold(true).Foreground(scoreColor(l.RelevanceScore)).
		Render(fmt.Sprintf("%d/100", l.RelevanceScore)))
	if !l.EnrichedAt.IsZero() {
		addField("Analyzed At", l.EnrichedAt.Local().Format("2006-01-02 15:04 MST"))
	}
	b.WriteByte('\n')
	addField("Job URL", l.JobURL)

	wrapWidth := max(m.width-8, 20)
	divider := func(label string) string {
		fill := strings.Repeat("─", max(wrapWidth-len(label), 3))
		return dividerStyle.Render(label + fill)
	}

	b.WriteByte('\n')
	b.WriteString(divider("── AI Analysis ") + "\n\n")
	for _, line := range strings.Split(l.AIAnalysis, "\n") {
		b.WriteString(bodyStyle.Render(wordWrap(line, wrapWidth)) + "\n")
	}

	if l.Description != "" {
		b.WriteByte('\n')
		if m.showDescription {
			b.WriteString(divider("── Job Description ") + "\n\n")
			b.WriteString(bodyStyle.Render(wordWrap(l.Description, wrapWidth)) + "\n")
		} else {
			b.WriteString(hintStyle.Render("  press r to read job description") + "\n")
		}
	}
	return b.String()
}

func renderLeads(leads []model.EnrichedLead, cursor int) string {
	if len(leads) == 0 {
		return "  (no enriched leads yet)"
	}

	var b strings.Builder
	for i, l := range leads {
		titleSt := leadTitleStyle
		subtitleSt := leadSubtitleStyle
		prefix := "  "
		if i == cursor {
			titleSt = selectedTitleStyle
			subtitleSt = selectedSubtitleStyle
			prefix = "> "
		}

		score := lipgloss.NewStyle().Foreground(scoreColor(l.RelevanceScore)).Render(fmt.Sprintf("%3d", l.RelevanceScore))
		title := l.Title
		if title == "" {
			title = l.JobURL
		}
		b.WriteString(prefix + score + " ")
		b.WriteString(titleSt.Render(title))
		b.WriteByte('\n')

		company := l.Company
		if company == "" {
			company = "n/a"
		}
		b.WriteString(prefix + "    ")
		b.WriteString(subtitleSt.Render(fmt.Sprintf("%s · %s", company, l.Source)))
		b.WriteByte('\n')

		if i < len(leads)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func wordWrap(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) <= width {
			line += " " + w
		} else {
			lines = append(lines, line)
			line = w
		}
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// openURL opens url in the default system browser, fire-and-forget.
func openURL(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}

// RunBrowser launches the full-screen lead browser for user.
// Returns wantQuit=true if q/ctrl+c was pressed, false on esc (back to the picker).
func RunBrowser(user model.UserProfile, leads []model.EnrichedLead) (bool, error) {
	p := tea.NewProgram(newBrowser(user, leads), tea.WithAltScreen())
	result, err := p.Run()
	if err != nil {
		return false, err
	}
	return result.(browserModel).wantQuit, nil
}
