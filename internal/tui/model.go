// Package tui is the interactive explorer: type a question, browse the
// nearest recorded design changes.
package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
)

// Port is the explorer-facing subset of the application.
type Port interface {
	Retrieve(ctx context.Context, question string, k int) ([]model.ScoredChange, error)
	LatestSummary() (*model.LatestChangeSummary, error)
}

type resultsMsg struct {
	question string
	results  []model.ScoredChange
	err      error
}

// Model is the Bubble Tea model for the explorer.
type Model struct {
	ctx       context.Context
	port      Port
	k         int
	input     textinput.Model
	viewport  viewport.Model
	results   []model.ScoredChange
	summary   string
	status    string
	cursor    int
	ready     bool
	searching bool
	lastQuery string
}

// New creates an explorer returning up to k results per question.
func New(ctx context.Context, port Port, k int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "질문을 입력하고 Enter"
	ti.Focus()
	ti.CharLimit = 0

	return Model{
		ctx:      ctx,
		port:     port,
		k:        k,
		input:    ti,
		viewport: viewport.New(0, 0),
		summary:  latestLine(port),
		status:   "Type a question and press Enter. Up/Down browse, Ctrl+C quits.",
	}
}

func latestLine(port Port) string {
	sum, err := port.LatestSummary()
	switch {
	case err != nil:
		return "Latest: " + err.Error()
	case sum == nil:
		return "No design changes recorded yet."
	default:
		return fmt.Sprintf("Latest: %s  %s", sum.ChangeDate, sum.Title)
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) search(q string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.port.Retrieve(m.ctx, q, m.k)
		return resultsMsg{question: q, results: res, err: err}
	}
}

// Update handles key, window and result events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header and summary, status, query box, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil

	case resultsMsg:
		m.searching = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d result(s) for %q", len(msg.results), msg.question)
			m.results = msg.results
			m.cursor = 0
			m.lastQuery = msg.question
		}
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.searching {
				m.searching = true
				m.status = "Searching..."
				return m, m.search(q)
			}
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the layout and the selected result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("설계 변경 탐색")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	results := resultBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  distance=%.4f  similarity=%.3f",
		m.cursor+1, len(m.results), r.Distance, r.Similarity)
	meta := lipgloss.NewStyle().Faint(true).Render(
		fmt.Sprintf("%s  %s  (%s)", r.Metadata.ChangeDate, r.Metadata.Title, r.Metadata.ID))
	return title + "\n" + meta + "\n\n" + highlightBestLine(r.Content, m.lastQuery)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	wordRe         = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// highlightBestLine marks the line of text sharing the most words with
// query. Rendered records are line oriented, so lines stand in for
// sentences.
func highlightBestLine(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}

	best, bestScore := -1, 0
	for i, l := range lines {
		if score := tokenOverlapScore(qTokens, l); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return text
	}
	lines[best] = highlightStyle.Render(lines[best])
	return strings.Join(lines, "\n")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, line string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range wordRe.FindAllString(strings.ToLower(line), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
