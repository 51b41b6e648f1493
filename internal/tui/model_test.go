package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
)

type fakePort struct {
	results []model.ScoredChange
	err     error
	latest  *model.LatestChangeSummary
	asked   []string
}

func (f *fakePort) Retrieve(_ context.Context, q string, k int) ([]model.ScoredChange, error) {
	f.asked = append(f.asked, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[:min(k, len(f.results))], nil
}

func (f *fakePort) LatestSummary() (*model.LatestChangeSummary, error) { return f.latest, nil }

func sampleResults() []model.ScoredChange {
	return []model.ScoredChange{
		{Metadata: model.ChangeMetadata{ID: "a", Title: "벽체 두께 변경"}, Content: "제목: 벽체 두께 변경", Distance: 0.1, Similarity: 0.95},
		{Metadata: model.ChangeMetadata{ID: "b", Title: "창호 교체"}, Content: "제목: 창호 교체", Distance: 0.7, Similarity: 0.6},
	}
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(Model)
}

func submit(t *testing.T, m Model, q string) Model {
	t.Helper()
	m.input.SetValue(q)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	next, _ = next.Update(cmd())
	return next.(Model)
}

func TestNewShowsLatest(t *testing.T) {
	port := &fakePort{latest: &model.LatestChangeSummary{
		ChangeDate: model.Date{Year: 2024, Month: 1, Day: 3},
		Title:      "벽체 두께 변경",
	}}
	m := New(context.Background(), port, 5)

	assert.Contains(t, m.summary, "2024-01-03")
	assert.Contains(t, m.summary, "벽체 두께 변경")

	empty := New(context.Background(), &fakePort{}, 5)
	assert.Equal(t, "No design changes recorded yet.", empty.summary)
}

func TestViewBeforeResize(t *testing.T) {
	m := New(context.Background(), &fakePort{}, 5)
	assert.Equal(t, "Loading...", m.View())
}

func TestSearchAndBrowse(t *testing.T) {
	port := &fakePort{results: sampleResults()}
	m := sized(t, New(context.Background(), port, 5))

	m = submit(t, m, "  벽체 두께  ")

	assert.Equal(t, []string{"벽체 두께"}, port.asked)
	require.Len(t, m.results, 2)
	assert.Equal(t, 0, m.cursor)
	assert.Contains(t, m.status, "2 result(s)")
	assert.Contains(t, m.renderCurrentResult(), "Result 1/2")
	assert.Contains(t, m.renderCurrentResult(), "similarity=0.950")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 0, m.cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)
}

func TestBlankQueryDoesNotSearch(t *testing.T) {
	port := &fakePort{results: sampleResults()}
	m := sized(t, New(context.Background(), port, 5))
	m.input.SetValue("   ")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Empty(t, port.asked)
	assert.Empty(t, next.(Model).results)
}

func TestSearchError(t *testing.T) {
	port := &fakePort{err: errors.New("provider down")}
	m := sized(t, New(context.Background(), port, 5))

	m = submit(t, m, "벽체")

	assert.Equal(t, "Error: provider down", m.status)
	assert.Empty(t, m.results)
	assert.Equal(t, "No results yet.", m.renderCurrentResult())
}

func TestQuitKeys(t *testing.T) {
	m := New(context.Background(), &fakePort{}, 5)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestHighlightBestLine(t *testing.T) {
	text := "제목: 창호 교체\n내용:\n외벽 두께 240mm 적용"

	got := highlightBestLine(text, "외벽 두께")

	assert.Contains(t, got, "제목: 창호 교체\n내용:\n")
	assert.Contains(t, got, "외벽 두께 240mm 적용")
	assert.Equal(t, text, highlightBestLine(text, "무관한 질문"))
	assert.Equal(t, text, highlightBestLine(text, ""))
}

func TestTokenOverlapScore(t *testing.T) {
	q := toTokenSet("외벽 두께 변경")
	assert.Equal(t, 2, tokenOverlapScore(q, "외벽 두께 두께"))
	assert.Equal(t, 0, tokenOverlapScore(q, "창호 교체"))
}
