package tui

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tinypng/internal/workflow"
)

// Model renders one line per queued image from a stream of snapshots. The
// stream's sender closes the channel once the engine has settled.
type Model struct {
	updates     <-chan workflow.WorkItem
	started     time.Time
	width       int
	height      int
	expected    int
	rows        []workflow.WorkItem
	index       map[int]int
	quitting    bool
	interrupted bool
}

type doneMsg struct{}

type itemMsg workflow.WorkItem

// NewModel builds a model that expects roughly expected items.
func NewModel(updates <-chan workflow.WorkItem, expected int) Model {
	return Model{
		updates:  updates,
		started:  time.Now(),
		expected: expected,
		index:    make(map[int]int),
	}
}

// Interrupted reports whether the user quit before the stream ended.
func (m Model) Interrupted() bool {
	return m.interrupted
}

func (m Model) Init() tea.Cmd {
	return listenForUpdates(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case itemMsg:
		m = m.apply(workflow.WorkItem(msg))
		return m, listenForUpdates(m.updates)
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.interrupted = true
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	default:
		return m, nil
	}
}

// apply stores item, keeping rows ordered by ID.
func (m Model) apply(item workflow.WorkItem) Model {
	if i, ok := m.index[item.ID]; ok {
		m.rows[i] = item
		return m
	}
	pos := sort.Search(len(m.rows), func(i int) bool { return m.rows[i].ID > item.ID })
	m.rows = append(m.rows, workflow.WorkItem{})
	copy(m.rows[pos+1:], m.rows[pos:])
	m.rows[pos] = item
	for i := pos; i < len(m.rows); i++ {
		m.index[m.rows[i].ID] = i
	}
	return m
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	total := max(m.expected, len(m.rows))
	done, failed := 0, 0
	for _, row := range m.rows {
		switch row.Status() {
		case workflow.StatusComplete:
			done++
		case workflow.StatusError:
			done++
			failed++
		}
	}
	elapsed := time.Since(m.started).Round(time.Millisecond)

	lines := []string{
		titleStyle.Render("tinypng"),
		labelStyle.Render(fmt.Sprintf("Files: %d/%d", done, total)) + dimStyle.Render(fmt.Sprintf("  errors:%d", failed)),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", elapsed)),
		"",
	}

	visible := m.rows
	hidden := 0
	if limit := m.height - len(lines) - 1; m.height > 0 && limit > 0 && len(visible) > limit {
		visible = pickVisible(m.rows, limit)
		hidden = len(m.rows) - len(visible)
	}

	nameWidth := 0
	for _, row := range visible {
		nameWidth = max(nameWidth, len(row.DisplayName))
	}
	nameWidth = min(nameWidth, 40)

	for _, row := range visible {
		lines = append(lines, m.renderRow(row, nameWidth))
	}
	if hidden > 0 {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("… %d more", hidden)))
	}
	return strings.Join(lines, "\n")
}

// pickVisible keeps in-flight rows first so progress stays on screen, then
// fills with the remaining rows in order.
func pickVisible(rows []workflow.WorkItem, limit int) []workflow.WorkItem {
	keep := make(map[int]bool, limit)
	for _, row := range rows {
		if len(keep) == limit {
			break
		}
		if row.Status().IsInFlight() {
			keep[row.ID] = true
		}
	}
	for _, row := range rows {
		if len(keep) == limit {
			break
		}
		keep[row.ID] = true
	}
	out := make([]workflow.WorkItem, 0, limit)
	for _, row := range rows {
		if keep[row.ID] {
			out = append(out, row)
		}
	}
	return out
}

func (m Model) renderRow(row workflow.WorkItem, nameWidth int) string {
	name := truncate(row.DisplayName, nameWidth)
	line := labelStyle.Render(padRight(name, nameWidth)) + "  " + statusStyle(row.Status()).Render(row.StatusLine())
	if row.Status() == workflow.StatusUploading {
		barWidth := 20
		if m.width > 0 {
			barWidth = int(math.Min(30, float64(m.width-nameWidth-30)))
			barWidth = max(barWidth, 10)
		}
		line += "  " + barStyle.Render(renderBar(barWidth, row.UploadProgress()))
	}
	return line
}

func statusStyle(status workflow.Status) lipgloss.Style {
	switch status {
	case workflow.StatusComplete:
		return successStyle
	case workflow.StatusError:
		return errorStyle
	case workflow.StatusStarted:
		return warnStyle
	case workflow.StatusUploading, workflow.StatusDownloading:
		return activeStyle
	default:
		return dimStyle
	}
}

func listenForUpdates(updates <-chan workflow.WorkItem) tea.Cmd {
	return func() tea.Msg {
		item, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return itemMsg(item)
	}
}

func renderBar(width int, ratio float64) string {
	filled := int(math.Round(ratio * float64(width)))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 1 || len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
