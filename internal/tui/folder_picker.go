package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/plfolders/internal/types"
	"github.com/sahilm/fuzzy"
)

// pickerOption is one assignment target. An empty FolderID unassigns.
type pickerOption struct {
	FolderID string
	Label    string
	Count    int
}

// FolderPicker chooses the folder to move a playlist into. Typing narrows
// the list with fuzzy matching.
type FolderPicker struct {
	Title   string
	options []pickerOption
	matches []int
	query   textinput.Model
	Cursor  int
}

func NewFolderPicker(title string, folders []types.Folder, current string) FolderPicker {
	opts := []pickerOption{{Label: "(unassigned)"}}
	for _, f := range folders {
		opts = append(opts, pickerOption{FolderID: f.ID, Label: f.Name, Count: len(f.PlaylistIDs)})
	}
	ti := textinput.New()
	ti.Placeholder = "type to filter"
	ti.Prompt = "/ "
	ti.CharLimit = 64
	ti.Width = 30
	ti.Focus()

	p := FolderPicker{Title: title, options: opts, query: ti}
	p.refilter()
	for i, idx := range p.matches {
		if opts[idx].FolderID == current {
			p.Cursor = i
		}
	}
	return p
}

func (m *FolderPicker) refilter() {
	q := strings.ToLower(strings.TrimSpace(m.query.Value()))
	m.matches = m.matches[:0]
	if q == "" {
		for i := range m.options {
			m.matches = append(m.matches, i)
		}
	} else {
		labels := make([]string, len(m.options))
		for i, o := range m.options {
			labels[i] = strings.ToLower(o.Label)
		}
		for _, match := range fuzzy.Find(q, labels) {
			m.matches = append(m.matches, match.Index)
		}
	}
	if m.Cursor >= len(m.matches) {
		m.Cursor = max(0, len(m.matches)-1)
	}
}

// SetQuery replaces the filter text.
func (m *FolderPicker) SetQuery(q string) {
	m.query.SetValue(q)
	m.Cursor = 0
	m.refilter()
}

// Query returns the filter text.
func (m FolderPicker) Query() string {
	return m.query.Value()
}

// Update feeds a key to the filter box.
func (m *FolderPicker) Update(msg tea.Msg) tea.Cmd {
	before := m.query.Value()
	var cmd tea.Cmd
	m.query, cmd = m.query.Update(msg)
	if m.query.Value() != before {
		m.Cursor = 0
		m.refilter()
	}
	return cmd
}

func (m *FolderPicker) MoveUp() {
	if m.Cursor > 0 {
		m.Cursor--
	}
}

func (m *FolderPicker) MoveDown() {
	if m.Cursor < len(m.matches)-1 {
		m.Cursor++
	}
}

// Selected returns the highlighted option.
func (m FolderPicker) Selected() (pickerOption, bool) {
	if m.Cursor >= 0 && m.Cursor < len(m.matches) {
		return m.options[m.matches[m.Cursor]], true
	}
	return pickerOption{}, false
}

func (m FolderPicker) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	selectedStyle := lipgloss.NewStyle().Bold(true).Reverse(true).Padding(0, 1)
	normalStyle := lipgloss.NewStyle().Padding(0, 1)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2)

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.Title) + "\n")
	b.WriteString(normalStyle.Render(m.query.View()) + "\n\n")

	if len(m.matches) == 0 {
		b.WriteString(dimStyle.Render("no matching folder") + "\n")
	}
	for i, idx := range m.matches {
		o := m.options[idx]
		label := o.Label
		if o.FolderID != "" {
			label = fmt.Sprintf("%s (%d)", o.Label, o.Count)
		}
		if i == m.Cursor {
			label = selectedStyle.Render(label)
		} else {
			label = normalStyle.Render("  " + label)
		}
		b.WriteString(label + "\n")
	}

	b.WriteString("\n" + normalStyle.Render("↑↓ navigate · enter confirm · esc cancel"))

	return boxStyle.Render(b.String())
}
