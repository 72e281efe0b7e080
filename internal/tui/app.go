package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/plfolders/internal/applog"
	"github.com/lotas/plfolders/internal/filter"
	"github.com/lotas/plfolders/internal/session"
	"github.com/lotas/plfolders/internal/types"
)

// Status reports whether the extension is attached.
type Status interface {
	Connected() bool
}

// --- Messages ---

type eventMsg struct{ ev session.Event }
type eventsClosedMsg struct{}
type tickMsg time.Time

type itemRow struct {
	ID       string
	Title    string
	Owner    string
	FolderID string
}

type dataMsg struct {
	folders   []types.Folder
	counts    types.Counts
	items     []itemRow
	selection types.Selection
	connected bool
	onPage    bool
}

type opDoneMsg struct {
	status string
	err    error
}

// --- Command helpers ---

func waitForEvent(ch <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{ev: ev}
	}
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func loadData(mgr *session.Manager, status Status) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		d := dataMsg{folders: mgr.Store().List(ctx), selection: mgr.Selection(ctx)}
		if status != nil {
			d.connected = status.Connected()
		}
		s := mgr.Current()
		if s == nil {
			d.counts = types.Counts{ByFolder: map[string]int{}}
			for _, f := range d.folders {
				d.counts.ByFolder[f.ID] = len(f.PlaylistIDs)
			}
			return d
		}
		d.onPage = true
		items, err := s.Items(ctx)
		if err != nil {
			applog.Error("tui.items", err)
			return d
		}
		all := mgr.Store().Folders(ctx)
		owners := filter.Owners(all)
		d.counts = filter.Count(items, all)
		for _, it := range items {
			d.items = append(d.items, itemRow{
				ID:       it.ExternalID,
				Title:    it.Title,
				Owner:    it.Owner,
				FolderID: owners[it.ExternalID],
			})
		}
		return d
	}
}

func runOp(status string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			return opDoneMsg{err: err}
		}
		return opDoneMsg{status: status}
	}
}

// --- Model ---

type pane int

const (
	paneFolders pane = iota
	paneItems
)

type inputMode int

const (
	inputCreate inputMode = iota
	inputRename
)

type folderRow struct {
	label  string
	sel    types.Selection
	count  int
	folder *types.Folder
}

type Model struct {
	mgr         *session.Manager
	status      Status
	events      <-chan session.Event
	unsubscribe func()

	// Data
	folders   []types.Folder
	counts    types.Counts
	items     []itemRow
	selection types.Selection
	connected bool
	onPage    bool

	// UI state
	focus         pane
	folderCursor  int
	itemCursor    int
	input         InputModal
	inputMode     inputMode
	renameID      string
	confirmDelete *types.Folder
	picker        FolderPicker
	showPicker    bool
	pickItem      string
	message       string
	err           error
	width         int
	height        int
}

func NewModel(mgr *session.Manager, status Status) Model {
	events, unsubscribe := mgr.Subscribe()
	return Model{
		mgr:         mgr,
		status:      status,
		events:      events,
		unsubscribe: unsubscribe,
		input:       NewInputModal(),
		counts:      types.Counts{ByFolder: map[string]int{}},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), loadData(m.mgr, m.status), tick())
}

func (m Model) refresh() tea.Cmd {
	return loadData(m.mgr, m.status)
}

func (m Model) folderRows() []folderRow {
	rows := []folderRow{
		{label: "All playlists", sel: types.All(), count: m.counts.All},
		{label: "Unassigned", sel: types.Unassigned(), count: m.counts.Unassigned},
	}
	for i := range m.folders {
		f := &m.folders[i]
		rows = append(rows, folderRow{label: f.Name, sel: types.InFolder(f.ID), count: m.counts.ByFolder[f.ID], folder: f})
	}
	return rows
}

// visibleItems returns the rows shown under the active selection.
func (m Model) visibleItems() []itemRow {
	var out []itemRow
	for _, it := range m.items {
		switch m.selection.Kind {
		case types.SelectUnassigned:
			if it.FolderID != "" {
				continue
			}
		case types.SelectFolder:
			if it.FolderID != m.selection.FolderID {
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

func (m Model) currentFolder() *types.Folder {
	rows := m.folderRows()
	if m.folderCursor < len(rows) {
		return rows[m.folderCursor].folder
	}
	return nil
}

func (m Model) currentItem() (itemRow, bool) {
	items := m.visibleItems()
	if m.itemCursor < len(items) {
		return items[m.itemCursor], true
	}
	return itemRow{}, false
}

func (m *Model) clampCursors() {
	if n := len(m.folderRows()); m.folderCursor >= n {
		m.folderCursor = n - 1
	}
	if n := len(m.visibleItems()); m.itemCursor >= n {
		m.itemCursor = max(0, n-1)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case eventMsg:
		if msg.ev.Kind == session.EventSelectionReset {
			m.message = "Selected folder no longer exists; showing all playlists"
		}
		return m, tea.Batch(waitForEvent(m.events), m.refresh())

	case eventsClosedMsg:
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())

	case dataMsg:
		m.folders = msg.folders
		m.counts = msg.counts
		if m.counts.ByFolder == nil {
			m.counts.ByFolder = map[string]int{}
		}
		m.items = msg.items
		m.selection = msg.selection
		m.connected = msg.connected
		m.onPage = msg.onPage
		m.clampCursors()
		return m, nil

	case opDoneMsg:
		m.err = msg.err
		if msg.err == nil {
			m.message = msg.status
		}
		return m, m.refresh()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.input.IsVisible() {
		var cmd tea.Cmd
		var submitted bool
		m.input, cmd, submitted = m.input.Update(msg)
		if !submitted {
			return m, cmd
		}
		name := m.input.Value()
		m.input.Hide()
		mgr := m.mgr
		if m.inputMode == inputRename {
			id := m.renameID
			return m, runOp("Renamed folder", func(ctx context.Context) error {
				return mgr.RenameFolder(ctx, id, name)
			})
		}
		return m, runOp("Created folder "+strings.TrimSpace(name), func(ctx context.Context) error {
			_, err := mgr.CreateFolder(ctx, name)
			return err
		})
	}

	if m.confirmDelete != nil {
		f := *m.confirmDelete
		m.confirmDelete = nil
		if msg.String() != "y" {
			return m, nil
		}
		mgr := m.mgr
		return m, runOp("Deleted folder "+f.Name, func(ctx context.Context) error {
			return mgr.DeleteFolder(ctx, f.ID)
		})
	}

	if m.showPicker {
		switch msg.String() {
		case "up", "ctrl+k":
			m.picker.MoveUp()
		case "down", "ctrl+j":
			m.picker.MoveDown()
		case "esc":
			m.showPicker = false
		case "enter":
			m.showPicker = false
			opt, ok := m.picker.Selected()
			if !ok {
				return m, nil
			}
			mgr, item := m.mgr, m.pickItem
			return m, runOp("Moved "+item+" to "+opt.Label, func(ctx context.Context) error {
				return mgr.Assign(ctx, item, opt.FolderID)
			})
		default:
			return m, m.picker.Update(msg)
		}
		return m, nil
	}

	m.err = nil
	switch msg.String() {
	case "q", "ctrl+c":
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		return m, tea.Quit
	case "tab":
		if m.focus == paneFolders {
			m.focus = paneItems
		} else {
			m.focus = paneFolders
		}
	case "up", "k":
		if m.focus == paneFolders && m.folderCursor > 0 {
			m.folderCursor--
		} else if m.focus == paneItems && m.itemCursor > 0 {
			m.itemCursor--
		}
	case "down", "j":
		if m.focus == paneFolders && m.folderCursor < len(m.folderRows())-1 {
			m.folderCursor++
		} else if m.focus == paneItems && m.itemCursor < len(m.visibleItems())-1 {
			m.itemCursor++
		}
	case "enter":
		if m.focus != paneFolders {
			return m, nil
		}
		row := m.folderRows()[m.folderCursor]
		m.selection = row.sel
		m.itemCursor = 0
		mgr, sel := m.mgr, row.sel
		return m, runOp("Showing "+row.label, func(ctx context.Context) error {
			return mgr.Select(ctx, sel)
		})
	case "n":
		m.inputMode = inputCreate
		m.input.Show("New folder", "")
	case "r":
		if f := m.currentFolder(); f != nil && m.focus == paneFolders {
			m.inputMode = inputRename
			m.renameID = f.ID
			m.input.Show("Rename folder", f.Name)
		}
	case "d":
		if f := m.currentFolder(); f != nil && m.focus == paneFolders {
			folder := *f
			m.confirmDelete = &folder
		}
	case "a":
		if it, ok := m.currentItem(); ok && m.focus == paneItems {
			m.pickItem = it.ID
			m.picker = NewFolderPicker("Move "+it.Title+" to:", m.folders, it.FolderID)
			m.showPicker = true
		}
	case "u":
		if it, ok := m.currentItem(); ok && m.focus == paneItems && it.FolderID != "" {
			mgr, id := m.mgr, it.ID
			return m, runOp("Unassigned "+it.Title, func(ctx context.Context) error {
				return mgr.Assign(ctx, id, "")
			})
		}
	case "R":
		return m, m.refresh()
	}
	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		m.width, m.height = 100, 30
	}
	if m.input.IsVisible() {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.input.View())
	}
	if m.showPicker {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.picker.View())
	}

	topBar := renderTopBar(m.connected, m.onPage, m.counts.All, len(m.folders), m.width)

	folderWidth := m.width * FolderWidthPct / 100
	itemWidth := m.width - folderWidth - 4 // borders
	paneHeight := m.height - 4              // top bar + bottom bar + borders

	focused := lipgloss.Color("62")
	blurred := lipgloss.Color("240")
	folderBorder := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(blurred).
		Width(folderWidth).Height(paneHeight)
	itemBorder := folderBorder.Width(itemWidth)
	if m.focus == paneFolders {
		folderBorder = folderBorder.BorderForeground(focused)
	} else {
		itemBorder = itemBorder.BorderForeground(focused)
	}

	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		folderBorder.Render(m.viewFolders(folderWidth)),
		itemBorder.Render(m.viewItems(itemWidth, paneHeight)),
	)

	bottomBarStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Padding(0, 1)
	var bottom string
	switch {
	case m.confirmDelete != nil:
		bottom = errStyle.Render(fmt.Sprintf("Delete folder %q? Its playlists become unassigned. y/N", m.confirmDelete.Name))
	case m.err != nil:
		bottom = errStyle.Render("Error: " + m.err.Error())
	default:
		text := "tab switch pane · ↑↓/jk navigate · enter show · n new · r rename · d delete · a assign · u unassign · q quit"
		if m.message != "" {
			text = m.message + "   " + text
		}
		bottom = bottomBarStyle.Render(text)
	}

	return lipgloss.JoinVertical(lipgloss.Left, topBar, panes, bottom)
}

func (m Model) viewFolders(width int) string {
	cursorStyle := lipgloss.NewStyle().Bold(true).Reverse(true)
	activeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	countStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	var b strings.Builder
	for i, row := range m.folderRows() {
		marker := "  "
		if row.sel == m.selection {
			marker = activeStyle.Render("▸ ")
		}
		label := truncate(row.label, width-10)
		line := marker + label + countStyle.Render(fmt.Sprintf(" (%d)", row.count))
		if i == m.folderCursor && m.focus == paneFolders {
			line = marker + cursorStyle.Render(label) + countStyle.Render(fmt.Sprintf(" (%d)", row.count))
		}
		b.WriteString(line + "\n")
		if i == 1 && len(m.folders) > 0 {
			b.WriteString(countStyle.Render(strings.Repeat("─", max(1, width-2))) + "\n")
		}
	}
	return b.String()
}

func (m Model) viewItems(width, height int) string {
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cursorStyle := lipgloss.NewStyle().Bold(true).Reverse(true)
	folderStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("44"))

	if !m.onPage {
		return dimStyle.Render("Open your playlists page in the browser\nto see and sort playlists here.")
	}
	items := m.visibleItems()
	if len(items) == 0 {
		return dimStyle.Render("No playlists in this view.")
	}

	names := make(map[string]string, len(m.folders))
	for _, f := range m.folders {
		names[f.ID] = f.Name
	}

	// Scroll so the cursor stays visible.
	start := 0
	if m.itemCursor >= height {
		start = m.itemCursor - height + 1
	}
	var b strings.Builder
	for i := start; i < len(items) && i < start+height; i++ {
		it := items[i]
		title := truncate(it.Title, width-24)
		if i == m.itemCursor && m.focus == paneItems {
			title = cursorStyle.Render(title)
		}
		line := title + dimStyle.Render(" · "+truncate(it.Owner, 16))
		if it.FolderID != "" && m.selection.Kind == types.SelectAll {
			line += " " + folderStyle.Render("["+names[it.FolderID]+"]")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
