package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// FolderWidthPct is the percentage of terminal width used for the folder pane.
const FolderWidthPct = 35

func renderTopBar(connected, onPage bool, all, folders int, width int) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	liveStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	idleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statsStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	left := " " + titleStyle.Render("Playlist folders")
	left += "   " + statsStyle.Render(fmt.Sprintf("%d folders", folders))
	if onPage {
		left += statsStyle.Render(fmt.Sprintf(" · %d playlists on page", all))
	}

	var status string
	switch {
	case connected && onPage:
		status = liveStyle.Render("● on playlists page")
	case connected:
		status = liveStyle.Render("● connected")
	default:
		status = idleStyle.Render("○ waiting for extension...")
	}

	gap := width - lipgloss.Width(left) - lipgloss.Width(status) - 2
	if gap < 1 {
		gap = 1
	}
	padding := lipgloss.NewStyle().Width(gap)

	return left + padding.Render("") + status + " "
}
