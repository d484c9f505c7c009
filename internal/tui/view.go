package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.state {
	case StateAddHabit:
		content = docStyle.Render(m.form.View())
	case StateConfirmDelete:
		content = m.viewConfirmDelete()
	default:
		content = docStyle.Render(m.habits.View())
	}

	parts := []string{m.viewHeader(), content}
	if m.lastErr != "" {
		parts = append(parts, errorStyle.Render(m.lastErr))
	}
	parts = append(parts, m.help.View(m))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) viewHeader() string {
	return lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("habitgarden"),
		statusStyle.Render(m.statusLine()),
	)
}

func (m Model) statusLine() string {
	conn := offlineStyle.Render("● offline")
	if m.status.Online {
		conn = onlineStyle.Render("● online")
	}

	line := conn
	if m.status.LastSynced != nil {
		line += fmt.Sprintf(" | synced %s ago", m.now().Sub(*m.status.LastSynced).Round(time.Second))
	} else {
		line += " | never synced"
	}
	if m.status.Pending > 0 {
		line += fmt.Sprintf(" | %d pending", m.status.Pending)
	}
	if n := len(m.status.Failed); n > 0 {
		line += fmt.Sprintf(" | %d failed (R to retry)", n)
	}
	if m.busy > 0 {
		line += " | syncing…"
	}
	return line
}

func (m Model) viewConfirmDelete() string {
	return lipgloss.Place(m.width, m.height-4,
		lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center,
			dangerStyle.Render(fmt.Sprintf("Delete %q and all of its history?", m.habitToDelete.Title)),
			"",
			"[y] Yes",
			"[n] No",
		),
	)
}
