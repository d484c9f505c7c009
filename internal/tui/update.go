package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/habitgarden/internal/logger"
	"github.com/julianstephens/habitgarden/internal/tui/components/habits"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Messages that apply in every state
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		h, v := docStyle.GetFrameSize()
		m.habits.SetSize(msg.Width-h, msg.Height-v-4)

	case tea.FocusMsg:
		m.svc.Monitor().SetVisible(true)
		return m, nil

	case tea.BlurMsg:
		m.svc.Monitor().SetVisible(false)
		return m, nil

	case dayChangedMsg:
		m.refresh()
		return m, m.waitForTomorrow()

	case serviceEventMsg:
		if !msg.ok {
			return m, nil
		}
		m.refresh()
		return m, waitForEvent(m.events)

	case resultMsg:
		m.busy--
		if msg.err != nil {
			logger.Warn("TUI action failed", "action", msg.action, "error", msg.err)
			m.lastErr = fmt.Sprintf("%s: %v", msg.action, msg.err)
		} else {
			m.lastErr = ""
		}
		m.refresh()
		return m, nil
	}

	switch m.state {
	case StateAddHabit:
		return m.updateAddHabit(msg)
	case StateConfirmDelete:
		return m.updateConfirmDelete(msg)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keys.Sync):
			m.busy++
			return m, m.run("sync", func(ctx context.Context) error {
				_, err := m.svc.Sync(ctx)
				return err
			})
		case key.Matches(msg, m.keys.Retry):
			m.busy++
			return m, m.run("retry", func(ctx context.Context) error {
				_, err := m.svc.RetryFailed(ctx)
				return err
			})
		}

	case habits.AddHabitMsg:
		m.habitForm = &HabitFormModel{}
		m.form = NewHabitForm(m.habitForm)
		m.state = StateAddHabit
		return m, m.form.Init()

	case habits.ToggleHabitMsg:
		// The optimistic write and its notification happen before any network call
		m.busy++
		id := msg.ID
		return m, m.run("toggle", func(ctx context.Context) error {
			_, err := m.svc.ToggleCompletion(ctx, id)
			return err
		})

	case habits.DeleteHabitMsg:
		m.habitToDelete = msg
		m.state = StateConfirmDelete
		return m, nil
	}

	var cmd tea.Cmd
	m.habits, cmd = m.habits.Update(msg)
	return m, cmd
}

func (m Model) updateAddHabit(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.Type == tea.KeyEsc {
		m.state = StateHabits
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.state = StateHabits
		m.busy++
		input := m.habitForm.Input()
		return m, tea.Batch(cmd, m.run("add habit", func(ctx context.Context) error {
			_, err := m.svc.AddHabit(ctx, input)
			return err
		}))
	case huh.StateAborted:
		m.state = StateHabits
	}
	return m, cmd
}

func (m Model) updateConfirmDelete(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch keyMsg.String() {
	case "y", "Y":
		m.state = StateHabits
		m.busy++
		id := m.habitToDelete.ID
		return m, m.run("delete habit", func(ctx context.Context) error {
			return m.svc.DeleteHabit(ctx, id)
		})
	case "n", "N", "esc", "q":
		m.state = StateHabits
	}
	return m, nil
}
