// Package habits is the habit list shown on the main TUI screen.
package habits

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/habitgarden/internal/models"
	"github.com/julianstephens/habitgarden/internal/utils"
)

// WeekDays is how many days the row strip covers, ending today
const WeekDays = 7

type AddHabitMsg struct{}

type ToggleHabitMsg struct {
	ID string
}

type DeleteHabitMsg struct {
	ID    string
	Title string
}

// Item is one habit row as of a given day
type Item struct {
	Record models.HabitRecord
	Done   bool
	// Week renders the last WeekDays days, oldest first
	Week string
	// Unsynced counts queued changes the remote store has not confirmed
	Unsynced int
}

func (i Item) Title() string {
	mark := "○"
	if i.Done {
		mark = "✓"
	}
	title := mark + " " + i.Record.Habit.Title
	if i.Unsynced > 0 {
		title += " ⟳"
	}
	return title
}

func (i Item) Description() string {
	parts := []string{
		fmt.Sprintf("%s %s", i.Week, plantIcon(i.Record.Habit.Plant, i.Record.CurrentStreak)),
		fmt.Sprintf("streak %d (best %d)", i.Record.CurrentStreak, i.Record.LongestStreak),
		string(i.Record.Habit.Frequency),
	}
	if i.Record.Habit.Description != "" {
		parts = append(parts, i.Record.Habit.Description)
	}
	return strings.Join(parts, " · ")
}

func (i Item) FilterValue() string { return i.Record.Habit.Title }

// weekStrip marks completed days among the WeekDays ending on today
func weekStrip(days models.DaySet, today utils.CalendarDay) string {
	var b strings.Builder
	for offset := WeekDays - 1; offset >= 0; offset-- {
		if days.Contains(today.AddDays(-offset).String()) {
			b.WriteString("■")
		} else {
			b.WriteString("·")
		}
	}
	return b.String()
}

// plantIcon grows the companion plant with the current streak
func plantIcon(p models.Plant, streak int) string {
	switch {
	case streak == 0:
		return "🌰"
	case streak < 3:
		return "🌱"
	}
	switch p {
	case models.PlantCactus:
		return "🌵"
	case models.PlantSunflower:
		return "🌻"
	case models.PlantBonsai:
		return "🌳"
	case models.PlantSucculent:
		return "🪴"
	}
	return "🌿"
}

type KeyMap struct {
	Add    key.Binding
	Toggle key.Binding
	Delete key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Add:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "plant")),
		Toggle: key.NewBinding(key.WithKeys(" ", "enter", "m"), key.WithHelp("space", "toggle today")),
		Delete: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	}
}

func (k KeyMap) bindings() []key.Binding {
	return []key.Binding{k.Add, k.Toggle, k.Delete}
}

type Model struct {
	list list.Model
	keys KeyMap
}

func New(width, height int) Model {
	keys := DefaultKeyMap()

	l := list.New(nil, list.NewDefaultDelegate(), width, height)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.AdditionalShortHelpKeys = keys.bindings
	l.AdditionalFullHelpKeys = keys.bindings

	return Model{list: l, keys: keys}
}

// SetHabits rebuilds the rows for today. unsynced maps habit id to queued change count.
func (m *Model) SetHabits(records []models.HabitRecord, today utils.CalendarDay, unsynced map[string]int) {
	items := make([]list.Item, len(records))
	for i, r := range records {
		items[i] = Item{
			Record:   r,
			Done:     r.Completions.Contains(today.String()),
			Week:     weekStrip(r.Completions, today),
			Unsynced: unsynced[r.Habit.ID],
		}
	}
	m.list.SetItems(items)
}

func (m Model) Items() []Item {
	out := make([]Item, 0, len(m.list.Items()))
	for _, it := range m.list.Items() {
		if i, ok := it.(Item); ok {
			out = append(out, i)
		}
	}
	return out
}

func (m Model) selected() (Item, bool) {
	i, ok := m.list.SelectedItem().(Item)
	return i, ok
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && m.list.FilterState() != list.Filtering {
		if cmd := m.handleKey(msg); cmd != nil {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if key.Matches(msg, m.keys.Add) {
		return func() tea.Msg { return AddHabitMsg{} }
	}
	item, ok := m.selected()
	if !ok {
		return nil
	}
	id := item.Record.Habit.ID
	switch {
	case key.Matches(msg, m.keys.Toggle):
		return func() tea.Msg { return ToggleHabitMsg{ID: id} }
	case key.Matches(msg, m.keys.Delete):
		title := item.Record.Habit.Title
		return func() tea.Msg { return DeleteHabitMsg{ID: id, Title: title} }
	}
	return nil
}

func (m Model) View() string {
	if len(m.list.Items()) == 0 && m.list.FilterState() != list.Filtering {
		return "\n  Your garden is empty.\n  Press 'a' to plant a habit."
	}
	return m.list.View()
}

func (m *Model) SetSize(width, height int) {
	m.list.SetSize(width, height)
}
