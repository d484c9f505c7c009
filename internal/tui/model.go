package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/habitgarden/internal/syncservice"
	"github.com/julianstephens/habitgarden/internal/tui/components/habits"
	"github.com/julianstephens/habitgarden/internal/utils"
)

type SessionState int

const (
	StateHabits SessionState = iota
	StateAddHabit
	StateConfirmDelete
)

// serviceEventMsg wraps a change notification from the sync service
type serviceEventMsg struct {
	event syncservice.Event
	ok    bool
}

// dayChangedMsg fires at local midnight so "done today" marks reset
type dayChangedMsg struct{}

// resultMsg reports the outcome of a command run off the update loop
type resultMsg struct {
	action string
	err    error
}

type Model struct {
	ctx    context.Context
	svc    *syncservice.Service
	loc    *time.Location
	now    func() time.Time
	events <-chan syncservice.Event

	state     SessionState
	keys      KeyMap
	help      help.Model
	habits    habits.Model
	form      *huh.Form
	habitForm *HabitFormModel

	status        syncservice.Status
	lastErr       string
	busy          int
	habitToDelete habits.DeleteHabitMsg

	quitting bool
	width    int
	height   int
}

// NewModel subscribes to svc for the lifetime of ctx
func NewModel(ctx context.Context, svc *syncservice.Service, loc *time.Location) Model {
	m := Model{
		ctx:    ctx,
		svc:    svc,
		loc:    loc,
		now:    time.Now,
		events: svc.Subscribe(ctx),
		state:  StateHabits,
		keys:   DefaultKeyMap(),
		help:   help.New(),
		habits: habits.New(0, 0),
	}
	m.refresh()
	return m
}

func (m *Model) today() utils.CalendarDay {
	return utils.Today(m.now(), m.loc)
}

// refresh reloads habits and sync status from the cache
func (m *Model) refresh() {
	unsynced := make(map[string]int)
	for _, op := range m.svc.Queue() {
		unsynced[op.HabitID]++
	}
	m.habits.SetHabits(m.svc.ListHabits(), m.today(), unsynced)
	m.status = m.svc.Status()
}

func (m Model) ShortHelp() []key.Binding {
	return []key.Binding{m.keys.Quit, m.keys.Help, m.keys.Sync}
}

func (m Model) FullHelp() [][]key.Binding {
	hk := habits.DefaultKeyMap()
	return [][]key.Binding{
		{m.keys.Quit, m.keys.Help, m.keys.Sync, m.keys.Retry},
		{m.keys.Up, m.keys.Down},
		{hk.Add, hk.Toggle, hk.Delete},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), m.waitForTomorrow())
}

func (m Model) waitForTomorrow() tea.Cmd {
	return tea.Tick(utils.UntilTomorrow(m.now(), m.loc), func(time.Time) tea.Msg {
		return dayChangedMsg{}
	})
}

func waitForEvent(events <-chan syncservice.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		return serviceEventMsg{event: ev, ok: ok}
	}
}

// run executes fn off the update loop so network calls never block rendering
func (m Model) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return resultMsg{action: action, err: fn(ctx)}
	}
}
