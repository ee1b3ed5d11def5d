package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/testrelay/internal/dispatch"
	"github.com/mattjoyce/testrelay/internal/events"
	"github.com/mattjoyce/testrelay/internal/report"
	"github.com/mattjoyce/testrelay/internal/suite"
)

type (
	tickMsg         time.Time
	eventMsg        events.Event
	streamClosedMsg struct{}
)

// DoneMsg tells the model the dispatch run has returned. Close the hub
// subscription before sending it so the model can drain what is buffered;
// anything the subscription dropped is recovered through the replayer.
type DoneMsg struct {
	Summary *dispatch.Summary
	Err     error
}

// Replayer returns buffered events newer than lastID. *events.Hub
// implements it.
type Replayer interface {
	SnapshotSince(lastID int64) []events.Event
}

// Model is the BubbleTea model for the run watch view.
type Model struct {
	runID  string
	events <-chan events.Event
	replay Replayer
	cancel func()

	// lastID is the highest hub event ID applied so far.
	lastID int64

	width  int
	height int

	// State
	tests      map[string]*TestState
	order      []string
	started    time.Time
	finishedAt time.Time
	done       bool
	summary    *dispatch.Summary
	err        error

	// Live indicators
	ticker  Ticker
	spinner Spinner

	// UI state
	theme       Theme
	table       table.Model
	interrupted bool
}

// New creates a watch model for one run. Every id starts as queued; cancel
// is called when the user asks to stop the run.
func New(runID string, ids []suite.TestID, evs <-chan events.Event, cancel func()) Model {
	m := Model{
		runID:   runID,
		events:  evs,
		cancel:  cancel,
		tests:   make(map[string]*TestState, len(ids)),
		started: time.Now(),
		ticker:  NewTicker(),
		spinner: NewSpinner(),
		theme:   NewDefaultTheme(),
	}
	for _, id := range ids {
		m.track(id)
	}

	m.table = table.New(
		table.WithColumns(testColumns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	m.table.SetStyles(tableStyles())
	m.refreshRows(m.started)
	return m
}

// WithReplay lets the model recover events its subscription dropped. The
// replayer is consulted on every ID gap and once more when the run ends.
func (m Model) WithReplay(r Replayer) Model {
	m.replay = r
	return m
}

func (m *Model) track(id suite.TestID) *TestState {
	key := id.String()
	if st, ok := m.tests[key]; ok {
		return st
	}
	st := &TestState{ID: id, Status: statusQueued}
	m.tests[key] = st
	m.order = append(m.order, key)
	return st
}

// Counts summarizes every tracked test.
func (m Model) Counts() Counts {
	c := Counts{Total: len(m.order)}
	for _, key := range m.order {
		switch m.tests[key].Status {
		case statusRunning:
			c.Running++
		case string(report.StatusPassed):
			c.Passed++
		case string(report.StatusFailed):
			c.Failed++
		case string(report.StatusTimedOut):
			c.TimedOut++
		}
	}
	return c
}

// Test returns the state of one test.
func (m Model) Test(id suite.TestID) (TestState, bool) {
	st, ok := m.tests[id.String()]
	if !ok {
		return TestState{}, false
	}
	return *st, true
}

// Done reports whether the run has returned.
func (m Model) Done() bool { return m.done }

// Interrupted reports whether the user asked to stop the run.
func (m Model) Interrupted() bool { return m.interrupted }

func (m Model) elapsed(now time.Time) time.Duration {
	if m.done {
		return m.finishedAt.Sub(m.started)
	}
	return now.Sub(m.started)
}

func (m *Model) refreshRows(now time.Time) {
	rows := make([]table.Row, 0, len(m.order))
	for _, key := range m.order {
		rows = append(rows, testRow(m.tests[key], now))
	}
	m.table.SetRows(rows)
}

func (m *Model) handleEvent(e events.Event) {
	if e.ID != 0 {
		if e.ID <= m.lastID {
			return
		}
		m.lastID = e.ID
	}
	n := e.Notification
	if m.runID != "" && n.RunID != "" && n.RunID != m.runID {
		return
	}
	apply(m.track(n.Test), n)
	m.spinner.OnEvent(e.At)
}

// catchUp applies every buffered event past lastID.
func (m *Model) catchUp() {
	if m.replay == nil {
		return
	}
	for _, e := range m.replay.SnapshotSince(m.lastID) {
		m.handleEvent(e)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		receiveNextEvent(m.events),
		tick(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done || m.interrupted {
				return m, tea.Quit
			}
			// First press stops the run; DoneMsg follows once it unwinds.
			m.interrupted = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(testColumns(m.width - 8))
		m.table.SetHeight(max(m.height-12, 3))
		m.refreshRows(time.Now())

	case tickMsg:
		now := time.Time(msg)
		m.ticker.Tick()
		m.spinner.Decay(now)
		m.refreshRows(now)
		if m.done {
			return m, nil
		}
		return m, tick()

	case eventMsg:
		if msg.ID > m.lastID+1 {
			m.catchUp()
		}
		m.handleEvent(events.Event(msg))
		m.refreshRows(time.Now())
		return m, receiveNextEvent(m.events)

	case streamClosedMsg:
		m.events = nil
		m.catchUp()
		m.refreshRows(time.Now())
		if m.done {
			return m, tea.Quit
		}

	case DoneMsg:
		m.done = true
		m.finishedAt = time.Now()
		m.summary = msg.Summary
		m.err = msg.Err
		m.catchUp()
		m.refreshRows(m.finishedAt)
		if m.events == nil {
			return m, tea.Quit
		}
		// Buffered events are still arriving; quit when the stream closes.
		return m, nil
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}
	now := time.Now()
	if m.done {
		now = m.finishedAt
	}

	header := renderHeader(m, now)
	tests := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("TESTS"),
			m.table.View(),
		),
	)

	parts := []string{header, tests}
	if m.summary != nil && m.summary.Local {
		parts = append(parts, m.theme.Highlight.Render(" No endpoint was reachable; tests ran locally."))
	}
	if m.err != nil {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.err)))
	}
	if !m.done {
		help := " [q] Stop run • [↑/↓] Scroll"
		if m.interrupted {
			help = " Stopping... [q] Quit now"
		}
		parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(help))
	}

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(e)
	}
}
