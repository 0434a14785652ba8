package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/graphproc/internal/events"
	"github.com/mattjoyce/graphproc/internal/lane"
)

const (
	tickInterval      = time.Second
	healthInterval    = 5 * time.Second
	lanesInterval     = 2 * time.Second
	reconnectInterval = 3 * time.Second
)

type (
	eventMsg  events.Event
	healthMsg HealthState
	lanesMsg  []lane.Stats
	tickMsg   time.Time

	// pollErrMsg names the poll that failed so only that one is retried.
	pollErrMsg struct {
		poll string
		err  error
	}
	streamClosedMsg struct{ err error }
	reconnectMsg    struct{}
)

const (
	pollHealth = "health"
	pollLanes  = "lanes"
)

// Model is the bubbletea model for `graphproc watch`.
type Model struct {
	client *Client

	width  int
	height int

	health      HealthState
	lanes       []lane.Stats
	laneTable   table.Model
	eventLog    []events.Event
	lastEventID int64

	ticker   Ticker
	activity Activity
	theme    Theme

	streamEvents chan events.Event
	lastError    string
}

// New returns a Model reading from client.
func New(client *Client) Model {
	return Model{
		client:       client,
		laneTable:    newLaneTable(),
		streamEvents: make(chan events.Event, 100),
		ticker:       NewTicker(),
		theme:        NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribe(m.client, 0, m.streamEvents),
		receiveNextEvent(m.streamEvents),
		fetchHealth(m.client),
		fetchLanes(m.client),
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(fetchHealth(m.client), fetchLanes(m.client))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.laneTable.SetWidth(m.width - 6)
		m.laneTable.SetHeight(max(m.height/3, 3))
		return m, nil

	case tickMsg:
		m.ticker.Tick()
		m.activity.Decay(time.Time(msg))
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		if e.ID > m.lastEventID {
			m.lastEventID = e.ID
		}
		m.activity.OnEvent(e.At)
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.streamEvents)

	case healthMsg:
		m.health = HealthState(msg)
		m.lastError = ""
		return m, after(healthInterval, fetchHealth(m.client))

	case lanesMsg:
		m.lanes = []lane.Stats(msg)
		m.laneTable.SetRows(laneRows(m.lanes))
		return m, after(lanesInterval, fetchLanes(m.client))

	case pollErrMsg:
		m.lastError = msg.err.Error()
		if msg.poll == pollLanes {
			return m, after(lanesInterval, fetchLanes(m.client))
		}
		m.health.Connected = false
		return m, after(healthInterval, fetchHealth(m.client))

	case streamClosedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		// receiveNextEvent is still parked on the channel and picks up the
		// new subscription's events.
		return m, tea.Tick(reconnectInterval, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribe(m.client, m.lastEventID, m.streamEvents)
	}

	var cmd tea.Cmd
	m.laneTable, cmd = m.laneTable.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to graphproc..."
	}

	parts := []string{
		renderHeader(m.health, m.ticker, m.activity, m.theme, m.width),
		renderLanes(m.laneTable, len(m.lanes), m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ! "+m.lastError))
	}
	parts = append(parts, m.theme.Help.Render(" [q] Quit • [↑/↓] Select lane • [r] Refresh"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// after runs cmd once d has passed.
func after(d time.Duration, cmd tea.Cmd) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return cmd() })
}

func subscribe(c *Client, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		return streamClosedMsg{err: c.Stream(context.Background(), lastID, ch)}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		defer cancel()
		h, err := c.Health(ctx)
		if err != nil {
			return pollErrMsg{poll: pollHealth, err: err}
		}
		return healthMsg{HealthzResponse: h, Connected: true, LastCheck: time.Now()}
	}
}

func fetchLanes(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		defer cancel()
		stats, err := c.Lanes(ctx)
		if err != nil {
			return pollErrMsg{poll: pollLanes, err: err}
		}
		return lanesMsg(stats)
	}
}
