package tui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/studiobridge/internal/events"
)

const (
	maxEventLog = 50
	maxCalls    = 200
)

// Call status values shown in the table.
const (
	statusQueued    = "queued"
	statusRunning   = "running"
	statusDelivered = "delivered"
	statusDone      = "done"
	statusAbandoned = "abandoned"
	statusDropped   = "dropped"
)

// CallNode tracks one tool call through the dispatcher.
type CallNode struct {
	ID       string
	Kind     string
	Status   string
	Enqueued time.Time
	PickedUp time.Time
	Finished time.Time
}

// HealthState mirrors the last /healthz response.
type HealthState struct {
	Status        string
	Version       string
	UptimeSeconds int64
	QueueDepth    int
	PendingCalls  int
	EventsDropped uint64
	Connected     bool
}

// Model is the BubbleTea model for the monitor.
type Model struct {
	apiURL string

	width  int
	height int

	health   HealthState
	calls    map[string]*CallNode
	eventLog []events.Event
	lastID   int64
	prompts  struct{ ok, failed int }

	callTable table.Model
	theme     Theme
	lastError string

	hubEvents chan events.Event
	now       func() time.Time
}

// NewMonitor creates a monitor that talks to the server at apiURL.
func NewMonitor(apiURL string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Call", Width: 10},
			{Title: "Kind", Width: 10},
			{Title: "Status", Width: 10},
			{Title: "Wait", Width: 10},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:    strings.TrimRight(apiURL, "/"),
		calls:     make(map[string]*CallNode),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		callTable: t,
		theme:     NewDefaultTheme(),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.callTable.SetWidth(m.width - 6)

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.updateTable()
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.Version = msg.Version
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.QueueDepth = msg.QueueDepth
		m.health.PendingCalls = msg.PendingCalls
		m.health.EventsDropped = msg.EventsDropped
		m.health.Connected = true
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.lastID, m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	m.callTable, cmd = m.callTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)
	callID, _ := data["call_id"].(string)

	switch e.Type {
	case events.CallEnqueued:
		if callID == "" {
			return
		}
		node := m.call(callID)
		node.Kind, _ = data["kind"].(string)
		node.Status = statusQueued
		node.Enqueued = m.now()
		if depth, ok := data["queue_depth"].(float64); ok {
			m.health.QueueDepth = int(depth)
		}
	case events.CallPickedUp:
		if node, ok := m.calls[callID]; ok {
			node.Status = statusRunning
			node.PickedUp = m.now()
		}
		if depth, ok := data["queue_depth"].(float64); ok {
			m.health.QueueDepth = int(depth)
		}
	case events.ResultDelivered:
		if node, ok := m.calls[callID]; ok {
			node.Status = statusDelivered
		}
	case events.CallCompleted:
		if node, ok := m.calls[callID]; ok {
			node.Status = statusDone
			node.Finished = m.now()
		}
	case events.CallAbandoned:
		if node, ok := m.calls[callID]; ok {
			node.Status = statusAbandoned
			node.Finished = m.now()
		}
	case events.ResultDropped:
		m.call(callID).Status = statusDropped
	case events.PromptCompleted:
		m.prompts.ok++
	case events.PromptFailed:
		m.prompts.failed++
	case events.DispatcherClosed:
		m.health.Status = "closing"
	}
}

// call returns the node for id, creating it and evicting the oldest node
// past maxCalls.
func (m *Model) call(id string) *CallNode {
	if node, ok := m.calls[id]; ok {
		return node
	}
	node := &CallNode{ID: id, Enqueued: m.now()}
	m.calls[id] = node
	if len(m.calls) > maxCalls {
		var oldest *CallNode
		for _, n := range m.calls {
			if oldest == nil || n.Enqueued.Before(oldest.Enqueued) {
				oldest = n
			}
		}
		delete(m.calls, oldest.ID)
	}
	return node
}

func (m *Model) updateTable() {
	nodes := make([]*CallNode, 0, len(m.calls))
	for _, n := range m.calls {
		nodes = append(nodes, n)
	}
	// Newest first.
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Enqueued.After(nodes[j].Enqueued) })

	rows := make([]table.Row, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, m.nodeToRow(n))
	}
	m.callTable.SetRows(rows)
}

func (m *Model) nodeToRow(node *CallNode) table.Row {
	statusSym := m.theme.StatusQueued.Render("○")
	switch node.Status {
	case statusRunning, statusDelivered:
		statusSym = m.theme.StatusRunning.Render("◉")
	case statusDone:
		statusSym = m.theme.StatusOK.Render("●")
	case statusAbandoned, statusDropped:
		statusSym = m.theme.StatusFailed.Render("∅")
	}

	wait := "-"
	if !node.PickedUp.IsZero() {
		wait = node.PickedUp.Sub(node.Enqueued).Round(time.Millisecond).String()
	}
	duration := "-"
	if !node.Finished.IsZero() {
		duration = node.Finished.Sub(node.Enqueued).Round(time.Millisecond).String()
	}

	id := node.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return table.Row{statusSym, id, node.Kind, node.Status, wait, duration}
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	calls := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Tool Calls"),
			m.callTable.View(),
		),
	)

	parts := []string{m.renderHeader(), calls, renderEventStream(m.eventLog, m.theme, m.width)}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Scroll Calls"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	status := m.theme.StatusOK.Render("RUNNING")
	switch {
	case !m.health.Connected:
		status = m.theme.StatusFailed.Render("CONNECTING")
	case m.health.Status != "ok" && m.health.Status != "":
		status = m.theme.StatusFailed.Render(strings.ToUpper(m.health.Status))
	}

	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", formatDuration(time.Duration(m.health.UptimeSeconds)*time.Second)),
		fmt.Sprintf("Queue: %d  Pending: %d", m.health.QueueDepth, m.health.PendingCalls),
		fmt.Sprintf("Prompts: %d ok / %d failed", m.prompts.ok, m.prompts.failed),
	}
	if m.health.EventsDropped > 0 {
		// The server skipped events for a slow subscriber, possibly us.
		items = append(items, m.theme.StatusFailed.Render(fmt.Sprintf("Dropped: %d", m.health.EventsDropped)))
	}

	cols := make([]string, len(items))
	for i, it := range items {
		cols[i] = lipgloss.NewStyle().Width((m.width - 4) / len(items)).Render(it)
	}
	return m.theme.Border.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cols...))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
