package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/studiobridge/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("Event Stream"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("Event Stream"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.CallCompleted, events.ResultDelivered, events.PromptCompleted:
		typeStyle = theme.StatusOK
	case events.CallAbandoned, events.ResultDropped, events.PromptFailed, events.DispatcherClosed:
		typeStyle = theme.StatusFailed
	case events.CallPickedUp:
		typeStyle = theme.StatusRunning
	case events.PromptReceived, events.PromptGenerated:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-18s", e.Type)), extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if callID, ok := data["call_id"].(string); ok {
		if len(callID) > 8 {
			callID = callID[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", callID))
	}
	if source, ok := data["source"].(string); ok {
		parts = append(parts, source)
	}
	if status, ok := data["status"].(string); ok {
		parts = append(parts, status)
	}
	if reason, ok := data["reason"].(string); ok {
		parts = append(parts, reason)
	}
	if msg, ok := data["error"].(string); ok {
		parts = append(parts, msg)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
