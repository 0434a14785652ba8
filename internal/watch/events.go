package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/graphproc/internal/dispatch"
	"github.com/mattjoyce/graphproc/internal/events"
)

const (
	eventLogSize  = 50
	eventsShown   = 10
	rawDescLength = 60
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := make([]string, 0, eventsShown)
	for _, e := range eventLog[:min(len(eventLog), eventsShown)] {
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	typeStyle := theme.Dim
	if e.Type == events.TypeElementProcessed {
		typeStyle = theme.StatusOK
	}
	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))

	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

// describeEvent renders a processed-element notice as
// "kind:id key/name priority", falling back to the raw payload.
func describeEvent(e events.Event) string {
	var n dispatch.Notice
	if e.Type == events.TypeElementProcessed && json.Unmarshal(e.Data, &n) == nil && n.ElementID != "" {
		parts := []string{fmt.Sprintf("%s:%s", n.ElementKind, n.ElementID)}
		if n.PropertyKey != "" || n.PropertyName != "" {
			parts = append(parts, n.PropertyKey+"/"+n.PropertyName)
		}
		if n.Priority != "" {
			parts = append(parts, string(n.Priority))
		}
		if n.ParentEvent != "" {
			parts = append(parts, "from "+shortID(n.ParentEvent))
		}
		return strings.Join(parts, " ")
	}

	raw := string(e.Data)
	if len(raw) > rawDescLength {
		raw = raw[:rawDescLength] + "..."
	}
	return raw
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
