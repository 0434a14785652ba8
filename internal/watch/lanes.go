package watch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/graphproc/internal/lane"
)

func newLaneTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Worker", Width: 20},
			{Title: "Queued", Width: 7},
			{Title: "Done", Width: 8},
			{Title: "Failed", Width: 7},
			{Title: "Avg", Width: 10},
			{Title: "Last", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
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
	return t
}

// laneRows turns lane counters into table rows, one per worker, in the
// order the instance reports them.
func laneRows(stats []lane.Stats) []table.Row {
	rows := make([]table.Row, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, table.Row{
			laneSymbol(s),
			s.Worker,
			strconv.Itoa(s.Queued),
			strconv.FormatInt(s.Processed, 10),
			strconv.FormatInt(s.Failed, 10),
			averageDuration(s),
			roundDuration(s.LastDuration),
		})
	}
	return rows
}

// Cells stay unstyled: the table measures raw cell width.
func laneSymbol(s lane.Stats) string {
	switch {
	case s.Busy:
		return "◉"
	case s.Queued > 0:
		return "◔"
	default:
		return "○"
	}
}

func averageDuration(s lane.Stats) string {
	if s.Processed == 0 {
		return "-"
	}
	return roundDuration(s.TotalTime / time.Duration(s.Processed))
}

func roundDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	return d.Round(time.Millisecond).String()
}

func renderLanes(t table.Model, count int, theme Theme, width int) string {
	title := theme.Title.Render(fmt.Sprintf("WORKER LANES (%d)", count))
	body := t.View()
	if count == 0 {
		body = theme.Dim.Render("  No lanes reported yet...")
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}
