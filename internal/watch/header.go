package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/graphproc/internal/api"
)

// HealthState is the last /healthz answer plus connection status.
type HealthState struct {
	api.HealthzResponse
	Connected bool
	LastCheck time.Time
}

func renderHeader(health HealthState, ticker Ticker, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	lastEvent := "never"
	if !activity.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(activity.LastEvent()).Round(time.Second))
	}

	titleText := fmt.Sprintf(" GRAPHPROC WATCH %s", theme.Highlight.Render(ticker.Current()))
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4, 1)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	stage := health.Stage
	if stage == "" {
		stage = "-"
	}
	statsLine := fmt.Sprintf(" %s  up %s  stage %s  queue %d  workers %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		stage,
		health.QueueDepth,
		health.Workers,
	)
	dispatchLine := fmt.Sprintf(" events %d  dropped %d  results %d  failures %s",
		health.Dispatch.Events,
		health.Dispatch.Dropped,
		health.Dispatch.Results,
		failureCount(health.Dispatch.Failures, theme),
	)
	activityLine := fmt.Sprintf(" last event %s %s", lastEvent, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, dispatchLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func failureCount(n int64, theme Theme) string {
	s := fmt.Sprintf("%d", n)
	if n > 0 {
		return theme.StatusFailed.Render(s)
	}
	return s
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

// Ticker alternates frames on every clock tick. A frozen frame means the
// program itself has stalled.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() { t.index = (t.index + 1) % len(t.frames) }

func (t Ticker) Current() string { return t.frames[t.index] }

const activityDots = 5

// Activity lights up on every event and fades over ten seconds.
type Activity struct {
	dots      int
	lastEvent time.Time
}

func (a *Activity) OnEvent(at time.Time) {
	a.dots = activityDots
	a.lastEvent = at
}

// Decay drops one dot for every two seconds without events.
func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	lit := activityDots - int(now.Sub(a.lastEvent)/(2*time.Second))
	a.dots = min(max(lit, 0), activityDots)
}

func (a Activity) Dots() int { return a.dots }

func (a Activity) LastEvent() time.Time { return a.lastEvent }

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range activityDots {
		if i < a.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}
