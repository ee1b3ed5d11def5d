package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func renderHeader(m Model, now time.Time) string {
	innerWidth := m.width - 4
	theme := m.theme
	c := m.Counts()

	statusText := theme.StatusRunning.Render("RUNNING")
	switch {
	case m.done && m.err != nil:
		statusText = theme.StatusFailed.Render("ABORTED")
	case m.done && c.Failed+c.TimedOut > 0:
		statusText = theme.StatusFailed.Render("FAILED")
	case m.done:
		statusText = theme.StatusOK.Render("PASSED")
	case m.interrupted:
		statusText = theme.StatusTimedOut.Render("STOPPING")
	}

	lastEventStr := "never"
	if !m.spinner.LastEvent().IsZero() {
		ago := now.Sub(m.spinner.LastEvent()).Round(time.Second)
		lastEventStr = fmt.Sprintf("%s ago", ago)
	}

	tickerStr := theme.Highlight.Render(m.ticker.Current())
	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := fmt.Sprintf(" TESTRELAY %s  %s", theme.Dim.Render(shortRunID(m.runID)), tickerStr)

	titleWidth := lipgloss.Width(titleText)
	clockWidth := lipgloss.Width(clock)
	pad := innerWidth - titleWidth - clockWidth - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  ⏱ %s  Total: %d  %s  %s  %s  %s",
		statusText,
		formatDuration(m.elapsed(now)),
		c.Total,
		theme.StatusRunning.Render(fmt.Sprintf("Running: %d", c.Running)),
		theme.StatusOK.Render(fmt.Sprintf("Passed: %d", c.Passed)),
		theme.StatusFailed.Render(fmt.Sprintf("Failed: %d", c.Failed)),
		theme.StatusTimedOut.Render(fmt.Sprintf("Timed out: %d", c.TimedOut)),
	)

	barWidth := innerWidth - 30
	if barWidth > 40 {
		barWidth = 40
	}
	progressLine := fmt.Sprintf(" %s %d/%d  Last event: %s %s",
		theme.Progress.Render(progressBar(c.Finished(), c.Total, barWidth)),
		c.Finished(), c.Total,
		lastEventStr,
		m.spinner.Render(theme),
	)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		progressLine,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
