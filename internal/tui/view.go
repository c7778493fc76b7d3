package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"taskreminder/internal/alarm"
	"taskreminder/internal/engine"
)

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.styles.Header.Render(m.appName))
	b.WriteString("\n")

	for _, bn := range m.banners {
		body := lipgloss.JoinVertical(lipgloss.Left,
			m.styles.BannerTitle.Render(m.appName),
			bn.notification.Message,
		)
		b.WriteString(m.styles.Banner.Render(body))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(m.styles.Error.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}

	if len(m.items) == 0 {
		b.WriteString(m.styles.Empty.Render("No active alarms."))
		b.WriteString("\n")
	}
	for _, info := range m.items {
		b.WriteString(m.renderCountdown(info))
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Help.Render(m.help.View(m.keys)))
	return b.String()
}

func (m *Model) renderCountdown(info engine.CountdownInfo) string {
	c := info.Countdown
	value := m.styles.Remaining.Render(c.Display())
	if c.IsExpired || info.State == alarm.StateFired {
		value = m.styles.Overdue.Render(c.Display())
	}
	line := fmt.Sprintf("%s  %s %s",
		m.styles.Title.Render(info.Title),
		m.styles.Label.Render(c.Label()+":"),
		value,
	)
	return lipgloss.JoinVertical(lipgloss.Left, line, m.bar.ViewAs(c.Progress()))
}
