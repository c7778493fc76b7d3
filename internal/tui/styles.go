package tui

import "github.com/charmbracelet/lipgloss"

var Colors = struct {
	Primary lipgloss.Color
	Muted   lipgloss.Color
	Error   lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Text    lipgloss.Color
}{
	Primary: lipgloss.Color("#6C5CE7"),
	Muted:   lipgloss.Color("#636E72"),
	Error:   lipgloss.Color("#D63031"),
	Success: lipgloss.Color("#00B894"),
	Warning: lipgloss.Color("#FDCB6E"),
	Text:    lipgloss.Color("#DFE6E9"),
}

type Styles struct {
	Header      lipgloss.Style
	Title       lipgloss.Style
	Label       lipgloss.Style
	Remaining   lipgloss.Style
	Overdue     lipgloss.Style
	Empty       lipgloss.Style
	Banner      lipgloss.Style
	BannerTitle lipgloss.Style
	Error       lipgloss.Style
	Help        lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(Colors.Primary).
			MarginBottom(1),
		Title:     lipgloss.NewStyle().Foreground(Colors.Text).Bold(true),
		Label:     lipgloss.NewStyle().Foreground(Colors.Muted),
		Remaining: lipgloss.NewStyle().Foreground(Colors.Success),
		Overdue:   lipgloss.NewStyle().Foreground(Colors.Error).Bold(true),
		Empty:     lipgloss.NewStyle().Foreground(Colors.Muted).Italic(true),
		Banner: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Colors.Warning).
			Padding(0, 2).
			MarginBottom(1),
		BannerTitle: lipgloss.NewStyle().Foreground(Colors.Warning).Bold(true),
		Error:       lipgloss.NewStyle().Foreground(Colors.Error),
		Help:        lipgloss.NewStyle().Foreground(Colors.Muted).MarginTop(1),
	}
}
